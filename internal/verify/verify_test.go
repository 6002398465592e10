package verify_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskforge/internal/compiler"
	"github.com/slok/taskforge/internal/judge"
	"github.com/slok/taskforge/internal/judge/predicate"
	"github.com/slok/taskforge/internal/model"
	"github.com/slok/taskforge/internal/policy"
	"github.com/slok/taskforge/internal/sandbox"
	"github.com/slok/taskforge/internal/sandbox/fake"
	"github.com/slok/taskforge/internal/sandbox/sandboxmock"
	"github.com/slok/taskforge/internal/verify"
)

func handlesSpec() model.TaskSpec {
	return model.TaskSpec{
		Version:      1,
		Title:        "Clean Instagram handles",
		Description:  "Clean a CSV of handles",
		Deliverables: []model.Deliverable{{ID: "d1", Name: "Cleaned handles", Format: "csv"}},
		InputData:    []model.InputDataRef{{Name: "handles.csv", Format: "csv"}},
		SuccessCriteria: []model.SuccessCriterion{
			{ID: "c1", Text: "All Column A values start with @", Checkable: true},
			{ID: "c2", Text: "No duplicate rows", Checkable: true},
			{ID: "c3", Text: "Sorted ascending by Column A length", Checkable: true},
		},
	}
}

var originalInputs = map[string][]byte{"handles.csv": []byte("handle\nbbbb\nccc\na\nccc\n")}

func artifacts(overrides map[string][]byte) model.ArtifactSet {
	files := map[string][]byte{
		"execute.py":          []byte("# cleans handles"),
		"input_handles.csv":   originalInputs["handles.csv"],
		"handles_cleaned.csv": []byte("handle\n@a\n@ccc\n@bbbb\n"),
	}
	for n, b := range overrides {
		if b == nil {
			delete(files, n)
			continue
		}
		files[n] = b
	}
	return model.ArtifactSet{Files: files, ProducerRunID: "run-1"}
}

// writes is a simulated script writing fixed outputs.
func writes(files map[string][]byte) fake.ScriptFunc {
	return func(map[string][]byte) (map[string][]byte, int, string) { return files, 0, "" }
}

type staticJudge struct {
	name    string
	verdict *judge.Verdict
	err     error
}

func (s staticJudge) Name() string                           { return s.name }
func (s staticJudge) Supports(c model.SuccessCriterion) bool { return !c.Checkable }
func (s staticJudge) Judge(context.Context, judge.Input) (*judge.Verdict, error) {
	return s.verdict, s.err
}

func newVerifier(t *testing.T, runner sandbox.Runner, extra ...judge.Judge) *verify.Verifier {
	pj, err := predicate.NewJudge(predicate.JudgeConfig{})
	require.NoError(t, err)

	v, err := verify.NewVerifier(verify.VerifierConfig{
		Runner:        runner,
		Judges:        append([]judge.Judge{pj}, extra...),
		ScriptTimeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	return v
}

func input(t *testing.T, spec model.TaskSpec, set model.ArtifactSet) verify.Input {
	p, err := compiler.Compile(spec, policy.DefaultV1())
	require.NoError(t, err)
	return verify.Input{Spec: spec, Prompt: *p, Artifacts: set, OriginalInputs: originalInputs}
}

func statuses(res *model.VerificationResult) map[string]model.CriterionStatus {
	m := map[string]model.CriterionStatus{}
	for _, c := range res.Criteria {
		m[c.CriterionID] = c.Status
	}
	return m
}

func TestVerifyPrefixedDedupedButSortedDescending(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	// The executor returned a correct file but the script produces a descending one, only
	// the sandbox output counts.
	runner, err := fake.NewRunner(fake.RunnerConfig{Script: writes(map[string][]byte{
		"handles_cleaned.csv": []byte("handle\n@bbbb\n@ccc\n@a\n"),
	})})
	require.NoError(err)
	v := newVerifier(t, runner)

	res, err := v.Verify(context.Background(), input(t, handlesSpec(), artifacts(nil)))
	require.NoError(err)

	assert.Equal(model.OverallStatusPartial, res.Overall)
	assert.Equal(map[string]model.CriterionStatus{
		"c1": model.CriterionStatusPass,
		"c2": model.CriterionStatusPass,
		"c3": model.CriterionStatusFail,
	}, statuses(res))
	assert.Equal([]string{"c1", "c2", "c3"}, []string{res.Criteria[0].CriterionID, res.Criteria[1].CriterionID, res.Criteria[2].CriterionID})
	assert.Equal(predicate.Name, res.Criteria[2].Judge)
	assert.True(res.InputsIntact)
	assert.Equal("1 of 3 criteria unmet: c3", res.Reason)
}

func TestVerifyIsIdempotent(t *testing.T) {
	require := require.New(t)

	runner, err := fake.NewRunner(fake.RunnerConfig{Script: writes(map[string][]byte{
		"handles_cleaned.csv": []byte("handle\n@bbbb\n@ccc\n@a\n@a\n"),
	})})
	require.NoError(err)
	v := newVerifier(t, runner)
	in := input(t, handlesSpec(), artifacts(nil))

	res1, err := v.Verify(context.Background(), in)
	require.NoError(err)
	res2, err := v.Verify(context.Background(), in)
	require.NoError(err)

	assert.Equal(t, res1, res2)
	assert.Equal(t, 2, runner.Runs())
}

func TestVerify(t *testing.T) {
	goodOutput := map[string][]byte{"handles_cleaned.csv": []byte("handle\n@a\n@ccc\n@bbbb\n")}

	tests := map[string]struct {
		spec       func() model.TaskSpec
		artifacts  model.ArtifactSet
		runner     fake.RunnerConfig
		judges     []judge.Judge
		expOverall model.OverallStatus
		expResult  func(t *testing.T, res *model.VerificationResult)
	}{
		"Outputs regenerated correctly should pass": {
			artifacts:  artifacts(nil),
			runner:     fake.RunnerConfig{Script: writes(goodOutput)},
			expOverall: model.OverallStatusPass,
			expResult: func(t *testing.T, res *model.VerificationResult) {
				assert.Equal(t, "all 3 criteria passed", res.Reason)
				assert.Empty(t, res.MissingDeliverables)
			},
		},

		"A script exiting with an error should fail and leave criteria unknown": {
			artifacts: artifacts(nil),
			runner: fake.RunnerConfig{Script: func(map[string][]byte) (map[string][]byte, int, string) {
				return goodOutput, 1, "Traceback: KeyError"
			}},
			expOverall: model.OverallStatusFail,
			expResult: func(t *testing.T, res *model.VerificationResult) {
				assert.Equal(t, 1, res.ScriptExitCode)
				assert.Contains(t, res.ScriptError, "KeyError")
				for _, c := range res.Criteria {
					assert.Equal(t, model.CriterionStatusUnknown, c.Status)
				}
			},
		},

		"A script exceeding the sandbox timeout should fail": {
			artifacts:  artifacts(nil),
			runner:     fake.RunnerConfig{Hang: true},
			expOverall: model.OverallStatusFail,
			expResult: func(t *testing.T, res *model.VerificationResult) {
				assert.Equal(t, -1, res.ScriptExitCode)
				assert.Contains(t, res.ScriptError, "timed out")
			},
		},

		"Outputs only returned by the executor should count as missing": {
			artifacts:  artifacts(nil),
			runner:     fake.RunnerConfig{},
			expOverall: model.OverallStatusFail,
			expResult: func(t *testing.T, res *model.VerificationResult) {
				assert.Equal(t, []string{"d1"}, res.MissingDeliverables)
				assert.Equal(t, "missing deliverables: d1", res.Reason)
			},
		},

		"Altered inputs should fail even if every criterion passes": {
			artifacts:  artifacts(map[string][]byte{"input_handles.csv": []byte("handle\n@a\n")}),
			runner:     fake.RunnerConfig{Script: writes(goodOutput)},
			expOverall: model.OverallStatusFail,
			expResult: func(t *testing.T, res *model.VerificationResult) {
				assert.False(t, res.InputsIntact)
				assert.Equal(t, "inputs not preserved verbatim: input_handles.csv", res.Reason)
			},
		},

		"A judgment criterion without a judge should be unknown and the result partial": {
			spec: func() model.TaskSpec {
				s := handlesSpec()
				s.SuccessCriteria = append(s.SuccessCriteria, model.SuccessCriterion{ID: "c4", Text: "Handles look like real accounts"})
				return s
			},
			artifacts:  artifacts(nil),
			runner:     fake.RunnerConfig{Script: writes(goodOutput)},
			expOverall: model.OverallStatusPartial,
			expResult: func(t *testing.T, res *model.VerificationResult) {
				c, ok := res.Criterion("c4")
				require.True(t, ok)
				assert.Equal(t, model.CriterionStatusUnknown, c.Status)
				assert.Equal(t, "no judge supports this criterion", c.Evidence)
			},
		},

		"A judgment criterion should be evaluated by the first judge supporting it": {
			spec: func() model.TaskSpec {
				s := handlesSpec()
				s.SuccessCriteria = append(s.SuccessCriteria, model.SuccessCriterion{ID: "c4", Text: "Handles look like real accounts"})
				return s
			},
			artifacts: artifacts(nil),
			runner:    fake.RunnerConfig{Script: writes(goodOutput)},
			judges: []judge.Judge{
				staticJudge{name: "first", verdict: &judge.Verdict{Status: model.CriterionStatusPass, Evidence: "ok"}},
				staticJudge{name: "second", verdict: &judge.Verdict{Status: model.CriterionStatusFail}},
			},
			expOverall: model.OverallStatusPass,
			expResult: func(t *testing.T, res *model.VerificationResult) {
				c, _ := res.Criterion("c4")
				assert.Equal(t, "first", c.Judge)
			},
		},

		"A judge error should leave the criterion unknown": {
			spec: func() model.TaskSpec {
				s := handlesSpec()
				s.SuccessCriteria = append(s.SuccessCriteria, model.SuccessCriterion{ID: "c4", Text: "Handles look like real accounts"})
				return s
			},
			artifacts:  artifacts(nil),
			runner:     fake.RunnerConfig{Script: writes(goodOutput)},
			judges:     []judge.Judge{staticJudge{name: "opinion", err: errors.New("provider down")}},
			expOverall: model.OverallStatusPartial,
			expResult: func(t *testing.T, res *model.VerificationResult) {
				c, _ := res.Criterion("c4")
				assert.Equal(t, model.CriterionStatusUnknown, c.Status)
				assert.Contains(t, c.Evidence, "provider down")
			},
		},

		"Uncovered deliverables should be verified through synthesized criteria": {
			spec: func() model.TaskSpec {
				s := handlesSpec()
				s.Deliverables = append(s.Deliverables, model.Deliverable{ID: "d2", Name: "Summary", Format: "json"})
				for i := range s.SuccessCriteria {
					s.SuccessCriteria[i].DeliverableID = "d1"
				}
				return s
			},
			artifacts:  artifacts(nil),
			runner:     fake.RunnerConfig{Script: writes(map[string][]byte{"handles_cleaned.csv": goodOutput["handles_cleaned.csv"], "summary_output.json": []byte("{")})},
			expOverall: model.OverallStatusPartial,
			expResult: func(t *testing.T, res *model.VerificationResult) {
				c, ok := res.Criterion("auto-d2")
				require.True(t, ok)
				assert.Equal(t, model.CriterionStatusFail, c.Status)
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)

			spec := handlesSpec()
			if test.spec != nil {
				spec = test.spec()
			}
			runner, err := fake.NewRunner(test.runner)
			require.NoError(err)
			v := newVerifier(t, runner, test.judges...)

			res, err := v.Verify(context.Background(), input(t, spec, test.artifacts))
			require.NoError(err)

			assert.Equal(t, test.expOverall, res.Overall, res.Reason)
			test.expResult(t, res)
		})
	}
}

func TestVerifySandboxSeeding(t *testing.T) {
	require := require.New(t)

	runner := sandboxmock.NewMockRunner(t)
	runner.On("Run", mock.Anything, mock.MatchedBy(func(r sandbox.Request) bool {
		_, hasOutput := r.Files["handles_cleaned.csv"]
		return !hasOutput &&
			string(r.Files["handles.csv"]) == string(originalInputs["handles.csv"]) &&
			r.Files["input_handles.csv"] != nil &&
			r.Files["execute.py"] != nil &&
			r.Timeout == 100*time.Millisecond
	})).Once().Return(&sandbox.Result{}, nil)

	v := newVerifier(t, runner)
	_, err := v.Verify(context.Background(), input(t, handlesSpec(), artifacts(nil)))
	require.NoError(err)
}

func TestVerifySandboxUnavailableShouldError(t *testing.T) {
	runner := sandboxmock.NewMockRunner(t)
	runner.On("Run", mock.Anything, mock.Anything).Once().Return(nil, errors.New("docker daemon not reachable"))

	v := newVerifier(t, runner)
	_, err := v.Verify(context.Background(), input(t, handlesSpec(), artifacts(nil)))
	assert.ErrorContains(t, err, "docker daemon not reachable")
}

func TestVerifyUnusableWorkdirShouldFail(t *testing.T) {
	tests := map[string]struct {
		runErr error
	}{
		"Artifact names escaping the working directory should fail the verification": {
			runErr: fmt.Errorf("file %q escapes the working directory: %w", "../notes.md", sandbox.ErrUnusableWorkdir),
		},
		"Scripts producing more than the collectable size should fail the verification": {
			runErr: fmt.Errorf("working directory exceeds %d bytes: %w", sandbox.MaxCollectedBytes, sandbox.ErrUnusableWorkdir),
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			runner := sandboxmock.NewMockRunner(t)
			runner.On("Run", mock.Anything, mock.Anything).Once().Return(nil, test.runErr)

			v := newVerifier(t, runner)
			res, err := v.Verify(context.Background(), input(t, handlesSpec(), artifacts(nil)))
			require.NoError(err)

			assert.Equal(model.OverallStatusFail, res.Overall)
			assert.Equal(-1, res.ScriptExitCode)
			assert.Contains(res.ScriptError, "unusable working directory")
			for _, c := range res.Criteria {
				assert.Equal(model.CriterionStatusUnknown, c.Status)
			}
		})
	}
}

func TestVerifyWithRealClockIsIdempotent(t *testing.T) {
	require := require.New(t)

	runner, err := fake.NewRunner(fake.RunnerConfig{Script: writes(map[string][]byte{
		"handles_cleaned.csv": []byte("handle\n@a\n@ccc\n@bbbb\n"),
	})})
	require.NoError(err)
	pj, err := predicate.NewJudge(predicate.JudgeConfig{})
	require.NoError(err)
	v, err := verify.NewVerifier(verify.VerifierConfig{Runner: runner, Judges: []judge.Judge{pj}})
	require.NoError(err)
	in := input(t, handlesSpec(), artifacts(nil))

	res1, err := v.Verify(context.Background(), in)
	require.NoError(err)
	time.Sleep(2 * time.Millisecond)
	res2, err := v.Verify(context.Background(), in)
	require.NoError(err)

	assert.Equal(t, model.OverallStatusPass, res1.Overall, res1.Reason)
	assert.Equal(t, res1, res2)
}
