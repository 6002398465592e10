package compiler_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskforge/internal/compiler"
	"github.com/slok/taskforge/internal/model"
	"github.com/slok/taskforge/internal/policy"
)

func handlesSpec() model.TaskSpec {
	return model.TaskSpec{
		Version:     1,
		Title:       "Clean a CSV of Instagram handles",
		Description: "I have a CSV export with Instagram handles in Column A that needs cleaning.",
		Requirements: []model.Requirement{
			{ID: "r1", Text: "please add @ to every handle that doesn't have it"},
			{ID: "r2", Text: "The script should remove duplicate rows"},
			{ID: "r3", Text: "sort by handle length, shortest first"},
		},
		Deliverables: []model.Deliverable{
			{ID: "d1", Name: "cleaned CSV", Format: "csv"},
		},
		InputData: []model.InputDataRef{{Name: "handles.csv", Format: "csv", Description: "raw export"}},
		SuccessCriteria: []model.SuccessCriterion{
			{ID: "c1", Text: "all Column A values start with @", Checkable: true},
			{ID: "c2", Text: "no duplicate rows", Checkable: true},
			{ID: "c3", Text: "sorted ascending by Column A length", Checkable: true},
		},
		Budget: model.Budget{Amount: 50, Currency: "USD", Type: model.BudgetTypeFixed},
	}
}

func policyV2(t *testing.T) *policy.Policy {
	cfg := policy.DefaultV1Config()
	cfg.Version = "v2"
	cfg.Defaults[model.AmbiguityTextEncoding] = "utf-8-sig"
	p, err := policy.New(cfg)
	require.NoError(t, err)
	return p
}

func TestCompileIsDeterministic(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	p1, err := compiler.Compile(handlesSpec(), policy.DefaultV1())
	require.NoError(err)
	p2, err := compiler.Compile(handlesSpec(), policy.DefaultV1())
	require.NoError(err)

	assert.Equal(p1.Text, p2.Text)
	assert.Equal(p1.Digest, p2.Digest)
	assert.Equal(p1.Version(), p2.Version())
	assert.Equal(*p1, *p2)
}

func TestCompileSectionsOrder(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	p, err := compiler.Compile(handlesSpec(), policy.DefaultV1())
	require.NoError(err)

	require.Len(p.Sections, len(model.PromptSections))
	last := -1
	for i, name := range model.PromptSections {
		assert.Equal(name, p.Sections[i].Name)
		idx := strings.Index(p.Text, " "+string(name)+"\n")
		assert.Greater(idx, last, "section %q out of order", name)
		last = idx
	}
	assert.True(strings.HasPrefix(p.Text, "# Role Assignment\n"))
	assert.Contains(p.Text, "\n## Artifact Contract\n\n"+compiler.ArtifactContract+"\n")
}

func TestCompileContent(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	p, err := compiler.Compile(handlesSpec(), policy.DefaultV1())
	require.NoError(err)

	assert.Equal(compiler.RoleDataTransformation, p.Role)

	reqs, _ := p.Section(model.SectionRequirements)
	assert.Equal("1. [r1] Add @ to every handle that doesn't have it.\n"+
		"2. [r2] Remove duplicate rows.\n"+
		"3. [r3] Sort by handle length, shortest first.", reqs.Body)

	cons, _ := p.Section(model.SectionConstraints)
	assert.Contains(cons.Body, "- Budget: 50.00 USD (fixed)")

	in, _ := p.Section(model.SectionInputData)
	assert.Contains(in.Body, "`input_handles.csv`")

	res, ok := p.Resolution(model.AmbiguityDuplicateScope)
	assert.True(ok)
	assert.Equal(model.DefaultSourcePolicy, res.Source)
	assert.Equal("spec-v1/policy-v1/"+p.Digest[:12], p.Version())
}

func TestCompileIncompleteSpec(t *testing.T) {
	tests := map[string]struct {
		spec       func() model.TaskSpec
		expMissing []string
	}{
		"A spec without deliverables should be incomplete": {
			spec: func() model.TaskSpec {
				s := handlesSpec()
				s.Deliverables = nil
				return s
			},
			expMissing: []string{"deliverables"},
		},

		"A spec without title should be incomplete": {
			spec: func() model.TaskSpec {
				s := handlesSpec()
				s.Title = " "
				return s
			},
			expMissing: []string{"title"},
		},

		"A spec without deliverables nor criteria should list both": {
			spec: func() model.TaskSpec {
				s := handlesSpec()
				s.Deliverables = nil
				s.SuccessCriteria = nil
				return s
			},
			expMissing: []string{"deliverables", "success_criteria"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			p, err := compiler.Compile(test.spec(), policy.DefaultV1())

			assert.Nil(p)
			var incomplete *model.SpecIncompleteError
			if assert.True(errors.As(err, &incomplete)) {
				assert.Equal(test.expMissing, incomplete.Missing)
			}
		})
	}
}

func TestCompileSynthesizesCriteriaForUncoveredDeliverables(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	spec := handlesSpec()
	spec.Deliverables = append(spec.Deliverables, model.Deliverable{ID: "d2", Name: "summary chart", Format: "png"})
	spec.SuccessCriteria = []model.SuccessCriterion{
		{ID: "c1", Text: "all Column A values start with @", Checkable: true, DeliverableID: "d1"},
	}

	p, err := compiler.Compile(spec, policy.DefaultV1())
	require.NoError(err)

	require.Len(p.Criteria, 2)
	auto := p.Criteria[1]
	assert.Equal("auto-d2", auto.ID)
	assert.True(auto.Synthesized)
	assert.Equal("d2", auto.DeliverableID)
	assert.Equal(model.CheckKindFormatValid, auto.Check.Kind)
	assert.Contains(p.Text, "[auto-d2] summary chart is produced as a valid png file")

	// A spec with only the synthesized criterion is complete.
	spec.SuccessCriteria = nil
	spec.Deliverables = spec.Deliverables[:1]
	p, err = compiler.Compile(spec, policy.DefaultV1())
	require.NoError(err)
	assert.Equal("auto-d1", p.Criteria[0].ID)
}

func TestCompileUnderDifferentPolicies(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	v1a, err := compiler.Compile(handlesSpec(), policy.DefaultV1())
	require.NoError(err)
	v1b, err := compiler.Compile(handlesSpec(), policy.DefaultV1())
	require.NoError(err)
	v2, err := compiler.Compile(handlesSpec(), policyV2(t))
	require.NoError(err)

	assert.Equal(v1a.Text, v1b.Text)
	assert.NotEqual(v1a.Text, v2.Text)

	for i, s := range v1a.Sections {
		if s.Name == model.SectionExecutionNotes {
			assert.NotEqual(s.Body, v2.Sections[i].Body)
			continue
		}
		assert.Equal(s, v2.Sections[i], "section %q should not change", s.Name)
	}
}

func TestCompileExplicitChoiceWinsOverPolicy(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	spec := handlesSpec()
	spec.AmbiguityChoices = map[model.AmbiguityClass]string{model.AmbiguityTextEncoding: "latin-1"}

	p, err := compiler.Compile(spec, policy.DefaultV1())
	require.NoError(err)

	res, _ := p.Resolution(model.AmbiguityTextEncoding)
	assert.Equal(model.AppliedDefault{Class: model.AmbiguityTextEncoding, Value: "latin-1", Source: model.DefaultSourceExplicit}, res)

	notes, _ := p.Section(model.SectionExecutionNotes)
	assert.Contains(notes.Body, "- text_encoding: latin-1 (client choice)")
	assert.Contains(notes.Body, "- date_format: ISO 8601 (YYYY-MM-DD) (policy default)")
}

func TestCompileRetry(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	spec := handlesSpec()
	base, err := compiler.Compile(spec, policy.DefaultV1())
	require.NoError(err)

	attempt := model.ExecutionAttempt{
		Number:        1,
		Status:        model.AttemptStatusVerified,
		FailureReason: model.FailureReasonCriteria,
		Verification: &model.VerificationResult{
			Overall:      model.OverallStatusPartial,
			InputsIntact: true,
			Criteria: []model.CriterionResult{
				{CriterionID: "c1", Status: model.CriterionStatusPass},
				{CriterionID: "c2", Status: model.CriterionStatusPass},
				{CriterionID: "c3", Status: model.CriterionStatusFail, Evidence: "row 2 is longer than row 3"},
			},
		},
	}
	retry, err := compiler.CompileRetry(spec, policy.DefaultV1(), compiler.FeedbackFromAttempt(attempt, base.Criteria))
	require.NoError(err)

	require.Len(retry.Sections, len(model.PromptSections)+1)
	for i := range model.PromptSections {
		assert.Equal(base.Sections[i], retry.Sections[i])
	}
	fb := retry.Sections[len(retry.Sections)-1]
	assert.Equal(model.SectionRetryFeedback, fb.Name)
	assert.Contains(fb.Body, "Attempt 1 did not pass verification (partial).")
	assert.Contains(fb.Body, "- [c3] sorted ascending by Column A length: fail. Evidence: row 2 is longer than row 3")
	assert.NotContains(fb.Body, "[c1]")
	assert.True(strings.HasPrefix(retry.Text, base.Text))
	assert.NotEqual(base.Digest, retry.Digest)
}

func TestCompileRetryCorrectiveNotes(t *testing.T) {
	tests := map[string]struct {
		attempt model.ExecutionAttempt
		expText string
	}{
		"A timeout should ask for a faster solution": {
			attempt: model.ExecutionAttempt{Number: 2, FailureReason: model.FailureReasonTimeout},
			expText: "Attempt 2 did not return within the time bound.",
		},

		"A structural failure should name the missing members": {
			attempt: model.ExecutionAttempt{Number: 1, FailureReason: model.FailureReasonStructural, Error: "missing execute.py"},
			expText: "Attempt 1 violated the Artifact Contract: missing execute.py.",
		},

		"A refusal should restate the task is in scope": {
			attempt: model.ExecutionAttempt{Number: 1, FailureReason: model.FailureReasonRefusal},
			expText: "The task is in scope, complete it as specified.",
		},

		"A sandbox failure should ask for a standalone script": {
			attempt: model.ExecutionAttempt{Number: 3, FailureReason: model.FailureReasonSandbox, Error: "exit code 1"},
			expText: "Attempt 3: `execute.py` failed when re-run in isolation: exit code 1.",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			p, err := compiler.CompileRetry(handlesSpec(), policy.DefaultV1(), compiler.FeedbackFromAttempt(test.attempt, nil))
			require.NoError(err)

			fb, ok := p.Section(model.SectionRetryFeedback)
			assert.True(ok)
			assert.Contains(fb.Body, test.expText)
		})
	}
}
