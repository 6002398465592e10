package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/semaphore"

	"github.com/slok/taskforge/internal/compiler"
	"github.com/slok/taskforge/internal/judge"
	"github.com/slok/taskforge/internal/log"
	"github.com/slok/taskforge/internal/model"
	"github.com/slok/taskforge/internal/sandbox"
	"github.com/slok/taskforge/internal/telemetry"
)

// DefaultScriptTimeout bounds a reproducing script run.
const DefaultScriptTimeout = 5 * time.Minute

// VerifierConfig is the configuration of the artifact verifier.
type VerifierConfig struct {
	Runner sandbox.Runner
	// Judges are asked in order, the first one supporting a criterion evaluates it.
	Judges []judge.Judge
	// MaxConcurrent is the number of sandbox slots shared by all tasks.
	MaxConcurrent int64
	ScriptTimeout time.Duration
	Metrics       *telemetry.Metrics
	Tracer        trace.Tracer
	Logger        log.Logger
}

func (c *VerifierConfig) defaults() error {
	if c.Runner == nil {
		return fmt.Errorf("sandbox runner is required")
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 2
	}
	if c.ScriptTimeout <= 0 {
		c.ScriptTimeout = DefaultScriptTimeout
	}
	if c.Metrics == nil {
		c.Metrics = telemetry.Noop
	}
	if c.Tracer == nil {
		c.Tracer = nooptrace.NewTracerProvider().Tracer(telemetry.InstrumentationName)
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "verify.Verifier"})
	return nil
}

// Verifier checks artifact sets against the task success criteria. The reproducing script
// is re-run in a sandbox and only the files it produces there are judged.
type Verifier struct {
	runner        sandbox.Runner
	judges        []judge.Judge
	slots         *semaphore.Weighted
	scriptTimeout time.Duration
	metrics       *telemetry.Metrics
	tracer        trace.Tracer
	logger        log.Logger
}

// NewVerifier returns a new verifier.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Verifier{
		runner:        cfg.Runner,
		judges:        cfg.Judges,
		slots:         semaphore.NewWeighted(cfg.MaxConcurrent),
		scriptTimeout: cfg.ScriptTimeout,
		metrics:       cfg.Metrics,
		tracer:        cfg.Tracer,
		logger:        cfg.Logger,
	}, nil
}

// Input is a verification request.
type Input struct {
	Spec   model.TaskSpec
	Prompt model.ExecutionPrompt
	// Artifacts is the set returned by the executor.
	Artifacts model.ArtifactSet
	// OriginalInputs are the input files dispatched, keyed by input data name.
	OriginalInputs map[string][]byte
}

// Verify verifies an artifact set. A failing script is a fail verdict, not an error, errors
// are returned only when the verification itself could not happen (sandbox unavailable,
// context cancelled) and must be retried.
func (v *Verifier) Verify(ctx context.Context, in Input) (*model.VerificationResult, error) {
	ctx, span := v.tracer.Start(ctx, "verify.Verify", trace.WithAttributes(
		attribute.Int("task.spec_version", in.Spec.Version),
		attribute.String("prompt.version", in.Prompt.Version()),
		attribute.String("artifacts.run_id", in.Artifacts.ProducerRunID),
	))
	defer span.End()

	start := time.Now()
	res, err := v.verify(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("verification.overall", string(res.Overall)))
	v.metrics.ObserveVerification(ctx, res.Overall, time.Since(start))

	return res, nil
}

func (v *Verifier) verify(ctx context.Context, in Input) (*model.VerificationResult, error) {
	res := &model.VerificationResult{}

	altered := alteredInputs(in.Artifacts, in.OriginalInputs)
	res.InputsIntact = len(altered) == 0

	run, err := v.runScript(ctx, in)
	var serr *model.SandboxExecutionError
	switch {
	case errors.As(err, &serr):
	case err != nil:
		return nil, err
	case run.ExitCode != 0:
		serr = &model.SandboxExecutionError{ExitCode: run.ExitCode, Stderr: tail(run.Stderr, 2000)}
	}
	scriptFailed := serr != nil

	var produced map[string][]byte
	if scriptFailed {
		res.ScriptExitCode = serr.ExitCode
		res.ScriptError = serr.Error()
		v.logger.Infof("Reproducing script failed: %s", serr)
	} else {
		produced = run.Files
	}

	names := sortedNames(produced)
	for _, d := range in.Spec.Deliverables {
		if _, ok := model.DeliverableFile(d, names, len(in.Spec.Deliverables) == 1); !ok {
			res.MissingDeliverables = append(res.MissingDeliverables, d.ID)
		}
	}

	criteria := in.Prompt.Criteria
	if len(criteria) == 0 {
		criteria = compiler.EffectiveCriteria(in.Spec)
	}
	res.Criteria = make([]model.CriterionResult, 0, len(criteria))
	for _, c := range criteria {
		if scriptFailed {
			res.Criteria = append(res.Criteria, model.CriterionResult{
				CriterionID: c.ID,
				Status:      model.CriterionStatusUnknown,
				Evidence:    "not evaluated, the reproducing script failed",
			})
			continue
		}

		cr, err := v.judge(ctx, judge.Input{
			Spec:        in.Spec,
			Criterion:   c,
			Files:       produced,
			Resolutions: in.Prompt.AppliedDefaults,
		})
		if err != nil {
			return nil, err
		}
		res.Criteria = append(res.Criteria, cr)
	}

	res.Overall = model.DeriveOverall(scriptFailed, len(res.MissingDeliverables), res.InputsIntact, res.Criteria)
	res.Reason = reason(res, altered)

	return res, nil
}

// runScript re-runs the reproducing script inside a sandbox slot. The working directory is
// seeded with the artifact set minus the output files, so outputs only exist if the script
// regenerates them, plus the original inputs under their own names.
func (v *Verifier) runScript(ctx context.Context, in Input) (*sandbox.Result, error) {
	if !in.Artifacts.Has(model.ScriptFilename) {
		return nil, &model.SandboxExecutionError{ExitCode: -1, Err: fmt.Errorf("missing %s", model.ScriptFilename)}
	}

	pinned := map[string]bool{}
	for _, d := range in.Spec.Deliverables {
		if d.Filename != "" {
			pinned[d.Filename] = true
		}
	}
	files := map[string][]byte{}
	for name, b := range in.Artifacts.Files {
		if model.ClassifyArtifact(name) == model.ArtifactKindOutput || pinned[name] {
			continue
		}
		files[name] = b
	}
	for name, b := range in.OriginalInputs {
		if _, ok := files[name]; !ok {
			files[name] = b
		}
	}

	if err := v.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("could not acquire sandbox slot: %w", err)
	}
	defer v.slots.Release(1)

	res, err := v.runner.Run(ctx, sandbox.Request{Files: files, Timeout: v.scriptTimeout})
	if err != nil {
		var serr *model.SandboxExecutionError
		switch {
		case errors.As(err, &serr):
			return nil, serr
		// Retrying can't fix the artifacts, it's a verdict.
		case errors.Is(err, sandbox.ErrUnusableWorkdir):
			return nil, &model.SandboxExecutionError{ExitCode: -1, Err: err}
		}
		return nil, fmt.Errorf("sandbox run failed: %w", err)
	}
	return res, nil
}

func (v *Verifier) judge(ctx context.Context, in judge.Input) (model.CriterionResult, error) {
	res := model.CriterionResult{CriterionID: in.Criterion.ID}
	for _, j := range v.judges {
		if !j.Supports(in.Criterion) {
			continue
		}

		res.Judge = j.Name()
		vd, err := j.Judge(ctx, in)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			v.logger.Warningf("Judge %s could not evaluate criterion %s: %s", j.Name(), in.Criterion.ID, err)
			res.Status = model.CriterionStatusUnknown
			res.Evidence = fmt.Sprintf("judge %s failed: %s", j.Name(), err)
			return res, nil
		}
		res.Status = vd.Status
		res.Evidence = vd.Evidence
		return res, nil
	}

	res.Status = model.CriterionStatusUnknown
	res.Evidence = "no judge supports this criterion"
	return res, nil
}

// alteredInputs returns the preserved input files missing or different from the originals.
func alteredInputs(set model.ArtifactSet, originals map[string][]byte) []string {
	var altered []string
	for name, b := range originals {
		f := model.InputFilename(name)
		got, ok := set.Files[f]
		if !ok || !bytes.Equal(got, b) {
			altered = append(altered, f)
		}
	}
	sort.Strings(altered)
	return altered
}

func reason(res *model.VerificationResult, altered []string) string {
	switch res.Overall {
	case model.OverallStatusPass:
		return fmt.Sprintf("all %d criteria passed", len(res.Criteria))
	case model.OverallStatusPartial:
		unmet := res.Unmet()
		ids := make([]string, 0, len(unmet))
		for _, c := range unmet {
			ids = append(ids, c.CriterionID)
		}
		return fmt.Sprintf("%d of %d criteria unmet: %s", len(unmet), len(res.Criteria), strings.Join(ids, ", "))
	}

	var reasons []string
	if res.ScriptError != "" {
		reasons = append(reasons, res.ScriptError)
	}
	if len(res.MissingDeliverables) > 0 {
		reasons = append(reasons, "missing deliverables: "+strings.Join(res.MissingDeliverables, ", "))
	}
	if len(altered) > 0 {
		reasons = append(reasons, "inputs not preserved verbatim: "+strings.Join(altered, ", "))
	}
	return strings.Join(reasons, "; ")
}

func sortedNames(files map[string][]byte) []string {
	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
