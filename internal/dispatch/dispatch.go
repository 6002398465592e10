package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/semaphore"

	"github.com/slok/taskforge/internal/executor"
	"github.com/slok/taskforge/internal/log"
	"github.com/slok/taskforge/internal/model"
	"github.com/slok/taskforge/internal/telemetry"
)

// DefaultTimeout is the dispatch bound used when a request doesn't set one.
const DefaultTimeout = time.Hour

// ControllerConfig is the configuration of the dispatch controller.
type ControllerConfig struct {
	Executor executor.Executor
	// MaxConcurrent is the executor capacity shared by all tasks.
	MaxConcurrent  int64
	DefaultTimeout time.Duration
	Metrics        *telemetry.Metrics
	Tracer         trace.Tracer
	Logger         log.Logger
	// Now is the clock, used to stamp artifact sets.
	Now func() time.Time
}

func (c *ControllerConfig) defaults() error {
	if c.Executor == nil {
		return fmt.Errorf("executor is required")
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = DefaultTimeout
	}
	if c.Metrics == nil {
		c.Metrics = telemetry.Noop
	}
	if c.Tracer == nil {
		c.Tracer = nooptrace.NewTracerProvider().Tracer(telemetry.InstrumentationName)
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "dispatch.Controller"})
	return nil
}

// Controller sends compiled prompts to the executor and captures the returned artifacts.
type Controller struct {
	executor       executor.Executor
	pool           *semaphore.Weighted
	defaultTimeout time.Duration
	metrics        *telemetry.Metrics
	tracer         trace.Tracer
	logger         log.Logger
	now            func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewController returns a new dispatch controller.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Controller{
		executor:       cfg.Executor,
		pool:           semaphore.NewWeighted(cfg.MaxConcurrent),
		defaultTimeout: cfg.DefaultTimeout,
		metrics:        cfg.Metrics,
		tracer:         cfg.Tracer,
		logger:         cfg.Logger,
		now:            cfg.Now,
		inFlight:       map[string]struct{}{},
	}, nil
}

// Request is a dispatch request.
type Request struct {
	TaskID        string
	SpecVersion   int
	AttemptNumber int
	Prompt        model.ExecutionPrompt
	// Inputs are the original input files keyed by input data name.
	Inputs map[string][]byte
	// InputNames are the spec input data names that must be preserved.
	InputNames []string
	// PinnedOutputs are deliverable file names fixed by the spec.
	PinnedOutputs []string
	Timeout       time.Duration
}

// Outcome is the result of a dispatch. On refusals and structural failures it's returned
// along with the error so the usage and the returned files are still recorded.
type Outcome struct {
	RunID     string
	Artifacts *model.ArtifactSet
	Usage     model.Usage
	Duration  time.Duration
}

// Execute dispatches a prompt to the executor. Only one execution can be in flight per task
// spec version.
func (c *Controller) Execute(ctx context.Context, r Request) (*Outcome, error) {
	key := fmt.Sprintf("%s/%d", r.TaskID, r.SpecVersion)
	if !c.tryLock(key) {
		return nil, fmt.Errorf("task %s spec v%d: %w", r.TaskID, r.SpecVersion, model.ErrExecutionInFlight)
	}
	defer c.unlock(key)

	ctx, span := c.tracer.Start(ctx, "dispatch.Execute", trace.WithAttributes(
		attribute.String("task.id", r.TaskID),
		attribute.Int("task.spec_version", r.SpecVersion),
		attribute.Int("attempt.number", r.AttemptNumber),
		attribute.String("prompt.version", r.Prompt.Version()),
	))
	defer span.End()

	start := c.now()
	out, err := c.execute(ctx, r)
	d := c.now().Sub(start)
	if out != nil {
		out.Duration = d
	}

	c.metrics.ObserveDispatch(ctx, outcomeLabel(err), d)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return out, err
}

func (c *Controller) execute(ctx context.Context, r Request) (*Outcome, error) {
	logger := c.logger.WithValues(log.Kv{"task-id": r.TaskID, "spec-version": r.SpecVersion, "attempt": r.AttemptNumber})

	if err := c.pool.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for executor capacity: %w", model.ErrDispatchCancelled)
	}
	defer c.pool.Release(1)

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	runID := uuid.NewString()
	logger.Infof("Dispatching prompt %s (run %s, timeout %s)", r.Prompt.Version(), runID, timeout)

	resp, err := c.executor.Execute(tctx, executor.Request{
		RunID:         runID,
		TaskID:        r.TaskID,
		AttemptNumber: r.AttemptNumber,
		Prompt:        r.Prompt.Text,
		Inputs:        r.Inputs,
	})

	// Parent cancellation wins over everything, nothing from the run is kept.
	if ctx.Err() != nil {
		logger.Warningf("Dispatch cancelled")
		return nil, fmt.Errorf("run %s: %w", runID, model.ErrDispatchCancelled)
	}
	// A run completed right at the deadline is kept.
	if err != nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
		logger.Warningf("Executor timed out after %s", timeout)
		return nil, &model.ExecutorTimeoutError{Timeout: timeout}
	}
	if err != nil {
		return nil, fmt.Errorf("executor failed: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("executor returned an empty response")
	}

	if resp.RunID != "" {
		runID = resp.RunID
	}
	out := &Outcome{RunID: runID, Usage: resp.Usage}

	if resp.Refused {
		logger.Warningf("Executor refused the task: %s", resp.RefusalReason)
		return out, &model.ExecutorRefusalError{Reason: resp.RefusalReason}
	}

	files := make(map[string][]byte, len(resp.Files))
	for n, b := range resp.Files {
		files[n] = append([]byte(nil), b...)
	}
	out.Artifacts = &model.ArtifactSet{
		Files:         files,
		ProducedAt:    c.now().UTC(),
		ProducerRunID: runID,
	}

	if err := CheckStructure(out.Artifacts.Names(), r.InputNames, r.PinnedOutputs); err != nil {
		logger.Warningf("Artifact set failed the structural check: %s", err)
		return out, err
	}

	logger.Infof("Executor returned %d files", len(files))
	return out, nil
}

func (c *Controller) tryLock(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.inFlight[key]; ok {
		return false
	}
	c.inFlight[key] = struct{}{}
	return true
}

func (c *Controller) unlock(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, key)
}

func outcomeLabel(err error) string {
	var (
		timeout    *model.ExecutorTimeoutError
		refusal    *model.ExecutorRefusalError
		structural *model.StructuralIncompleteError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &refusal):
		return "refusal"
	case errors.As(err, &structural):
		return "structural"
	case errors.Is(err, model.ErrDispatchCancelled):
		return "cancelled"
	default:
		return "error"
	}
}
