// Package lifecycle is the retry/escalation state machine that drives a task from its
// submission to a terminal state, one persisted transition at a time.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/slok/taskforge/internal/dispatch"
	"github.com/slok/taskforge/internal/escalation"
	"github.com/slok/taskforge/internal/log"
	"github.com/slok/taskforge/internal/model"
	"github.com/slok/taskforge/internal/policy"
	"github.com/slok/taskforge/internal/storage"
	"github.com/slok/taskforge/internal/telemetry"
	"github.com/slok/taskforge/internal/verify"
)

// DefaultMaxRetries is the attempt bound of tasks submitted without one.
const DefaultMaxRetries = 3

// ReasonBudgetExceeded prefixes the abandon reason of tasks that reached the cost cap.
const ReasonBudgetExceeded = "budget_exceeded"

// Dispatcher sends a compiled prompt to the executor.
type Dispatcher interface {
	Execute(ctx context.Context, r dispatch.Request) (*dispatch.Outcome, error)
}

// Verifier verifies an artifact set.
type Verifier interface {
	Verify(ctx context.Context, in verify.Input) (*model.VerificationResult, error)
}

var (
	_ Dispatcher = &dispatch.Controller{}
	_ Verifier   = &verify.Verifier{}
	_ Manager    = &Machine{}
)

// Manager drives tasks through their lifecycle.
type Manager interface {
	Submit(ctx context.Context, req SubmitRequest) (*model.Task, error)
	Step(ctx context.Context, taskID string) (model.TaskState, error)
	Run(ctx context.Context, taskID string) (model.TaskState, error)
	Cancel(ctx context.Context, taskID, reason string) error
	Amend(ctx context.Context, taskID string, spec model.TaskSpec) (*model.Task, error)
}

//go:generate mockery --case underscore --output lifecyclemock --outpkg lifecyclemock --name Manager --structname MockManager

// MachineConfig is the configuration of the state machine.
type MachineConfig struct {
	Repository storage.Repository
	Policy     *policy.Policy
	Dispatcher Dispatcher
	Verifier   Verifier
	// Reviewer receives escalated tasks, by default they are only logged.
	Reviewer escalation.Reviewer
	// AcceptPartial accepts partial verdicts instead of retrying them.
	AcceptPartial bool
	// CostCapUSD abandons a task once its executor cost reaches it, zero disables it.
	CostCapUSD      float64
	DispatchTimeout time.Duration
	Metrics         *telemetry.Metrics
	Tracer          trace.Tracer
	Logger          log.Logger
	Now             func() time.Time
	// IDGen generates task and attempt ids.
	IDGen func() string
}

func (c *MachineConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Dispatcher == nil {
		return fmt.Errorf("dispatcher is required")
	}
	if c.Verifier == nil {
		return fmt.Errorf("verifier is required")
	}
	if c.CostCapUSD < 0 {
		return fmt.Errorf("cost cap can't be negative")
	}
	if c.Policy == nil {
		c.Policy = policy.DefaultV1()
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = dispatch.DefaultTimeout
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
	if c.IDGen == nil {
		c.IDGen = func() string { return ulid.Make().String() }
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "lifecycle.Machine"})
	if c.Reviewer == nil {
		c.Reviewer = escalation.NewLogReviewer(c.Logger)
	}
	return nil
}

// Machine is the task lifecycle state machine. Every state change is persisted before the
// next one starts, a restarted machine resumes from the stored state.
type Machine struct {
	repo            storage.Repository
	policy          *policy.Policy
	dispatcher      Dispatcher
	verifier        Verifier
	reviewer        escalation.Reviewer
	acceptPartial   bool
	costCap         float64
	dispatchTimeout time.Duration
	metrics         *telemetry.Metrics
	tracer          trace.Tracer
	logger          log.Logger
	now             func() time.Time
	idGen           func() string

	mu         sync.Mutex
	locks      map[string]*taskLock
	inFlight   map[string]context.CancelFunc
	cancelling map[string]int
}

// NewMachine returns a new state machine.
func NewMachine(cfg MachineConfig) (*Machine, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Machine{
		repo:            cfg.Repository,
		policy:          cfg.Policy,
		dispatcher:      cfg.Dispatcher,
		verifier:        cfg.Verifier,
		reviewer:        cfg.Reviewer,
		acceptPartial:   cfg.AcceptPartial,
		costCap:         cfg.CostCapUSD,
		dispatchTimeout: cfg.DispatchTimeout,
		metrics:         cfg.Metrics,
		tracer:          cfg.Tracer,
		logger:          cfg.Logger,
		now:             cfg.Now,
		idGen:           cfg.IDGen,
		locks:           map[string]*taskLock{},
		inFlight:        map[string]context.CancelFunc{},
		cancelling:      map[string]int{},
	}, nil
}

// SubmitRequest is a new client task.
type SubmitRequest struct {
	Spec model.TaskSpec
	// Inputs are the input data contents keyed by input data name.
	Inputs     map[string][]byte
	MaxRetries int
}

// Submit stores a new task in drafting with the request spec as version 1.
func (m *Machine) Submit(ctx context.Context, req SubmitRequest) (*model.Task, error) {
	spec := req.Spec.Clone()
	spec.Version = 1
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task spec: %w", err)
	}
	if err := checkInputs(spec, req.Inputs); err != nil {
		return nil, err
	}

	maxRetries := req.MaxRetries
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}
	if maxRetries < 0 {
		return nil, fmt.Errorf("max retries can't be negative: %w", model.ErrNotValid)
	}

	now := m.now().UTC()
	t := model.Task{
		ID:          m.idGen(),
		State:       model.TaskStateDrafting,
		MaxRetries:  maxRetries,
		Specs:       []model.TaskSpec{spec},
		StateReason: "submitted",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if len(req.Inputs) > 0 {
		t.Inputs = make(map[string][]byte, len(req.Inputs))
		for n, b := range req.Inputs {
			t.Inputs[n] = append([]byte(nil), b...)
		}
	}

	if err := m.repo.CreateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("could not store task: %w", err)
	}
	m.logger.WithValues(log.Kv{"task-id": t.ID}).Infof("Task submitted: %q", spec.Title)

	return &t, nil
}

func checkInputs(spec model.TaskSpec, inputs map[string][]byte) error {
	declared := map[string]bool{}
	var missing []string
	for _, in := range spec.InputData {
		declared[in.Name] = true
		if _, ok := inputs[in.Name]; !ok {
			missing = append(missing, in.Name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing content for input data %s: %w", strings.Join(missing, ", "), model.ErrNotValid)
	}
	for name := range inputs {
		if !declared[name] {
			return fmt.Errorf("input %q is not declared in the task spec: %w", name, model.ErrNotValid)
		}
	}
	return nil
}

// Step loads a task, performs exactly one transition and persists it. It returns the state
// the task is left in. Terminal tasks are left untouched.
func (m *Machine) Step(ctx context.Context, taskID string) (model.TaskState, error) {
	unlock := m.lock(taskID)
	defer unlock()

	ctx, span := m.tracer.Start(ctx, "lifecycle.Step", trace.WithAttributes(attribute.String("task.id", taskID)))
	defer span.End()

	t, err := m.repo.GetTask(ctx, taskID)
	if err != nil {
		return "", fmt.Errorf("could not get task: %w", err)
	}
	span.SetAttributes(attribute.String("task.state", string(t.State)))

	var state model.TaskState
	switch t.State {
	case model.TaskStateAccepted, model.TaskStateEscalated, model.TaskStateAbandoned:
		return t.State, nil
	case model.TaskStateDrafting:
		state, err = m.stepDrafting(ctx, *t)
	case model.TaskStateAwaitingExecution:
		state, err = m.stepAwaiting(ctx, *t)
	case model.TaskStateVerifying:
		state, err = m.stepVerifying(ctx, *t)
	case model.TaskStateRetrying:
		state, err = m.stepRetrying(ctx, *t)
	default:
		return t.State, fmt.Errorf("task %s has unknown state %q: %w", t.ID, t.State, model.ErrNotValid)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return state, err
}

// Run steps a task until it reaches a terminal state.
func (m *Machine) Run(ctx context.Context, taskID string) (model.TaskState, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		state, err := m.Step(ctx, taskID)
		if err != nil {
			return state, err
		}
		if state.IsTerminal() {
			return state, nil
		}
	}
}

// Cancel abandons a non terminal task. An in-flight dispatch of the task is cancelled and
// recorded as a cancelled attempt.
func (m *Machine) Cancel(ctx context.Context, taskID, reason string) error {
	done := m.interrupt(taskID)
	defer done()

	unlock := m.lock(taskID)
	defer unlock()

	t, err := m.repo.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("could not get task: %w", err)
	}
	if reason == "" {
		reason = "withdrawn"
	}

	return m.transition(ctx, *t, model.TaskStateAbandoned, reason)
}

// Amend appends a new spec version to a non terminal task and sends it back to drafting.
// Attempts of previous versions are kept as they are.
func (m *Machine) Amend(ctx context.Context, taskID string, spec model.TaskSpec) (*model.Task, error) {
	done := m.interrupt(taskID)
	defer done()

	unlock := m.lock(taskID)
	defer unlock()

	t, err := m.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("could not get task: %w", err)
	}
	if t.State.IsTerminal() {
		return nil, fmt.Errorf("task %s is %s: %w", t.ID, t.State, model.ErrImmutable)
	}

	spec = spec.Clone()
	spec.Version = len(t.Specs) + 1
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task spec: %w", err)
	}
	for _, in := range spec.InputData {
		if _, ok := t.Inputs[in.Name]; !ok {
			return nil, fmt.Errorf("amended spec input %q has no stored content: %w", in.Name, model.ErrNotValid)
		}
	}

	tr := m.newTransition(*t, model.TaskStateDrafting, fmt.Sprintf("amended to spec v%d", spec.Version))
	if err := m.repo.AppendSpec(ctx, t.ID, spec, &tr); err != nil {
		return nil, fmt.Errorf("could not append spec: %w", err)
	}
	m.observe(ctx, t.ID, tr)

	t, err = m.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("could not get task: %w", err)
	}
	return t, nil
}

func (m *Machine) newTransition(t model.Task, to model.TaskState, reason string) storage.Transition {
	return storage.Transition{From: t.State, To: to, Reason: reason, At: m.now().UTC()}
}

func (m *Machine) transition(ctx context.Context, t model.Task, to model.TaskState, reason string) error {
	tr := m.newTransition(t, to, reason)
	if err := m.repo.Transition(ctx, t.ID, tr); err != nil {
		return fmt.Errorf("could not transition task: %w", err)
	}
	m.observe(ctx, t.ID, tr)
	return nil
}

func (m *Machine) observe(ctx context.Context, taskID string, tr storage.Transition) {
	m.metrics.ObserveTransition(ctx, tr.From, tr.To)
	m.logger.WithValues(log.Kv{"task-id": taskID}).Infof("Task %s -> %s: %s", tr.From, tr.To, tr.Reason)
}

type taskLock struct {
	mu   sync.Mutex
	refs int
}

// lock takes the per task lock, only one step runs for a task at a time. The lock is
// dropped once nobody holds or waits for it.
func (m *Machine) lock(taskID string) func() {
	m.mu.Lock()
	l, ok := m.locks[taskID]
	if !ok {
		l = &taskLock{}
		m.locks[taskID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		m.mu.Lock()
		defer m.mu.Unlock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, taskID)
		}
	}
}

// interrupt cancels the in-flight dispatch of a task and blocks new ones until done is called.
func (m *Machine) interrupt(taskID string) (done func()) {
	m.mu.Lock()
	m.cancelling[taskID]++
	if cancel, ok := m.inFlight[taskID]; ok {
		cancel()
	}
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.cancelling[taskID]--
		if m.cancelling[taskID] <= 0 {
			delete(m.cancelling, taskID)
		}
	}
}

func (m *Machine) interrupted(taskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelling[taskID] > 0
}

// trackInFlight returns the dispatch context of a task, it's cancelled by interrupt.
func (m *Machine) trackInFlight(ctx context.Context, taskID string) (context.Context, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dctx, cancel := context.WithCancel(ctx)
	if m.cancelling[taskID] > 0 {
		cancel()
	}
	m.inFlight[taskID] = cancel

	return dctx, func() {
		m.mu.Lock()
		delete(m.inFlight, taskID)
		m.mu.Unlock()
		cancel()
	}
}

func isDispatchCancelled(err error) bool {
	return errors.Is(err, model.ErrDispatchCancelled)
}
