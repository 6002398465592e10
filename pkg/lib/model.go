package lib

import (
	"context"
	"errors"
	"time"

	"github.com/slok/taskforge/internal/executor"
	"github.com/slok/taskforge/internal/model"
)

// Sentinel errors returned by the SDK, check them with [errors.Is].
var (
	// ErrNotFound is returned when a task doesn't exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a task already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when a spec or an option is not valid.
	ErrNotValid = errors.New("not valid")
	// ErrInvalidTransition is returned when the task state doesn't allow the operation
	// (e.g. cancelling an accepted task).
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	// ErrImmutable is returned when an operation would change a settled task.
	ErrImmutable = errors.New("immutable")
)

// SandboxType identifies where reproducing scripts run.
type SandboxType string

const (
	// SandboxDocker runs scripts in a throw away container without network.
	SandboxDocker SandboxType = "docker"
	// SandboxLocal runs scripts as a local python process, without isolation.
	SandboxLocal SandboxType = "local"
)

// TaskState is the lifecycle state of a task.
//
// The typical lifecycle is:
//
//	drafting -> awaiting_execution -> verifying -> accepted
//
// A failed verification goes through retrying back to awaiting_execution until
// the retry bound, then the task is escalated to a human reviewer. Unsettled
// tasks can be abandoned at any point.
type TaskState string

const (
	TaskStateDrafting          TaskState = "drafting"
	TaskStateAwaitingExecution TaskState = "awaiting_execution"
	TaskStateVerifying         TaskState = "verifying"
	TaskStateRetrying          TaskState = "retrying"
	TaskStateAccepted          TaskState = "accepted"
	TaskStateEscalated         TaskState = "escalated"
	TaskStateAbandoned         TaskState = "abandoned"
)

// Settled returns true if the task won't progress anymore.
func (s TaskState) Settled() bool { return model.TaskState(s).IsTerminal() }

// Task represents a task returned by the SDK.
//
// This is a read-only snapshot of the task at the time of the API call.
// Use [Client.GetTask] to get the latest state.
type Task struct {
	// ID is the unique identifier (ULID) assigned at submission.
	ID string
	// Title is the title of the current spec version.
	Title string
	// State is the current lifecycle state.
	State TaskState
	// StateReason explains the last transition.
	StateReason string
	// SpecVersion is the current spec version, it starts at 1 and grows with amendments.
	SpecVersion int
	// MaxRetries is the number of attempts before escalating.
	MaxRetries int
	// Attempts are the execution attempts, oldest first.
	Attempts []Attempt
	// Transitions are the state changes of the task, oldest first.
	Transitions []Transition
	// TotalTokens and CostUSD accumulate the executor usage of all attempts.
	TotalTokens int
	CostUSD     float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Transition is a single state change of a task.
type Transition struct {
	From   TaskState
	To     TaskState
	Reason string
	At     time.Time
}

// Attempt is a single execution attempt of a task.
type Attempt struct {
	Number      int
	SpecVersion int
	// Status is pending, verified, failed or cancelled.
	Status string
	// FailureReason is empty for passing attempts.
	FailureReason string
	// Overall is the verification verdict (pass, partial, fail), empty when not verified.
	Overall string
	// Reason summarizes the verdict or the failure.
	Reason string
	// Outputs are the output deliverable filenames of the artifact set.
	Outputs   []string
	Tokens    int
	CostUSD   float64
	CreatedAt time.Time
}

// ExecutionRequest is what the SDK sends to an [Executor].
type ExecutionRequest struct {
	// RunID identifies the run, return it in the response.
	RunID         string
	TaskID        string
	AttemptNumber int
	Prompt        string
	// Inputs are the original input files keyed by input data name.
	Inputs map[string][]byte
}

// ExecutionResponse is what an [Executor] returns.
type ExecutionResponse struct {
	RunID string
	// Files are the produced files: execute.py, the deliverables and the preserved
	// inputs under input_<name>.
	Files        map[string][]byte
	InputTokens  int
	OutputTokens int
	// Refused is set when the executor declines the task.
	Refused       bool
	RefusalReason string
}

// Executor runs a prompt and returns the produced files.
type Executor interface {
	Execute(ctx context.Context, r ExecutionRequest) (*ExecutionResponse, error)
}

// ExecutorFunc is a function that satisfies [Executor].
type ExecutorFunc func(ctx context.Context, r ExecutionRequest) (*ExecutionResponse, error)

// Execute satisfies [Executor].
func (f ExecutorFunc) Execute(ctx context.Context, r ExecutionRequest) (*ExecutionResponse, error) {
	return f(ctx, r)
}

type executorAdapter struct {
	exec Executor
}

func (e executorAdapter) Execute(ctx context.Context, r executor.Request) (*executor.Response, error) {
	resp, err := e.exec.Execute(ctx, ExecutionRequest{
		RunID:         r.RunID,
		TaskID:        r.TaskID,
		AttemptNumber: r.AttemptNumber,
		Prompt:        r.Prompt,
		Inputs:        r.Inputs,
	})
	if err != nil {
		return nil, err
	}
	return &executor.Response{
		RunID:         resp.RunID,
		Files:         resp.Files,
		Usage:         model.Usage{InputTokens: resp.InputTokens, OutputTokens: resp.OutputTokens},
		Refused:       resp.Refused,
		RefusalReason: resp.RefusalReason,
	}, nil
}

// --- Task conversion helpers ---

func fromInternalTask(t model.Task) Task {
	spec := t.CurrentSpec()
	tokens, cost := t.TotalUsage()
	res := Task{
		ID:          t.ID,
		Title:       spec.Title,
		State:       TaskState(t.State),
		StateReason: t.StateReason,
		SpecVersion: spec.Version,
		MaxRetries:  t.MaxRetries,
		TotalTokens: tokens,
		CostUSD:     cost,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
	for _, a := range t.Attempts {
		res.Attempts = append(res.Attempts, fromInternalAttempt(a))
	}
	for _, tr := range t.Transitions {
		res.Transitions = append(res.Transitions, Transition{
			From:   TaskState(tr.From),
			To:     TaskState(tr.To),
			Reason: tr.Reason,
			At:     tr.At,
		})
	}
	return res
}

func fromInternalAttempt(a model.ExecutionAttempt) Attempt {
	res := Attempt{
		Number:        a.Number,
		SpecVersion:   a.SpecVersion,
		Status:        string(a.Status),
		FailureReason: string(a.FailureReason),
		Reason:        a.Error,
		Tokens:        a.Usage.Total(),
		CostUSD:       a.Usage.CostUSD(),
		CreatedAt:     a.CreatedAt,
	}
	if v := a.Verification; v != nil {
		res.Overall = string(v.Overall)
		res.Reason = v.Reason
	}
	if a.Artifacts != nil {
		res.Outputs = a.Artifacts.NamesOf(model.ArtifactKindOutput)
	}
	return res
}

func fromInternalTaskList(ts []model.Task) []Task {
	res := make([]Task, 0, len(ts))
	for _, t := range ts {
		res = append(res, fromInternalTask(t))
	}
	return res
}

func mapError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, model.ErrNotFound):
		return joinErrors(err, ErrNotFound)
	case errors.Is(err, model.ErrAlreadyExists):
		return joinErrors(err, ErrAlreadyExists)
	case errors.Is(err, model.ErrNotValid):
		return joinErrors(err, ErrNotValid)
	case errors.Is(err, model.ErrInvalidTransition):
		return joinErrors(err, ErrInvalidTransition)
	case errors.Is(err, model.ErrImmutable):
		return joinErrors(err, ErrImmutable)
	default:
		return err
	}
}

func joinErrors(original, sentinel error) error {
	return &mappedError{original: original, sentinel: sentinel}
}

type mappedError struct {
	original error
	sentinel error
}

func (e *mappedError) Error() string { return e.original.Error() }

func (e *mappedError) Is(target error) bool {
	return target == e.sentinel
}

func (e *mappedError) Unwrap() error { return e.original }
