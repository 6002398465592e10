package storage

import (
	"context"
	"time"

	"github.com/slok/taskforge/internal/model"
)

// Transition is a compare-and-set lifecycle state change persisted atomically with the
// write it goes with. The write fails with model.ErrInvalidTransition if the task is not in
// From anymore.
type Transition struct {
	From   model.TaskState
	To     model.TaskState
	Reason string
	At     time.Time
}

// Repository is the durable task record store. Spec versions and attempts are append-only,
// an attempt can be finalized once and never changes afterwards.
type Repository interface {
	// CreateTask stores a new task with its first spec version and original inputs.
	CreateTask(ctx context.Context, t model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
	// ListTasks returns all tasks, newest first.
	ListTasks(ctx context.Context) ([]model.Task, error)
	// Transition changes the task state.
	Transition(ctx context.Context, taskID string, tr Transition) error
	// AppendSpec adds the next spec version, it must be the latest version plus one.
	AppendSpec(ctx context.Context, taskID string, spec model.TaskSpec, tr *Transition) error
	// AppendAttempt adds the next attempt, its number must be the latest number plus one.
	AppendAttempt(ctx context.Context, a model.ExecutionAttempt, tr *Transition) error
	// FinalizeAttempt records the verification of a pending attempt and freezes it.
	FinalizeAttempt(ctx context.Context, a model.ExecutionAttempt, tr *Transition) error
}

//go:generate mockery --case underscore --output storagemock --outpkg storagemock --name Repository --structname MockRepository

// TaskRequest is a task spec file loaded with the input files it references.
type TaskRequest struct {
	Spec model.TaskSpec
	// Inputs are the input data contents keyed by input name.
	Inputs map[string][]byte
	// MaxRetries is zero when the file doesn't set it.
	MaxRetries int
}

// TaskSpecRepository loads client task specs.
type TaskSpecRepository interface {
	GetTaskRequest(ctx context.Context, path string) (*TaskRequest, error)
}

//go:generate mockery --case underscore --output storagemock --outpkg storagemock --name TaskSpecRepository --structname MockTaskSpecRepository
