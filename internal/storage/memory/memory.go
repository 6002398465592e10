package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/slok/taskforge/internal/log"
	"github.com/slok/taskforge/internal/model"
	"github.com/slok/taskforge/internal/storage"
)

// RepositoryConfig is the configuration for the memory repository.
type RepositoryConfig struct {
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.Memory"})
	return nil
}

// Repository is an in-memory implementation of storage.Repository.
type Repository struct {
	tasks  map[string]model.Task
	mu     sync.RWMutex
	logger log.Logger
}

// NewRepository creates a new memory repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Repository{
		tasks:  make(map[string]model.Task),
		logger: cfg.Logger,
	}, nil
}

var _ storage.Repository = &Repository{}

// CreateTask creates a new task in the repository.
func (r *Repository) CreateTask(ctx context.Context, t model.Task) error {
	if err := storage.ValidateNewTask(t); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[t.ID]; ok {
		return fmt.Errorf("task %s: %w", t.ID, model.ErrAlreadyExists)
	}

	r.tasks[t.ID] = t.Clone()
	r.logger.Debugf("Created task in repository: %s", t.ID)

	return nil
}

// GetTask retrieves a task by ID.
func (r *Repository) GetTask(ctx context.Context, id string) (*model.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}

	// Return a copy
	c := t.Clone()
	return &c, nil
}

// ListTasks returns all tasks, newest first.
func (r *Repository) ListTasks(ctx context.Context) ([]model.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tasks := make([]model.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, t.Clone())
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID > tasks[j].ID
		}
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})

	return tasks, nil
}

// Transition changes the state of a task.
func (r *Repository) Transition(ctx context.Context, taskID string, tr storage.Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, model.ErrNotFound)
	}
	if err := apply(&t, &tr); err != nil {
		return err
	}
	r.tasks[taskID] = t

	r.logger.Debugf("Task %s transitioned %s -> %s", taskID, tr.From, tr.To)
	return nil
}

// AppendSpec adds the next spec version of a task.
func (r *Repository) AppendSpec(ctx context.Context, taskID string, spec model.TaskSpec, tr *storage.Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, model.ErrNotFound)
	}
	if err := storage.CheckNextSpec(t, spec); err != nil {
		return err
	}
	if err := apply(&t, tr); err != nil {
		return err
	}
	t.Specs = append(t.Specs, spec.Clone())
	r.tasks[taskID] = t

	return nil
}

// AppendAttempt adds the next attempt of a task.
func (r *Repository) AppendAttempt(ctx context.Context, a model.ExecutionAttempt, tr *storage.Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[a.TaskID]
	if !ok {
		return fmt.Errorf("task %s: %w", a.TaskID, model.ErrNotFound)
	}
	if err := storage.CheckNextAttempt(t, a); err != nil {
		return err
	}
	if err := apply(&t, tr); err != nil {
		return err
	}
	t.Attempts = append(t.Attempts, a.Clone())
	r.tasks[a.TaskID] = t

	return nil
}

// FinalizeAttempt freezes a pending attempt with its verification.
func (r *Repository) FinalizeAttempt(ctx context.Context, a model.ExecutionAttempt, tr *storage.Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[a.TaskID]
	if !ok {
		return fmt.Errorf("task %s: %w", a.TaskID, model.ErrNotFound)
	}
	idx := -1
	for i, existing := range t.Attempts {
		if existing.ID == a.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("attempt %s: %w", a.ID, model.ErrNotFound)
	}
	if err := storage.CheckFinalize(t.Attempts[idx], a); err != nil {
		return err
	}
	if err := apply(&t, tr); err != nil {
		return err
	}

	// Attempts are shared with previous copies of the task, replace the slice.
	attempts := append([]model.ExecutionAttempt(nil), t.Attempts...)
	attempts[idx] = a.Clone()
	t.Attempts = attempts
	r.tasks[a.TaskID] = t

	return nil
}

func apply(t *model.Task, tr *storage.Transition) error {
	if tr == nil {
		return nil
	}
	if err := storage.CheckTransition(*t, *tr); err != nil {
		return err
	}
	t.State = tr.To
	t.StateReason = tr.Reason
	t.UpdatedAt = tr.At
	t.Transitions = append(append([]model.StateTransition(nil), t.Transitions...), model.StateTransition{
		From:   tr.From,
		To:     tr.To,
		Reason: tr.Reason,
		At:     tr.At,
	})
	return nil
}
