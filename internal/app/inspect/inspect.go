package inspect

import (
	"context"
	"fmt"

	"github.com/slok/taskforge/internal/log"
	"github.com/slok/taskforge/internal/model"
	"github.com/slok/taskforge/internal/storage"
)

// ServiceConfig is the configuration for the inspect service.
type ServiceConfig struct {
	Repository storage.Repository
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Inspect"})

	return nil
}

// Service reads stored tasks and their attempt history.
type Service struct {
	repo   storage.Repository
	logger log.Logger
}

// NewService creates a new inspect service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}, nil
}

// ListRequest represents the list request parameters.
type ListRequest struct {
	// StateFilter is an optional filter to only show tasks in this state.
	StateFilter *model.TaskState
	// Active only shows non terminal tasks.
	Active bool
}

// List lists tasks, newest first.
func (s *Service) List(ctx context.Context, req ListRequest) ([]model.Task, error) {
	tasks, err := s.repo.ListTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list tasks: %w", err)
	}

	filtered := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		if req.StateFilter != nil && t.State != *req.StateFilter {
			continue
		}
		if req.Active && t.State.IsTerminal() {
			continue
		}
		filtered = append(filtered, t)
	}

	s.logger.Debugf("found %d tasks", len(filtered))
	return filtered, nil
}

// Get returns a task with its spec versions and attempt history.
func (s *Service) Get(ctx context.Context, taskID string) (*model.Task, error) {
	if taskID == "" {
		return nil, fmt.Errorf("task id is required: %w", model.ErrNotValid)
	}

	t, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("could not get task: %w", err)
	}
	return t, nil
}
