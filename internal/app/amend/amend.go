package amend

import (
	"bytes"
	"context"
	"fmt"

	"github.com/slok/taskforge/internal/lifecycle"
	"github.com/slok/taskforge/internal/log"
	"github.com/slok/taskforge/internal/model"
	"github.com/slok/taskforge/internal/storage"
)

// ServiceConfig is the configuration for the amend service.
type ServiceConfig struct {
	SpecRepository storage.TaskSpecRepository
	Repository     storage.Repository
	Manager        lifecycle.Manager
	Logger         log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.SpecRepository == nil {
		return fmt.Errorf("spec repository is required")
	}

	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.Manager == nil {
		return fmt.Errorf("lifecycle manager is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Amend"})

	return nil
}

// Service amends the spec of a task with a new spec file version.
type Service struct {
	specs   storage.TaskSpecRepository
	repo    storage.Repository
	manager lifecycle.Manager
	logger  log.Logger
}

// NewService creates a new amend service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		specs:   cfg.SpecRepository,
		repo:    cfg.Repository,
		manager: cfg.Manager,
		logger:  cfg.Logger,
	}, nil
}

// Request represents the amend request parameters.
type Request struct {
	TaskID   string
	SpecPath string
}

// Run amends a task. The input files of a task are fixed at submission, an amended spec
// can reference them but not change their content.
func (s *Service) Run(ctx context.Context, req Request) (*model.Task, error) {
	if req.TaskID == "" || req.SpecPath == "" {
		return nil, fmt.Errorf("task id and spec path are required: %w", model.ErrNotValid)
	}

	tr, err := s.specs.GetTaskRequest(ctx, req.SpecPath)
	if err != nil {
		return nil, fmt.Errorf("could not load task spec: %w", err)
	}

	task, err := s.repo.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, fmt.Errorf("could not get task: %w", err)
	}
	for name, b := range tr.Inputs {
		stored, ok := task.Inputs[name]
		if !ok {
			return nil, fmt.Errorf("input %q was not submitted with the task: %w", name, model.ErrNotValid)
		}
		if !bytes.Equal(stored, b) {
			return nil, fmt.Errorf("input %q content differs from the submitted one: %w", name, model.ErrImmutable)
		}
	}

	amended, err := s.manager.Amend(ctx, req.TaskID, tr.Spec)
	if err != nil {
		return nil, fmt.Errorf("could not amend task: %w", err)
	}

	s.logger.Debugf("task %s amended to spec v%d", amended.ID, amended.CurrentSpec().Version)
	return amended, nil
}
