package submit

import (
	"context"
	"fmt"

	"github.com/slok/taskforge/internal/lifecycle"
	"github.com/slok/taskforge/internal/log"
	"github.com/slok/taskforge/internal/model"
	"github.com/slok/taskforge/internal/storage"
)

// ServiceConfig is the configuration for the submit service.
type ServiceConfig struct {
	SpecRepository storage.TaskSpecRepository
	Manager        lifecycle.Manager
	Logger         log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.SpecRepository == nil {
		return fmt.Errorf("spec repository is required")
	}

	if c.Manager == nil {
		return fmt.Errorf("lifecycle manager is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Submit"})

	return nil
}

// Service submits task spec files as new tasks.
type Service struct {
	specs   storage.TaskSpecRepository
	manager lifecycle.Manager
	logger  log.Logger
}

// NewService creates a new submit service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		specs:   cfg.SpecRepository,
		manager: cfg.Manager,
		logger:  cfg.Logger,
	}, nil
}

// Request represents the submit request parameters.
type Request struct {
	SpecPath string
	// MaxRetries overrides the spec file retry bound when set.
	MaxRetries int
}

// Run loads a task spec file with its inputs and submits it.
func (s *Service) Run(ctx context.Context, req Request) (*model.Task, error) {
	if req.SpecPath == "" {
		return nil, fmt.Errorf("spec path is required: %w", model.ErrNotValid)
	}
	if req.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries can't be negative: %w", model.ErrNotValid)
	}

	tr, err := s.specs.GetTaskRequest(ctx, req.SpecPath)
	if err != nil {
		return nil, fmt.Errorf("could not load task spec: %w", err)
	}

	maxRetries := tr.MaxRetries
	if req.MaxRetries > 0 {
		maxRetries = req.MaxRetries
	}

	task, err := s.manager.Submit(ctx, lifecycle.SubmitRequest{
		Spec:       tr.Spec,
		Inputs:     tr.Inputs,
		MaxRetries: maxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("could not submit task: %w", err)
	}

	s.logger.Debugf("submitted %s as task %s", req.SpecPath, task.ID)
	return task, nil
}
