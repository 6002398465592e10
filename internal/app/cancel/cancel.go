package cancel

import (
	"context"
	"fmt"

	"github.com/slok/taskforge/internal/lifecycle"
	"github.com/slok/taskforge/internal/log"
	"github.com/slok/taskforge/internal/model"
	"github.com/slok/taskforge/internal/storage"
)

// ServiceConfig is the configuration for the cancel service.
type ServiceConfig struct {
	Repository storage.Repository
	Manager    lifecycle.Manager
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.Manager == nil {
		return fmt.Errorf("lifecycle manager is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Cancel"})

	return nil
}

// Service abandons tasks.
type Service struct {
	repo    storage.Repository
	manager lifecycle.Manager
	logger  log.Logger
}

// NewService creates a new cancel service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:    cfg.Repository,
		manager: cfg.Manager,
		logger:  cfg.Logger,
	}, nil
}

// Request represents the cancel request parameters.
type Request struct {
	TaskID string
	Reason string
}

// Run abandons a task and returns it as stored afterwards.
func (s *Service) Run(ctx context.Context, req Request) (*model.Task, error) {
	if req.TaskID == "" {
		return nil, fmt.Errorf("task id is required: %w", model.ErrNotValid)
	}

	if err := s.manager.Cancel(ctx, req.TaskID, req.Reason); err != nil {
		return nil, fmt.Errorf("could not cancel task: %w", err)
	}

	task, err := s.repo.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, fmt.Errorf("could not get task: %w", err)
	}

	s.logger.Debugf("task %s abandoned: %s", task.ID, task.StateReason)
	return task, nil
}
