package compile

import (
	"context"
	"fmt"

	"github.com/slok/taskforge/internal/compiler"
	"github.com/slok/taskforge/internal/lifecycle"
	"github.com/slok/taskforge/internal/log"
	"github.com/slok/taskforge/internal/model"
	"github.com/slok/taskforge/internal/policy"
	"github.com/slok/taskforge/internal/storage"
)

// ServiceConfig is the configuration for the compile service.
type ServiceConfig struct {
	SpecRepository storage.TaskSpecRepository
	// Repository is only required to compile stored tasks.
	Repository storage.Repository
	Policy     *policy.Policy
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.SpecRepository == nil {
		return fmt.Errorf("spec repository is required")
	}

	if c.Policy == nil {
		c.Policy = policy.DefaultV1()
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Compile"})

	return nil
}

// Service compiles execution prompts without dispatching them.
type Service struct {
	specs  storage.TaskSpecRepository
	repo   storage.Repository
	policy *policy.Policy
	logger log.Logger
}

// NewService creates a new compile service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		specs:  cfg.SpecRepository,
		repo:   cfg.Repository,
		policy: cfg.Policy,
		logger: cfg.Logger,
	}, nil
}

// Request represents the compile request parameters, exactly one of them must be set.
type Request struct {
	// SpecPath compiles a spec file as a first attempt.
	SpecPath string
	// TaskID compiles the prompt the next attempt of a stored task would get.
	TaskID string
}

// Run compiles the requested prompt.
func (s *Service) Run(ctx context.Context, req Request) (*model.ExecutionPrompt, error) {
	switch {
	case req.SpecPath != "" && req.TaskID != "":
		return nil, fmt.Errorf("spec path and task id can't be used together: %w", model.ErrNotValid)
	case req.SpecPath != "":
		tr, err := s.specs.GetTaskRequest(ctx, req.SpecPath)
		if err != nil {
			return nil, fmt.Errorf("could not load task spec: %w", err)
		}
		tr.Spec.Version = 1
		return compiler.Compile(tr.Spec, s.policy)
	case req.TaskID != "":
		if s.repo == nil {
			return nil, fmt.Errorf("no task repository configured: %w", model.ErrNotValid)
		}
		t, err := s.repo.GetTask(ctx, req.TaskID)
		if err != nil {
			return nil, fmt.Errorf("could not get task: %w", err)
		}
		s.logger.Debugf("compiling next prompt of task %s (%s)", t.ID, t.State)
		return lifecycle.NextPrompt(*t, s.policy)
	default:
		return nil, fmt.Errorf("spec path or task id is required: %w", model.ErrNotValid)
	}
}
