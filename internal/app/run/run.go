package run

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/slok/taskforge/internal/lifecycle"
	"github.com/slok/taskforge/internal/log"
	"github.com/slok/taskforge/internal/model"
	"github.com/slok/taskforge/internal/storage"
)

// ServiceConfig is the configuration for the run service.
type ServiceConfig struct {
	Manager    lifecycle.Manager
	Repository storage.Repository
	// MaxConcurrentTasks is the number of tasks driven at the same time.
	MaxConcurrentTasks int
	Logger             log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Manager == nil {
		return fmt.Errorf("lifecycle manager is required")
	}

	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = 4
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Run"})

	return nil
}

// Service drives tasks until they reach a terminal state. Tasks run concurrently, their
// attempts are always sequential.
type Service struct {
	manager       lifecycle.Manager
	repo          storage.Repository
	maxConcurrent int
	logger        log.Logger
}

// NewService creates a new run service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		manager:       cfg.Manager,
		repo:          cfg.Repository,
		maxConcurrent: cfg.MaxConcurrentTasks,
		logger:        cfg.Logger,
	}, nil
}

// Request represents the run request parameters.
type Request struct {
	TaskIDs []string
	// All runs every non terminal task, TaskIDs are ignored then.
	All bool
}

// Result is the outcome of driving one task.
type Result struct {
	TaskID string
	State  model.TaskState
	Err    error
}

// Run drives the requested tasks. A task that fails doesn't stop the others, its error is
// returned in its result.
func (s *Service) Run(ctx context.Context, req Request) ([]Result, error) {
	ids := req.TaskIDs
	if req.All {
		tasks, err := s.repo.ListTasks(ctx)
		if err != nil {
			return nil, fmt.Errorf("could not list tasks: %w", err)
		}
		ids = nil
		for _, t := range tasks {
			if !t.State.IsTerminal() {
				ids = append(ids, t.ID)
			}
		}
	}
	if len(ids) == 0 {
		return []Result{}, nil
	}

	results := make([]Result, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrent)
	for i, id := range ids {
		g.Go(func() error {
			state, err := s.manager.Run(gctx, id)
			if err != nil {
				s.logger.WithValues(log.Kv{"task-id": id}).Warningf("Task run stopped in %s: %s", state, err)
			}
			results[i] = Result{TaskID: id, State: state, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.logger.Debugf("driven %d tasks", len(ids))
	return results, ctx.Err()
}
