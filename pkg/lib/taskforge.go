package lib

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/slok/taskforge/internal/conventions"
	"github.com/slok/taskforge/internal/dispatch"
	"github.com/slok/taskforge/internal/escalation"
	"github.com/slok/taskforge/internal/executor"
	"github.com/slok/taskforge/internal/executor/webhook"
	"github.com/slok/taskforge/internal/judge"
	"github.com/slok/taskforge/internal/judge/predicate"
	"github.com/slok/taskforge/internal/lifecycle"
	"github.com/slok/taskforge/internal/log"
	"github.com/slok/taskforge/internal/policy"
	"github.com/slok/taskforge/internal/sandbox"
	"github.com/slok/taskforge/internal/sandbox/docker"
	"github.com/slok/taskforge/internal/sandbox/local"
	"github.com/slok/taskforge/internal/storage"
	"github.com/slok/taskforge/internal/storage/sqlite"
	"github.com/slok/taskforge/internal/verify"
)

// Config configures the SDK client.
//
// All fields are optional except the executor: set ExecutorURL or Executor.
// An empty data dir uses ~/.taskforge, the same store the CLI uses.
type Config struct {
	// DataDir is the base directory for the task store and escalated cases.
	// Default: ~/.taskforge.
	DataDir string

	// DBPath is the SQLite database path.
	// Default: <DataDir>/taskforge.db.
	DBPath string

	// Logger receives structured log output from the SDK.
	// Default: noop (silent). See the log sub-package for the interface.
	Logger log.Logger

	// ExecutorURL is the webhook executor endpoint.
	ExecutorURL string

	// ExecutorHeaders are added to every webhook request (e.g. authorization).
	ExecutorHeaders map[string]string

	// Executor replaces the webhook executor when set.
	Executor Executor

	// Sandbox selects where reproducing scripts run.
	// Default: [SandboxDocker].
	Sandbox SandboxType

	// SandboxImage is the docker image of [SandboxDocker].
	SandboxImage string

	// AcceptPartial accepts partial verdicts instead of retrying them.
	AcceptPartial bool

	// CostCapUSD abandons tasks whose executor cost reaches it. Zero disables it.
	CostCapUSD float64

	// DispatchTimeout bounds a single executor call.
	DispatchTimeout time.Duration

	// MaxConcurrentExecutions is the executor capacity shared by all tasks of the client.
	// Default: 4.
	MaxConcurrentExecutions int64
}

func (c *Config) defaults() error {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("could not get user home dir: %w", err)
		}
		c.DataDir = filepath.Join(home, conventions.DefaultDataDir)
	}

	if c.DBPath == "" {
		c.DBPath = conventions.DBPath(c.DataDir)
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	if c.Executor == nil && c.ExecutorURL == "" {
		return fmt.Errorf("executor url or executor is required")
	}

	if c.Sandbox == "" {
		c.Sandbox = SandboxDocker
	}

	if c.MaxConcurrentExecutions <= 0 {
		c.MaxConcurrentExecutions = 4
	}

	return nil
}

// Client is the main SDK entry point for driving tasks programmatically.
//
// Create a Client with [New] and release its resources with [Client.Close].
// A Client is safe for concurrent use.
type Client struct {
	repo    storage.Repository
	machine *lifecycle.Machine
	logger  log.Logger
	closeFn func() error
}

// New creates a new SDK client backed by a SQLite database.
//
// The caller must call [Client.Close] when done to release the database
// connection. Typically used with defer:
//
//	client, err := lib.New(ctx, lib.Config{ExecutorURL: url})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w: %w", err, ErrNotValid)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create data dir: %w", err)
	}

	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: cfg.DBPath,
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create repository: %w", err)
	}

	machine, err := newMachine(cfg, repo)
	if err != nil {
		_ = repo.Close()
		return nil, mapError(err)
	}

	return &Client{
		repo:    repo,
		machine: machine,
		logger:  cfg.Logger,
		closeFn: repo.Close,
	}, nil
}

// Close releases resources held by the client, including the database connection.
// After Close returns, the client must not be used.
func (c *Client) Close() error {
	if c.closeFn != nil {
		return c.closeFn()
	}
	return nil
}

func newMachine(cfg Config, repo storage.Repository) (*lifecycle.Machine, error) {
	var (
		exec executor.Executor
		err  error
	)
	if cfg.Executor != nil {
		exec = executorAdapter{exec: cfg.Executor}
	} else {
		exec, err = webhook.NewExecutor(webhook.ExecutorConfig{
			URL:     cfg.ExecutorURL,
			Headers: cfg.ExecutorHeaders,
			Logger:  cfg.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("could not create executor: %w", err)
		}
	}

	ctrl, err := dispatch.NewController(dispatch.ControllerConfig{
		Executor:       exec,
		MaxConcurrent:  cfg.MaxConcurrentExecutions,
		DefaultTimeout: cfg.DispatchTimeout,
		Logger:         cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create dispatch controller: %w", err)
	}

	var runner sandbox.Runner
	switch cfg.Sandbox {
	case SandboxDocker:
		runner, err = docker.NewRunner(docker.RunnerConfig{Image: cfg.SandboxImage, Logger: cfg.Logger})
	case SandboxLocal:
		runner, err = local.NewRunner(local.RunnerConfig{Logger: cfg.Logger})
	default:
		return nil, fmt.Errorf("unsupported sandbox type: %s: %w", cfg.Sandbox, ErrNotValid)
	}
	if err != nil {
		return nil, fmt.Errorf("could not create sandbox runner: %w", err)
	}

	p := policy.DefaultV1()
	pj, err := predicate.NewJudge(predicate.JudgeConfig{Policy: p, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create judge: %w", err)
	}
	v, err := verify.NewVerifier(verify.VerifierConfig{
		Runner: runner,
		Judges: []judge.Judge{pj},
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create verifier: %w", err)
	}

	reviewer, err := escalation.NewFileReviewer(escalation.FileReviewerConfig{
		Dir:    conventions.EscalationsPath(cfg.DataDir),
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create reviewer: %w", err)
	}

	return lifecycle.NewMachine(lifecycle.MachineConfig{
		Repository:      repo,
		Policy:          p,
		Dispatcher:      ctrl,
		Verifier:        v,
		Reviewer:        reviewer,
		AcceptPartial:   cfg.AcceptPartial,
		CostCapUSD:      cfg.CostCapUSD,
		DispatchTimeout: cfg.DispatchTimeout,
		Logger:          cfg.Logger,
	})
}
