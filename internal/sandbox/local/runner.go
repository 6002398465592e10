package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/slok/taskforge/internal/log"
	"github.com/slok/taskforge/internal/model"
	"github.com/slok/taskforge/internal/sandbox"
)

// RunnerConfig is the configuration for the local runner.
type RunnerConfig struct {
	// Python is the interpreter binary, defaults to python3.
	Python string
	// WorkRoot is where the working directories are created, defaults to the OS temp dir.
	WorkRoot string
	Logger   log.Logger
}

func (c *RunnerConfig) defaults() error {
	if c.Python == "" {
		c.Python = "python3"
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "sandbox.Local"})
	return nil
}

// Runner runs reproducing scripts as a local process inside a throw away directory.
// It has no network isolation, use it only for trusted development flows.
type Runner struct {
	python   string
	workRoot string
	logger   log.Logger
}

// NewRunner returns a new local runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Runner{python: cfg.Python, workRoot: cfg.WorkRoot, logger: cfg.Logger}, nil
}

// Run satisfies sandbox.Runner interface.
func (r *Runner) Run(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
	dir, err := os.MkdirTemp(r.workRoot, "taskforge-local-")
	if err != nil {
		return nil, fmt.Errorf("could not create working directory: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := sandbox.WriteWorkdir(dir, req.Files); err != nil {
		return nil, err
	}

	rctx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(rctx, r.python, req.ScriptName())
	cmd.Dir = dir
	cmd.Env = []string{"PYTHONDONTWRITEBYTECODE=1", "HOME=" + dir, "PATH=" + os.Getenv("PATH")}
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	err = cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	if err != nil {
		if errors.Is(rctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			r.logger.Warningf("Script timed out after %s", req.Timeout)
			return nil, &model.SandboxExecutionError{ExitCode: -1, Stderr: stderr.String(), Err: fmt.Errorf("script timed out after %s: %w", req.Timeout, context.DeadlineExceeded)}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("could not run %s: %w", r.python, err)
		}
		exitCode = exitErr.ExitCode()
	}

	files, err := sandbox.ReadWorkdir(dir)
	if err != nil {
		return nil, err
	}

	r.logger.Debugf("Script exited with code %d in %s", exitCode, duration)
	return &sandbox.Result{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Files:    files,
		Duration: duration,
	}, nil
}
