package fake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/slok/taskforge/internal/log"
	"github.com/slok/taskforge/internal/model"
	"github.com/slok/taskforge/internal/sandbox"
)

// ScriptFunc simulates a reproducing script: it receives the working directory files and
// returns the files it writes.
type ScriptFunc func(files map[string][]byte) (written map[string][]byte, exitCode int, stderr string)

// RunnerConfig is the configuration for the fake runner.
type RunnerConfig struct {
	// Script simulates the script run, nil writes nothing and exits with 0.
	Script ScriptFunc
	// Hang blocks every run until its timeout or context end.
	Hang   bool
	Logger log.Logger
}

func (c *RunnerConfig) defaults() error {
	if c.Script == nil {
		c.Script = func(map[string][]byte) (map[string][]byte, int, string) { return nil, 0, "" }
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "sandbox.Fake"})
	return nil
}

// Runner is a fake sandbox runner that simulates script runs in memory.
type Runner struct {
	script ScriptFunc
	hang   bool
	logger log.Logger

	mu   sync.Mutex
	runs int
}

// NewRunner returns a new fake runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Runner{script: cfg.Script, hang: cfg.Hang, logger: cfg.Logger}, nil
}

// Run satisfies sandbox.Runner interface.
func (r *Runner) Run(ctx context.Context, req sandbox.Request) (*sandbox.Result, error) {
	r.mu.Lock()
	r.runs++
	r.mu.Unlock()

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	start := time.Now()
	if r.hang {
		<-ctx.Done()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &model.SandboxExecutionError{ExitCode: -1, Err: fmt.Errorf("script timed out: %w", ctx.Err())}
		}
		return nil, ctx.Err()
	}

	if _, ok := req.Files[req.ScriptName()]; !ok {
		return &sandbox.Result{ExitCode: 2, Stderr: "can't open file '" + req.ScriptName() + "'", Files: copyFiles(req.Files)}, nil
	}

	files := copyFiles(req.Files)
	written, code, stderr := r.script(copyFiles(req.Files))
	for n, b := range written {
		files[n] = append([]byte(nil), b...)
	}
	r.logger.Debugf("Simulated script run wrote %d files", len(written))

	return &sandbox.Result{
		ExitCode: code,
		Stderr:   stderr,
		Files:    files,
		Duration: time.Since(start),
	}, nil
}

// Runs returns the number of runs.
func (r *Runner) Runs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

func copyFiles(files map[string][]byte) map[string][]byte {
	res := make(map[string][]byte, len(files))
	for n, b := range files {
		res[n] = append([]byte(nil), b...)
	}
	return res
}
