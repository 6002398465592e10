package sandbox

import (
	"context"
	"time"

	"github.com/slok/taskforge/internal/model"
)

// Request is a reproducing script run request.
type Request struct {
	// Files seed the working directory, keyed by slash separated relative path.
	Files map[string][]byte
	// Script is the file executed, defaults to the reproducing script name.
	Script  string
	Timeout time.Duration
}

// ScriptName returns the script to run.
func (r Request) ScriptName() string {
	if r.Script == "" {
		return model.ScriptFilename
	}
	return r.Script
}

// Result is the outcome of a script run.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	// Files are the working directory files after the run.
	Files    map[string][]byte
	Duration time.Duration
}

// Runner runs a reproducing script in an isolated, time-bounded environment. The
// environment is always reclaimed before returning.
//
// A script exiting with a non zero code is not an error, the code is in the result. Scripts
// exceeding the timeout return a *model.SandboxExecutionError.
type Runner interface {
	Run(ctx context.Context, r Request) (*Result, error)
}

//go:generate mockery --case underscore --output sandboxmock --outpkg sandboxmock --name Runner --structname MockRunner
