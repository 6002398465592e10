package testutils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// CmdOpts are the options of a CLI execution.
type CmdOpts struct {
	Binary string
	Args   []string
	// Env is set on top of the current environment.
	Env   []string
	NoLog bool
}

// CmdResult is the outcome of a finished CLI execution.
type CmdResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// RunCmd executes a taskforge binary. A non zero exit code is returned as an error
// together with the result.
func RunCmd(ctx context.Context, opts CmdOpts) (*CmdResult, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, opts.Binary, opts.Args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	env := append(os.Environ(), opts.Env...)
	if opts.NoLog {
		env = append(env, "TASKFORGE_NO_LOG=true")
	}
	cmd.Env = env

	err := cmd.Run()
	res := &CmdResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		return res, fmt.Errorf("exit code %d: %w", res.ExitCode, err)
	case err != nil:
		return nil, err
	}

	return res, nil
}
