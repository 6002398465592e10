package fake

import (
	"context"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/slok/taskforge/internal/executor"
	"github.com/slok/taskforge/internal/model"
)

// Step is a scripted executor answer.
type Step struct {
	Files   map[string][]byte
	Usage   model.Usage
	Refused bool
	Reason  string
	Err     error
	// Delay is waited before answering, the call fails if the context ends first.
	Delay time.Duration
	// Hang blocks the call until its context ends.
	Hang bool
	// CopyInputs adds the request inputs as preserved input files.
	CopyInputs bool
}

// Executor is an executor that answers with scripted steps, one per call. The last
// step is repeated once all of them are used.
type Executor struct {
	mu    sync.Mutex
	steps []Step
	calls []executor.Request
}

// NewExecutor returns a new fake executor.
func NewExecutor(steps ...Step) *Executor {
	return &Executor{steps: steps}
}

// Execute satisfies executor.Executor interface.
func (e *Executor) Execute(ctx context.Context, r executor.Request) (*executor.Response, error) {
	e.mu.Lock()
	n := len(e.calls)
	e.calls = append(e.calls, r)
	if len(e.steps) == 0 {
		e.mu.Unlock()
		return nil, fmt.Errorf("no scripted steps")
	}
	step := e.steps[min(n, len(e.steps)-1)]
	e.mu.Unlock()

	switch {
	case step.Hang:
		<-ctx.Done()
		return nil, ctx.Err()
	case step.Delay > 0:
		t := time.NewTimer(step.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	if step.Err != nil {
		return nil, step.Err
	}

	runID := r.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	resp := &executor.Response{
		RunID:         runID,
		Usage:         step.Usage,
		Refused:       step.Refused,
		RefusalReason: step.Reason,
		Files:         make(map[string][]byte, len(step.Files)),
	}
	for name, b := range step.Files {
		resp.Files[name] = append([]byte(nil), b...)
	}
	if step.CopyInputs {
		for name, b := range r.Inputs {
			resp.Files[model.InputFilename(name)] = append([]byte(nil), b...)
		}
	}

	return resp, nil
}

// Calls returns the received requests.
func (e *Executor) Calls() []executor.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]executor.Request(nil), e.calls...)
}

// StepFromFS returns a step that answers with every regular file of the root of fsys and
// the request inputs.
func StepFromFS(fsys fs.FS) (Step, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return Step{}, fmt.Errorf("could not read artifacts dir: %w", err)
	}

	files := map[string][]byte{}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		b, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return Step{}, fmt.Errorf("could not read %q: %w", e.Name(), err)
		}
		files[e.Name()] = b
	}

	return Step{Files: files, CopyInputs: true}, nil
}
