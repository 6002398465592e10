package executor

import (
	"context"

	"github.com/slok/taskforge/internal/model"
)

// Request is a single execution request sent to an executor.
type Request struct {
	// RunID identifies the executor run, it's returned as the artifact set producer.
	RunID         string
	TaskID        string
	AttemptNumber int
	Prompt        string
	// Inputs are the original input files keyed by input data name.
	Inputs map[string][]byte
}

// Response is what an executor returns for a request.
type Response struct {
	RunID string
	Files map[string][]byte
	Usage model.Usage
	// Refused is set when the executor declines the task, files are ignored then.
	Refused       bool
	RefusalReason string
}

// Executor is an opaque generative worker that receives a prompt and returns files.
type Executor interface {
	Execute(ctx context.Context, r Request) (*Response, error)
}

//go:generate mockery --case underscore --output executormock --outpkg executormock --name Executor --structname MockExecutor
