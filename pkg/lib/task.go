package lib

import (
	"context"
	"fmt"

	"github.com/slok/taskforge/internal/app/cancel"
	"github.com/slok/taskforge/internal/app/inspect"
	"github.com/slok/taskforge/internal/lifecycle"
	"github.com/slok/taskforge/internal/model"
	"github.com/slok/taskforge/internal/storage"
	storageio "github.com/slok/taskforge/internal/storage/io"
)

// SubmitTaskOpts configures [Client.SubmitTask].
type SubmitTaskOpts struct {
	// Spec is the task spec document (YAML or JSON), the same format the CLI reads.
	// Input data paths of the document are ignored, contents come from Inputs.
	Spec []byte
	// Inputs are the input data contents keyed by input data name.
	Inputs map[string][]byte
	// MaxRetries overrides the document value when set.
	MaxRetries int
}

// SubmitTask validates a task spec and stores it as a new task in drafting.
func (c *Client) SubmitTask(ctx context.Context, opts SubmitTaskOpts) (*Task, error) {
	req, err := decodeSpec(opts.Spec)
	if err != nil {
		return nil, mapError(err)
	}
	if opts.MaxRetries > 0 {
		req.MaxRetries = opts.MaxRetries
	}

	t, err := c.machine.Submit(ctx, lifecycle.SubmitRequest{
		Spec:       req.Spec,
		Inputs:     opts.Inputs,
		MaxRetries: req.MaxRetries,
	})
	if err != nil {
		return nil, mapError(err)
	}

	result := fromInternalTask(*t)
	return &result, nil
}

// RunTask drives a task until it settles or can't progress, and returns the state it
// stopped in. Tasks are resumed from their stored state, a task left verifying by a
// crashed process is verified again.
func (c *Client) RunTask(ctx context.Context, taskID string) (TaskState, error) {
	state, err := c.machine.Run(ctx, taskID)
	return TaskState(state), mapError(err)
}

// StepTask advances a task by a single lifecycle step.
func (c *Client) StepTask(ctx context.Context, taskID string) (TaskState, error) {
	state, err := c.machine.Step(ctx, taskID)
	return TaskState(state), mapError(err)
}

// GetTask returns a task by ID.
func (c *Client) GetTask(ctx context.Context, taskID string) (*Task, error) {
	svc, err := c.inspectService()
	if err != nil {
		return nil, err
	}

	t, err := svc.Get(ctx, taskID)
	if err != nil {
		return nil, mapError(err)
	}

	result := fromInternalTask(*t)
	return &result, nil
}

// ListTasksOpts filters [Client.ListTasks].
type ListTasksOpts struct {
	// State only returns tasks in this state.
	State *TaskState
	// Active only returns tasks that have not settled.
	Active bool
}

// ListTasks returns tasks, newest first. Pass nil opts to list all of them.
func (c *Client) ListTasks(ctx context.Context, opts *ListTasksOpts) ([]Task, error) {
	svc, err := c.inspectService()
	if err != nil {
		return nil, err
	}

	req := inspect.ListRequest{}
	if opts != nil {
		req.Active = opts.Active
		if opts.State != nil {
			s := model.TaskState(*opts.State)
			req.StateFilter = &s
		}
	}

	ts, err := svc.List(ctx, req)
	if err != nil {
		return nil, mapError(err)
	}

	return fromInternalTaskList(ts), nil
}

// CancelTask abandons an unsettled task, an in-flight execution of the task is cancelled.
func (c *Client) CancelTask(ctx context.Context, taskID, reason string) (*Task, error) {
	svc, err := cancel.NewService(cancel.ServiceConfig{
		Repository: c.repo,
		Manager:    c.machine,
		Logger:     c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	t, err := svc.Run(ctx, cancel.Request{TaskID: taskID, Reason: reason})
	if err != nil {
		return nil, mapError(err)
	}

	result := fromInternalTask(*t)
	return &result, nil
}

// AmendTask adds a new spec version to an unsettled task and sends it back to drafting.
// Previous attempts are kept, the retry bound counts them too. The inputs submitted with
// the task are kept as they are.
func (c *Client) AmendTask(ctx context.Context, taskID string, spec []byte) (*Task, error) {
	req, err := decodeSpec(spec)
	if err != nil {
		return nil, mapError(err)
	}

	t, err := c.machine.Amend(ctx, taskID, req.Spec)
	if err != nil {
		return nil, mapError(err)
	}

	result := fromInternalTask(*t)
	return &result, nil
}

func (c *Client) inspectService() (*inspect.Service, error) {
	svc, err := inspect.NewService(inspect.ServiceConfig{Repository: c.repo, Logger: c.logger})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}
	return svc, nil
}

func decodeSpec(data []byte) (*storage.TaskRequest, error) {
	doc, err := storageio.DecodeTaskSpec(data)
	if err != nil {
		return nil, err
	}
	return doc.TaskRequest()
}
