package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskforge/internal/dispatch"
	"github.com/slok/taskforge/internal/executor"
	"github.com/slok/taskforge/internal/executor/executormock"
	"github.com/slok/taskforge/internal/executor/fake"
	"github.com/slok/taskforge/internal/model"
)

func newRequest(taskID string) dispatch.Request {
	return dispatch.Request{
		TaskID:        taskID,
		SpecVersion:   1,
		AttemptNumber: 1,
		Prompt:        model.ExecutionPrompt{SpecVersion: 1, PolicyVersion: "v1", Text: "prompt", Digest: "0123456789abcdef"},
		Inputs:        map[string][]byte{"handles.csv": []byte("a\n")},
		InputNames:    []string{"handles.csv"},
	}
}

var completeFiles = map[string][]byte{
	"execute.py":          []byte("print(1)"),
	"handles_cleaned.csv": []byte("@a\n"),
}

func TestNewController(t *testing.T) {
	_, err := dispatch.NewController(dispatch.ControllerConfig{})
	assert.Error(t, err)

	c, err := dispatch.NewController(dispatch.ControllerConfig{Executor: fake.NewExecutor()})
	assert.NoError(t, err)
	assert.NotNil(t, c)
}

func TestControllerExecute(t *testing.T) {
	tests := map[string]struct {
		step       fake.Step
		ctx        func() (context.Context, context.CancelFunc)
		timeout    time.Duration
		expErr     func(t *testing.T, err error)
		expOutcome func(t *testing.T, o *dispatch.Outcome)
	}{
		"A complete artifact set should be returned": {
			step: fake.Step{Files: completeFiles, CopyInputs: true, Usage: model.Usage{InputTokens: 5}},
			expOutcome: func(t *testing.T, o *dispatch.Outcome) {
				require.NotNil(t, o.Artifacts)
				assert.Equal(t, []string{"execute.py", "handles_cleaned.csv", "input_handles.csv"}, o.Artifacts.Names())
				assert.Equal(t, []byte("a\n"), o.Artifacts.Files["input_handles.csv"])
				assert.Equal(t, o.RunID, o.Artifacts.ProducerRunID)
				assert.Equal(t, 5, o.Usage.InputTokens)
			},
		},

		"An executor not answering within the bound should time out": {
			step:    fake.Step{Hang: true},
			timeout: 30 * time.Millisecond,
			expErr: func(t *testing.T, err error) {
				var terr *model.ExecutorTimeoutError
				require.True(t, errors.As(err, &terr))
				assert.Equal(t, 30*time.Millisecond, terr.Timeout)
				assert.ErrorIs(t, err, context.DeadlineExceeded)
			},
			expOutcome: func(t *testing.T, o *dispatch.Outcome) { assert.Nil(t, o) },
		},

		"A refusal should return the refusal error with the usage": {
			step: fake.Step{Refused: true, Reason: "out of scope", Usage: model.Usage{OutputTokens: 7}},
			expErr: func(t *testing.T, err error) {
				var rerr *model.ExecutorRefusalError
				require.True(t, errors.As(err, &rerr))
				assert.Equal(t, "out of scope", rerr.Reason)
			},
			expOutcome: func(t *testing.T, o *dispatch.Outcome) {
				require.NotNil(t, o)
				assert.Nil(t, o.Artifacts)
				assert.Equal(t, 7, o.Usage.OutputTokens)
			},
		},

		"A structurally incomplete set should short-circuit with the captured files": {
			step: fake.Step{Files: completeFiles},
			expErr: func(t *testing.T, err error) {
				var serr *model.StructuralIncompleteError
				require.True(t, errors.As(err, &serr))
				assert.Equal(t, []string{"missing input_handles.csv"}, serr.Missing)
			},
			expOutcome: func(t *testing.T, o *dispatch.Outcome) {
				require.NotNil(t, o)
				assert.True(t, o.Artifacts.Has("execute.py"))
			},
		},

		"A cancelled parent context should resolve to a cancelled dispatch without artifacts": {
			step: fake.Step{Hang: true},
			ctx: func() (context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				time.AfterFunc(20*time.Millisecond, cancel)
				return ctx, cancel
			},
			expErr: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, model.ErrDispatchCancelled)
			},
			expOutcome: func(t *testing.T, o *dispatch.Outcome) { assert.Nil(t, o) },
		},

		"An executor error should be returned wrapped": {
			step: fake.Step{Err: errors.New("connection refused")},
			expErr: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "connection refused")
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			if test.ctx != nil {
				ctx, cancel = test.ctx()
			}
			defer cancel()

			c, err := dispatch.NewController(dispatch.ControllerConfig{Executor: fake.NewExecutor(test.step)})
			require.NoError(t, err)

			req := newRequest("task-1")
			req.Timeout = test.timeout
			o, err := c.Execute(ctx, req)

			if test.expErr != nil {
				test.expErr(t, err)
			} else {
				assert.NoError(t, err)
			}
			if test.expOutcome != nil {
				test.expOutcome(t, o)
			}
		})
	}
}

func TestControllerKeepsRunsCompletedAtTheDeadline(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	exec := executormock.NewMockExecutor(t)
	exec.On("Execute", mock.Anything, mock.Anything).Once().
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(&executor.Response{Files: map[string][]byte{
			"execute.py":          []byte("print(1)"),
			"handles_cleaned.csv": []byte("@a\n"),
			"input_handles.csv":   []byte("a\n"),
		}}, nil)

	c, err := dispatch.NewController(dispatch.ControllerConfig{Executor: exec})
	require.NoError(err)

	req := newRequest("t1")
	req.Timeout = 10 * time.Millisecond
	out, err := c.Execute(context.Background(), req)
	require.NoError(err)
	require.NotNil(out.Artifacts)
	assert.True(out.Artifacts.Has("handles_cleaned.csv"))
}

func TestControllerSingleExecutionPerSpecVersion(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	started := make(chan struct{})
	release := make(chan struct{})
	mex := executormock.NewMockExecutor(t)
	mex.On("Execute", mock.Anything, mock.MatchedBy(func(r executor.Request) bool { return r.TaskID == "task-1" })).Once().
		Return(func(ctx context.Context, r executor.Request) (*executor.Response, error) {
			close(started)
			<-release
			return &executor.Response{Files: map[string][]byte{
				"execute.py":        []byte("x"),
				"input_handles.csv": []byte("a\n"),
				"a_output.csv":      []byte("x"),
			}}, nil
		})
	mex.On("Execute", mock.Anything, mock.MatchedBy(func(r executor.Request) bool { return r.TaskID == "task-2" })).Once().
		Return(&executor.Response{Refused: true}, nil)

	c, err := dispatch.NewController(dispatch.ControllerConfig{Executor: mex})
	require.NoError(err)

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = c.Execute(context.Background(), newRequest("task-1"))
	}()
	<-started

	// Same task spec version is rejected while in flight.
	_, err = c.Execute(context.Background(), newRequest("task-1"))
	assert.ErrorIs(err, model.ErrExecutionInFlight)

	// Other tasks are independent.
	_, err = c.Execute(context.Background(), newRequest("task-2"))
	var rerr *model.ExecutorRefusalError
	assert.True(errors.As(err, &rerr))

	close(release)
	wg.Wait()
	assert.NoError(firstErr)
}

func TestControllerCapacityWaitIsCancellable(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	ex := fake.NewExecutor(fake.Step{Hang: true})
	c, err := dispatch.NewController(dispatch.ControllerConfig{Executor: ex, MaxConcurrent: 1})
	require.NoError(err)

	holdCtx, holdCancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Execute(holdCtx, newRequest("task-1"))
	}()
	require.Eventually(func() bool { return len(ex.Calls()) == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Execute(ctx, newRequest("task-2"))
	assert.ErrorIs(err, model.ErrDispatchCancelled)
	assert.Len(ex.Calls(), 1)

	holdCancel()
	<-done
}
