package lib_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskforge/pkg/lib"
)

const handlesSpec = `
title: Clean Instagram handles
description: Normalize a CSV of handles.
requirements:
  - id: r1
    text: Prefix every handle with @
deliverables:
  - id: d1
    name: Cleaned handles
    format: csv
    filename: handles_cleaned.csv
input_data:
  - name: handles.csv
    format: csv
success_criteria:
  - id: c1
    text: No duplicated rows
    checkable: true
    check:
      kind: no_duplicates
`

var handlesInputs = map[string][]byte{"handles.csv": []byte("handle\na\nbb\n")}

var refusingExecutor = lib.ExecutorFunc(func(_ context.Context, r lib.ExecutionRequest) (*lib.ExecutionResponse, error) {
	return &lib.ExecutionResponse{RunID: r.RunID, Refused: true, RefusalReason: "not my job", InputTokens: 100}, nil
})

func newTestClient(t *testing.T) (*lib.Client, string) {
	t.Helper()

	dataDir := t.TempDir()
	client, err := lib.New(context.Background(), lib.Config{
		DataDir:  dataDir,
		Executor: refusingExecutor,
		Sandbox:  lib.SandboxLocal,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client, dataDir
}

func TestNewConfig(t *testing.T) {
	tests := map[string]struct {
		cfg    lib.Config
		expErr error
	}{
		"Missing executor should fail.": {
			cfg:    lib.Config{},
			expErr: lib.ErrNotValid,
		},
		"Unknown sandbox should fail.": {
			cfg:    lib.Config{ExecutorURL: "http://127.0.0.1:1/run", Sandbox: "vm"},
			expErr: lib.ErrNotValid,
		},
		"A webhook executor should be enough.": {
			cfg: lib.Config{ExecutorURL: "http://127.0.0.1:1/run", Sandbox: lib.SandboxLocal},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			test.cfg.DataDir = t.TempDir()
			client, err := lib.New(context.Background(), test.cfg)
			if test.expErr != nil {
				assert.ErrorIs(t, err, test.expErr)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, client.Close())
		})
	}
}

func TestSubmitAndInspectTasks(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	client, _ := newTestClient(t)

	task, err := client.SubmitTask(ctx, lib.SubmitTaskOpts{Spec: []byte(handlesSpec), Inputs: handlesInputs, MaxRetries: 2})
	require.NoError(err)
	assert.NotEmpty(task.ID)
	assert.Equal("Clean Instagram handles", task.Title)
	assert.Equal(lib.TaskStateDrafting, task.State)
	assert.Equal(1, task.SpecVersion)
	assert.Equal(2, task.MaxRetries)

	got, err := client.GetTask(ctx, task.ID)
	require.NoError(err)
	assert.Equal(task.ID, got.ID)

	drafting := lib.TaskStateDrafting
	tasks, err := client.ListTasks(ctx, &lib.ListTasksOpts{State: &drafting})
	require.NoError(err)
	require.Len(tasks, 1)
	assert.Equal(task.ID, tasks[0].ID)

	accepted := lib.TaskStateAccepted
	tasks, err = client.ListTasks(ctx, &lib.ListTasksOpts{State: &accepted})
	require.NoError(err)
	assert.Empty(tasks)

	_, err = client.GetTask(ctx, "missing")
	assert.ErrorIs(err, lib.ErrNotFound)

	_, err = client.SubmitTask(ctx, lib.SubmitTaskOpts{Spec: []byte("title: [broken")})
	assert.ErrorIs(err, lib.ErrNotValid)
}

func TestRunTaskEscalatesRefusals(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	client, dataDir := newTestClient(t)

	task, err := client.SubmitTask(ctx, lib.SubmitTaskOpts{Spec: []byte(handlesSpec), Inputs: handlesInputs, MaxRetries: 1})
	require.NoError(err)

	state, err := client.RunTask(ctx, task.ID)
	require.NoError(err)
	assert.Equal(lib.TaskStateEscalated, state)
	assert.True(state.Settled())

	got, err := client.GetTask(ctx, task.ID)
	require.NoError(err)
	require.Len(got.Attempts, 1)
	assert.Equal("failed", got.Attempts[0].Status)
	assert.Equal("refusal", got.Attempts[0].FailureReason)
	assert.Equal(100, got.TotalTokens)

	entries, err := os.ReadDir(filepath.Join(dataDir, "escalations"))
	require.NoError(err)
	assert.Len(entries, 1)
}

func TestCancelAndAmendTasks(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	client, _ := newTestClient(t)

	task, err := client.SubmitTask(ctx, lib.SubmitTaskOpts{Spec: []byte(handlesSpec), Inputs: handlesInputs})
	require.NoError(err)

	amended, err := client.AmendTask(ctx, task.ID, []byte(handlesSpec+"constraints:\n  - Keep the header\n"))
	require.NoError(err)
	assert.Equal(2, amended.SpecVersion)
	assert.Equal(lib.TaskStateDrafting, amended.State)

	cancelled, err := client.CancelTask(ctx, task.ID, "not needed anymore")
	require.NoError(err)
	assert.Equal(lib.TaskStateAbandoned, cancelled.State)
	assert.Equal("not needed anymore", cancelled.StateReason)
	require.NotEmpty(cancelled.Transitions)
	last := cancelled.Transitions[len(cancelled.Transitions)-1]
	assert.Equal(lib.TaskStateAbandoned, last.To)
	assert.Equal("not needed anymore", last.Reason)

	_, err = client.CancelTask(ctx, task.ID, "again")
	assert.ErrorIs(err, lib.ErrInvalidTransition)

	_, err = client.AmendTask(ctx, task.ID, []byte(handlesSpec))
	assert.Error(err)
}
