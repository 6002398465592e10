// Package storagetest has the behaviour tests every storage.Repository implementation
// must pass.
package storagetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskforge/internal/model"
	"github.com/slok/taskforge/internal/storage"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// NewTask returns a valid new task.
func NewTask(id string, createdAt time.Time) model.Task {
	return model.Task{
		ID:         id,
		State:      model.TaskStateDrafting,
		MaxRetries: 3,
		Specs: []model.TaskSpec{{
			Version:         1,
			Title:           "Clean handles",
			Description:     "Clean a CSV of handles",
			Requirements:    []model.Requirement{{ID: "r1", Text: "Prefix handles with @"}},
			Deliverables:    []model.Deliverable{{ID: "d1", Name: "Cleaned handles", Format: "csv"}},
			InputData:       []model.InputDataRef{{Name: "handles.csv", Format: "csv"}},
			SuccessCriteria: []model.SuccessCriterion{{ID: "c1", Text: "All Column A values start with @", Checkable: true}},
			Budget:          model.Budget{Amount: 50, Currency: "USD", Type: model.BudgetTypeFixed},
		}},
		Inputs:    map[string][]byte{"handles.csv": []byte("handle\nbob\n")},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

// PendingAttempt returns a pending attempt with artifacts.
func PendingAttempt(taskID string, number int) model.ExecutionAttempt {
	return model.ExecutionAttempt{
		ID:            fmt.Sprintf("%s-a%d", taskID, number),
		TaskID:        taskID,
		Number:        number,
		SpecVersion:   1,
		PromptVersion: "spec-v1/policy-v1/0123456789ab",
		Artifacts: &model.ArtifactSet{
			Files: map[string][]byte{
				"execute.py":          []byte("print('hi')"),
				"input_handles.csv":   []byte("handle\nbob\n"),
				"handles_cleaned.csv": []byte("handle\n@bob\n"),
			},
			ProducedAt:    t0.Add(time.Minute),
			ProducerRunID: "run-1",
		},
		Status:    model.AttemptStatusPending,
		Usage:     model.Usage{InputTokens: 1000, OutputTokens: 500, Tier: model.ModelTierMedium},
		CreatedAt: t0.Add(time.Minute),
	}
}

// Finalized returns the attempt finalized with a verification result.
func Finalized(a model.ExecutionAttempt, overall model.OverallStatus) model.ExecutionAttempt {
	at := a.CreatedAt.Add(time.Minute)
	a.Status = model.AttemptStatusVerified
	if overall != model.OverallStatusPass {
		a.FailureReason = model.FailureReasonCriteria
	}
	a.Verification = &model.VerificationResult{
		Criteria:     []model.CriterionResult{{CriterionID: "c1", Status: model.CriterionStatusPass, Evidence: "all 1 values start with \"@\"", Judge: "predicate"}},
		Overall:      overall,
		Reason:       "all 1 criteria passed",
		InputsIntact: true,
	}
	a.FinalizedAt = &at
	return a
}

func tr(from, to model.TaskState) *storage.Transition {
	return &storage.Transition{From: from, To: to, At: t0.Add(time.Hour)}
}

// RunRepositoryTests runs the repository behaviour tests against new repositories.
func RunRepositoryTests(t *testing.T, newRepo func(t *testing.T) storage.Repository) {
	tests := map[string]func(ctx context.Context, t *testing.T, repo storage.Repository){
		"A created task should be retrieved as stored": func(ctx context.Context, t *testing.T, repo storage.Repository) {
			task := NewTask("t1", t0)
			require.NoError(t, repo.CreateTask(ctx, task))

			got, err := repo.GetTask(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, task, *got)
		},

		"Creating a task twice should fail": func(ctx context.Context, t *testing.T, repo storage.Repository) {
			require.NoError(t, repo.CreateTask(ctx, NewTask("t1", t0)))
			err := repo.CreateTask(ctx, NewTask("t1", t0))
			assert.ErrorIs(t, err, model.ErrAlreadyExists)
		},

		"Creating a task without the first spec version should fail": func(ctx context.Context, t *testing.T, repo storage.Repository) {
			task := NewTask("t1", t0)
			task.Specs[0].Version = 2
			assert.ErrorIs(t, repo.CreateTask(ctx, task), model.ErrNotValid)
		},

		"Getting a missing task should fail": func(ctx context.Context, t *testing.T, repo storage.Repository) {
			_, err := repo.GetTask(ctx, "missing")
			assert.ErrorIs(t, err, model.ErrNotFound)
		},

		"Tasks should be listed newest first": func(ctx context.Context, t *testing.T, repo storage.Repository) {
			require.NoError(t, repo.CreateTask(ctx, NewTask("t1", t0)))
			require.NoError(t, repo.CreateTask(ctx, NewTask("t2", t0.Add(time.Hour))))

			tasks, err := repo.ListTasks(ctx)
			require.NoError(t, err)
			require.Len(t, tasks, 2)
			assert.Equal(t, "t2", tasks[0].ID)
			assert.Equal(t, "t1", tasks[1].ID)
		},

		"A valid transition should change the state": func(ctx context.Context, t *testing.T, repo storage.Repository) {
			require.NoError(t, repo.CreateTask(ctx, NewTask("t1", t0)))
			require.NoError(t, repo.Transition(ctx, "t1", storage.Transition{From: model.TaskStateDrafting, To: model.TaskStateAwaitingExecution, Reason: "compiled", At: t0.Add(time.Hour)}))

			got, err := repo.GetTask(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, model.TaskStateAwaitingExecution, got.State)
			assert.Equal(t, "compiled", got.StateReason)
			assert.Equal(t, t0.Add(time.Hour), got.UpdatedAt)
		},

		"Transitions should be kept as an ordered audit trail": func(ctx context.Context, t *testing.T, repo storage.Repository) {
			require.NoError(t, repo.CreateTask(ctx, NewTask("t1", t0)))
			require.NoError(t, repo.Transition(ctx, "t1", storage.Transition{From: model.TaskStateDrafting, To: model.TaskStateAwaitingExecution, Reason: "compiled", At: t0.Add(time.Minute)}))
			a1 := PendingAttempt("t1", 1)
			require.NoError(t, repo.AppendAttempt(ctx, a1, &storage.Transition{From: model.TaskStateAwaitingExecution, To: model.TaskStateVerifying, Reason: "dispatched", At: t0.Add(2 * time.Minute)}))
			// A rejected transition leaves no trace.
			assert.ErrorIs(t, repo.Transition(ctx, "t1", *tr(model.TaskStateDrafting, model.TaskStateAwaitingExecution)), model.ErrInvalidTransition)
			f1 := Finalized(a1, model.OverallStatusPass)
			require.NoError(t, repo.FinalizeAttempt(ctx, f1, &storage.Transition{From: model.TaskStateVerifying, To: model.TaskStateAccepted, Reason: "passed", At: t0.Add(3 * time.Minute)}))

			got, err := repo.GetTask(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, []model.StateTransition{
				{From: model.TaskStateDrafting, To: model.TaskStateAwaitingExecution, Reason: "compiled", At: t0.Add(time.Minute)},
				{From: model.TaskStateAwaitingExecution, To: model.TaskStateVerifying, Reason: "dispatched", At: t0.Add(2 * time.Minute)},
				{From: model.TaskStateVerifying, To: model.TaskStateAccepted, Reason: "passed", At: t0.Add(3 * time.Minute)},
			}, got.Transitions)
		},

		"A transition from a stale state should fail": func(ctx context.Context, t *testing.T, repo storage.Repository) {
			require.NoError(t, repo.CreateTask(ctx, NewTask("t1", t0)))
			err := repo.Transition(ctx, "t1", *tr(model.TaskStateVerifying, model.TaskStateAccepted))
			assert.ErrorIs(t, err, model.ErrInvalidTransition)
		},

		"A transition not in the table should fail": func(ctx context.Context, t *testing.T, repo storage.Repository) {
			require.NoError(t, repo.CreateTask(ctx, NewTask("t1", t0)))
			err := repo.Transition(ctx, "t1", *tr(model.TaskStateDrafting, model.TaskStateAccepted))
			assert.ErrorIs(t, err, model.ErrInvalidTransition)
		},

		"Attempts should be appended in order with their artifacts": func(ctx context.Context, t *testing.T, repo storage.Repository) {
			require.NoError(t, repo.CreateTask(ctx, NewTask("t1", t0)))
			require.NoError(t, repo.Transition(ctx, "t1", *tr(model.TaskStateDrafting, model.TaskStateAwaitingExecution)))

			a1 := PendingAttempt("t1", 1)
			require.NoError(t, repo.AppendAttempt(ctx, a1, tr(model.TaskStateAwaitingExecution, model.TaskStateVerifying)))

			got, err := repo.GetTask(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, model.TaskStateVerifying, got.State)
			require.Len(t, got.Attempts, 1)
			assert.Equal(t, a1, got.Attempts[0])
		},

		"Attempt numbers can't be skipped or reused": func(ctx context.Context, t *testing.T, repo storage.Repository) {
			require.NoError(t, repo.CreateTask(ctx, NewTask("t1", t0)))
			assert.ErrorIs(t, repo.AppendAttempt(ctx, PendingAttempt("t1", 2), nil), model.ErrNotValid)

			a1 := Finalized(PendingAttempt("t1", 1), model.OverallStatusPartial)
			require.NoError(t, repo.AppendAttempt(ctx, a1, nil))
			a1bis := PendingAttempt("t1", 1)
			a1bis.ID = "other"
			assert.ErrorIs(t, repo.AppendAttempt(ctx, a1bis, nil), model.ErrNotValid)
		},

		"A new attempt can't be appended while the last one is pending": func(ctx context.Context, t *testing.T, repo storage.Repository) {
			require.NoError(t, repo.CreateTask(ctx, NewTask("t1", t0)))
			require.NoError(t, repo.AppendAttempt(ctx, PendingAttempt("t1", 1), nil))
			assert.ErrorIs(t, repo.AppendAttempt(ctx, PendingAttempt("t1", 2), nil), model.ErrNotValid)
		},

		"A pending attempt should be finalized once and then be immutable": func(ctx context.Context, t *testing.T, repo storage.Repository) {
			require.NoError(t, repo.CreateTask(ctx, NewTask("t1", t0)))
			require.NoError(t, repo.Transition(ctx, "t1", *tr(model.TaskStateDrafting, model.TaskStateAwaitingExecution)))
			a1 := PendingAttempt("t1", 1)
			require.NoError(t, repo.AppendAttempt(ctx, a1, tr(model.TaskStateAwaitingExecution, model.TaskStateVerifying)))

			f1 := Finalized(a1, model.OverallStatusPass)
			require.NoError(t, repo.FinalizeAttempt(ctx, f1, tr(model.TaskStateVerifying, model.TaskStateAccepted)))

			got, err := repo.GetTask(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, model.TaskStateAccepted, got.State)
			assert.Equal(t, f1, got.Attempts[0])

			f1.Verification.Overall = model.OverallStatusFail
			assert.ErrorIs(t, repo.FinalizeAttempt(ctx, f1, nil), model.ErrImmutable)
		},

		"A failed finalization transition should not finalize the attempt": func(ctx context.Context, t *testing.T, repo storage.Repository) {
			require.NoError(t, repo.CreateTask(ctx, NewTask("t1", t0)))
			a1 := PendingAttempt("t1", 1)
			require.NoError(t, repo.AppendAttempt(ctx, a1, nil))

			err := repo.FinalizeAttempt(ctx, Finalized(a1, model.OverallStatusPass), tr(model.TaskStateVerifying, model.TaskStateAccepted))
			assert.ErrorIs(t, err, model.ErrInvalidTransition)

			got, err := repo.GetTask(ctx, "t1")
			require.NoError(t, err)
			assert.False(t, got.Attempts[0].Finalized())
		},

		"Spec versions should be appended in order": func(ctx context.Context, t *testing.T, repo storage.Repository) {
			require.NoError(t, repo.CreateTask(ctx, NewTask("t1", t0)))
			require.NoError(t, repo.Transition(ctx, "t1", *tr(model.TaskStateDrafting, model.TaskStateAwaitingExecution)))

			spec := NewTask("t1", t0).Specs[0]
			spec.Version = 3
			assert.ErrorIs(t, repo.AppendSpec(ctx, "t1", spec, nil), model.ErrNotValid)

			spec.Version = 2
			spec.Title = "Clean handles v2"
			require.NoError(t, repo.AppendSpec(ctx, "t1", spec, tr(model.TaskStateAwaitingExecution, model.TaskStateDrafting)))

			got, err := repo.GetTask(ctx, "t1")
			require.NoError(t, err)
			require.Len(t, got.Specs, 2)
			assert.Equal(t, "Clean handles", got.Specs[0].Title)
			assert.Equal(t, spec, got.CurrentSpec())
			assert.Equal(t, model.TaskStateDrafting, got.State)
		},

		"Terminal tasks should not accept new spec versions": func(ctx context.Context, t *testing.T, repo storage.Repository) {
			require.NoError(t, repo.CreateTask(ctx, NewTask("t1", t0)))
			require.NoError(t, repo.Transition(ctx, "t1", *tr(model.TaskStateDrafting, model.TaskStateAbandoned)))

			spec := NewTask("t1", t0).Specs[0]
			spec.Version = 2
			assert.ErrorIs(t, repo.AppendSpec(ctx, "t1", spec, nil), model.ErrImmutable)
		},

		"Cancelled attempts should be recorded on terminal tasks": func(ctx context.Context, t *testing.T, repo storage.Repository) {
			require.NoError(t, repo.CreateTask(ctx, NewTask("t1", t0)))
			require.NoError(t, repo.Transition(ctx, "t1", *tr(model.TaskStateDrafting, model.TaskStateAbandoned)))

			a := PendingAttempt("t1", 1)
			a.Artifacts = nil
			a.Status = model.AttemptStatusCancelled
			a.Error = "dispatch cancelled"
			at := a.CreatedAt
			a.FinalizedAt = &at
			require.NoError(t, repo.AppendAttempt(ctx, a, nil))

			got, err := repo.GetTask(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, []model.ExecutionAttempt{a}, got.Attempts)
			assert.Equal(t, 0, got.CountedAttempts())
		},

		"Returned tasks should not alias the stored ones": func(ctx context.Context, t *testing.T, repo storage.Repository) {
			require.NoError(t, repo.CreateTask(ctx, NewTask("t1", t0)))
			got, err := repo.GetTask(ctx, "t1")
			require.NoError(t, err)
			got.Inputs["handles.csv"][0] = 'X'
			got.Specs[0].Title = "changed"

			got2, err := repo.GetTask(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, NewTask("t1", t0), *got2)
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			test(context.Background(), t, newRepo(t))
		})
	}
}
