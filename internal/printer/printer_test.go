package printer_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskforge/internal/model"
	"github.com/slok/taskforge/internal/printer"
)

func taskFixture() model.Task {
	createdAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	finalizedAt := createdAt.Add(time.Minute)
	return model.Task{
		ID:          "01JNV8ZQ4W0000000000000000",
		State:       model.TaskStateRetrying,
		StateReason: "attempt 1 partial: 1 of 3 criteria unmet: c3",
		MaxRetries:  3,
		Specs:       []model.TaskSpec{{Version: 1, Title: "Clean Instagram handles"}},
		Inputs:      map[string][]byte{"handles.csv": []byte("handle\nbob\n")},
		Attempts: []model.ExecutionAttempt{{
			ID:            "a1",
			TaskID:        "01JNV8ZQ4W0000000000000000",
			Number:        1,
			SpecVersion:   1,
			PromptVersion: "spec-v1/policy-v1/0123456789ab",
			Status:        model.AttemptStatusVerified,
			FailureReason: model.FailureReasonCriteria,
			Artifacts:     &model.ArtifactSet{Files: map[string][]byte{"execute.py": []byte("print(1)\n")}, ProducerRunID: "run-1"},
			Verification: &model.VerificationResult{
				Overall:      model.OverallStatusPartial,
				Reason:       "1 of 3 criteria unmet: c3",
				InputsIntact: true,
			},
			Usage:       model.Usage{InputTokens: 1000, OutputTokens: 500, Tier: model.ModelTierCheap},
			CreatedAt:   createdAt,
			FinalizedAt: &finalizedAt,
		}},
		Transitions: []model.StateTransition{
			{From: model.TaskStateDrafting, To: model.TaskStateAwaitingExecution, Reason: "compiled prompt spec-v1/policy-v1/0123456789ab", At: createdAt},
			{From: model.TaskStateVerifying, To: model.TaskStateRetrying, Reason: "attempt 1 partial: 1 of 3 criteria unmet: c3", At: finalizedAt},
		},
		CreatedAt: createdAt,
		UpdatedAt: finalizedAt,
	}
}

func TestTablePrinterPrintTask(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf)

	err := p.PrintTask(taskFixture())
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "State:      retrying")
	assert.Contains(t, out, "Attempts:   1/3")
	assert.Contains(t, out, "Usage:      1,500 tokens")
	assert.Contains(t, out, "partial")
	assert.Contains(t, out, "9 B")
	assert.Contains(t, out, "FROM")
	assert.Contains(t, out, "attempt 1 partial: 1 of 3 criteria unmet: c3")
}

func TestJSONPrinterPrintTask(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewJSONPrinter(&buf)

	err := p.PrintTask(taskFixture())
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"state": "retrying"`)
	assert.Contains(t, out, `"name": "execute.py"`)
	assert.Contains(t, out, `"producer_run_id": "run-1"`)
	assert.Contains(t, out, `"overall": "partial"`)
	assert.Contains(t, out, `"to": "awaiting_execution"`)
	assert.NotContains(t, out, "print(1)")
}

func TestTablePrinterPrintTaskList(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf)

	err := p.PrintTaskList([]model.Task{taskFixture()})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "Clean Instagram handles")
	assert.Contains(t, lines[1], "1/3")
}

func TestTablePrinterPrintVerification(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf)

	err := p.PrintVerification(model.VerificationResult{
		Overall:      model.OverallStatusFail,
		ScriptError:  "exit status 1",
		InputsIntact: false,
		Criteria:     []model.CriterionResult{{CriterionID: "c1", Status: model.CriterionStatusUnknown, Judge: "predicate"}},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Overall:    fail")
	assert.Contains(t, out, "Inputs:     altered")
	assert.Contains(t, out, "c1")
}

func TestTablePrinterPrintMessage(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf)

	err := p.PrintMessage("ok")
	require.NoError(t, err)
	assert.Equal(t, "ok", strings.TrimSpace(buf.String()))
}
