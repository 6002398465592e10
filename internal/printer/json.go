package printer

import (
	"encoding/json"
	"io"
	"time"

	"github.com/slok/taskforge/internal/model"
)

// JSONPrinter prints task information in JSON format.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

// listItem represents a task in the list output (subset of fields).
type listItem struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	State       string    `json:"state"`
	SpecVersion int       `json:"spec_version"`
	Attempts    int       `json:"attempts"`
	MaxRetries  int       `json:"max_retries"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// taskOutput is the task history output, file contents are replaced by their manifest.
type taskOutput struct {
	ID          string                  `json:"id"`
	State       string                  `json:"state"`
	StateReason string                  `json:"state_reason,omitempty"`
	MaxRetries  int                     `json:"max_retries"`
	Specs       []model.TaskSpec        `json:"specs"`
	Inputs      []model.ArtifactFile    `json:"inputs,omitempty"`
	Attempts    []attemptOutput         `json:"attempts"`
	Transitions []model.StateTransition `json:"transitions,omitempty"`
	Tokens      int                     `json:"tokens"`
	CostUSD     float64                 `json:"cost_usd"`
	CreatedAt   time.Time               `json:"created_at"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

type attemptOutput struct {
	ID            string                    `json:"id"`
	Number        int                       `json:"number"`
	SpecVersion   int                       `json:"spec_version"`
	PromptVersion string                    `json:"prompt_version"`
	Status        string                    `json:"status"`
	FailureReason string                    `json:"failure_reason,omitempty"`
	Error         string                    `json:"error,omitempty"`
	Artifacts     []model.ArtifactFile      `json:"artifacts,omitempty"`
	ProducerRunID string                    `json:"producer_run_id,omitempty"`
	Verification  *model.VerificationResult `json:"verification,omitempty"`
	Usage         model.Usage               `json:"usage"`
	CreatedAt     time.Time                 `json:"created_at"`
	FinalizedAt   *time.Time                `json:"finalized_at,omitempty"`
}

type promptOutput struct {
	Version         string                 `json:"version"`
	Sections        []model.Section        `json:"sections"`
	AppliedDefaults []model.AppliedDefault `json:"applied_defaults,omitempty"`
	Text            string                 `json:"text"`
}

// messageOutput represents a simple message output.
type messageOutput struct {
	Message string `json:"message"`
}

// PrintTaskList prints tasks in JSON format with a subset of fields.
func (j *JSONPrinter) PrintTaskList(tasks []model.Task) error {
	items := make([]listItem, len(tasks))
	for i, t := range tasks {
		spec := t.CurrentSpec()
		items[i] = listItem{
			ID:          t.ID,
			Title:       spec.Title,
			State:       string(t.State),
			SpecVersion: spec.Version,
			Attempts:    t.CountedAttempts(),
			MaxRetries:  t.MaxRetries,
			CreatedAt:   t.CreatedAt.UTC(),
			UpdatedAt:   t.UpdatedAt.UTC(),
		}
	}
	return j.encode(items)
}

// PrintTask prints a task with its attempt history in JSON format.
func (j *JSONPrinter) PrintTask(task model.Task) error {
	tokens, cost := task.TotalUsage()
	out := taskOutput{
		ID:          task.ID,
		State:       string(task.State),
		StateReason: task.StateReason,
		MaxRetries:  task.MaxRetries,
		Specs:       task.Specs,
		Attempts:    make([]attemptOutput, 0, len(task.Attempts)),
		Transitions: task.Transitions,
		Tokens:      tokens,
		CostUSD:     cost,
		CreatedAt:   task.CreatedAt.UTC(),
		UpdatedAt:   task.UpdatedAt.UTC(),
	}
	if len(task.Inputs) > 0 {
		out.Inputs = model.ArtifactSet{Files: task.Inputs}.Manifest()
	}
	for _, a := range task.Attempts {
		ao := attemptOutput{
			ID:            a.ID,
			Number:        a.Number,
			SpecVersion:   a.SpecVersion,
			PromptVersion: a.PromptVersion,
			Status:        string(a.Status),
			FailureReason: string(a.FailureReason),
			Error:         a.Error,
			Verification:  a.Verification,
			Usage:         a.Usage,
			CreatedAt:     a.CreatedAt.UTC(),
			FinalizedAt:   a.FinalizedAt,
		}
		if a.Artifacts != nil {
			ao.Artifacts = a.Artifacts.Manifest()
			ao.ProducerRunID = a.Artifacts.ProducerRunID
		}
		out.Attempts = append(out.Attempts, ao)
	}
	return j.encode(out)
}

// PrintPrompt prints the prompt with its sections in JSON format.
func (j *JSONPrinter) PrintPrompt(prompt model.ExecutionPrompt) error {
	return j.encode(promptOutput{
		Version:         prompt.Version(),
		Sections:        prompt.Sections,
		AppliedDefaults: prompt.AppliedDefaults,
		Text:            prompt.Text,
	})
}

// PrintVerification prints a verification result in JSON format.
func (j *JSONPrinter) PrintVerification(res model.VerificationResult) error {
	return j.encode(res)
}

// PrintMessage prints a simple message in JSON format.
func (j *JSONPrinter) PrintMessage(msg string) error {
	return j.encode(messageOutput{Message: msg})
}

func (j *JSONPrinter) encode(v any) error {
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
