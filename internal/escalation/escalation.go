package escalation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/slok/taskforge/internal/log"
	"github.com/slok/taskforge/internal/model"
)

// Case is what a human reviewer receives when a task is escalated: the full task record,
// including every attempt, and why it was escalated.
type Case struct {
	Task        model.Task `json:"task"`
	Reason      string     `json:"reason"`
	EscalatedAt time.Time  `json:"escalated_at"`
}

// Summary returns one line per attempt, oldest first.
func (c Case) Summary() []string {
	lines := make([]string, 0, len(c.Task.Attempts))
	for _, a := range c.Task.Attempts {
		line := fmt.Sprintf("attempt %d (spec v%d): %s", a.Number, a.SpecVersion, a.Status)
		if a.Verification != nil {
			line += fmt.Sprintf(", %s: %s", a.Verification.Overall, a.Verification.Reason)
		}
		if a.FailureReason != model.FailureReasonNone && a.FailureReason != model.FailureReasonCriteria {
			line += fmt.Sprintf(", %s", a.FailureReason)
		}
		if a.Error != "" {
			line += ": " + a.Error
		}
		lines = append(lines, line)
	}
	return lines
}

// Reviewer is the human reviewer collaborator escalated tasks are handed to.
type Reviewer interface {
	Escalate(ctx context.Context, c Case) error
}

//go:generate mockery --case underscore --output escalationmock --outpkg escalationmock --name Reviewer --structname MockReviewer

// NewLogReviewer returns a reviewer that only logs the escalation.
func NewLogReviewer(logger log.Logger) Reviewer {
	if logger == nil {
		logger = log.Noop
	}
	return logReviewer{logger: logger.WithValues(log.Kv{"svc": "escalation.LogReviewer"})}
}

type logReviewer struct {
	logger log.Logger
}

func (l logReviewer) Escalate(_ context.Context, c Case) error {
	l.logger.WithValues(log.Kv{"task-id": c.Task.ID}).Warningf("Task escalated to human review: %s\n%s", c.Reason, strings.Join(c.Summary(), "\n"))
	return nil
}

// FileReviewerConfig is the configuration of the file reviewer.
type FileReviewerConfig struct {
	// Dir is where the case files are written, one per task.
	Dir    string
	Logger log.Logger
}

func (c *FileReviewerConfig) defaults() error {
	if c.Dir == "" {
		return fmt.Errorf("dir is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "escalation.FileReviewer"})
	return nil
}

// FileReviewer writes every escalated case as a JSON file a human reviewer picks up.
type FileReviewer struct {
	dir    string
	logger log.Logger
}

// NewFileReviewer returns a new file reviewer.
func NewFileReviewer(cfg FileReviewerConfig) (*FileReviewer, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &FileReviewer{dir: cfg.Dir, logger: cfg.Logger}, nil
}

// CasePath returns the case file path of a task.
func (f *FileReviewer) CasePath(taskID string) string {
	return filepath.Join(f.dir, taskID+".json")
}

func (f *FileReviewer) Escalate(_ context.Context, c Case) error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("could not create escalation dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal case: %w", err)
	}

	// Written aside and renamed so reviewers never read half written cases.
	tmp, err := os.CreateTemp(f.dir, "."+c.Task.ID+"-*")
	if err != nil {
		return fmt.Errorf("could not create case file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("could not write case file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("could not write case file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.CasePath(c.Task.ID)); err != nil {
		return fmt.Errorf("could not write case file: %w", err)
	}

	f.logger.Infof("Task %s escalated, case written to %s", c.Task.ID, f.CasePath(c.Task.ID))
	return nil
}
