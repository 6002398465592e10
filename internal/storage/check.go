package storage

import (
	"fmt"

	"github.com/slok/taskforge/internal/model"
)

// ValidateNewTask checks a task can be created.
func ValidateNewTask(t model.Task) error {
	if t.ID == "" {
		return fmt.Errorf("task id is required: %w", model.ErrNotValid)
	}
	if len(t.Specs) != 1 || t.Specs[0].Version != 1 {
		return fmt.Errorf("a new task must have exactly spec version 1: %w", model.ErrNotValid)
	}
	if len(t.Attempts) != 0 {
		return fmt.Errorf("a new task can't have attempts: %w", model.ErrNotValid)
	}
	if len(t.Transitions) != 0 {
		return fmt.Errorf("a new task can't have transitions: %w", model.ErrNotValid)
	}
	if t.State == "" || t.State.IsTerminal() {
		return fmt.Errorf("a new task can't be in state %q: %w", t.State, model.ErrNotValid)
	}
	return nil
}

// CheckTransition checks the task is in the transition source state and the transition is allowed.
func CheckTransition(t model.Task, tr Transition) error {
	if t.State != tr.From {
		return fmt.Errorf("task %s is %s, not %s: %w", t.ID, t.State, tr.From, model.ErrInvalidTransition)
	}
	return model.CheckTransition(tr.From, tr.To)
}

// CheckNextSpec checks the spec is the next version of the task.
func CheckNextSpec(t model.Task, spec model.TaskSpec) error {
	if t.State.IsTerminal() {
		return fmt.Errorf("task %s is %s: %w", t.ID, t.State, model.ErrImmutable)
	}
	if exp := len(t.Specs) + 1; spec.Version != exp {
		return fmt.Errorf("spec version must be %d, got %d: %w", exp, spec.Version, model.ErrNotValid)
	}
	return nil
}

// CheckNextAttempt checks the attempt is the next one of the task.
func CheckNextAttempt(t model.Task, a model.ExecutionAttempt) error {
	if a.ID == "" {
		return fmt.Errorf("attempt id is required: %w", model.ErrNotValid)
	}
	if exp := t.NextAttemptNumber(); a.Number != exp {
		return fmt.Errorf("attempt number must be %d, got %d: %w", exp, a.Number, model.ErrNotValid)
	}
	if a.SpecVersion < 1 || a.SpecVersion > len(t.Specs) {
		return fmt.Errorf("attempt references unknown spec version %d: %w", a.SpecVersion, model.ErrNotValid)
	}
	if last, ok := t.LastAttempt(); ok && !last.Finalized() {
		return fmt.Errorf("attempt %d is not finalized: %w", last.Number, model.ErrNotValid)
	}
	return nil
}

// CheckFinalize checks a stored attempt can be finalized with the new version.
func CheckFinalize(stored, a model.ExecutionAttempt) error {
	if stored.Finalized() {
		return fmt.Errorf("attempt %d is finalized: %w", stored.Number, model.ErrImmutable)
	}
	if !a.Finalized() {
		return fmt.Errorf("attempt %d finalized time is required: %w", a.Number, model.ErrNotValid)
	}
	if a.Number != stored.Number || a.SpecVersion != stored.SpecVersion || a.PromptVersion != stored.PromptVersion {
		return fmt.Errorf("attempt %d identity can't change: %w", a.Number, model.ErrImmutable)
	}
	return nil
}
