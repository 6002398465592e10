package model

import "fmt"

// TaskState is the lifecycle state of a task.
type TaskState string

const (
	TaskStateDrafting          TaskState = "drafting"
	TaskStateAwaitingExecution TaskState = "awaiting_execution"
	TaskStateVerifying         TaskState = "verifying"
	TaskStateRetrying          TaskState = "retrying"
	TaskStateAccepted          TaskState = "accepted"
	TaskStateEscalated         TaskState = "escalated"
	TaskStateAbandoned         TaskState = "abandoned"
)

// IsTerminal reports whether the state is terminal.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateAccepted, TaskStateEscalated, TaskStateAbandoned:
		return true
	default:
		return false
	}
}

var allowedTransitions = map[TaskState][]TaskState{
	// Amendments go back to drafting from any non terminal state.
	TaskStateDrafting:          {TaskStateAwaitingExecution, TaskStateDrafting},
	TaskStateAwaitingExecution: {TaskStateVerifying, TaskStateAwaitingExecution, TaskStateDrafting},
	TaskStateVerifying:         {TaskStateAccepted, TaskStateRetrying, TaskStateEscalated, TaskStateDrafting},
	TaskStateRetrying:          {TaskStateAwaitingExecution, TaskStateDrafting},
}

// CanTransition reports whether a task can go from one state to another. Any non terminal
// state can go to abandoned.
func CanTransition(from, to TaskState) bool {
	if from.IsTerminal() {
		return false
	}
	if to == TaskStateAbandoned {
		return true
	}
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckTransition returns an ErrInvalidTransition wrapped error if the transition is not allowed.
func CheckTransition(from, to TaskState) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%s -> %s: %w", from, to, ErrInvalidTransition)
	}
	return nil
}
