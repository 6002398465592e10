package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when a resource is not valid.
	ErrNotValid = errors.New("not valid")
	// ErrExecutionInFlight is returned when a task spec version already has an outstanding execution.
	ErrExecutionInFlight = errors.New("execution already in flight")
	// ErrDispatchCancelled is returned when an in-flight dispatch is cancelled by its caller.
	ErrDispatchCancelled = errors.New("dispatch cancelled")
	// ErrInvalidTransition is returned when a lifecycle transition is not allowed.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	// ErrImmutable is returned when something tries to mutate an append-only record.
	ErrImmutable = errors.New("immutable")
)

// SpecIncompleteError is returned when a task spec misses mandatory fields after
// default synthesis. It can't be fixed without human input.
type SpecIncompleteError struct {
	Missing []string
}

func (e *SpecIncompleteError) Error() string {
	return fmt.Sprintf("task spec incomplete, missing: %s", strings.Join(e.Missing, ", "))
}

// ExecutorTimeoutError is returned when the executor doesn't return within the bound.
type ExecutorTimeoutError struct {
	Timeout time.Duration
}

func (e *ExecutorTimeoutError) Error() string {
	return fmt.Sprintf("executor did not return within %s", e.Timeout)
}

func (e *ExecutorTimeoutError) Unwrap() error { return context.DeadlineExceeded }

// ExecutorRefusalError is returned when the executor declines the task.
type ExecutorRefusalError struct {
	Reason string
}

func (e *ExecutorRefusalError) Error() string {
	if e.Reason == "" {
		return "executor refused the task"
	}
	return fmt.Sprintf("executor refused the task: %s", e.Reason)
}

// StructuralIncompleteError is returned when an artifact set violates the artifact contract.
type StructuralIncompleteError struct {
	Missing []string
}

func (e *StructuralIncompleteError) Error() string {
	return fmt.Sprintf("artifact contract violated: %s", strings.Join(e.Missing, "; "))
}

// SandboxExecutionError is returned when the reproducing script errors inside the sandbox.
type SandboxExecutionError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *SandboxExecutionError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("reproducing script could not run: %s", e.Err)
	case e.Stderr != "":
		return fmt.Sprintf("reproducing script exited with code %d: %s", e.ExitCode, e.Stderr)
	default:
		return fmt.Sprintf("reproducing script exited with code %d", e.ExitCode)
	}
}

func (e *SandboxExecutionError) Unwrap() error { return e.Err }

// CriterionFailure is returned when one or more success criteria are unmet.
type CriterionFailure struct {
	CriterionIDs []string
}

func (e *CriterionFailure) Error() string {
	return fmt.Sprintf("success criteria unmet: %s", strings.Join(e.CriterionIDs, ", "))
}
