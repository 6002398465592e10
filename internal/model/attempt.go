package model

import "time"

// AttemptStatus is the status of an execution attempt.
type AttemptStatus string

const (
	// AttemptStatusPending is an attempt with a dispatch outcome waiting for verification.
	AttemptStatusPending AttemptStatus = "pending"
	// AttemptStatusVerified is an attempt whose artifacts went through the verifier.
	AttemptStatusVerified AttemptStatus = "verified"
	// AttemptStatusFailed is an attempt that failed before criteria could be checked.
	AttemptStatusFailed AttemptStatus = "failed"
	// AttemptStatusCancelled is an attempt whose dispatch was cancelled, it doesn't count as a retry.
	AttemptStatusCancelled AttemptStatus = "cancelled"
)

// FailureReason tells why an attempt didn't pass.
type FailureReason string

const (
	FailureReasonNone       FailureReason = ""
	FailureReasonTimeout    FailureReason = "timeout"
	FailureReasonRefusal    FailureReason = "refusal"
	FailureReasonExecutor   FailureReason = "executor_error"
	FailureReasonStructural FailureReason = "structural"
	FailureReasonSandbox    FailureReason = "sandbox"
	FailureReasonCriteria   FailureReason = "criteria"
)

// ExecutionAttempt is one dispatch-and-verify cycle for a task spec.
type ExecutionAttempt struct {
	ID            string              `json:"id"`
	TaskID        string              `json:"task_id"`
	Number        int                 `json:"number"`
	SpecVersion   int                 `json:"spec_version"`
	PromptVersion string              `json:"prompt_version"`
	Artifacts     *ArtifactSet        `json:"artifacts,omitempty"`
	Verification  *VerificationResult `json:"verification,omitempty"`
	Status        AttemptStatus       `json:"status"`
	FailureReason FailureReason       `json:"failure_reason,omitempty"`
	Error         string              `json:"error,omitempty"`
	Usage         Usage               `json:"usage"`
	CreatedAt     time.Time           `json:"created_at"`
	FinalizedAt   *time.Time          `json:"finalized_at,omitempty"`
}

// Counted returns true if the attempt counts against the retry bound.
func (a ExecutionAttempt) Counted() bool { return a.Status != AttemptStatusCancelled }

// Finalized returns true if the attempt can't change anymore.
func (a ExecutionAttempt) Finalized() bool { return a.FinalizedAt != nil }

// Clone returns a deep copy of the attempt.
func (a ExecutionAttempt) Clone() ExecutionAttempt {
	c := a
	if a.Artifacts != nil {
		set := a.Artifacts.Clone()
		c.Artifacts = &set
	}
	if a.Verification != nil {
		v := *a.Verification
		v.Criteria = append([]CriterionResult(nil), a.Verification.Criteria...)
		v.MissingDeliverables = append([]string(nil), a.Verification.MissingDeliverables...)
		c.Verification = &v
	}
	if a.FinalizedAt != nil {
		f := *a.FinalizedAt
		c.FinalizedAt = &f
	}
	return c
}
