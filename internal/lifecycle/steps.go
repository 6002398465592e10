package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/slok/taskforge/internal/compiler"
	"github.com/slok/taskforge/internal/dispatch"
	"github.com/slok/taskforge/internal/escalation"
	"github.com/slok/taskforge/internal/log"
	"github.com/slok/taskforge/internal/model"
	"github.com/slok/taskforge/internal/policy"
	"github.com/slok/taskforge/internal/verify"
)

// stepDrafting compiles the current spec, an incomplete spec stays in drafting until amended.
func (m *Machine) stepDrafting(ctx context.Context, t model.Task) (model.TaskState, error) {
	// An amendment can interrupt a verification, its verdict is still recorded.
	if last, ok := t.LastAttempt(); ok && !last.Finalized() {
		fin, err := m.verifyAttempt(ctx, t, last)
		if err != nil {
			return t.State, fmt.Errorf("could not verify attempt %d: %w", last.Number, err)
		}
		if err := m.repo.FinalizeAttempt(ctx, *fin, nil); err != nil {
			return t.State, fmt.Errorf("could not finalize attempt %d: %w", last.Number, err)
		}
	}

	spec := t.CurrentSpec()
	p, err := compiler.Compile(spec, m.policy)
	if err != nil {
		return t.State, fmt.Errorf("could not compile spec v%d: %w", spec.Version, err)
	}

	if err := m.transition(ctx, t, model.TaskStateAwaitingExecution, fmt.Sprintf("compiled prompt %s", p.Version())); err != nil {
		return t.State, err
	}
	return model.TaskStateAwaitingExecution, nil
}

func (m *Machine) stepRetrying(ctx context.Context, t model.Task) (model.TaskState, error) {
	reason := fmt.Sprintf("retry with attempt %d of %d", t.CountedAttempts()+1, t.MaxRetries)
	if err := m.transition(ctx, t, model.TaskStateAwaitingExecution, reason); err != nil {
		return t.State, err
	}
	return model.TaskStateAwaitingExecution, nil
}

// stepAwaiting dispatches the next attempt and records its outcome. Attempts that fail
// before verification are recorded finalized, the verifying step decides what follows.
func (m *Machine) stepAwaiting(ctx context.Context, t model.Task) (model.TaskState, error) {
	logger := m.logger.WithValues(log.Kv{"task-id": t.ID})

	if m.costCap > 0 {
		if _, cost := t.TotalUsage(); cost >= m.costCap {
			reason := fmt.Sprintf("%s: executor cost %.4f USD reached the %.2f USD cap", ReasonBudgetExceeded, cost, m.costCap)
			if err := m.transition(ctx, t, model.TaskStateAbandoned, reason); err != nil {
				return t.State, err
			}
			return model.TaskStateAbandoned, nil
		}
	}

	if m.interrupted(t.ID) {
		return t.State, fmt.Errorf("task %s is being interrupted: %w", t.ID, model.ErrDispatchCancelled)
	}

	spec := t.CurrentSpec()
	prompt, err := NextPrompt(t, m.policy)
	if err != nil {
		return t.State, fmt.Errorf("could not compile spec v%d: %w", spec.Version, err)
	}

	req := dispatch.Request{
		TaskID:        t.ID,
		SpecVersion:   spec.Version,
		AttemptNumber: t.NextAttemptNumber(),
		Prompt:        *prompt,
		Inputs:        t.Inputs,
		Timeout:       m.dispatchTimeout,
	}
	for _, in := range spec.InputData {
		req.InputNames = append(req.InputNames, in.Name)
	}
	for _, d := range spec.Deliverables {
		if d.Filename != "" {
			req.PinnedOutputs = append(req.PinnedOutputs, d.Filename)
		}
	}

	dctx, release := m.trackInFlight(ctx, t.ID)
	out, err := m.dispatcher.Execute(dctx, req)
	release()

	if errors.Is(err, model.ErrExecutionInFlight) {
		return t.State, err
	}

	a := model.ExecutionAttempt{
		ID:            m.idGen(),
		TaskID:        t.ID,
		Number:        req.AttemptNumber,
		SpecVersion:   spec.Version,
		PromptVersion: prompt.Version(),
		Status:        model.AttemptStatusPending,
		CreatedAt:     m.now().UTC(),
	}
	if out != nil {
		a.Usage = out.Usage
		a.Artifacts = out.Artifacts
		m.metrics.ObserveUsage(ctx, out.Usage)
	}

	if isDispatchCancelled(err) {
		a.Status = model.AttemptStatusCancelled
		a.Artifacts = nil
		a.Error = err.Error()
		a.FinalizedAt = &a.CreatedAt
		// Recorded even when the machine itself is shutting down.
		if err := m.repo.AppendAttempt(context.WithoutCancel(ctx), a, nil); err != nil {
			return t.State, fmt.Errorf("could not record cancelled attempt %d: %w", a.Number, err)
		}
		logger.Warningf("Attempt %d dispatch cancelled", a.Number)
		if ctx.Err() != nil {
			return t.State, ctx.Err()
		}
		return t.State, fmt.Errorf("attempt %d: %w", a.Number, err)
	}

	reason := fmt.Sprintf("attempt %d dispatched with prompt %s", a.Number, a.PromptVersion)
	if err != nil {
		a.Status = model.AttemptStatusFailed
		a.FailureReason = dispatchFailureReason(err)
		a.Error = err.Error()
		a.FinalizedAt = &a.CreatedAt
		reason = fmt.Sprintf("attempt %d failed before verification: %s", a.Number, a.FailureReason)
		logger.Warningf("Attempt %d failed: %s", a.Number, err)
	}

	tr := m.newTransition(t, model.TaskStateVerifying, reason)
	if err := m.repo.AppendAttempt(ctx, a, &tr); err != nil {
		return t.State, fmt.Errorf("could not record attempt %d: %w", a.Number, err)
	}
	m.observe(ctx, t.ID, tr)

	return model.TaskStateVerifying, nil
}

// NextPrompt compiles the prompt of the next attempt of a task, with the feedback of the
// previous attempt of the same spec version if there is one.
func NextPrompt(t model.Task, p *policy.Policy) (*model.ExecutionPrompt, error) {
	spec := t.CurrentSpec()
	for i := len(t.Attempts) - 1; i >= 0; i-- {
		a := t.Attempts[i]
		if a.SpecVersion != spec.Version {
			break
		}
		if a.Counted() && a.Finalized() {
			fb := compiler.FeedbackFromAttempt(a, compiler.EffectiveCriteria(spec))
			return compiler.CompileRetry(spec, p, fb)
		}
	}
	return compiler.Compile(spec, p)
}

func dispatchFailureReason(err error) model.FailureReason {
	var (
		timeout    *model.ExecutorTimeoutError
		refusal    *model.ExecutorRefusalError
		structural *model.StructuralIncompleteError
	)
	switch {
	case errors.As(err, &timeout):
		return model.FailureReasonTimeout
	case errors.As(err, &refusal):
		return model.FailureReasonRefusal
	case errors.As(err, &structural):
		return model.FailureReasonStructural
	default:
		return model.FailureReasonExecutor
	}
}

// stepVerifying verifies the pending attempt and decides between accepting, retrying and
// escalating. The verdict and the decision are persisted together.
func (m *Machine) stepVerifying(ctx context.Context, t model.Task) (model.TaskState, error) {
	last, ok := t.LastAttempt()
	if !ok {
		return t.State, fmt.Errorf("task %s is verifying without attempts: %w", t.ID, model.ErrNotValid)
	}

	pending := !last.Finalized()
	if pending {
		fin, err := m.verifyAttempt(ctx, t, last)
		if err != nil {
			return t.State, fmt.Errorf("could not verify attempt %d: %w", last.Number, err)
		}
		last = *fin
		t.Attempts[len(t.Attempts)-1] = last
	}

	next, reason := m.decide(t, last)
	tr := m.newTransition(t, next, reason)

	if next == model.TaskStateEscalated {
		c := escalation.Case{Task: t, Reason: reason, EscalatedAt: tr.At}
		c.Task.State = next
		c.Task.StateReason = reason
		if err := m.reviewer.Escalate(ctx, c); err != nil {
			return t.State, fmt.Errorf("could not hand task over to review: %w", err)
		}
	}

	if pending {
		if err := m.repo.FinalizeAttempt(ctx, last, &tr); err != nil {
			return t.State, fmt.Errorf("could not finalize attempt %d: %w", last.Number, err)
		}
	} else if err := m.repo.Transition(ctx, t.ID, tr); err != nil {
		return t.State, fmt.Errorf("could not transition task: %w", err)
	}
	m.observe(ctx, t.ID, tr)

	return next, nil
}

// verifyAttempt verifies a pending attempt and returns it finalized. The prompt is
// recompiled without feedback, criteria and ambiguity resolutions don't depend on it.
func (m *Machine) verifyAttempt(ctx context.Context, t model.Task, a model.ExecutionAttempt) (*model.ExecutionAttempt, error) {
	if a.SpecVersion < 1 || a.SpecVersion > len(t.Specs) {
		return nil, fmt.Errorf("attempt %d references unknown spec version %d: %w", a.Number, a.SpecVersion, model.ErrNotValid)
	}
	if a.Artifacts == nil {
		return nil, fmt.Errorf("pending attempt %d has no artifacts: %w", a.Number, model.ErrNotValid)
	}

	spec := t.Specs[a.SpecVersion-1]
	prompt, err := compiler.Compile(spec, m.policy)
	if err != nil {
		return nil, fmt.Errorf("could not compile spec v%d: %w", spec.Version, err)
	}
	if !strings.HasPrefix(a.PromptVersion, fmt.Sprintf("spec-v%d/policy-%s/", spec.Version, m.policy.Version())) {
		m.logger.WithValues(log.Kv{"task-id": t.ID}).Warningf("Attempt %d was compiled with prompt %s, verifying with policy %s", a.Number, a.PromptVersion, m.policy.Version())
	}

	res, err := m.verifier.Verify(ctx, verify.Input{
		Spec:           spec,
		Prompt:         *prompt,
		Artifacts:      *a.Artifacts,
		OriginalInputs: t.Inputs,
	})
	if err != nil {
		return nil, err
	}

	fin := a.Clone()
	fin.Verification = res
	fin.Status = model.AttemptStatusVerified
	switch {
	case res.Overall == model.OverallStatusPass:
		fin.FailureReason = model.FailureReasonNone
	case res.ScriptError != "":
		fin.FailureReason = model.FailureReasonSandbox
	default:
		fin.FailureReason = model.FailureReasonCriteria
	}
	at := m.now().UTC()
	fin.FinalizedAt = &at

	return &fin, nil
}

// decide returns the state that follows a finalized attempt.
func (m *Machine) decide(t model.Task, a model.ExecutionAttempt) (model.TaskState, string) {
	if v := a.Verification; v != nil {
		if v.Overall == model.OverallStatusPass || (v.Overall == model.OverallStatusPartial && m.acceptPartial) {
			return model.TaskStateAccepted, fmt.Sprintf("attempt %d %s: %s", a.Number, v.Overall, v.Reason)
		}
	}

	outcome := attemptOutcome(a)
	if n := t.CountedAttempts(); n >= t.MaxRetries {
		return model.TaskStateEscalated, fmt.Sprintf("%d of %d attempts used, attempt %d %s", n, t.MaxRetries, a.Number, outcome)
	}
	return model.TaskStateRetrying, fmt.Sprintf("attempt %d %s", a.Number, outcome)
}

func attemptOutcome(a model.ExecutionAttempt) string {
	if v := a.Verification; v != nil {
		return fmt.Sprintf("%s: %s", v.Overall, v.Reason)
	}
	if a.Error != "" {
		return fmt.Sprintf("%s: %s", a.FailureReason, a.Error)
	}
	return string(a.FailureReason)
}
