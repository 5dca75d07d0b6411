package approval

import (
	"fmt"
	"time"
)

// The transition functions below mutate an approval in place. They are pure
// with respect to storage: the caller applies them inside one transaction so
// a concurrent decision on the same approval serializes behind the row lock
// and the loser observes a terminal status.

// deriveCurrentStep recomputes the cached current-step pointer from step
// state: the lowest-ordered step still pending, or empty once the approval
// left the sequential pending path.
func deriveCurrentStep(a *Approval) string {
	if !a.RequiresAllSteps || a.Status.Terminal() {
		return ""
	}
	for _, s := range a.Steps {
		if s.Status == StepPending {
			return s.ID
		}
	}
	return ""
}

// applyDecision records actor's decision on the identified step.
func applyDecision(a *Approval, stepID, actorID string, decision Decision, comment string, now time.Time) error {
	step := a.step(stepID)
	if step == nil {
		return fmt.Errorf("%w: step %s does not belong to approval %s", ErrNotFound, stepID, a.ID)
	}
	if a.Status.Terminal() {
		return fmt.Errorf("%w: approval already %s", ErrConflict, a.Status)
	}
	if step.Status.Terminal() {
		return fmt.Errorf("%w: step already %s", ErrConflict, step.Status)
	}
	if step.AssignedTo != actorID {
		return fmt.Errorf("%w: step is assigned to another user", ErrForbidden)
	}
	if decision != DecisionApprove && decision != DecisionReject {
		return fmt.Errorf("%w: unknown decision %q", ErrInvalidInput, decision)
	}

	if a.RequiresAllSteps {
		// Never trust the stored pointer; gate on derived step state.
		a.CurrentStepID = deriveCurrentStep(a)
		if step.ID != a.CurrentStepID {
			return fmt.Errorf("%w: step %d is not currently actionable", ErrConflict, step.StepOrder)
		}
		return applySequential(a, step, decision, comment, now)
	}
	return applyParallel(a, step, decision, comment, now)
}

func applySequential(a *Approval, step *Step, decision Decision, comment string, now time.Time) error {
	switch decision {
	case DecisionApprove:
		markStep(step, StepApproved, comment, now)
	case DecisionReject:
		if step.IsRequired {
			markStep(step, StepRejected, comment, now)
			finalize(a, StatusRejected, now)
			return nil
		}
		// An optional rejection is an implicit skip; the chain moves on.
		markStep(step, StepSkipped, comment, now)
	}
	advanceSequential(a, step, now)
	return nil
}

// advanceSequential moves the chain past the decided step. Trailing steps
// with no required step after them cannot block completion: they are skipped
// without requiring action and the approval completes.
func advanceSequential(a *Approval, decided *Step, now time.Time) {
	var rest []*Step
	for _, s := range a.Steps {
		if s.StepOrder > decided.StepOrder && !s.Status.Terminal() {
			rest = append(rest, s)
		}
	}
	requiredRemains := false
	for _, s := range rest {
		if s.IsRequired {
			requiredRemains = true
			break
		}
	}
	if len(rest) == 0 || !requiredRemains {
		for _, s := range rest {
			markStep(s, StepSkipped, "", now)
		}
		finalize(a, StatusApproved, now)
		return
	}
	a.CurrentStepID = rest[0].ID
	a.UpdatedAt = now
}

func applyParallel(a *Approval, step *Step, decision Decision, comment string, now time.Time) error {
	switch decision {
	case DecisionApprove:
		// First approval wins the whole thing.
		markStep(step, StepApproved, comment, now)
		finalize(a, StatusApproved, now)
	case DecisionReject:
		if step.IsRequired {
			markStep(step, StepRejected, comment, now)
			finalize(a, StatusRejected, now)
			return nil
		}
		markStep(step, StepSkipped, comment, now)
		// A rejected optional step leaves the rest actionable, unless it
		// was the last open step, in which case nothing can approve the
		// item any more.
		for _, s := range a.Steps {
			if !s.Status.Terminal() {
				a.UpdatedAt = now
				return nil
			}
		}
		finalize(a, StatusRejected, now)
	}
	return nil
}

// applyCancel is the direct terminal transition available to the requester or
// a manage-level authority while the approval is still pending.
func applyCancel(a *Approval, now time.Time) error {
	if a.Status.Terminal() {
		return fmt.Errorf("%w: approval already %s", ErrConflict, a.Status)
	}
	finalize(a, StatusCancelled, now)
	return nil
}

// finalize moves the approval to a terminal status and skips every step that
// has not itself reached a terminal state. All-or-nothing with the triggering
// decision: the caller persists the whole mutation in one transaction.
func finalize(a *Approval, status Status, now time.Time) {
	for _, s := range a.Steps {
		if !s.Status.Terminal() {
			markStep(s, StepSkipped, "", now)
		}
	}
	a.Status = status
	a.CurrentStepID = ""
	a.UpdatedAt = now
	completed := now
	a.CompletedAt = &completed
}

func markStep(s *Step, status StepStatus, comment string, now time.Time) {
	s.Status = status
	if comment != "" {
		s.Comment = comment
	}
	if status == StepApproved || status == StepRejected {
		decided := now
		s.ApprovedAt = &decided
	}
}
