package approval

import "errors"

var (
	// ErrNotFound covers a missing approval or a step that does not belong
	// to the referenced approval (identifier-confusion guard).
	ErrNotFound = errors.New("approval: not found")
	// ErrConflict covers decisions on terminal approvals, decisions on a
	// step that is not currently actionable, and duplicate decisions.
	ErrConflict = errors.New("approval: conflict")
	// ErrInvariant covers malformed step topology at creation time.
	ErrInvariant = errors.New("approval: invariant violated")
	// ErrForbidden covers decisions by anyone but the step assignee and
	// cancellation without authority over the subject.
	ErrForbidden    = errors.New("approval: forbidden")
	ErrInvalidInput = errors.New("approval: invalid input")
)
