package approval

import "context"

// Store describes persistence for approvals and their steps. Implementations
// must make Create and Mutate atomic: either the whole multi-row change
// commits or none of it does, and concurrent Mutate calls on the same
// approval serialize so the loser observes the winner's committed state.
type Store interface {
	// Create persists the approval and its steps as one unit. Any approval
	// still pending for the same (WorkflowType, WorkflowID) pair is
	// superseded: it transitions to CANCELLED in the same transaction.
	Create(ctx context.Context, a *Approval) error

	// Get loads an approval with its steps sorted by step order.
	Get(ctx context.Context, id string) (*Approval, error)

	// Mutate loads the approval with its steps under a write lock, applies
	// fn, and persists the resulting approval and step states. fn returning
	// an error aborts the transaction without side effects.
	Mutate(ctx context.Context, id string, fn func(*Approval) error) (*Approval, error)

	// ListPendingForUser returns pending approvals on which the user is the
	// assignee of the current step (sequential) or any open step (parallel),
	// ordered by creation time ascending.
	ListPendingForUser(ctx context.Context, userID string) ([]*Approval, error)

	// ListCompletedForUser returns terminal approvals on which the user held
	// a step, ordered by completion time descending.
	ListCompletedForUser(ctx context.Context, userID string) ([]*Approval, error)
}
