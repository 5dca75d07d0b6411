package approval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"practica.org/internal/audit"
	"practica.org/internal/ids"
	"practica.org/internal/obs"
)

// Authority answers whether a user holds manage-level authority over the
// subject an approval refers to. The engine never interprets the subject
// itself; the resolver wired in by the caller does.
type Authority interface {
	CanManage(ctx context.Context, userID, subjectID string) (bool, error)
}

// Service drives the generic approval state machine. Any business workflow
// needing staged sign-off goes through it; the service only ever sees the
// generic Approval/Step shape, never the specific subject.
type Service struct {
	store     Store
	authority Authority
	now       func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithAuthority wires the manage-level authority check used by Cancel.
func WithAuthority(a Authority) Option {
	return func(s *Service) { s.authority = a }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("approval: store is required")
	}
	svc := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CreateRequest carries the creation contract of an approval.
type CreateRequest struct {
	WorkflowType     string
	WorkflowID       string
	Title            string
	Context          string
	RequestedBy      string
	RequiresAllSteps bool
	Steps            []StepSpec
}

// Create validates the step topology and persists the approval and its steps
// in one atomic unit, superseding any previous live approval for the same
// workflow subject.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Approval, error) {
	req.WorkflowType = strings.TrimSpace(req.WorkflowType)
	req.WorkflowID = strings.TrimSpace(req.WorkflowID)
	req.RequestedBy = strings.TrimSpace(req.RequestedBy)
	if req.WorkflowType == "" || req.WorkflowID == "" {
		return nil, fmt.Errorf("%w: workflow_type and workflow_id are required", ErrInvalidInput)
	}
	if req.RequestedBy == "" {
		return nil, fmt.Errorf("%w: requested_by is required", ErrInvalidInput)
	}
	if err := validateTopology(req.Steps); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	a := &Approval{
		ID:               ids.New(),
		WorkflowType:     req.WorkflowType,
		WorkflowID:       req.WorkflowID,
		Status:           StatusPending,
		RequiresAllSteps: req.RequiresAllSteps,
		RequestedBy:      req.RequestedBy,
		Title:            strings.TrimSpace(req.Title),
		Context:          strings.TrimSpace(req.Context),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	specs := make([]StepSpec, len(req.Steps))
	copy(specs, req.Steps)
	sort.Slice(specs, func(i, j int) bool { return specs[i].StepOrder < specs[j].StepOrder })
	for _, spec := range specs {
		a.Steps = append(a.Steps, &Step{
			ID:         ids.New(),
			ApprovalID: a.ID,
			StepOrder:  spec.StepOrder,
			AssignedTo: strings.TrimSpace(spec.AssignedTo),
			Status:     StepPending,
			IsRequired: spec.IsRequired,
		})
	}
	// The pointer is only meaningful under the sequential policy.
	if a.RequiresAllSteps {
		a.CurrentStepID = a.Steps[0].ID
	}

	if err := s.store.Create(ctx, a); err != nil {
		return nil, err
	}
	_ = audit.LogEvent(ctx, "approval.create", map[string]any{
		"approval_id":   a.ID,
		"workflow_type": a.WorkflowType,
		"workflow_id":   a.WorkflowID,
		"steps":         len(a.Steps),
		"sequential":    a.RequiresAllSteps,
	})
	return a, nil
}

// Get loads an approval with its steps.
func (s *Service) Get(ctx context.Context, id string) (*Approval, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: approval_id is required", ErrInvalidInput)
	}
	return s.store.Get(ctx, id)
}

// Decide records actorID's decision on the identified step. Reading the
// approval, validating the transition and writing the new state is one
// transaction boundary; a concurrent decision that lost the race fails with
// ErrConflict and changes nothing.
func (s *Service) Decide(ctx context.Context, approvalID, stepID, actorID string, decision Decision, comment string) (*Approval, error) {
	approvalID = strings.TrimSpace(approvalID)
	stepID = strings.TrimSpace(stepID)
	actorID = strings.TrimSpace(actorID)
	if approvalID == "" || stepID == "" || actorID == "" {
		return nil, fmt.Errorf("%w: approval_id, step_id and actor are required", ErrInvalidInput)
	}

	now := s.now().UTC()
	a, err := s.store.Mutate(ctx, approvalID, func(a *Approval) error {
		return applyDecision(a, stepID, actorID, decision, comment, now)
	})
	if err != nil {
		return nil, err
	}
	obs.CountDecision(a.WorkflowType, string(decision))
	_ = audit.LogEvent(ctx, "approval.decide", map[string]any{
		"approval_id": a.ID,
		"step_id":     stepID,
		"decision":    string(decision),
		"status":      string(a.Status),
	})
	return a, nil
}

// Cancel terminates a pending approval. Allowed for the requester and for
// anyone holding manage-level authority over the subject.
func (s *Service) Cancel(ctx context.Context, approvalID, actorID string) (*Approval, error) {
	approvalID = strings.TrimSpace(approvalID)
	actorID = strings.TrimSpace(actorID)
	if approvalID == "" || actorID == "" {
		return nil, fmt.Errorf("%w: approval_id and actor are required", ErrInvalidInput)
	}

	now := s.now().UTC()
	a, err := s.store.Mutate(ctx, approvalID, func(a *Approval) error {
		if actorID != a.RequestedBy {
			if s.authority == nil {
				return fmt.Errorf("%w: only the requester may cancel", ErrForbidden)
			}
			ok, err := s.authority.CanManage(ctx, actorID, a.WorkflowID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: cancellation requires manage authority", ErrForbidden)
			}
		}
		return applyCancel(a, now)
	})
	if err != nil {
		return nil, err
	}
	_ = audit.LogEvent(ctx, "approval.cancel", map[string]any{
		"approval_id": a.ID,
		"actor":       actorID,
	})
	return a, nil
}

// PendingForUser lists pending approvals actionable by the user.
func (s *Service) PendingForUser(ctx context.Context, userID string) ([]*Approval, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.store.ListPendingForUser(ctx, userID)
}

// CompletedForUser lists terminal approvals the user took part in.
func (s *Service) CompletedForUser(ctx context.Context, userID string) ([]*Approval, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.store.ListCompletedForUser(ctx, userID)
}

// validateTopology rejects malformed step orderings at creation time:
// step orders must be unique and contiguous starting at 1.
func validateTopology(steps []StepSpec) error {
	if len(steps) == 0 {
		return fmt.Errorf("%w: at least one step is required", ErrInvariant)
	}
	seen := make(map[int]bool, len(steps))
	for _, spec := range steps {
		if strings.TrimSpace(spec.AssignedTo) == "" {
			return fmt.Errorf("%w: every step needs an assignee", ErrInvariant)
		}
		if spec.StepOrder < 1 || spec.StepOrder > len(steps) {
			return fmt.Errorf("%w: step order %d outside 1..%d", ErrInvariant, spec.StepOrder, len(steps))
		}
		if seen[spec.StepOrder] {
			return fmt.Errorf("%w: duplicate step order %d", ErrInvariant, spec.StepOrder)
		}
		seen[spec.StepOrder] = true
	}
	return nil
}
