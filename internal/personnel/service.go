package personnel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"practica.org/internal/audit"
	"practica.org/internal/ids"
)

var (
	ErrNotFound     = errors.New("personnel: not found")
	ErrConflict     = errors.New("personnel: conflict")
	ErrForbidden    = errors.New("personnel: forbidden")
	ErrInvalidInput = errors.New("personnel: invalid input")
)

// Store describes persistence for change requests. Mutate must read and
// write both approval slots inside one transaction: two concurrent
// single-party approvals must not both conclude they were the second
// approver.
type Store interface {
	Create(ctx context.Context, cr *ChangeRequest) error
	Get(ctx context.Context, id string) (*ChangeRequest, error)
	Mutate(ctx context.Context, id string, fn func(*ChangeRequest) error) (*ChangeRequest, error)

	// ListPendingForUser returns pending requests on which the user still
	// has to act, ordered by creation time ascending.
	ListPendingForUser(ctx context.Context, userCode string) ([]*ChangeRequest, error)
	// ListResolvedForUser returns terminal requests where the user was
	// either party, ordered by resolution time descending.
	ListResolvedForUser(ctx context.Context, userCode string) ([]*ChangeRequest, error)
}

// Service drives the change-request lifecycle.
type Service struct {
	store Store
	now   func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

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
		return nil, errors.New("personnel: store is required")
	}
	svc := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CreateRequest carries the creation contract of a change request.
type CreateRequest struct {
	TaskID               string
	CurrentAssigneeCode  string
	ProposedAssigneeCode string
	RequiresDualApproval bool
	Reason               string
	RequestedBy          string
}

// Create persists a new pending change request.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*ChangeRequest, error) {
	req.CurrentAssigneeCode = strings.TrimSpace(req.CurrentAssigneeCode)
	req.ProposedAssigneeCode = strings.TrimSpace(req.ProposedAssigneeCode)
	req.RequestedBy = strings.TrimSpace(req.RequestedBy)
	if req.CurrentAssigneeCode == "" || req.ProposedAssigneeCode == "" {
		return nil, fmt.Errorf("%w: both assignee codes are required", ErrInvalidInput)
	}
	if req.CurrentAssigneeCode == req.ProposedAssigneeCode {
		return nil, fmt.Errorf("%w: proposed assignee matches current assignee", ErrInvalidInput)
	}
	if req.RequestedBy == "" {
		return nil, fmt.Errorf("%w: requested_by is required", ErrInvalidInput)
	}

	now := s.now().UTC()
	cr := &ChangeRequest{
		ID:                   ids.New(),
		TaskID:               strings.TrimSpace(req.TaskID),
		CurrentAssigneeCode:  req.CurrentAssigneeCode,
		ProposedAssigneeCode: req.ProposedAssigneeCode,
		RequiresDualApproval: req.RequiresDualApproval,
		Status:               StatusPending,
		Reason:               strings.TrimSpace(req.Reason),
		RequestedBy:          req.RequestedBy,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.store.Create(ctx, cr); err != nil {
		return nil, err
	}
	_ = audit.LogEvent(ctx, "personnel.change_request.create", map[string]any{
		"change_request_id": cr.ID,
		"task_id":           cr.TaskID,
		"dual":              cr.RequiresDualApproval,
	})
	return cr, nil
}

// Get loads a change request.
func (s *Service) Get(ctx context.Context, id string) (*ChangeRequest, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: change_request_id is required", ErrInvalidInput)
	}
	return s.store.Get(ctx, id)
}

// Approve records the actor's approval slot. Without dual approval a single
// approval by the proposed assignee finalizes the request; with it, the
// request finalizes only once both parties have independently approved.
func (s *Service) Approve(ctx context.Context, id, actorCode string) (*ChangeRequest, error) {
	id = strings.TrimSpace(id)
	actorCode = strings.TrimSpace(actorCode)
	if id == "" || actorCode == "" {
		return nil, fmt.Errorf("%w: change_request_id and actor are required", ErrInvalidInput)
	}

	now := s.now().UTC()
	cr, err := s.store.Mutate(ctx, id, func(cr *ChangeRequest) error {
		if cr.Status.Terminal() {
			return fmt.Errorf("%w: request already %s", ErrConflict, cr.Status)
		}
		switch actorCode {
		case cr.ProposedAssigneeCode:
			if cr.ProposedApprovedAt != nil {
				return fmt.Errorf("%w: proposed assignee already approved", ErrConflict)
			}
			cr.ProposedApprovedAt = &now
			cr.ProposedApprovedBy = actorCode
		case cr.CurrentAssigneeCode:
			if !cr.RequiresDualApproval {
				return fmt.Errorf("%w: current assignee has no approval slot", ErrForbidden)
			}
			if cr.CurrentApprovedAt != nil {
				return fmt.Errorf("%w: current assignee already approved", ErrConflict)
			}
			cr.CurrentApprovedAt = &now
			cr.CurrentApprovedBy = actorCode
		default:
			return fmt.Errorf("%w: not a party to this request", ErrForbidden)
		}

		done := cr.ProposedApprovedAt != nil
		if cr.RequiresDualApproval {
			done = done && cr.CurrentApprovedAt != nil
		}
		if done {
			cr.Status = StatusApproved
			cr.ResolvedAt = &now
		}
		cr.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	_ = audit.LogEvent(ctx, "personnel.change_request.approve", map[string]any{
		"change_request_id": cr.ID,
		"actor":             actorCode,
		"status":            string(cr.Status),
	})
	return cr, nil
}

// Reject finalizes the request as rejected. Either party may reject at any
// point while pending, regardless of the other party's slot.
func (s *Service) Reject(ctx context.Context, id, actorCode, reason string) (*ChangeRequest, error) {
	id = strings.TrimSpace(id)
	actorCode = strings.TrimSpace(actorCode)
	if id == "" || actorCode == "" {
		return nil, fmt.Errorf("%w: change_request_id and actor are required", ErrInvalidInput)
	}

	now := s.now().UTC()
	cr, err := s.store.Mutate(ctx, id, func(cr *ChangeRequest) error {
		if cr.Status.Terminal() {
			return fmt.Errorf("%w: request already %s", ErrConflict, cr.Status)
		}
		if actorCode != cr.CurrentAssigneeCode && actorCode != cr.ProposedAssigneeCode {
			return fmt.Errorf("%w: not a party to this request", ErrForbidden)
		}
		cr.Status = StatusRejected
		cr.RejectedBy = actorCode
		cr.RejectionReason = strings.TrimSpace(reason)
		cr.ResolvedAt = &now
		cr.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	_ = audit.LogEvent(ctx, "personnel.change_request.reject", map[string]any{
		"change_request_id": cr.ID,
		"actor":             actorCode,
	})
	return cr, nil
}

// Cancel withdraws a pending request. Only the requester may cancel.
func (s *Service) Cancel(ctx context.Context, id, actorID string) (*ChangeRequest, error) {
	id = strings.TrimSpace(id)
	actorID = strings.TrimSpace(actorID)
	if id == "" || actorID == "" {
		return nil, fmt.Errorf("%w: change_request_id and actor are required", ErrInvalidInput)
	}

	now := s.now().UTC()
	cr, err := s.store.Mutate(ctx, id, func(cr *ChangeRequest) error {
		if cr.Status.Terminal() {
			return fmt.Errorf("%w: request already %s", ErrConflict, cr.Status)
		}
		if actorID != cr.RequestedBy {
			return fmt.Errorf("%w: only the requester may cancel", ErrForbidden)
		}
		cr.Status = StatusCancelled
		cr.ResolvedAt = &now
		cr.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	_ = audit.LogEvent(ctx, "personnel.change_request.cancel", map[string]any{
		"change_request_id": cr.ID,
	})
	return cr, nil
}

// PendingForUser lists requests still awaiting the user's action: requests
// proposing them, and dual-approval requests where they are the current
// assignee and have not yet self-approved.
func (s *Service) PendingForUser(ctx context.Context, userCode string) ([]*ChangeRequest, error) {
	userCode = strings.TrimSpace(userCode)
	if userCode == "" {
		return nil, fmt.Errorf("%w: user code is required", ErrInvalidInput)
	}
	return s.store.ListPendingForUser(ctx, userCode)
}

// ResolvedForUser lists terminal requests where the user was either party.
func (s *Service) ResolvedForUser(ctx context.Context, userCode string) ([]*ChangeRequest, error) {
	userCode = strings.TrimSpace(userCode)
	if userCode == "" {
		return nil, fmt.Errorf("%w: user code is required", ErrInvalidInput)
	}
	return s.store.ListResolvedForUser(ctx, userCode)
}

// AwaitsUser reports whether the request is still waiting on the given
// party's action. Shared by the feed and by store list implementations.
func AwaitsUser(cr *ChangeRequest, userCode string) bool {
	if cr.Status.Terminal() {
		return false
	}
	if userCode == cr.ProposedAssigneeCode && cr.ProposedApprovedAt == nil {
		return true
	}
	return userCode == cr.CurrentAssigneeCode &&
		cr.RequiresDualApproval &&
		cr.CurrentApprovedAt == nil
}
