package review

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
	ErrNotFound     = errors.New("review: not found")
	ErrConflict     = errors.New("review: conflict")
	ErrForbidden    = errors.New("review: forbidden")
	ErrInvalidInput = errors.New("review: invalid input")
)

// PendingStatuses and ArchivedStatuses partition the actionable sets the
// feed views use.
var (
	PendingStatuses  = []Status{StatusOpen, StatusInProgress, StatusAddressed}
	ArchivedStatuses = []Status{StatusCleared, StatusRejected}
)

// Store describes persistence for review notes and their assignees. Mutate
// persists the note, its assignee set and any appended comments as one
// transaction.
type Store interface {
	Create(ctx context.Context, n *Note) error
	Get(ctx context.Context, id string) (*Note, error)
	Mutate(ctx context.Context, id string, fn func(*Note) error) (*Note, error)

	// ListForUser returns notes where the user is an assignee, the raiser
	// or the current owner. Pending notes order by priority descending then
	// due date ascending (nulls last); archived notes by resolution time
	// descending.
	ListForUser(ctx context.Context, userID string, archived bool) ([]*Note, error)
}

// Service drives the review-note lifecycle.
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
		return nil, errors.New("review: store is required")
	}
	svc := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CreateRequest carries the creation contract of a review note.
type CreateRequest struct {
	TaskID    string
	Title     string
	Body      string
	RaisedBy  string
	Assignees []string
	Priority  int
	DueDate   *time.Time
}

// Create persists a new open note with its initial assignees.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Note, error) {
	req.RaisedBy = strings.TrimSpace(req.RaisedBy)
	req.TaskID = strings.TrimSpace(req.TaskID)
	if req.RaisedBy == "" || req.TaskID == "" {
		return nil, fmt.Errorf("%w: task_id and raised_by are required", ErrInvalidInput)
	}
	assignees := dedupe(req.Assignees)
	if len(assignees) == 0 {
		return nil, fmt.Errorf("%w: a note needs at least one assignee", ErrInvalidInput)
	}

	now := s.now().UTC()
	n := &Note{
		ID:           ids.New(),
		TaskID:       req.TaskID,
		Title:        strings.TrimSpace(req.Title),
		Body:         req.Body,
		Status:       StatusOpen,
		RaisedBy:     req.RaisedBy,
		CurrentOwner: assignees[0],
		AssignedTo:   assignees[0],
		Priority:     req.Priority,
		DueDate:      req.DueDate,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, userID := range assignees {
		n.Assignees = append(n.Assignees, &Assignee{
			ID:         ids.New(),
			NoteID:     n.ID,
			UserID:     userID,
			AssignedAt: now,
			AssignedBy: req.RaisedBy,
		})
	}
	if err := s.store.Create(ctx, n); err != nil {
		return nil, err
	}
	_ = audit.LogEvent(ctx, "review.note.create", map[string]any{
		"note_id":   n.ID,
		"task_id":   n.TaskID,
		"assignees": len(n.Assignees),
	})
	return n, nil
}

// Get loads a note with its assignees and comments.
func (s *Service) Get(ctx context.Context, id string) (*Note, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: note_id is required", ErrInvalidInput)
	}
	return s.store.Get(ctx, id)
}

// Forward assigns the note to an additional user. The new join record is
// marked forwarded, one internal audit comment is appended, and the legacy
// single-assignee field resets to the earliest-assigned current assignee.
// The note's status does not change.
func (s *Service) Forward(ctx context.Context, noteID, actorID, toUserID, reason string) (*Note, error) {
	noteID = strings.TrimSpace(noteID)
	actorID = strings.TrimSpace(actorID)
	toUserID = strings.TrimSpace(toUserID)
	if noteID == "" || actorID == "" || toUserID == "" {
		return nil, fmt.Errorf("%w: note_id, actor and target user are required", ErrInvalidInput)
	}

	now := s.now().UTC()
	n, err := s.store.Mutate(ctx, noteID, func(n *Note) error {
		if n.Status.Terminal() {
			return fmt.Errorf("%w: note already %s", ErrConflict, n.Status)
		}
		if !n.visibleTo(actorID) {
			return fmt.Errorf("%w: not involved with this note", ErrForbidden)
		}
		if n.assignee(toUserID) != nil {
			return fmt.Errorf("%w: user already assigned", ErrConflict)
		}
		n.Assignees = append(n.Assignees, &Assignee{
			ID:          ids.New(),
			NoteID:      n.ID,
			UserID:      toUserID,
			AssignedAt:  now,
			AssignedBy:  actorID,
			IsForwarded: true,
		})
		body := fmt.Sprintf("forwarded to %s", toUserID)
		if reason = strings.TrimSpace(reason); reason != "" {
			body += ": " + reason
		}
		n.Comments = append(n.Comments, &Comment{
			ID:         ids.New(),
			NoteID:     n.ID,
			AuthorID:   actorID,
			Body:       body,
			IsInternal: true,
			CreatedAt:  now,
		})
		n.AssignedTo = n.earliestAssignee().UserID
		n.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	_ = audit.LogEvent(ctx, "review.note.forward", map[string]any{
		"note_id": n.ID,
		"to":      toUserID,
	})
	return n, nil
}

// RemoveAssignee detaches a user from the note. Removing the last remaining
// assignee is rejected: a note always has at least one.
func (s *Service) RemoveAssignee(ctx context.Context, noteID, actorID, userID string) (*Note, error) {
	noteID = strings.TrimSpace(noteID)
	userID = strings.TrimSpace(userID)
	if noteID == "" || userID == "" {
		return nil, fmt.Errorf("%w: note_id and user_id are required", ErrInvalidInput)
	}

	now := s.now().UTC()
	n, err := s.store.Mutate(ctx, noteID, func(n *Note) error {
		if n.Status.Terminal() {
			return fmt.Errorf("%w: note already %s", ErrConflict, n.Status)
		}
		target := n.assignee(userID)
		if target == nil {
			return fmt.Errorf("%w: user is not assigned", ErrNotFound)
		}
		if len(n.Assignees) == 1 {
			return fmt.Errorf("%w: cannot remove the last assignee", ErrConflict)
		}
		kept := n.Assignees[:0]
		for _, a := range n.Assignees {
			if a.UserID != userID {
				kept = append(kept, a)
			}
		}
		n.Assignees = kept
		n.AssignedTo = n.earliestAssignee().UserID
		if n.CurrentOwner == userID {
			n.CurrentOwner = n.AssignedTo
		}
		n.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	_ = audit.LogEvent(ctx, "review.note.unassign", map[string]any{
		"note_id": n.ID,
		"user_id": userID,
	})
	return n, nil
}

// UpdateStatus moves the note through its lifecycle. Terminal notes refuse
// changes; clearing or rejecting is reserved for the raiser and the current
// owner.
func (s *Service) UpdateStatus(ctx context.Context, noteID, actorID string, status Status) (*Note, error) {
	noteID = strings.TrimSpace(noteID)
	actorID = strings.TrimSpace(actorID)
	if noteID == "" || actorID == "" {
		return nil, fmt.Errorf("%w: note_id and actor are required", ErrInvalidInput)
	}
	if !status.valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}

	now := s.now().UTC()
	n, err := s.store.Mutate(ctx, noteID, func(n *Note) error {
		if n.Status.Terminal() {
			return fmt.Errorf("%w: note already %s", ErrConflict, n.Status)
		}
		if !n.visibleTo(actorID) {
			return fmt.Errorf("%w: not involved with this note", ErrForbidden)
		}
		if status.Terminal() && actorID != n.RaisedBy && actorID != n.CurrentOwner {
			return fmt.Errorf("%w: only the raiser or owner may close a note", ErrForbidden)
		}
		if status == n.Status {
			return fmt.Errorf("%w: note already %s", ErrConflict, status)
		}
		n.Status = status
		if status.Terminal() {
			n.ResolvedAt = &now
		}
		n.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	_ = audit.LogEvent(ctx, "review.note.status", map[string]any{
		"note_id": n.ID,
		"status":  string(status),
	})
	return n, nil
}

// ForUser lists the user's notes in the pending or archived view.
func (s *Service) ForUser(ctx context.Context, userID string, archived bool) ([]*Note, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.store.ListForUser(ctx, userID, archived)
}

// visibleTo reports whether the user is involved with the note: an assignee,
// the raiser or the current owner.
func (n *Note) visibleTo(userID string) bool {
	return n.assignee(userID) != nil || n.RaisedBy == userID || n.CurrentOwner == userID
}

// VisibleTo is the exported membership test used by the feed aggregator.
func VisibleTo(n *Note, userID string) bool {
	return n.visibleTo(userID)
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
