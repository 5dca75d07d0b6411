package feed

import (
	"time"

	"practica.org/internal/approval"
	"practica.org/internal/personnel"
	"practica.org/internal/review"
)

// Kind discriminates the approval-like variants the feed unifies.
type Kind string

const (
	KindChangeRequest Kind = "CHANGE_REQUEST"
	KindAcceptance    Kind = "ACCEPTANCE"
	KindReviewNote    Kind = "REVIEW_NOTE"
	KindApproval      Kind = "APPROVAL"
)

// ReviewTag explains why a note is actionable for the requesting user.
// ASSIGNEE covers the working side of the note, meaning explicit assignees
// and the current owner alike; RAISER marks a user who raised the note and
// holds no working-side role on it.
type ReviewTag string

const (
	TagAssignee ReviewTag = "ASSIGNEE"
	TagRaiser   ReviewTag = "RAISER"
)

// Item is the sealed union over everything approval-like. Historically each
// kind had its own bespoke query path; the aggregator iterates this
// interface instead.
type Item interface {
	ItemKind() Kind
	SubjectID() string
	ItemStatus() string
	ActionableBy(userID string) bool
	SortKey() time.Time
}

// ChangeRequestItem wraps a personnel change request.
type ChangeRequestItem struct {
	*personnel.ChangeRequest
}

func (i ChangeRequestItem) ItemKind() Kind     { return KindChangeRequest }
func (i ChangeRequestItem) SubjectID() string  { return i.TaskID }
func (i ChangeRequestItem) ItemStatus() string { return string(i.Status) }
func (i ChangeRequestItem) ActionableBy(userID string) bool {
	return personnel.AwaitsUser(i.ChangeRequest, userID)
}
func (i ChangeRequestItem) SortKey() time.Time {
	if i.ResolvedAt != nil {
		return *i.ResolvedAt
	}
	return i.CreatedAt
}

// Acceptance is a completed client-acceptance record awaiting partner
// review; the record itself lives with the acceptance workflow.
type Acceptance struct {
	TaskID      string
	TaskName    string
	CompletedAt time.Time
	CompletedBy string
	ReviewedAt  *time.Time
	ReviewedBy  string
}

// AcceptanceItem wraps an acceptance sign-off candidate. Authorization is
// resolved at fetch time: only items the user may sign off on are wrapped
// as actionable.
type AcceptanceItem struct {
	Acceptance
	authorized bool
	forUser    string
}

func (i AcceptanceItem) ItemKind() Kind    { return KindAcceptance }
func (i AcceptanceItem) SubjectID() string { return i.TaskID }
func (i AcceptanceItem) ItemStatus() string {
	if i.ReviewedAt != nil {
		return "REVIEWED"
	}
	return "AWAITING_REVIEW"
}
func (i AcceptanceItem) ActionableBy(userID string) bool {
	return i.authorized && i.forUser == userID
}
func (i AcceptanceItem) SortKey() time.Time {
	if i.ReviewedAt != nil {
		return *i.ReviewedAt
	}
	return i.CompletedAt
}

// ReviewNoteItem wraps a review note together with the reason it appears in
// this user's feed.
type ReviewNoteItem struct {
	*review.Note
	Tag ReviewTag
}

func (i ReviewNoteItem) ItemKind() Kind     { return KindReviewNote }
func (i ReviewNoteItem) SubjectID() string  { return i.TaskID }
func (i ReviewNoteItem) ItemStatus() string { return string(i.Status) }
func (i ReviewNoteItem) ActionableBy(userID string) bool {
	return review.VisibleTo(i.Note, userID)
}
func (i ReviewNoteItem) SortKey() time.Time {
	if i.ResolvedAt != nil {
		return *i.ResolvedAt
	}
	return i.CreatedAt
}

// ApprovalItem wraps a generic engine approval.
type ApprovalItem struct {
	*approval.Approval
}

func (i ApprovalItem) ItemKind() Kind     { return KindApproval }
func (i ApprovalItem) SubjectID() string  { return i.WorkflowID }
func (i ApprovalItem) ItemStatus() string { return string(i.Status) }
func (i ApprovalItem) ActionableBy(userID string) bool {
	for _, s := range i.Steps {
		if s.AssignedTo != userID || s.Status != approval.StepPending {
			continue
		}
		if !i.RequiresAllSteps || s.ID == i.CurrentStepID {
			return true
		}
	}
	return false
}
func (i ApprovalItem) SortKey() time.Time {
	if i.CompletedAt != nil {
		return *i.CompletedAt
	}
	return i.CreatedAt
}
