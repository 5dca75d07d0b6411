// Package feed aggregates everything awaiting a user's sign-off into a
// single view: personnel change requests, client-acceptance reviews,
// review notes and generic workflow approvals.
package feed

import (
	"context"
	"fmt"

	"practica.org/internal/approval"
	"practica.org/internal/obs"
	"practica.org/internal/personnel"
	"practica.org/internal/review"
)

// ApprovalSource lists generic engine approvals for a user.
type ApprovalSource interface {
	PendingForUser(ctx context.Context, userID string) ([]*approval.Approval, error)
	CompletedForUser(ctx context.Context, userID string) ([]*approval.Approval, error)
}

// ChangeRequestSource lists personnel change requests for a user.
type ChangeRequestSource interface {
	PendingForUser(ctx context.Context, userCode string) ([]*personnel.ChangeRequest, error)
	ResolvedForUser(ctx context.Context, userCode string) ([]*personnel.ChangeRequest, error)
}

// ReviewNoteSource lists review notes for a user.
type ReviewNoteSource interface {
	ForUser(ctx context.Context, userID string, archived bool) ([]*review.Note, error)
}

// AcceptanceSource lists client-acceptance records.
type AcceptanceSource interface {
	// ListUnreviewed returns tasks whose acceptance work is complete but
	// not yet signed off, oldest completion first.
	ListUnreviewed(ctx context.Context) ([]Acceptance, error)
	// ListReviewedBy returns acceptances the given user has signed off,
	// most recent first.
	ListReviewedBy(ctx context.Context, userID string) ([]Acceptance, error)
}

// AcceptanceAuthority decides whether a user may sign off a task's
// acceptance. The resolver in the authz package satisfies this.
type AcceptanceAuthority interface {
	CanApproveAcceptance(ctx context.Context, userID, taskID string) (bool, error)
}

// Feed is the aggregated per-user view. Each section keeps its source's
// internal ordering; TotalCount is the sum across sections.
type Feed struct {
	ChangeRequests []ChangeRequestItem `json:"changeRequests"`
	Acceptances    []AcceptanceItem    `json:"acceptances"`
	ReviewNotes    []ReviewNoteItem    `json:"reviewNotes"`
	Approvals      []ApprovalItem      `json:"approvals"`
	TotalCount     int                 `json:"totalCount"`
}

// Aggregator fans out to the per-kind sources and merges the results.
type Aggregator struct {
	approvals   ApprovalSource
	changes     ChangeRequestSource
	notes       ReviewNoteSource
	acceptances AcceptanceSource
	authority   AcceptanceAuthority
}

func NewAggregator(ap ApprovalSource, cr ChangeRequestSource, rn ReviewNoteSource, ac AcceptanceSource, auth AcceptanceAuthority) *Aggregator {
	return &Aggregator{approvals: ap, changes: cr, notes: rn, acceptances: ac, authority: auth}
}

// FeedFor assembles the pending (or archived) feed for a user. Sub-feeds
// that the aggregator was constructed without are simply absent.
func (a *Aggregator) FeedFor(ctx context.Context, userID string, archived bool) (*Feed, error) {
	f := &Feed{}
	items := make([]Item, 0, 16)

	if a.changes != nil {
		crs, err := a.fetchChangeRequests(ctx, userID, archived)
		if err != nil {
			return nil, err
		}
		items = append(items, crs...)
	}
	if a.acceptances != nil {
		acs, err := a.fetchAcceptances(ctx, userID, archived)
		if err != nil {
			return nil, err
		}
		items = append(items, acs...)
	}
	if a.notes != nil {
		rns, err := a.fetchReviewNotes(ctx, userID, archived)
		if err != nil {
			return nil, err
		}
		items = append(items, rns...)
	}
	if a.approvals != nil {
		aps, err := a.fetchApprovals(ctx, userID, archived)
		if err != nil {
			return nil, err
		}
		items = append(items, aps...)
	}

	for _, it := range items {
		if !archived && !it.ActionableBy(userID) {
			continue
		}
		switch v := it.(type) {
		case ChangeRequestItem:
			f.ChangeRequests = append(f.ChangeRequests, v)
		case AcceptanceItem:
			f.Acceptances = append(f.Acceptances, v)
		case ReviewNoteItem:
			f.ReviewNotes = append(f.ReviewNotes, v)
		case ApprovalItem:
			f.Approvals = append(f.Approvals, v)
		}
		f.TotalCount++
	}
	obs.ObserveFeedSize(f.TotalCount)
	return f, nil
}

func (a *Aggregator) fetchChangeRequests(ctx context.Context, userID string, archived bool) ([]Item, error) {
	var (
		crs []*personnel.ChangeRequest
		err error
	)
	if archived {
		crs, err = a.changes.ResolvedForUser(ctx, userID)
	} else {
		crs, err = a.changes.PendingForUser(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("feed: change requests: %w", err)
	}
	items := make([]Item, 0, len(crs))
	for _, cr := range crs {
		items = append(items, ChangeRequestItem{cr})
	}
	return items, nil
}

// fetchAcceptances pre-filters to completed-but-unreviewed records, then
// asks the authority whether this user may sign each one off. Archived mode
// returns the user's own past sign-offs instead.
func (a *Aggregator) fetchAcceptances(ctx context.Context, userID string, archived bool) ([]Item, error) {
	if archived {
		acs, err := a.acceptances.ListReviewedBy(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("feed: acceptances: %w", err)
		}
		items := make([]Item, 0, len(acs))
		for _, ac := range acs {
			items = append(items, AcceptanceItem{Acceptance: ac, forUser: userID})
		}
		return items, nil
	}
	acs, err := a.acceptances.ListUnreviewed(ctx)
	if err != nil {
		return nil, fmt.Errorf("feed: acceptances: %w", err)
	}
	items := make([]Item, 0, len(acs))
	for _, ac := range acs {
		ok, err := a.authority.CanApproveAcceptance(ctx, userID, ac.TaskID)
		if err != nil {
			return nil, fmt.Errorf("feed: acceptance authority for task %s: %w", ac.TaskID, err)
		}
		if !ok {
			continue
		}
		items = append(items, AcceptanceItem{Acceptance: ac, authorized: true, forUser: userID})
	}
	return items, nil
}

func (a *Aggregator) fetchReviewNotes(ctx context.Context, userID string, archived bool) ([]Item, error) {
	ns, err := a.notes.ForUser(ctx, userID, archived)
	if err != nil {
		return nil, fmt.Errorf("feed: review notes: %w", err)
	}
	items := make([]Item, 0, len(ns))
	for _, n := range ns {
		tag := TagAssignee
		if n.RaisedBy == userID && !onWorkingSide(n, userID) {
			tag = TagRaiser
		}
		items = append(items, ReviewNoteItem{Note: n, Tag: tag})
	}
	return items, nil
}

// onWorkingSide reports whether the user holds the note rather than merely
// having raised it: explicit assignees and the current owner both count.
func onWorkingSide(n *review.Note, userID string) bool {
	if n.CurrentOwner == userID {
		return true
	}
	for _, a := range n.Assignees {
		if a.UserID == userID {
			return true
		}
	}
	return false
}

func (a *Aggregator) fetchApprovals(ctx context.Context, userID string, archived bool) ([]Item, error) {
	var (
		aps []*approval.Approval
		err error
	)
	if archived {
		aps, err = a.approvals.CompletedForUser(ctx, userID)
	} else {
		aps, err = a.approvals.PendingForUser(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("feed: approvals: %w", err)
	}
	items := make([]Item, 0, len(aps))
	for _, ap := range aps {
		items = append(items, ApprovalItem{ap})
	}
	return items, nil
}
