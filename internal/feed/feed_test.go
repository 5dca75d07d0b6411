package feed

import (
	"context"
	"testing"
	"time"

	"practica.org/internal/approval"
	"practica.org/internal/personnel"
	"practica.org/internal/review"
)

type fakeApprovals struct {
	pending   []*approval.Approval
	completed []*approval.Approval
}

func (f fakeApprovals) PendingForUser(_ context.Context, _ string) ([]*approval.Approval, error) {
	return f.pending, nil
}

func (f fakeApprovals) CompletedForUser(_ context.Context, _ string) ([]*approval.Approval, error) {
	return f.completed, nil
}

type fakeChanges struct {
	pending  []*personnel.ChangeRequest
	resolved []*personnel.ChangeRequest
}

func (f fakeChanges) PendingForUser(_ context.Context, _ string) ([]*personnel.ChangeRequest, error) {
	return f.pending, nil
}

func (f fakeChanges) ResolvedForUser(_ context.Context, _ string) ([]*personnel.ChangeRequest, error) {
	return f.resolved, nil
}

type fakeNotes struct {
	open     []*review.Note
	archived []*review.Note
}

func (f fakeNotes) ForUser(_ context.Context, _ string, archived bool) ([]*review.Note, error) {
	if archived {
		return f.archived, nil
	}
	return f.open, nil
}

type fakeAcceptances struct {
	unreviewed []Acceptance
	reviewed   []Acceptance
}

func (f fakeAcceptances) ListUnreviewed(_ context.Context) ([]Acceptance, error) {
	return f.unreviewed, nil
}

func (f fakeAcceptances) ListReviewedBy(_ context.Context, _ string) ([]Acceptance, error) {
	return f.reviewed, nil
}

type fakeAuthority map[string]bool

func (f fakeAuthority) CanApproveAcceptance(_ context.Context, _, taskID string) (bool, error) {
	return f[taskID], nil
}

var feedBase = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func pendingApprovalFor(userID string) *approval.Approval {
	return &approval.Approval{
		ID:               "ap-1",
		WorkflowType:     "document-publication",
		WorkflowID:       "doc-7",
		Status:           approval.StatusPending,
		RequiresAllSteps: true,
		CurrentStepID:    "st-1",
		CreatedAt:        feedBase,
		Steps: []*approval.Step{
			{ID: "st-1", StepOrder: 1, AssignedTo: userID, Status: approval.StepPending},
			{ID: "st-2", StepOrder: 2, AssignedTo: "someone-else", Status: approval.StepPending},
		},
	}
}

func TestFeedForMergesAllKinds(t *testing.T) {
	cr := &personnel.ChangeRequest{
		ID:                   "cr-1",
		TaskID:               "task-1",
		Status:               personnel.StatusPending,
		RequestedBy:          "requester",
		CurrentAssigneeCode:  "paula",
		ProposedAssigneeCode: "mike",
		RequiresDualApproval: true,
		CreatedAt:            feedBase,
	}
	note := &review.Note{
		ID:       "rn-1",
		TaskID:   "task-2",
		Status:   review.StatusOpen,
		RaisedBy: "raiser",
		Assignees: []*review.Assignee{
			{UserID: "paula", AssignedAt: feedBase},
		},
		CurrentOwner: "paula",
		CreatedAt:    feedBase,
	}
	agg := NewAggregator(
		fakeApprovals{pending: []*approval.Approval{pendingApprovalFor("paula")}},
		fakeChanges{pending: []*personnel.ChangeRequest{cr}},
		fakeNotes{open: []*review.Note{note}},
		fakeAcceptances{unreviewed: []Acceptance{
			{TaskID: "task-3", TaskName: "Acme audit", CompletedAt: feedBase},
			{TaskID: "task-4", TaskName: "Beta audit", CompletedAt: feedBase},
		}},
		fakeAuthority{"task-3": true},
	)

	f, err := agg.FeedFor(context.Background(), "paula", false)
	if err != nil {
		t.Fatalf("FeedFor: %v", err)
	}
	if f.TotalCount != 4 {
		t.Fatalf("TotalCount = %d, want 4", f.TotalCount)
	}
	if len(f.ChangeRequests) != 1 || f.ChangeRequests[0].ID != "cr-1" {
		t.Fatalf("change requests = %+v", f.ChangeRequests)
	}
	if len(f.Acceptances) != 1 || f.Acceptances[0].TaskID != "task-3" {
		t.Fatalf("acceptances = %+v, want only the authorized task", f.Acceptances)
	}
	if len(f.ReviewNotes) != 1 || f.ReviewNotes[0].Tag != TagAssignee {
		t.Fatalf("review notes = %+v", f.ReviewNotes)
	}
	if len(f.Approvals) != 1 || f.Approvals[0].ID != "ap-1" {
		t.Fatalf("approvals = %+v", f.Approvals)
	}
}

func TestFeedForReviewNoteTags(t *testing.T) {
	notes := []*review.Note{
		// Paula raised it and holds no working-side role.
		{
			ID: "rn-raised", TaskID: "task-1", Status: review.StatusOpen,
			RaisedBy: "paula", CurrentOwner: "mike",
			Assignees: []*review.Assignee{{UserID: "mike", AssignedAt: feedBase}},
			CreatedAt: feedBase,
		},
		// Ownership was forwarded to paula without an assignee row; she is
		// on the working side and tagged accordingly.
		{
			ID: "rn-owned", TaskID: "task-2", Status: review.StatusOpen,
			RaisedBy: "someone-else", CurrentOwner: "paula",
			Assignees: []*review.Assignee{{UserID: "mike", AssignedAt: feedBase}},
			CreatedAt: feedBase,
		},
		// Raiser who also owns the note works it, not just watches it.
		{
			ID: "rn-raised-owned", TaskID: "task-3", Status: review.StatusOpen,
			RaisedBy: "paula", CurrentOwner: "paula",
			Assignees: []*review.Assignee{{UserID: "mike", AssignedAt: feedBase}},
			CreatedAt: feedBase,
		},
	}
	agg := NewAggregator(nil, nil, fakeNotes{open: notes}, nil, nil)
	f, err := agg.FeedFor(context.Background(), "paula", false)
	if err != nil {
		t.Fatalf("FeedFor: %v", err)
	}
	if len(f.ReviewNotes) != 3 {
		t.Fatalf("review notes = %+v, want 3", f.ReviewNotes)
	}
	want := map[string]ReviewTag{
		"rn-raised":       TagRaiser,
		"rn-owned":        TagAssignee,
		"rn-raised-owned": TagAssignee,
	}
	for _, it := range f.ReviewNotes {
		if it.Tag != want[it.ID] {
			t.Fatalf("note %s tag = %s, want %s", it.ID, it.Tag, want[it.ID])
		}
	}
}

func TestFeedForFiltersNonActionable(t *testing.T) {
	// Sequential approval where paula holds a later step: present in the
	// store's answer but not yet actionable, so the feed drops it.
	ap := pendingApprovalFor("someone-else")
	ap.Steps[1].AssignedTo = "paula"

	agg := NewAggregator(
		fakeApprovals{pending: []*approval.Approval{ap}},
		nil, nil, nil, nil,
	)
	f, err := agg.FeedFor(context.Background(), "paula", false)
	if err != nil {
		t.Fatalf("FeedFor: %v", err)
	}
	if f.TotalCount != 0 || len(f.Approvals) != 0 {
		t.Fatalf("feed = %+v, want empty", f)
	}
}

func TestFeedForParallelApprovalActionableOnAnyStep(t *testing.T) {
	ap := pendingApprovalFor("someone-else")
	ap.RequiresAllSteps = false
	ap.CurrentStepID = ""
	ap.Steps[1].AssignedTo = "paula"

	agg := NewAggregator(fakeApprovals{pending: []*approval.Approval{ap}}, nil, nil, nil, nil)
	f, err := agg.FeedFor(context.Background(), "paula", false)
	if err != nil {
		t.Fatalf("FeedFor: %v", err)
	}
	if len(f.Approvals) != 1 {
		t.Fatalf("approvals = %+v, want the parallel approval", f.Approvals)
	}
}

func TestFeedForArchived(t *testing.T) {
	done := feedBase.Add(48 * time.Hour)
	cr := &personnel.ChangeRequest{
		ID:                  "cr-9",
		TaskID:              "task-1",
		Status:              personnel.StatusApproved,
		CurrentAssigneeCode: "paula",
		CreatedAt:           feedBase,
		ResolvedAt:          &done,
	}
	ap := pendingApprovalFor("paula")
	ap.Status = approval.StatusApproved
	ap.CompletedAt = &done
	note := &review.Note{
		ID:         "rn-9",
		TaskID:     "task-2",
		Status:     review.StatusCleared,
		RaisedBy:   "paula",
		CreatedAt:  feedBase,
		ResolvedAt: &done,
	}

	agg := NewAggregator(
		fakeApprovals{completed: []*approval.Approval{ap}},
		fakeChanges{resolved: []*personnel.ChangeRequest{cr}},
		fakeNotes{archived: []*review.Note{note}},
		fakeAcceptances{reviewed: []Acceptance{
			{TaskID: "task-3", CompletedAt: feedBase, ReviewedAt: &done, ReviewedBy: "paula"},
		}},
		fakeAuthority{},
	)
	f, err := agg.FeedFor(context.Background(), "paula", true)
	if err != nil {
		t.Fatalf("FeedFor: %v", err)
	}
	if f.TotalCount != 4 {
		t.Fatalf("TotalCount = %d, want 4", f.TotalCount)
	}
	if f.Acceptances[0].ItemStatus() != "REVIEWED" {
		t.Fatalf("acceptance status = %q", f.Acceptances[0].ItemStatus())
	}
	if f.ReviewNotes[0].Tag != TagRaiser {
		t.Fatalf("review note tag = %q, want RAISER", f.ReviewNotes[0].Tag)
	}
	if !f.ChangeRequests[0].SortKey().Equal(done) {
		t.Fatalf("resolved change request sorts by resolution time")
	}
}

func TestFeedForMissingSources(t *testing.T) {
	agg := NewAggregator(nil, nil, nil, nil, nil)
	f, err := agg.FeedFor(context.Background(), "paula", false)
	if err != nil {
		t.Fatalf("FeedFor: %v", err)
	}
	if f.TotalCount != 0 {
		t.Fatalf("TotalCount = %d, want 0", f.TotalCount)
	}
}
