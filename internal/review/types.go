package review

import "time"

// Status is the lifecycle state of a review note. Cleared and Rejected are
// terminal.
type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusInProgress Status = "IN_PROGRESS"
	StatusAddressed  Status = "ADDRESSED"
	StatusCleared    Status = "CLEARED"
	StatusRejected   Status = "REJECTED"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCleared || s == StatusRejected
}

func (s Status) valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusAddressed, StatusCleared, StatusRejected:
		return true
	}
	return false
}

// Note is a quality-review finding raised against a task. A note always has
// at least one assignee; the single legacy AssignedTo field mirrors the
// earliest-assigned current assignee for backward-compatible readers.
type Note struct {
	ID           string
	TaskID       string
	Title        string
	Body         string
	Status       Status
	RaisedBy     string
	CurrentOwner string
	AssignedTo   string
	Priority     int
	DueDate      *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ResolvedAt   *time.Time

	Assignees []*Assignee
	Comments  []*Comment
}

// Assignee is the join record between a note and a responsible user.
type Assignee struct {
	ID          string
	NoteID      string
	UserID      string
	AssignedAt  time.Time
	AssignedBy  string
	IsForwarded bool
}

// Comment is an entry in the note's discussion thread. Internal comments are
// audit records appended by the system (forwarding, reassignment).
type Comment struct {
	ID         string
	NoteID     string
	AuthorID   string
	Body       string
	IsInternal bool
	CreatedAt  time.Time
}

// assignee returns the join record for the user, nil when absent.
func (n *Note) assignee(userID string) *Assignee {
	for _, a := range n.Assignees {
		if a.UserID == userID {
			return a
		}
	}
	return nil
}

// earliestAssignee returns the current assignee with the oldest AssignedAt.
func (n *Note) earliestAssignee() *Assignee {
	var earliest *Assignee
	for _, a := range n.Assignees {
		if earliest == nil || a.AssignedAt.Before(earliest.AssignedAt) {
			earliest = a
		}
	}
	return earliest
}
