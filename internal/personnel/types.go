package personnel

import "time"

// Status is the lifecycle state of a ChangeRequest. Pending is the only
// non-terminal state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// ChangeRequest reassigns responsibility for a task from the current staff
// member to a proposed one. The two approval slots are independent; under
// dual approval both parties must sign off (order unconstrained) before the
// request finalizes, and either party's rejection finalizes it immediately.
type ChangeRequest struct {
	ID                   string
	TaskID               string
	CurrentAssigneeCode  string
	ProposedAssigneeCode string
	RequiresDualApproval bool
	Status               Status
	Reason               string
	RequestedBy          string

	CurrentApprovedAt  *time.Time
	CurrentApprovedBy  string
	ProposedApprovedAt *time.Time
	ProposedApprovedBy string

	RejectedBy      string
	RejectionReason string

	CreatedAt  time.Time
	UpdatedAt  time.Time
	ResolvedAt *time.Time
}
