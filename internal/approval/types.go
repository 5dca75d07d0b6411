package approval

import "time"

// Status is the lifecycle state of an Approval. Pending is the only
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

// StepStatus is the lifecycle state of a single step.
type StepStatus string

const (
	StepPending  StepStatus = "PENDING"
	StepApproved StepStatus = "APPROVED"
	StepRejected StepStatus = "REJECTED"
	StepSkipped  StepStatus = "SKIPPED"
)

// Terminal reports whether the step admits no further decisions.
func (s StepStatus) Terminal() bool {
	return s != StepPending
}

// Decision is the action a step assignee takes.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

// Approval is a generic staged sign-off. WorkflowType tags the originating
// business workflow ("document-publication", ...); WorkflowID is an opaque
// reference to the subject, interpreted only by that workflow. At most one
// approval is live (PENDING) per (WorkflowType, WorkflowID) pair: creating a
// new one supersedes the previous version.
type Approval struct {
	ID               string
	WorkflowType     string
	WorkflowID       string
	Status           Status
	RequiresAllSteps bool
	// CurrentStepID caches the lowest-ordered step still pending under the
	// sequential policy. It is re-derived from step state inside every write
	// transaction; a stale pointer from a prior read is never trusted.
	CurrentStepID string
	RequestedBy   string
	Title         string
	Context       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time

	Steps []*Step
}

// Step is one ordered, individually decided stage of an approval.
type Step struct {
	ID         string
	ApprovalID string
	StepOrder  int
	AssignedTo string
	Status     StepStatus
	IsRequired bool
	ApprovedAt *time.Time
	Comment    string
}

// StepSpec describes a step at creation time.
type StepSpec struct {
	AssignedTo string
	StepOrder  int
	IsRequired bool
}

// step returns the step with the given id, nil when absent. Steps of a loaded
// approval are always sorted by StepOrder ascending.
func (a *Approval) step(id string) *Step {
	for _, s := range a.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}
