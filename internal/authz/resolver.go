package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// AccessType records how a user's access to a task was established.
type AccessType string

const (
	AccessSystemAdmin AccessType = "SYSTEM_ADMIN"
	AccessLineAdmin   AccessType = "LINE_ADMIN"
	AccessTaskMember  AccessType = "TASK_MEMBER"
	AccessNone        AccessType = "NO_ACCESS"
)

// User is the identity shape the resolver needs; the full user record lives
// with the directory collaborator.
type User struct {
	ID         string
	SystemRole string
}

// TaskMembership is an explicit per-task role assignment.
type TaskMembership struct {
	UserID string
	TaskID string
	Role   Role
}

// Directory is the identity-lookup collaborator. Line resolution for a task
// goes through an external code-mapping table owned outside this core.
type Directory interface {
	GetUser(ctx context.Context, id string) (User, error)
	GetLineRole(ctx context.Context, userID, lineID string) (Role, error)
	GetTaskMembership(ctx context.Context, userID, taskID string) (TaskMembership, error)
	ResolveLineForTask(ctx context.Context, taskID string) (string, error)
}

// Resolution describes how (if at all) a user may act on a task.
type Resolution struct {
	CanAccess  bool
	AccessType AccessType
	TaskRole   Role
	LineRole   Role
	LineID     string
}

// Resolver walks system role, line role and explicit task membership,
// short-circuiting on the first grant. It performs pure reads only.
type Resolver struct {
	dir Directory
}

// NewResolver constructs a Resolver.
func NewResolver(dir Directory) (*Resolver, error) {
	if dir == nil {
		return nil, errors.New("authz: directory is required")
	}
	return &Resolver{dir: dir}, nil
}

// Resolve determines the user's access to the task. A missing line mapping is
// not fatal: the walk proceeds to the explicit-membership check.
func (r *Resolver) Resolve(ctx context.Context, userID, taskID string) (Resolution, error) {
	userID = strings.TrimSpace(userID)
	taskID = strings.TrimSpace(taskID)
	if userID == "" || taskID == "" {
		return Resolution{}, fmt.Errorf("%w: user_id and task_id are required", ErrInvalidInput)
	}

	user, err := r.dir.GetUser(ctx, userID)
	if err != nil {
		return Resolution{}, err
	}
	if user.SystemRole == SystemRoleAdmin {
		return Resolution{CanAccess: true, AccessType: AccessSystemAdmin}, nil
	}

	res := Resolution{AccessType: AccessNone}

	lineID, err := r.dir.ResolveLineForTask(ctx, taskID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Resolution{}, err
	}
	if lineID != "" {
		res.LineID = lineID
		lineRole, err := r.dir.GetLineRole(ctx, userID, lineID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return Resolution{}, err
		}
		res.LineRole = lineRole
		// Partners and administrators act on every task in their line
		// without explicit membership.
		if lineRole == RolePartner || lineRole == RoleAdministrator {
			res.CanAccess = true
			res.AccessType = AccessLineAdmin
			return res, nil
		}
	}

	membership, err := r.dir.GetTaskMembership(ctx, userID, taskID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return res, nil
		}
		return Resolution{}, err
	}
	res.CanAccess = true
	res.AccessType = AccessTaskMember
	res.TaskRole = membership.Role
	return res, nil
}

// Authorize resolves access and additionally enforces a minimum task role.
// Line-admin and system-admin grants pass regardless of the requirement.
func (r *Resolver) Authorize(ctx context.Context, userID, taskID string, required Role) (Resolution, error) {
	res, err := r.Resolve(ctx, userID, taskID)
	if err != nil {
		return Resolution{}, err
	}
	if !res.CanAccess {
		return res, ErrForbidden
	}
	if res.AccessType == AccessTaskMember && !res.TaskRole.Satisfies(required) {
		res.CanAccess = false
		return res, ErrForbidden
	}
	return res, nil
}

// CanManage reports whether the user holds manager-level authority over the
// task, via system role, line role or task role.
func (r *Resolver) CanManage(ctx context.Context, userID, taskID string) (bool, error) {
	res, err := r.Resolve(ctx, userID, taskID)
	if err != nil {
		return false, err
	}
	switch res.AccessType {
	case AccessSystemAdmin:
		return true, nil
	case AccessLineAdmin:
		return true, nil
	case AccessTaskMember:
		if res.TaskRole.Satisfies(RoleManager) {
			return true, nil
		}
	}
	// The line role grants manage authority on its own; a manager on the
	// task's line needs no explicit membership row.
	return res.LineRole.Satisfies(RoleManager), nil
}

// CanModify is an alias for the manage-level contract; task mutation shares
// the same minimum role.
func (r *Resolver) CanModify(ctx context.Context, userID, taskID string) (bool, error) {
	return r.CanManage(ctx, userID, taskID)
}

// CanApproveAcceptance reports whether the user may sign off a client
// acceptance for the task. Sign-off authority is tied to the line, not the
// task team: task membership alone is never sufficient.
func (r *Resolver) CanApproveAcceptance(ctx context.Context, userID, taskID string) (bool, error) {
	return r.lineSignoff(ctx, userID, taskID)
}

// CanApproveEngagementLetter mirrors the acceptance contract for engagement
// letter sign-off.
func (r *Resolver) CanApproveEngagementLetter(ctx context.Context, userID, taskID string) (bool, error) {
	return r.lineSignoff(ctx, userID, taskID)
}

func (r *Resolver) lineSignoff(ctx context.Context, userID, taskID string) (bool, error) {
	res, err := r.Resolve(ctx, userID, taskID)
	if err != nil {
		return false, err
	}
	if res.AccessType == AccessSystemAdmin {
		return true, nil
	}
	return res.LineRole == RolePartner || res.LineRole == RoleAdministrator, nil
}
