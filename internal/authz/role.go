package authz

import "strings"

// Role is the single privilege vocabulary shared by line-of-business
// assignments and task memberships. Historically tasks carried their own
// names (viewer/editor/reviewer/admin); those are folded into this ladder
// at parse time so every comparison runs against one rank table.
type Role string

const (
	RoleViewer        Role = "viewer"
	RoleUser          Role = "user"
	RoleSupervisor    Role = "supervisor"
	RoleManager       Role = "manager"
	RolePartner       Role = "partner"
	RoleAdministrator Role = "administrator"
)

// System-wide roles sit above the ladder. SystemAdmin passes every check
// unconditionally.
const (
	SystemRoleUser  = "user"
	SystemRoleAdmin = "system_admin"
)

// roleRanks is the ladder's fixed index. Unknown roles rank 0 and therefore
// never satisfy a requirement above the bottom of the ladder (fail closed).
var roleRanks = map[Role]int{
	RoleViewer:        1,
	RoleUser:          2,
	RoleSupervisor:    3,
	RoleManager:       4,
	RolePartner:       5,
	RoleAdministrator: 6,
}

// legacyTaskRoles maps the retired task-role vocabulary onto the ladder.
var legacyTaskRoles = map[string]Role{
	"editor":   RoleUser,
	"reviewer": RoleSupervisor,
	"admin":    RoleAdministrator,
}

// ParseRole normalizes a stored role string, translating legacy task-role
// names. Unrecognized values come back unchanged and rank 0.
func ParseRole(raw string) Role {
	normalized := strings.TrimSpace(strings.ToLower(raw))
	if _, ok := roleRanks[Role(normalized)]; ok {
		return Role(normalized)
	}
	if mapped, ok := legacyTaskRoles[normalized]; ok {
		return mapped
	}
	return Role(normalized)
}

// Rank returns the ladder index of the role; 0 for anything off the ladder.
func (r Role) Rank() int {
	return roleRanks[r]
}

// Known reports whether the role is on the ladder.
func (r Role) Known() bool {
	_, ok := roleRanks[r]
	return ok
}

// Satisfies reports whether the role meets the required privilege level.
func (r Role) Satisfies(required Role) bool {
	return r.Rank() >= required.Rank()
}

// HighestOf returns the greatest-ranked role in the list. Users holding
// several line assignments are treated as their single highest role; the
// zero Role is returned for an empty list.
func HighestOf(roles []Role) Role {
	var best Role
	for _, r := range roles {
		if r.Rank() > best.Rank() {
			best = r
		}
	}
	return best
}
