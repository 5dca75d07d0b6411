package authz

// Capability keys gate page and route entry. The table below is static and
// read-only after process start; lookups never touch the database.
const (
	CapManageUsers       = "manage-users"
	CapManageLines       = "manage-lines"
	CapManageTasks       = "manage-tasks"
	CapViewReports       = "view-reports"
	CapAccessVault       = "access-document-vault"
	CapManageTemplates   = "manage-templates"
	CapApproveAcceptance = "approve-acceptance"
	CapApproveLetters    = "approve-engagement-letters"
	CapRaiseReviewNotes  = "raise-review-notes"
	CapClearReviewNotes  = "clear-review-notes"
)

var allCapabilities = []string{
	CapManageUsers,
	CapManageLines,
	CapManageTasks,
	CapViewReports,
	CapAccessVault,
	CapManageTemplates,
	CapApproveAcceptance,
	CapApproveLetters,
	CapRaiseReviewNotes,
	CapClearReviewNotes,
}

// capabilityTable maps each ladder role to its hand-curated capability set.
// Capabilities are not unioned across a user's line assignments: the lookup
// runs against the single highest role the user holds.
var capabilityTable = map[Role]map[string]struct{}{
	RoleViewer: capSet(),
	RoleUser: capSet(
		CapAccessVault,
	),
	RoleSupervisor: capSet(
		CapAccessVault,
		CapRaiseReviewNotes,
	),
	RoleManager: capSet(
		CapAccessVault,
		CapRaiseReviewNotes,
		CapClearReviewNotes,
		CapManageTasks,
		CapViewReports,
	),
	RolePartner: capSet(
		CapAccessVault,
		CapRaiseReviewNotes,
		CapClearReviewNotes,
		CapManageTasks,
		CapViewReports,
		CapApproveAcceptance,
		CapApproveLetters,
		CapManageTemplates,
	),
	RoleAdministrator: capSet(
		CapAccessVault,
		CapRaiseReviewNotes,
		CapClearReviewNotes,
		CapManageTasks,
		CapViewReports,
		CapApproveAcceptance,
		CapApproveLetters,
		CapManageTemplates,
		CapManageUsers,
		CapManageLines,
	),
}

func capSet(keys ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

// HasCapability is a pure set-membership test against the role's grants.
// The system_admin pseudo-role maps to the full capability universe.
func HasCapability(systemRole string, role Role, capability string) bool {
	if systemRole == SystemRoleAdmin {
		for _, c := range allCapabilities {
			if c == capability {
				return true
			}
		}
		return false
	}
	grants, ok := capabilityTable[role]
	if !ok {
		return false
	}
	_, ok = grants[capability]
	return ok
}

// Capabilities returns the sorted-by-table capability list for display.
func Capabilities(systemRole string, role Role) []string {
	var out []string
	for _, c := range allCapabilities {
		if HasCapability(systemRole, role, c) {
			out = append(out, c)
		}
	}
	return out
}
