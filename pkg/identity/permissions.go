package identity

import "github.com/dentage-research/platform/pkg/common/models"

// Operations gated by role. The PI only ever sees the blinded surface.
const (
	OpManagePatients  = "manage_patients"
	OpAssignCodes     = "assign_codes"
	OpViewBlinded     = "view_blinded"
	OpSubmitEstimates = "submit_estimates"
	OpViewAnalysis    = "view_analysis"
	OpImportExport    = "import_export"
	OpViewMethods     = "view_methods"
)

var rolePermissions = map[models.Role]map[string]bool{
	models.RoleSupervisor: {
		OpManagePatients:  true,
		OpAssignCodes:     true,
		OpViewBlinded:     true,
		OpSubmitEstimates: true,
		OpViewAnalysis:    true,
		OpImportExport:    true,
		OpViewMethods:     true,
	},
	models.RolePI: {
		OpViewBlinded:     true,
		OpSubmitEstimates: true,
		OpViewMethods:     true,
	},
}

func Allows(role models.Role, op string) bool {
	perms, ok := rolePermissions[role]
	return ok && perms[op]
}
