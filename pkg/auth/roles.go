package auth

import (
	"github.com/rotisserie/eris"
	"github.com/zpatrick/rbac"
)

// ErrInvalidRole is returned if the current operator has an invalid role
var ErrInvalidRole = eris.New("invalid operator role")
var roles map[string]rbac.Role

type Permission string

const (
	// Reports [takes ReportBag]
	PermViewReport     Permission = "ViewReport"
	PermGenerateReport Permission = "GenerateReport"

	// Summary endpoint [takes no bag]
	PermViewSummary Permission = "ViewSummary"
)

// perm is a helper that makes the permissions list below a bit nicer to read
func perm(permission Permission, matcher rbac.Matcher) rbac.Permission {
	return rbac.NewPermission(rbac.StringMatch(string(permission)), matcher)
}

// Init prepares static objects used throughout the lifecycle
func Init() {
	roles = map[string]rbac.Role{
		"viewer": {
			RoleID: "viewer",
			Permissions: []rbac.Permission{
				// viewers can fetch the served workbooks and the JSON summary
				perm(PermViewReport, knownReportKind()),
				perm(PermViewSummary, rbac.Anything),
			},
		},
		"operator": {
			RoleID: "operator",
			Permissions: []rbac.Permission{
				perm(PermViewReport, knownReportKind()),
				perm(PermViewSummary, rbac.Anything),

				// operators may also write workbooks into the reports directory
				perm(PermGenerateReport, knownReportKind()),
			},
		},
		"admin": {
			RoleID: "admin",
			Permissions: []rbac.Permission{
				// admins can do anything
				rbac.NewGlobPermission("*", "*"),
			},
		},
	}
}

// getRbacRole returns the matching rbac.Role for the given role ID
func getRbacRole(roleID string) (rbac.Role, error) {
	role, ok := roles[roleID]
	if !ok {
		return rbac.Role{}, eris.Wrapf(ErrInvalidRole, ": %s", roleID)
	}

	return role, nil
}
