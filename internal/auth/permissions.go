package auth

import "slices"

// Permission names one thing a caller may do.
type Permission string

const (
	PermGraphRead   Permission = "graph:read"
	PermHistoryRead Permission = "history:read"
	PermGraphPatch  Permission = "graph:patch"
	PermGraphResync Permission = "graph:resync"
	// PermSystemAdmin covers the audit trail.
	PermSystemAdmin Permission = "system:admin"
)

// Roles form a ladder: each one holds everything the role below it holds.
var (
	viewerPerms   = []Permission{PermGraphRead, PermHistoryRead}
	operatorPerms = append(slices.Clip(viewerPerms), PermGraphPatch)
	adminPerms    = append(slices.Clip(operatorPerms), PermGraphResync, PermSystemAdmin)

	rolePermissions = map[Role][]Permission{
		RoleViewer:   viewerPerms,
		RoleOperator: operatorPerms,
		RoleAdmin:    adminPerms,
	}
)

// HasPermission reports whether role grants perm. Unknown roles grant nothing.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(rolePermissions[role], perm)
}

// PermissionsForRole returns a copy of what role grants, or nil for an
// unknown role.
func PermissionsForRole(role Role) []Permission {
	return slices.Clone(rolePermissions[role])
}
