package auth

import "errors"

// Role represents an authorisation tier in the system.
type Role string

const (
	// RoleViewer can read the graph and its history. Canvas displays and
	// dashboards use this role.
	RoleViewer Role = "viewer"

	// RoleOperator can additionally make and break connections.
	RoleOperator Role = "operator"

	// RoleAdmin can do everything, including forcing a full resync.
	RoleAdmin Role = "admin"
)

// ValidRoles is the set of roles a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleAdmin}

// IsValidRole returns true if r is one of ValidRoles.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Sentinel errors for auth operations.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrInvalidRole  = errors.New("invalid role")
	ErrForbidden    = errors.New("insufficient permissions")
)
