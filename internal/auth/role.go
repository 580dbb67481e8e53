package auth

import "fmt"

// Role represents operator authorization levels.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer"
)

// ValidRoles contains all valid role values.
var ValidRoles = map[Role]bool{
	RoleAdmin:  true,
	RoleViewer: true,
}

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !ValidRoles[r] {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// CanWrite reports whether the role may change monitoring state.
func (r Role) CanWrite() bool {
	return r == RoleAdmin
}
