package security

import (
	"strings"
)

// Roles
const (
	// RoleOperator may chat with the orchestrator and publish requests.
	RoleOperator = "operator"
	// RoleViewer may only read status and the journal.
	RoleViewer = "viewer"
)

// ValidRoles lists all valid roles.
var ValidRoles = []string{RoleOperator, RoleViewer}

// IsValidRole reports whether role is known.
func IsValidRole(role string) bool {
	for _, r := range ValidRoles {
		if r == role {
			return true
		}
	}
	return false
}

// routePermission defines which roles can access a method+path prefix.
type routePermission struct {
	Method string // HTTP method or "*" for any
	Prefix string
	Roles  []string
}

// permissions is checked in order; first match wins.
var permissions = []routePermission{
	{Method: "GET", Prefix: "/api/", Roles: []string{RoleOperator, RoleViewer}},
	{Method: "GET", Prefix: "/mcp/", Roles: []string{RoleOperator, RoleViewer}},
	{Method: "*", Prefix: "/api/", Roles: []string{RoleOperator}},
	{Method: "*", Prefix: "/mcp/", Roles: []string{RoleOperator}},
}

// CheckPermission reports whether role may call method on path. Paths
// outside the table are open to any authenticated role.
func CheckPermission(role, method, path string) bool {
	for _, perm := range permissions {
		if !strings.HasPrefix(path, perm.Prefix) {
			continue
		}
		if perm.Method != "*" && perm.Method != method {
			continue
		}
		for _, r := range perm.Roles {
			if r == role {
				return true
			}
		}
		return false
	}
	return IsValidRole(role)
}
