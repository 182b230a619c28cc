package security

import "testing"

func TestCheckPermission(t *testing.T) {
	tests := []struct {
		role, method, path string
		want               bool
	}{
		{RoleOperator, "GET", "/api/health", true},
		{RoleOperator, "POST", "/api/chat", true},
		{RoleOperator, "POST", "/api/telemetry", true},
		{RoleOperator, "GET", "/mcp/info", true},
		{RoleViewer, "GET", "/api/requests", true},
		{RoleViewer, "GET", "/mcp/tools", true},
		{RoleViewer, "POST", "/api/action", false},
		{RoleViewer, "POST", "/api/chat", false},
		{RoleViewer, "DELETE", "/api/requests", false},
		{RoleViewer, "GET", "/other", true},
		{"owner", "GET", "/api/health", false},
		{"owner", "GET", "/other", false},
	}

	for _, tt := range tests {
		if got := CheckPermission(tt.role, tt.method, tt.path); got != tt.want {
			t.Errorf("CheckPermission(%s, %s, %s) = %v, want %v", tt.role, tt.method, tt.path, got, tt.want)
		}
	}
}

func TestIsValidRole(t *testing.T) {
	for _, r := range ValidRoles {
		if !IsValidRole(r) {
			t.Errorf("%s should be valid", r)
		}
	}
	if IsValidRole("") || IsValidRole("admin") {
		t.Error("unexpected valid role")
	}
}
