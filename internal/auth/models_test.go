package auth

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestPreDefinedRolesExist(t *testing.T) {
	expectedRoles := []string{"admin", "operator", "viewer", "service"}

	for _, name := range expectedRoles {
		role, ok := PreDefinedRoles[name]
		if !ok {
			t.Errorf("missing predefined role %q", name)
			continue
		}
		if role.Name != name {
			t.Errorf("role %q has Name %q", name, role.Name)
		}
		if len(role.Permissions) == 0 {
			t.Errorf("role %q has no permissions", name)
		}
	}
}

func TestAdminRoleHasWildcard(t *testing.T) {
	admin := PreDefinedRoles["admin"]

	found := false
	for _, p := range admin.Permissions {
		if p == "*:*" {
			found = true
		}
	}
	if !found {
		t.Error("admin role should carry the *:* wildcard")
	}
}

func TestViewerRoleIsReadOnly(t *testing.T) {
	viewer := PreDefinedRoles["viewer"]

	for _, p := range viewer.Permissions {
		if !strings.HasSuffix(p, ":read") {
			t.Errorf("viewer permission %q is not read-only", p)
		}
	}
}

func TestOperatorCanWriteCycles(t *testing.T) {
	operator := PreDefinedRoles["operator"]

	hasCycles := false
	for _, p := range operator.Permissions {
		if p == "cycles:*" || p == "cycles:write" {
			hasCycles = true
		}
	}
	if !hasCycles {
		t.Error("operator role should be able to write cycles")
	}
}

func TestPreDefinedPermissionsCoverCoreResources(t *testing.T) {
	resources := []string{"tenants", "cycles", "strategies", "profit", "events"}

	for _, resource := range resources {
		found := false
		for _, p := range PreDefinedPermissions {
			if strings.HasPrefix(p.Name, resource+":") {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("no predefined permission for resource %q", resource)
		}
	}
}

func TestClaimsCanAccessTenant(t *testing.T) {
	tests := []struct {
		name     string
		claims   *Claims
		tenantID string
		want     bool
	}{
		{"nil claims", nil, "t-1", false},
		{"unscoped sees everything", &Claims{}, "t-1", true},
		{"scoped to matching tenant", &Claims{TenantIDs: []string{"t-1", "t-2"}}, "t-2", true},
		{"scoped to other tenants", &Claims{TenantIDs: []string{"t-1", "t-2"}}, "t-3", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.claims.CanAccessTenant(tt.tenantID); got != tt.want {
				t.Errorf("CanAccessTenant(%q) = %v, want %v", tt.tenantID, got, tt.want)
			}
		})
	}
}

func TestUserJSONOmitsNothingSensitive(t *testing.T) {
	user := User{
		ID:        "user-1",
		Username:  "ops",
		Email:     "ops@venture.local",
		Role:      "operator",
		IsActive:  true,
		CreatedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(user)
	if err != nil {
		t.Fatalf("marshal user: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal user: %v", err)
	}

	if decoded["username"] != "ops" {
		t.Errorf("username = %v, want ops", decoded["username"])
	}
	if decoded["role"] != "operator" {
		t.Errorf("role = %v, want operator", decoded["role"])
	}
}

func TestAPIKeyHashNeverSerialized(t *testing.T) {
	key := APIKey{
		ID:        "key-1",
		Name:      "ci",
		UserID:    "user-1",
		KeyPrefix: "vnt_0123abcd",
		KeyHash:   "$2a$10$secret-hash",
		IsActive:  true,
		CreatedAt: time.Now(),
	}

	data, err := json.Marshal(key)
	if err != nil {
		t.Fatalf("marshal api key: %v", err)
	}

	if strings.Contains(string(data), "secret-hash") {
		t.Error("API key hash leaked into JSON output")
	}
	if !strings.Contains(string(data), "vnt_0123abcd") {
		t.Error("API key prefix should be serialized for display")
	}
}

func TestLoginResponseShape(t *testing.T) {
	resp := LoginResponse{
		Token:     "jwt-token",
		ExpiresIn: 86400,
		User:      User{ID: "user-1", Username: "admin"},
	}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal login response: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal login response: %v", err)
	}

	if decoded["token"] != "jwt-token" {
		t.Errorf("token = %v", decoded["token"])
	}
	if decoded["expires_in"] != float64(86400) {
		t.Errorf("expires_in = %v", decoded["expires_in"])
	}
}
