package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// User represents an operator account on the admin surface. An empty
// TenantIDs list grants access to every tenant.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	TenantIDs []string  `json:"tenant_ids,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// APIKey represents a long-lived key for automation clients
type APIKey struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	UserID      string    `json:"user_id"`
	KeyPrefix   string    `json:"key_prefix"`
	KeyHash     string    `json:"-"` // Never serialized
	Permissions []string  `json:"permissions"`
	IsActive    bool      `json:"is_active"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastUsed    time.Time `json:"last_used,omitempty"`
}

// Role groups permissions under a name
type Role struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

// Permission describes one resource action
type Permission struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
}

// Claims are the JWT claims carried by session tokens
type Claims struct {
	UserID      string   `json:"user_id"`
	Username    string   `json:"username"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	TenantIDs   []string `json:"tenant_ids,omitempty"`
	jwt.RegisteredClaims
}

// CanAccessTenant reports whether the principal may touch the given tenant.
// Accounts with no tenant scope see everything.
func (c *Claims) CanAccessTenant(tenantID string) bool {
	if c == nil {
		return false
	}
	if len(c.TenantIDs) == 0 {
		return true
	}
	for _, id := range c.TenantIDs {
		if id == tenantID {
			return true
		}
	}
	return false
}

// LoginRequest is the login payload
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// CreateUserRequest is the account creation payload. TenantIDs confines the
// account to those tenants; leave it empty for an unscoped account.
type CreateUserRequest struct {
	Username  string   `json:"username"`
	Email     string   `json:"email"`
	Role      string   `json:"role"`
	Password  string   `json:"password"`
	TenantIDs []string `json:"tenant_ids,omitempty"`
}

// LoginResponse is returned on successful login
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
	User      User   `json:"user"`
}

// CreateAPIKeyRequest is the API key creation payload
type CreateAPIKeyRequest struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	ExpiresIn   int64    `json:"expires_in,omitempty"` // seconds
}

// CreateAPIKeyResponse returns the key value exactly once
type CreateAPIKeyResponse struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Key       string     `json:"key"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ChangePasswordRequest is the password change payload
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// PreDefinedRoles are the built-in roles
var PreDefinedRoles = map[string]Role{
	"admin": {
		Name:        "admin",
		Description: "Full access to all resources",
		Permissions: []string{"*:*"},
	},
	"operator": {
		Name:        "operator",
		Description: "Manage tenants and cycles, read everything else",
		Permissions: []string{
			"tenants:*", "cycles:*", "strategies:*",
			"profit:read", "events:read",
		},
	},
	"viewer": {
		Name:        "viewer",
		Description: "Read-only access to tenants, cycles and reports",
		Permissions: []string{
			"tenants:read", "cycles:read", "strategies:read",
			"profit:read", "events:read",
		},
	},
	"service": {
		Name:        "service",
		Description: "Automation access for triggering cycles and reading events",
		Permissions: []string{"cycles:write", "cycles:read", "events:read"},
	},
}

// PreDefinedPermissions lists every known permission
var PreDefinedPermissions = []Permission{
	{Name: "tenants:read", Description: "Read tenant configuration and status", Resource: "tenants", Action: "read"},
	{Name: "tenants:write", Description: "Create and modify tenants", Resource: "tenants", Action: "write"},
	{Name: "cycles:read", Description: "Read cycle state and history", Resource: "cycles", Action: "read"},
	{Name: "cycles:write", Description: "Trigger, override and cancel cycles", Resource: "cycles", Action: "write"},
	{Name: "strategies:read", Description: "Read strategy cache and patterns", Resource: "strategies", Action: "read"},
	{Name: "strategies:write", Description: "Evict and rebuild strategy entries", Resource: "strategies", Action: "write"},
	{Name: "profit:read", Description: "Read profit ledgers and KPI reports", Resource: "profit", Action: "read"},
	{Name: "events:read", Description: "Read and stream orchestration events", Resource: "events", Action: "read"},
	{Name: "users:read", Description: "Read user accounts", Resource: "users", Action: "read"},
	{Name: "users:write", Description: "Create and modify user accounts", Resource: "users", Action: "write"},
	{Name: "*:*", Description: "All permissions", Resource: "*", Action: "*"},
}
