package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

type claimsContextKey struct{}

// WithClaims stores validated claims in a request context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// ClaimsFromContext returns the claims stored in context, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsContextKey{}).(*Claims)
	return claims
}

// GetUserIDFromRequest returns the authenticated user ID, or "" if unauthenticated.
func GetUserIDFromRequest(r *http.Request) string {
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		return claims.UserID
	}
	return ""
}

// GetRoleFromRequest returns the authenticated user's role, or "" if unauthenticated.
func GetRoleFromRequest(r *http.Request) string {
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		return claims.Role
	}
	return ""
}

// Middleware validates the request's credentials and attaches claims to the
// context. Accepts either "Authorization: Bearer <jwt>" or an "X-API-Key"
// header. Requests without valid credentials are rejected with 401.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.authenticate(r)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// RequirePermission wraps a handler so it only runs when the authenticated
// principal holds the given permission (wildcards included).
func (m *Manager) RequirePermission(permission string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFromContext(r.Context())
		if claims == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if !m.HasPermission(claims, permission) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func (m *Manager) authenticate(r *http.Request) (*Claims, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		tokenString := strings.TrimPrefix(header, "Bearer ")
		if tokenString != header {
			return m.ValidateToken(tokenString)
		}
	}

	if key := r.Header.Get("X-API-Key"); key != "" {
		userID, permissions, err := m.ValidateAPIKey(key)
		if err != nil {
			return nil, err
		}
		user, err := m.GetUser(userID)
		if err != nil {
			return nil, err
		}
		// API keys inherit the owner's tenant confinement; a scoped user
		// cannot mint a key that sees more than they do.
		return &Claims{
			UserID:      user.ID,
			Username:    user.Username,
			Role:        user.Role,
			Permissions: permissions,
			TenantIDs:   user.TenantIDs,
		}, nil
	}

	return nil, fmt.Errorf("no credentials provided")
}
