package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// errInvalidCredentials is deliberately identical for unknown users and
// wrong passwords so login errors don't reveal which usernames exist.
var errInvalidCredentials = fmt.Errorf("invalid username or password")

// Manager owns users, sessions and API keys for the admin surface. State
// lives in memory; the default admin account is reseeded on every start.
type Manager struct {
	jwtSecret string
	tokenTTL  time.Duration

	mu        sync.RWMutex
	users     map[string]*User     // userID -> User
	passwords map[string]string    // userID -> bcrypt hash
	apiKeys   map[string]*APIKey   // keyID -> APIKey
	revoked   map[string]time.Time // sha256(token) -> token expiry
	roles     map[string]Role      // roleName -> Role
}

// NewManager creates an auth manager seeded with the built-in roles and the
// default admin account (password "admin").
func NewManager(jwtSecret string) *Manager {
	if jwtSecret == "" {
		jwtSecret = generateRandomSecret(32)
		log.Printf("[Auth] No JWT secret configured, generated an ephemeral one (sessions will not survive restart)")
	}

	m := &Manager{
		jwtSecret: jwtSecret,
		tokenTTL:  24 * time.Hour,
		users:     make(map[string]*User),
		passwords: make(map[string]string),
		apiKeys:   make(map[string]*APIKey),
		revoked:   make(map[string]time.Time),
		roles:     make(map[string]Role),
	}
	for name, role := range PreDefinedRoles {
		m.roles[name] = role
	}

	now := time.Now()
	admin := &User{
		ID:        "user-admin",
		Username:  "admin",
		Email:     "admin@venture.local",
		Role:      "admin",
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	hash, _ := bcrypt.GenerateFromPassword([]byte("admin"), bcrypt.DefaultCost)
	m.users[admin.ID] = admin
	m.passwords[admin.ID] = string(hash)

	return m
}

// Login authenticates a user and returns a fresh session token.
func (m *Manager) Login(username, password string) (*LoginResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user := m.findUserLocked(username)
	if user == nil {
		return nil, errInvalidCredentials
	}
	hash, ok := m.passwords[user.ID]
	if !ok {
		return nil, errInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, errInvalidCredentials
	}

	token, err := m.signToken(user)
	if err != nil {
		return nil, err
	}
	return &LoginResponse{
		Token:     token,
		ExpiresIn: int64(m.tokenTTL.Seconds()),
		User:      *user,
	}, nil
}

// findUserLocked returns the active user with the given username, or nil.
func (m *Manager) findUserLocked(username string) *User {
	for _, u := range m.users {
		if u.Username == username && u.IsActive {
			return u
		}
	}
	return nil
}

// GenerateToken issues a session token for a user outside the login flow
// (token refresh).
func (m *Manager) GenerateToken(user *User) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.signToken(user)
}

// signToken builds and signs the JWT. Callers hold at least a read lock.
func (m *Manager) signToken(user *User) (string, error) {
	role, ok := m.roles[user.Role]
	if !ok {
		return "", fmt.Errorf("unknown role: %s", user.Role)
	}

	// The random jti keeps every token distinct even within one second, so
	// revoking one session never touches another.
	now := time.Now()
	claims := &Claims{
		UserID:      user.ID,
		Username:    user.Username,
		Role:        user.Role,
		Permissions: role.Permissions,
		TenantIDs:   user.TenantIDs,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        generateRandomID(),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "venture",
			Subject:   user.ID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.jwtSecret))
}

// ValidateToken verifies signature, expiry and issuer, then checks the
// revocation list. Expiry is enforced by the parser itself.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			return []byte(m.jwtSecret), nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer("venture"),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	m.mu.RLock()
	_, isRevoked := m.revoked[tokenDigest(tokenString)]
	m.mu.RUnlock()
	if isRevoked {
		return nil, fmt.Errorf("token revoked")
	}

	return claims, nil
}

// RevokeToken invalidates one session token for the rest of its lifetime.
// The revocation list holds token digests, so raw tokens are never retained,
// and expired digests are pruned on each call.
func (m *Manager) RevokeToken(tokenString string) error {
	claims, err := m.ValidateToken(tokenString)
	if err != nil {
		return err
	}

	expiry := time.Now().Add(m.tokenTTL)
	if claims.ExpiresAt != nil {
		expiry = claims.ExpiresAt.Time
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for digest, exp := range m.revoked {
		if now.After(exp) {
			delete(m.revoked, digest)
		}
	}
	m.revoked[tokenDigest(tokenString)] = expiry
	log.Printf("[Auth] Session revoked for user %s", claims.Username)
	return nil
}

func tokenDigest(tokenString string) string {
	sum := sha256.Sum256([]byte(tokenString))
	return fmt.Sprintf("%x", sum)
}

// CreateAPIKey mints a long-lived key for automation clients. The key value
// is returned exactly once; only its bcrypt hash is stored.
func (m *Manager) CreateAPIKey(userID string, req CreateAPIKeyRequest) (*CreateAPIKeyResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return nil, fmt.Errorf("user not found")
	}

	keyID := generateRandomID()
	keyValue := "vnt_" + generateRandomSecret(32)
	keyPrefix := keyValue[:12]
	keyHash, err := bcrypt.GenerateFromPassword([]byte(keyValue), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash API key: %w", err)
	}

	var expiresAt *time.Time
	var expiresAtValue time.Time
	if req.ExpiresIn > 0 {
		exp := time.Now().Add(time.Duration(req.ExpiresIn) * time.Second)
		expiresAt = &exp
		expiresAtValue = exp
	}

	m.apiKeys[keyID] = &APIKey{
		ID:          keyID,
		Name:        req.Name,
		UserID:      userID,
		KeyPrefix:   keyPrefix,
		KeyHash:     string(keyHash),
		Permissions: req.Permissions,
		IsActive:    true,
		ExpiresAt:   expiresAtValue,
		CreatedAt:   time.Now(),
	}

	log.Printf("[Auth] Created API key %s for user %s", keyPrefix, user.Username)

	return &CreateAPIKeyResponse{
		ID:        keyID,
		Name:      req.Name,
		Key:       keyValue, // Only returned once!
		ExpiresAt: expiresAt,
	}, nil
}

// ListAPIKeys returns all active API keys for a user (hashes never included)
func (m *Manager) ListAPIKeys(userID string) []*APIKey {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []*APIKey
	for _, k := range m.apiKeys {
		if k.UserID == userID && k.IsActive {
			keys = append(keys, k)
		}
	}
	return keys
}

// RevokeAPIKey marks an API key as inactive
func (m *Manager) RevokeAPIKey(keyID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k, ok := m.apiKeys[keyID]
	if !ok || k.UserID != userID {
		return fmt.Errorf("API key not found")
	}
	k.IsActive = false
	return nil
}

// ValidateAPIKey resolves a key value to its owner and permissions. The
// stored prefix narrows the bcrypt comparison to the one candidate key, so
// validation stays cheap as keys accumulate.
func (m *Manager) ValidateAPIKey(keyValue string) (string, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range m.apiKeys {
		if !k.IsActive || !strings.HasPrefix(keyValue, k.KeyPrefix) {
			continue
		}
		if !k.ExpiresAt.IsZero() && time.Now().After(k.ExpiresAt) {
			continue
		}
		if err := bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(keyValue)); err != nil {
			continue
		}
		k.LastUsed = time.Now()
		return k.UserID, k.Permissions, nil
	}

	return "", nil, fmt.Errorf("invalid API key")
}

// ChangePassword changes a user's password
func (m *Manager) ChangePassword(userID, oldPassword, newPassword string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("user not found")
	}
	hash, ok := m.passwords[userID]
	if !ok {
		return fmt.Errorf("password not set")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(oldPassword)); err != nil {
		return fmt.Errorf("incorrect password")
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	m.passwords[userID] = string(newHash)
	user.UpdatedAt = time.Now()

	log.Printf("[Auth] Password changed for user %s", user.Username)
	return nil
}

// CreateUser adds an operator account. An empty TenantIDs list grants
// access to every tenant; a non-empty list confines the account to those
// tenants on all tenant-scoped endpoints.
func (m *Manager) CreateUser(req CreateUserRequest) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if req.Username == "" || req.Password == "" {
		return nil, fmt.Errorf("username and password are required")
	}
	if m.findUserLocked(req.Username) != nil {
		return nil, fmt.Errorf("username already exists")
	}
	if _, ok := m.roles[req.Role]; !ok {
		return nil, fmt.Errorf("unknown role: %s", req.Role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	user := &User{
		ID:        generateRandomID(),
		Username:  req.Username,
		Email:     req.Email,
		Role:      req.Role,
		TenantIDs: append([]string(nil), req.TenantIDs...),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.users[user.ID] = user
	m.passwords[user.ID] = string(hash)

	if len(user.TenantIDs) > 0 {
		log.Printf("[Auth] Created user %s with role %s (scoped to %d tenants)", user.Username, user.Role, len(user.TenantIDs))
	} else {
		log.Printf("[Auth] Created user %s with role %s", user.Username, user.Role)
	}
	return user, nil
}

// GetUser retrieves a user by ID
func (m *Manager) GetUser(userID string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[userID]
	if !ok {
		return nil, fmt.Errorf("user not found")
	}
	return user, nil
}

// ListUsers lists all users, ordered by username.
func (m *Manager) ListUsers() []*User {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users
}

// HasPermission reports whether the claims grant a permission, honoring the
// "*:*" and "resource:*" wildcards.
func (m *Manager) HasPermission(claims *Claims, permission string) bool {
	resource, _, _ := strings.Cut(permission, ":")
	for _, p := range claims.Permissions {
		switch p {
		case permission, "*:*", resource + ":*":
			return true
		}
	}
	return false
}

// generateRandomID generates a random ID
func generateRandomID() string {
	return fmt.Sprintf("id-%s", generateRandomSecret(12))
}

// generateRandomSecret generates a random hex string
func generateRandomSecret(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		panic(err)
	}
	return fmt.Sprintf("%x", bytes)
}
