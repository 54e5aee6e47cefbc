// Package auth resolves opaque bearer tokens to users. Identity
// management itself (registration, passwords) is an external
// collaborator; this package only answers "whose token is this".
package auth

import (
	"strings"
	"sync"
)

// Role gates admin-only operations.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// User is the authenticated caller attached to a request.
type User struct {
	ID       string
	Username string
	Role     Role
}

// IsAdmin reports whether the user may call admin endpoints.
func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

// Authenticator resolves a bearer token to a user.
type Authenticator interface {
	Authenticate(token string) (User, bool)
}

// StaticAuthenticator is a token table seeded at startup. Suitable for a
// closed venue where an external system issues tokens.
type StaticAuthenticator struct {
	mu      sync.RWMutex
	byToken map[string]User
}

// NewStatic creates an empty token table.
func NewStatic() *StaticAuthenticator {
	return &StaticAuthenticator{byToken: make(map[string]User)}
}

// Register associates a token with a user.
func (a *StaticAuthenticator) Register(token string, u User) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byToken[token] = u
}

func (a *StaticAuthenticator) Authenticate(token string) (User, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	u, ok := a.byToken[token]
	return u, ok
}

// BearerToken extracts the token from an Authorization header value.
// Returns "" when the header is missing or not a bearer scheme.
func BearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}
