// Package auth provides anonymous sessions. A session is an explicit value
// handed to whoever needs it; there is no process-wide current user.
package auth

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAuth means the anonymous sign-in failed.
	ErrAuth = errors.New("anonymous sign-in failed")
	// ErrInvalidToken means a presented token is malformed, forged or expired.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrMissingToken means no token was presented.
	ErrMissingToken = errors.New("authorization token required")
)

// Session is an authenticated anonymous identity.
type Session struct {
	UserID      string    `json:"user_id"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Valid reports whether the session exists and has not expired at now.
func (s *Session) Valid(now time.Time) bool {
	return s != nil && s.AccessToken != "" && now.Before(s.ExpiresAt)
}

// Authenticator is the identity service used to bootstrap a session.
type Authenticator interface {
	// SignInAnonymously creates a new anonymous identity
	SignInAnonymously(ctx context.Context) (*Session, error)
}

type contextKey struct{}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the session stored by WithSession, or nil.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(contextKey{}).(*Session)
	return s
}
