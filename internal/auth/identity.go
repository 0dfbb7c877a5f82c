// Package auth exposes the current-user capability: who the configured token
// says we are, and whether it is still usable. Token issuance and sign-in
// happen elsewhere; the client only inspects what it was given.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoToken is returned when no token is configured.
var ErrNoToken = errors.New("auth: no token configured")

// Identity is the user identity carried by an access token.
type Identity struct {
	Subject   string
	Email     string
	ExpiresAt time.Time
}

// FromToken extracts the identity claims from a bearer token. The signature
// is deliberately not verified here. The backend is the verifier; the
// client only needs display identity and expiry warnings.
func FromToken(raw string) (*Identity, error) {
	if raw == "" {
		return nil, ErrNoToken
	}

	claims := jwt.MapClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(raw, claims)
	if err != nil {
		return nil, fmt.Errorf("auth.FromToken: %w", err)
	}

	id := &Identity{}
	if sub, err := claims.GetSubject(); err == nil {
		id.Subject = sub
	}
	if email, ok := claims["email"].(string); ok {
		id.Email = email
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}
	return id, nil
}

// Expired reports whether the token has an expiry in the past.
func (i *Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && i.ExpiresAt.Before(now)
}

// Display returns the best human-readable name for the identity.
func (i *Identity) Display() string {
	if i.Email != "" {
		return i.Email
	}
	if i.Subject != "" {
		return i.Subject
	}
	return "anonymous"
}
