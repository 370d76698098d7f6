// Package auth derives the session identity from the bearer token.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken is returned when no bearer token is configured.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrNoSubject is returned when the token does not name a user.
	ErrNoSubject = errors.New("token has no subject")
	// ErrExpired is returned when the token has already expired.
	ErrExpired = errors.New("token expired")
)

// Claims represents the JWT claims issued by the platform.
type Claims struct {
	jwt.RegisteredClaims
	Name  string   `json:"name"`
	Email string   `json:"email"`
	Scope []string `json:"scope"`
}

// Identity is the signed-in user of a chat session.
type Identity struct {
	UserID      string
	DisplayName string
	Email       string
	Token       string
	ExpiresAt   time.Time
}

// FromToken reads the identity out of a bearer token without verifying the
// signature. The service verifies it on every call; the client only needs
// to know who it is.
func FromToken(token string, now time.Time) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingToken
	}

	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Identity{}, fmt.Errorf("failed to parse token: %w", err)
	}
	if claims.Subject == "" {
		return Identity{}, ErrNoSubject
	}

	id := Identity{
		UserID:      claims.Subject,
		DisplayName: claims.Name,
		Email:       claims.Email,
		Token:       token,
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
		if !id.ExpiresAt.After(now) {
			return Identity{}, ErrExpired
		}
	}
	if id.DisplayName == "" {
		id.DisplayName = id.UserID
	}
	return id, nil
}
