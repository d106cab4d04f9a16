// Package auth resolves the signed-in viewer and persists the session tokens
// between runs.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Viewer identifies who the client is acting for.
type Viewer struct {
	ID         string
	Email      string
	Privileged bool
}

// Anonymous reports whether no user is signed in.
func (v Viewer) Anonymous() bool {
	return strings.TrimSpace(v.ID) == ""
}

// WithRole marks the viewer privileged when role names the admin role.
// A non-admin role never revokes privilege granted by the token.
func (v Viewer) WithRole(role string) Viewer {
	if IsAdminRole(role) {
		v.Privileged = true
	}
	return v
}

// IsAdminRole reports whether role is the admin role.
func IsAdminRole(role string) bool {
	return strings.EqualFold(strings.TrimSpace(role), "admin")
}

type tokenClaims struct {
	Email       string      `json:"email"`
	UserRole    string      `json:"user_role"`
	AppMetadata appMetadata `json:"app_metadata"`
	jwt.RegisteredClaims
}

type appMetadata struct {
	Role  string   `json:"role"`
	Roles []string `json:"roles"`
}

// ViewerFromToken reads the viewer from an access token's claims. The
// signature is not verified: the client never holds the signing secret and
// the backend enforces access on every request.
func ViewerFromToken(accessToken string) (Viewer, error) {
	claims, err := parseClaims(accessToken)
	if err != nil {
		return Viewer{}, err
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return Viewer{}, errors.New("access token has no subject")
	}
	v := Viewer{ID: subject, Email: strings.TrimSpace(claims.Email)}
	v = v.WithRole(claims.UserRole).WithRole(claims.AppMetadata.Role)
	for _, role := range claims.AppMetadata.Roles {
		v = v.WithRole(role)
	}
	return v, nil
}

// TokenExpiry returns the exp claim of an access token, if any.
func TokenExpiry(accessToken string) (time.Time, bool) {
	claims, err := parseClaims(accessToken)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

func parseClaims(accessToken string) (*tokenClaims, error) {
	trimmed := strings.TrimSpace(accessToken)
	if trimmed == "" {
		return nil, errors.New("access token is empty")
	}
	claims := &tokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(trimmed, claims); err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}
	return claims, nil
}
