package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/five82/clanhub/internal/backend"
)

// ErrNoSession is returned by LoadSession when nothing has been stored.
var ErrNoSession = errors.New("no stored session")

// expiryMargin treats a token as expired slightly early so requests made
// right after the check do not race the expiry.
const expiryMargin = time.Minute

// Session is the persisted sign-in state.
type Session struct {
	AccessToken  string    `toml:"access_token"`
	RefreshToken string    `toml:"refresh_token"`
	ExpiresAt    time.Time `toml:"expires_at"`
	UserID       string    `toml:"user_id"`
	Email        string    `toml:"email"`
}

// SessionFromTokens builds a Session from an auth response. The expiry comes
// from expires_at, then expires_in, then the token's exp claim.
func SessionFromTokens(t backend.Tokens, now time.Time) Session {
	s := Session{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		UserID:       t.User.ID,
		Email:        t.User.Email,
	}
	switch {
	case t.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(t.ExpiresAt, 0).UTC()
	case t.ExpiresIn > 0:
		s.ExpiresAt = now.Add(time.Duration(t.ExpiresIn) * time.Second).UTC()
	default:
		if exp, ok := TokenExpiry(t.AccessToken); ok {
			s.ExpiresAt = exp.UTC()
		}
	}
	return s
}

// Expired reports whether the access token should be refreshed before use.
// A session with no known expiry is only expired when it has no token.
func (s Session) Expired(now time.Time) bool {
	if strings.TrimSpace(s.AccessToken) == "" {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(expiryMargin).Before(s.ExpiresAt)
}

// CanRefresh reports whether a refresh token is available.
func (s Session) CanRefresh() bool {
	return strings.TrimSpace(s.RefreshToken) != ""
}

// LoadSession reads a stored session. A missing file yields ErrNoSession.
func LoadSession(path string) (Session, error) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Session{}, ErrNoSession
		}
		return Session{}, fmt.Errorf("read session: %w", err)
	}
	var s Session
	if err := toml.Unmarshal(bytes, &s); err != nil {
		return Session{}, fmt.Errorf("parse session: %w", err)
	}
	if strings.TrimSpace(s.AccessToken) == "" && !s.CanRefresh() {
		return Session{}, ErrNoSession
	}
	return s, nil
}

// SaveSession writes the session readable only by the current user.
func SaveSession(path string, s Session) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("session path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	bytes, err := toml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := os.WriteFile(path, bytes, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("chmod session: %w", err)
	}
	return nil
}

// ClearSession removes the stored session. A missing file is not an error.
func ClearSession(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}
