package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/five82/clanhub/internal/auth"
	"github.com/five82/clanhub/internal/backend"
	"github.com/five82/clanhub/internal/model"
)

// Authenticator is the auth surface of the backend. *backend.Client implements it.
type Authenticator interface {
	SignIn(ctx context.Context, email, password string) (backend.Tokens, error)
	RefreshSession(ctx context.Context, refreshToken string) (backend.Tokens, error)
	SignOut(ctx context.Context) error
	SetAccessToken(token string)
}

var _ Authenticator = (*backend.Client)(nil)

// Credentials are used when no usable stored session exists.
type Credentials struct {
	Email    string
	Password string
}

// ErrNotSignedIn is returned when there is no session and no credentials.
var ErrNotSignedIn = errors.New("not signed in (pass -email and set CLANHUB_PASSWORD)")

var now = time.Now

// establishSession restores the stored session, refreshing it when expired,
// or signs in with creds. The resulting session is saved and its access
// token installed on a.
func establishSession(ctx context.Context, a Authenticator, sessionPath string, creds Credentials) (auth.Session, error) {
	stored, err := auth.LoadSession(sessionPath)
	switch {
	case err == nil:
		if !stored.Expired(now()) {
			a.SetAccessToken(stored.AccessToken)
			return stored, nil
		}
		if stored.CanRefresh() {
			tokens, rerr := a.RefreshSession(ctx, stored.RefreshToken)
			if rerr == nil {
				return saveTokens(a, sessionPath, tokens)
			}
			log.Printf("session refresh failed: %v", rerr)
		}
	case errors.Is(err, auth.ErrNoSession):
	default:
		log.Printf("ignoring unreadable session: %v", err)
	}

	if strings.TrimSpace(creds.Email) == "" {
		return auth.Session{}, ErrNotSignedIn
	}
	tokens, err := a.SignIn(ctx, creds.Email, creds.Password)
	if err != nil {
		return auth.Session{}, fmt.Errorf("sign in: %w", err)
	}
	return saveTokens(a, sessionPath, tokens)
}

func saveTokens(a Authenticator, sessionPath string, tokens backend.Tokens) (auth.Session, error) {
	sess := auth.SessionFromTokens(tokens, now())
	a.SetAccessToken(sess.AccessToken)
	if err := auth.SaveSession(sessionPath, sess); err != nil {
		// the session is still usable for this run
		log.Printf("save session: %v", err)
	}
	return sess, nil
}

// errNoRefreshToken is returned by Refresh when the session cannot be renewed.
var errNoRefreshToken = errors.New("session has no refresh token")

// tokenKeeper owns the live session. Refreshes are serialized; each one is
// saved, installed on the authenticator and announced to onRefresh.
type tokenKeeper struct {
	a    Authenticator
	path string

	mu        sync.Mutex
	sess      auth.Session
	onRefresh func()
}

func newTokenKeeper(a Authenticator, sessionPath string, sess auth.Session) *tokenKeeper {
	return &tokenKeeper{a: a, path: sessionPath, sess: sess}
}

// OnRefresh sets the hook run after each new access token is installed.
func (k *tokenKeeper) OnRefresh(fn func()) {
	k.mu.Lock()
	k.onRefresh = fn
	k.mu.Unlock()
}

// Session returns the current session.
func (k *tokenKeeper) Session() auth.Session {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.sess
}

// Refresh renews the session. stale is the access token the caller found
// rejected or expiring; if the session has already moved past it, Refresh
// returns without a round trip.
func (k *tokenKeeper) Refresh(ctx context.Context, stale string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if stale != "" && k.sess.AccessToken != stale {
		return nil
	}
	if !k.sess.CanRefresh() {
		return errNoRefreshToken
	}
	tokens, err := k.a.RefreshSession(ctx, k.sess.RefreshToken)
	if err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}
	k.sess, _ = saveTokens(k.a, k.path, tokens)
	if k.onRefresh != nil {
		k.onRefresh()
	}
	return nil
}

// startTokenRefresher renews the session shortly before it expires, for as
// long as it stays refreshable. It returns immediately.
func startTokenRefresher(ctx context.Context, k *tokenKeeper) {
	go func() {
		failures := 0
		for {
			sess := k.Session()
			if !sess.CanRefresh() || sess.ExpiresAt.IsZero() {
				return
			}
			wait := time.Until(sess.ExpiresAt) - 2*time.Minute
			if failures > 0 {
				wait = retryDelay(failures)
			}
			if wait < 0 {
				wait = 0
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}

			if err := k.Refresh(ctx, sess.AccessToken); err != nil {
				if ctx.Err() != nil {
					return
				}
				failures++
				log.Printf("token refresh failed (attempt %d): %v", failures, err)
				continue
			}
			failures = 0
		}
	}()
}

func retryDelay(failures int) time.Duration {
	d := 5 * time.Second
	for i := 1; i < failures && d < time.Minute; i++ {
		d *= 2
	}
	if d > time.Minute {
		d = time.Minute
	}
	return d
}

// signOut ends the remote session and removes the stored one.
func signOut(ctx context.Context, a Authenticator, sessionPath string) error {
	stored, err := auth.LoadSession(sessionPath)
	if err == nil && stored.AccessToken != "" {
		a.SetAccessToken(stored.AccessToken)
		if err := a.SignOut(ctx); err != nil {
			log.Printf("remote sign out failed: %v", err)
		}
	}
	return auth.ClearSession(sessionPath)
}

// resolveViewer derives the viewer from the access token and upgrades it
// when the viewer's profile carries the admin role. A failed profile lookup
// is logged and leaves the token's answer in place.
func resolveViewer(ctx context.Context, store backend.Store, accessToken string) (auth.Viewer, error) {
	viewer, err := auth.ViewerFromToken(accessToken)
	if err != nil {
		return auth.Viewer{}, err
	}
	if viewer.Privileged {
		return viewer, nil
	}
	rows, err := store.Select(ctx, backend.Query{
		Table:   model.KindProfiles,
		Columns: "id,role",
		Filters: []backend.Filter{{Column: model.FieldID, Value: viewer.ID}},
		Limit:   1,
	})
	if err != nil {
		log.Printf("profile lookup for %s failed: %v", viewer.ID, err)
		return viewer, nil
	}
	if len(rows) > 0 {
		viewer = viewer.WithRole(rows[0].String("role"))
	}
	return viewer, nil
}
