package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/pong-backend/internal/apperror"
	"github.com/sakif/pong-backend/internal/model"
	"github.com/sakif/pong-backend/internal/repository"
)

// SessionCookieName is the cookie that carries the signed session token.
const SessionCookieName = "pong_session"

// ErrNoSession means the request carries no usable session: no cookie, a
// token that fails verification, or a session row that was revoked or expired.
var ErrNoSession = errors.New("auth: no valid session")

// SessionConfig controls the cookie the manager hands out.
type SessionConfig struct {
	TTL      time.Duration
	SameSite http.SameSite
	Secure   bool
}

// SessionManager issues, resolves and revokes server-side sessions.
//
// TWO LAYERS:
// The cookie is a signed JWT, so a forged or tampered cookie is rejected
// without touching the database. The sessions row is the source of truth
// for revocation: logout deletes it and the still-unexpired JWT stops working.
type SessionManager struct {
	tokens *TokenService
	store  repository.SessionRepository
	cfg    SessionConfig
	now    func() time.Time
}

// NewSessionManager wires a token service to a session store.
func NewSessionManager(tokens *TokenService, store repository.SessionRepository, cfg SessionConfig) *SessionManager {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.SameSite == 0 {
		cfg.SameSite = http.SameSiteLaxMode
	}
	return &SessionManager{tokens: tokens, store: store, cfg: cfg, now: time.Now}
}

// Start creates a session for userID and returns the cookie to set.
// Expired rows are swept first; a failed sweep does not block the login.
func (m *SessionManager) Start(ctx context.Context, userID int64) (*http.Cookie, error) {
	now := m.now()
	_, _ = m.store.DeleteExpiredSessions(ctx, now)

	session := &model.Session{
		ID:        xid.New().String(),
		UserID:    userID,
		ExpiresAt: now.Add(m.cfg.TTL),
		CreatedAt: now,
	}
	if err := m.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("auth: creating session for user %d: %w", userID, err)
	}

	token, err := m.tokens.Issue(userID, session.ID, session.ExpiresAt)
	if err != nil {
		return nil, err
	}

	return m.cookie(token, session.ExpiresAt), nil
}

// Resolve returns the user id behind the request's session cookie.
// Every failure wraps ErrNoSession; storage failures are wrapped as-is.
func (m *SessionManager) Resolve(ctx context.Context, r *http.Request) (int64, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return 0, ErrNoSession
	}

	claims, err := m.tokens.Parse(cookie.Value)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrNoSession, err)
	}

	session, err := m.store.GetSession(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return 0, fmt.Errorf("%w: session revoked", ErrNoSession)
		}
		return 0, fmt.Errorf("auth: loading session: %w", err)
	}

	// The row is authoritative: a token whose sub disagrees with its row
	// was not issued by Start.
	if session.UserID != claims.UserID {
		return 0, fmt.Errorf("%w: subject mismatch", ErrNoSession)
	}
	if session.Expired(m.now()) {
		return 0, fmt.Errorf("%w: session expired", ErrNoSession)
	}

	return session.UserID, nil
}

// End revokes the request's session (if any) and returns a cookie that
// clears it in the browser. Ending a session that does not exist succeeds.
func (m *SessionManager) End(ctx context.Context, r *http.Request) (*http.Cookie, error) {
	expired := m.cookie("", time.Unix(0, 0))
	expired.MaxAge = -1

	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return expired, nil
	}

	claims, err := m.tokens.Parse(cookie.Value)
	if err != nil {
		return expired, nil
	}

	if err := m.store.DeleteSession(ctx, claims.SessionID); err != nil {
		return expired, fmt.Errorf("auth: deleting session: %w", err)
	}
	return expired, nil
}

func (m *SessionManager) cookie(value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: m.cfg.SameSite,
	}
}
