package model

import "time"

// Session is a server-side login session created by the OAuth callback.
// The browser only holds a signed reference to it (see auth.SessionManager),
// so deleting the row revokes the session immediately.
type Session struct {
	ID        string    `db:"id"` // xid
	UserID    int64     `db:"user_id"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}

// Expired reports whether the session is no longer valid at the given time.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
