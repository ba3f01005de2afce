// Package model defines the data structures used throughout the application.
package model

import "time"

// User represents a player account.
//
// An account is either local (PasswordHash set) or federated through an OAuth
// provider (OAuthProvider + OAuthID set). The schema allows both at once, but
// the registration and OAuth flows each only fill in their own half.
//
// WHY EMPTY STRINGS AND NOT *string?
// The optional columns are NULL in the database so the UNIQUE index on
// (oauth_provider, oauth_id) and the avatar column stay sparse. The repository
// converts NULL <-> "" at the boundary, so the rest of the code only ever
// checks for the zero value.
type User struct {
	ID            int64     `db:"id"`
	Username      string    `db:"username"`
	DisplayName   string    `db:"display_name"`
	PasswordHash  string    `db:"password_hash"` // never serialized
	AvatarURL     string    `db:"avatar_url"`
	OAuthProvider string    `db:"oauth_provider"`
	OAuthID       string    `db:"oauth_id"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// HasPassword reports whether the account can log in with local credentials.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// PublicUser is the JSON shape of a user returned by every API endpoint.
// It deliberately has no password field: handlers can only ever encode this
// type, never a raw User.
type PublicUser struct {
	ID            int64   `json:"id"`
	Username      string  `json:"username"`
	DisplayName   string  `json:"display_name"`
	AvatarURL     *string `json:"avatar_url"`
	OAuthProvider string  `json:"oauth_provider,omitempty"`
}

// Public converts a User to its public representation.
// defaultAvatar is used when the user has no avatar of their own; pass "" to
// report null instead.
func (u *User) Public(defaultAvatar string) PublicUser {
	p := PublicUser{
		ID:            u.ID,
		Username:      u.Username,
		DisplayName:   u.DisplayName,
		OAuthProvider: u.OAuthProvider,
	}
	switch {
	case u.AvatarURL != "":
		avatar := u.AvatarURL
		p.AvatarURL = &avatar
	case defaultAvatar != "":
		avatar := defaultAvatar
		p.AvatarURL = &avatar
	}
	return p
}
