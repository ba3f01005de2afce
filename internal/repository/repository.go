// Package repository declares the storage interfaces the service layer depends on.
//
// Implementations translate storage failures into apperror values:
//   - missing rows       → apperror.ErrNotFound
//   - UNIQUE violations  → apperror.ErrConflict (after rolling back)
//
// Everything else is returned wrapped and treated as an internal error.
package repository

import (
	"context"
	"time"

	"github.com/sakif/pong-backend/internal/model"
)

type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetByDisplayName(ctx context.Context, displayName string) (*model.User, error)
	GetByOAuth(ctx context.Context, provider, externalID string) (*model.User, error)
	List(ctx context.Context) ([]model.User, error)
	UpdateDisplayName(ctx context.Context, id int64, displayName string) error
	UpdateAvatar(ctx context.Context, id int64, avatarURL string) error
	Delete(ctx context.Context, id int64) error
}

type SessionRepository interface {
	CreateSession(ctx context.Context, session *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	DeleteSession(ctx context.Context, id string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}
