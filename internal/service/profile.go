package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/sakif/pong-backend/internal/apperror"
	"github.com/sakif/pong-backend/internal/model"
	"github.com/sakif/pong-backend/internal/repository"
	"github.com/sakif/pong-backend/internal/storage/avatar"
	"github.com/sakif/pong-backend/internal/telemetry"
)

// AvatarUpload is one uploaded file. A nil *AvatarUpload means the request
// had no "avatar" part at all.
type AvatarUpload struct {
	Filename string
	Content  io.Reader
}

// ProfileService manages the avatar attached to a user.
type ProfileService struct {
	users  repository.UserRepository
	store  *avatar.Store
	events telemetry.Sink
	logger *slog.Logger
}

func NewProfileService(users repository.UserRepository, store *avatar.Store, events telemetry.Sink, logger *slog.Logger) *ProfileService {
	if events == nil {
		events = telemetry.Nop{}
	}
	return &ProfileService{users: users, store: store, events: events, logger: logger}
}

// UploadAvatar validates and stores a new avatar and returns its URL.
//
// ORDER OF CHECKS:
//  1. The user exists (404 before any file validation)
//  2. A file part is present, has a name and an allowed extension
//  3. The content fits in avatar.MaxSize
//
// The previous avatar file, if it was stored locally, is removed once the
// new URL is persisted.
func (s *ProfileService) UploadAvatar(ctx context.Context, userID int64, upload *AvatarUpload) (string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("service/profile: fetching user %d: %w", userID, err)
	}

	if upload == nil {
		return "", apperror.ValidationFailed("avatar", "No file part")
	}
	if upload.Filename == "" {
		return "", apperror.ValidationFailed("avatar", "No selected file")
	}
	if _, ok := avatar.AllowedExtension(upload.Filename); !ok {
		return "", apperror.ValidationFailed("avatar", "File type not allowed")
	}

	name := avatar.FileName(userID, upload.Filename)
	url, err := s.store.Save(name, upload.Content)
	if err != nil {
		if errors.Is(err, avatar.ErrTooLarge) {
			return "", apperror.ValidationFailed("avatar", "File too large (max 5 MiB)")
		}
		return "", fmt.Errorf("service/profile: saving avatar for user %d: %w", userID, err)
	}

	if err := s.users.UpdateAvatar(ctx, userID, url); err != nil {
		// The row was not updated, so the new file is orphaned.
		_ = s.store.Remove(name)
		return "", fmt.Errorf("service/profile: updating avatar for user %d: %w", userID, err)
	}

	s.removeOld(user.AvatarURL)

	s.logger.Info("avatar uploaded", slog.Int64("userID", userID), slog.String("file", name))
	s.events.Emit("Avatar uploaded", map[string]any{"action": "avatar_upload", "user_id": userID})
	return url, nil
}

// RemoveAvatar clears the user's avatar. Users without one get NotFound.
func (s *ProfileService) RemoveAvatar(ctx context.Context, userID int64) (*model.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/profile: fetching user %d: %w", userID, err)
	}
	if user.AvatarURL == "" {
		return nil, &apperror.AppError{Err: apperror.ErrNotFound, Message: "No avatar to delete"}
	}

	if err := s.users.UpdateAvatar(ctx, userID, ""); err != nil {
		return nil, fmt.Errorf("service/profile: clearing avatar for user %d: %w", userID, err)
	}
	s.removeOld(user.AvatarURL)

	user.AvatarURL = ""
	s.events.Emit("Avatar deleted", map[string]any{"action": "avatar_delete", "user_id": userID})
	return user, nil
}

// OpenAvatar returns a stored avatar file for serving. The caller closes it.
func (s *ProfileService) OpenAvatar(name string) (*os.File, error) {
	return s.store.Open(name)
}

func (s *ProfileService) removeOld(avatarURL string) {
	name, ok := avatar.LocalName(avatarURL)
	if !ok {
		return
	}
	if err := s.store.Remove(name); err != nil {
		s.logger.Warn("removing old avatar failed", slog.String("file", name), slog.String("error", err.Error()))
	}
}
