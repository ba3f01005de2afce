// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Repository (Data layer)  → reads/writes to the database
//
// IdentityService owns who a user is: registration, password login, the
// OAuth federation flow, display name changes and deletion. ProfileService
// owns what a user looks like: the avatar file.
//
// Services return apperror values for every failure a client can cause.
// The handler package maps them to HTTP status codes; nothing here knows
// about HTTP.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/pong-backend/internal/apperror"
	"github.com/sakif/pong-backend/internal/auth"
	"github.com/sakif/pong-backend/internal/model"
	"github.com/sakif/pong-backend/internal/repository"
	"github.com/sakif/pong-backend/internal/storage/avatar"
	"github.com/sakif/pong-backend/internal/telemetry"
)

const (
	// MaxNameAttempts bounds the base, base1, base2, ... search when an
	// OAuth login needs a free username or display name.
	MaxNameAttempts = 1000

	// maxProvisionAttempts covers losing a race against a concurrent
	// provisioning of the same name or the same OAuth identity.
	maxProvisionAttempts = 3
)

// RegisterInput is the body of POST /api/register.
type RegisterInput struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// LoginInput is the body of POST /api/login.
type LoginInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// FileRemover deletes a stored avatar by file name. *avatar.Store satisfies it.
type FileRemover interface {
	Remove(name string) error
}

// IdentityService handles accounts and credentials.
//
// DEPENDENCIES (injected via NewIdentityService):
//   - users      repository.UserRepository → read/write user records
//   - passwords  *auth.PasswordService     → bcrypt hashing
//   - providers  []auth.Provider           → OAuth providers by Name()
//   - files      FileRemover               → avatar cleanup on delete
//   - events     telemetry.Sink            → fire-and-forget audit events
type IdentityService struct {
	users     repository.UserRepository
	passwords *auth.PasswordService
	providers map[string]auth.Provider
	files     FileRemover
	events    telemetry.Sink
	logger    *slog.Logger
}

// NewIdentityService wires the identity component. providers may be empty,
// in which case every OAuth call answers NotFound.
func NewIdentityService(
	users repository.UserRepository,
	passwords *auth.PasswordService,
	providers []auth.Provider,
	files FileRemover,
	events telemetry.Sink,
	logger *slog.Logger,
) *IdentityService {
	byName := make(map[string]auth.Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	if events == nil {
		events = telemetry.Nop{}
	}
	return &IdentityService{
		users:     users,
		passwords: passwords,
		providers: byName,
		files:     files,
		events:    events,
		logger:    logger,
	}
}

// Register creates a password account.
//
// VALIDATION ORDER:
//  1. All three fields present (after trimming)
//  2. Password fits bcrypt's 72-byte limit
//  3. Username, then display name, not already taken
//
// Step 3 is checked up front for a friendly message, but the UNIQUE
// constraints in the store are what actually guarantee it: a concurrent
// registration that slips past the check still gets ErrConflict from Create.
func (s *IdentityService) Register(ctx context.Context, input RegisterInput) (*model.User, error) {
	username := strings.TrimSpace(input.Username)
	displayName := strings.TrimSpace(input.DisplayName)

	if username == "" || displayName == "" || strings.TrimSpace(input.Password) == "" {
		return nil, apperror.ValidationFailed("", "Username, password and display_name are required")
	}
	if len(input.Password) > auth.MaxPasswordBytes {
		return nil, apperror.ValidationFailed("password", "Password must be 72 bytes or fewer")
	}

	if err := s.ensureFree(ctx, username, displayName); err != nil {
		return nil, err
	}

	hash, err := s.passwords.Hash(input.Password)
	if err != nil {
		return nil, fmt.Errorf("service/identity: hashing password: %w", err)
	}

	user := &model.User{Username: username, DisplayName: displayName, PasswordHash: hash}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("service/identity: registering %q: %w", username, err)
	}

	s.logger.Info("user registered", slog.Int64("userID", user.ID), slog.String("username", username))
	s.events.Emit("User registered", map[string]any{"action": "register", "user_id": user.ID, "username": username})

	return user, nil
}

// Login verifies a username and password.
//
// Unknown user, OAuth-only user and wrong password all return the same
// Unauthorized error, and all three spend one bcrypt comparison, so neither
// the response nor its timing reveals which usernames exist.
func (s *IdentityService) Login(ctx context.Context, input LoginInput) (*model.User, error) {
	username := strings.TrimSpace(input.Username)
	if username == "" || input.Password == "" {
		return nil, apperror.ValidationFailed("", "Username and password are required")
	}

	invalid := func() error {
		s.events.Emit("User login failed", map[string]any{"action": "login", "username": username, "status": 401})
		return apperror.Unauthorized("Invalid credentials")
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.passwords.VerifyDummy(input.Password)
			return nil, invalid()
		}
		return nil, fmt.Errorf("service/identity: looking up %q: %w", username, err)
	}

	if !user.HasPassword() {
		s.passwords.VerifyDummy(input.Password)
		return nil, invalid()
	}

	if err := s.passwords.Verify(user.PasswordHash, input.Password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Error("stored password hash is unreadable",
				slog.Int64("userID", user.ID),
				slog.String("error", err.Error()),
			)
		}
		return nil, invalid()
	}

	s.events.Emit("User login", map[string]any{"action": "login", "user_id": user.ID, "username": username, "status": 200})
	return user, nil
}

// CreateUser is the admin path (POST /api/users): a password-less account
// whose display name starts out equal to its username.
func (s *IdentityService) CreateUser(ctx context.Context, username string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, apperror.ValidationFailed("username", "Username is required")
	}

	if err := s.ensureFree(ctx, username, username); err != nil {
		return nil, err
	}

	user := &model.User{Username: username, DisplayName: username}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("service/identity: creating %q: %w", username, err)
	}

	s.events.Emit("User created", map[string]any{"action": "create", "user_id": user.ID, "username": username})
	return user, nil
}

// ListUsers returns every user ordered by id.
func (s *IdentityService) ListUsers(ctx context.Context) ([]model.User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/identity: listing users: %w", err)
	}
	return users, nil
}

// GetUser returns one user or apperror.ErrNotFound.
func (s *IdentityService) GetUser(ctx context.Context, id int64) (*model.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/identity: fetching user %d: %w", id, err)
	}
	return user, nil
}

// UpdateDisplayName renames a user.
//
// A name equal to the user's own username skips the lookup against other
// users' display names. The store's UNIQUE index is still authoritative: if
// another user really holds that display name, the UPDATE fails with
// ErrConflict and nothing changes.
func (s *IdentityService) UpdateDisplayName(ctx context.Context, id int64, displayName string) (*model.User, error) {
	// An unknown user is NotFound whatever the body says.
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/identity: fetching user %d: %w", id, err)
	}

	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, apperror.ValidationFailed("display_name", "Display name is required")
	}

	if displayName != user.Username {
		holder, err := s.users.GetByDisplayName(ctx, displayName)
		switch {
		case err == nil && holder.ID != user.ID:
			return nil, apperror.Conflict("display_name", "Display name already exists")
		case err != nil && !errors.Is(err, apperror.ErrNotFound):
			return nil, fmt.Errorf("service/identity: checking display name: %w", err)
		}
	}

	if err := s.users.UpdateDisplayName(ctx, id, displayName); err != nil {
		return nil, fmt.Errorf("service/identity: renaming user %d: %w", id, err)
	}

	user.DisplayName = displayName
	return user, nil
}

// DeleteUser removes a user permanently. Sessions go with the row; a
// locally stored avatar file is removed afterwards, and a failure there is
// only logged.
func (s *IdentityService) DeleteUser(ctx context.Context, id int64) error {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("service/identity: fetching user %d: %w", id, err)
	}

	if err := s.users.Delete(ctx, id); err != nil {
		return fmt.Errorf("service/identity: deleting user %d: %w", id, err)
	}

	s.removeLocalAvatar(user.AvatarURL)
	s.logger.Info("user deleted", slog.Int64("userID", id))
	s.events.Emit("User deleted", map[string]any{"action": "delete", "user_id": id, "username": user.Username})
	return nil
}

// BeginOAuth returns the provider authorization URL and the random state
// embedded in it. The caller must keep the state (cookie) and hand it back
// to CompleteOAuth's caller for comparison.
func (s *IdentityService) BeginOAuth(providerName string) (authURL, state string, err error) {
	p, err := s.provider(providerName)
	if err != nil {
		return "", "", err
	}
	state = xid.New().String()
	return p.AuthURL(state), state, nil
}

// CompleteOAuth exchanges an authorization code and resolves the federated
// identity to a local user, creating one on first login.
//
// An existing user is returned unchanged: later changes to the GitHub
// profile do not overwrite a username or display name chosen locally.
func (s *IdentityService) CompleteOAuth(ctx context.Context, providerName, code string) (*model.User, error) {
	p, err := s.provider(providerName)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(code) == "" {
		return nil, apperror.ValidationFailed("code", "Missing authorization code")
	}

	profile, err := p.Exchange(ctx, code)
	if err != nil {
		s.logger.Warn("oauth exchange failed", slog.String("provider", providerName), slog.String("error", err.Error()))
		s.events.Emit("OAuth failure", map[string]any{"action": "oauth", "provider": providerName, "error": err.Error()})
		return nil, apperror.Upstream("OAuth authentication failed", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxProvisionAttempts; attempt++ {
		user, err := s.users.GetByOAuth(ctx, providerName, profile.ID)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, apperror.ErrNotFound) {
			return nil, fmt.Errorf("service/identity: resolving %s identity: %w", providerName, err)
		}

		user, err = s.provision(ctx, providerName, profile)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, apperror.ErrConflict) {
			return nil, err
		}
		// Someone took the name (or linked this identity) between our
		// lookup and our INSERT. Resolve again from scratch.
		lastErr = err
	}
	return nil, lastErr
}

// provision creates the local account for a first-time OAuth login.
func (s *IdentityService) provision(ctx context.Context, providerName string, profile *auth.ExternalProfile) (*model.User, error) {
	base := firstNonEmpty(profile.Login, profile.Name, providerName+"_"+profile.ID)
	username, err := s.uniqueName(ctx, "username", base, s.users.GetByUsername)
	if err != nil {
		return nil, err
	}

	displayName, err := s.uniqueName(ctx, "display_name", firstNonEmpty(profile.Name, username), s.users.GetByDisplayName)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Username:      username,
		DisplayName:   displayName,
		AvatarURL:     profile.AvatarURL,
		OAuthProvider: providerName,
		OAuthID:       profile.ID,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("service/identity: provisioning %s user %s: %w", providerName, profile.ID, err)
	}

	s.logger.Info("oauth user provisioned",
		slog.Int64("userID", user.ID),
		slog.String("provider", providerName),
		slog.String("username", username),
	)
	s.events.Emit("OAuth user created", map[string]any{
		"action": "oauth_register", "provider": providerName, "user_id": user.ID, "username": username,
	})
	return user, nil
}

// uniqueName returns the first of base, base1, base2, ... that lookup
// reports as free. The counter grows by exactly one per attempt.
func (s *IdentityService) uniqueName(
	ctx context.Context,
	field, base string,
	lookup func(context.Context, string) (*model.User, error),
) (string, error) {
	for i := 0; i < MaxNameAttempts; i++ {
		candidate := base
		if i > 0 {
			candidate = base + strconv.Itoa(i)
		}

		_, err := lookup(ctx, candidate)
		if errors.Is(err, apperror.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("service/identity: checking %s %q: %w", field, candidate, err)
		}
	}
	return "", apperror.Conflict(field, fmt.Sprintf("No available %s for %q", strings.ReplaceAll(field, "_", " "), base))
}

// ensureFree reports a Conflict if the username or display name is taken.
func (s *IdentityService) ensureFree(ctx context.Context, username, displayName string) error {
	if _, err := s.users.GetByUsername(ctx, username); err == nil {
		return apperror.Conflict("username", "Username already exists")
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return fmt.Errorf("service/identity: checking username: %w", err)
	}

	if _, err := s.users.GetByDisplayName(ctx, displayName); err == nil {
		return apperror.Conflict("display_name", "Display name already exists")
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return fmt.Errorf("service/identity: checking display name: %w", err)
	}
	return nil
}

func (s *IdentityService) provider(name string) (auth.Provider, error) {
	p, ok := s.providers[name]
	if !ok {
		return nil, apperror.NotFound("oauth provider", name)
	}
	return p, nil
}

func (s *IdentityService) removeLocalAvatar(avatarURL string) {
	name, ok := avatar.LocalName(avatarURL)
	if !ok || s.files == nil {
		return
	}
	if err := s.files.Remove(name); err != nil {
		s.logger.Warn("removing avatar file failed", slog.String("file", name), slog.String("error", err.Error()))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
