package service

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sakif/pong-backend/internal/apperror"
	"github.com/sakif/pong-backend/internal/auth"
	"github.com/sakif/pong-backend/internal/model"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakeUserRepo is an in-memory repository.UserRepository that enforces the
// same uniqueness rules as the SQLite schema. Using a fake (not a mock
// framework) keeps tests easy to read: you can see exactly what it does.
type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[int64]*model.User
	nextID int64

	// set to a non-nil error to simulate a database failure
	createErr error
	getErr    error

	// raceOnCreate, when set, runs just before the first Create stores
	// anything, simulating a concurrent writer that wins the race.
	raceOnCreate func(f *fakeUserRepo)
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[int64]*model.User), nextID: 1}
}

// insert adds a user directly, bypassing the race hook. Caller holds no lock.
func (f *fakeUserRepo) insert(u model.User) *model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u.ID = f.nextID
	f.nextID++
	f.users[u.ID] = &u
	return &u
}

func (f *fakeUserRepo) conflictLocked(u *model.User, selfID int64) error {
	for _, existing := range f.users {
		if existing.ID == selfID {
			continue
		}
		if existing.Username == u.Username {
			return apperror.Conflict("username", "Username already exists")
		}
		if existing.DisplayName == u.DisplayName {
			return apperror.Conflict("display_name", "Display name already exists")
		}
		if u.OAuthProvider != "" && existing.OAuthProvider == u.OAuthProvider && existing.OAuthID == u.OAuthID {
			return apperror.Conflict("oauth_id", "OAuth account already linked")
		}
	}
	return nil
}

func (f *fakeUserRepo) Create(_ context.Context, user *model.User) error {
	if f.createErr != nil {
		return f.createErr
	}
	if hook := f.raceOnCreate; hook != nil {
		f.raceOnCreate = nil
		hook(f)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.conflictLocked(user, 0); err != nil {
		return err
	}
	user.ID = f.nextID
	f.nextID++
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	copied := *user
	f.users[user.ID] = &copied
	return nil
}

func (f *fakeUserRepo) find(match func(*model.User) bool, what string) (*model.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if match(u) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("user", what)
}

func (f *fakeUserRepo) GetByID(_ context.Context, id int64) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.ID == id }, strconv.FormatInt(id, 10))
}

func (f *fakeUserRepo) GetByUsername(_ context.Context, username string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.Username == username }, username)
}

func (f *fakeUserRepo) GetByDisplayName(_ context.Context, name string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.DisplayName == name }, name)
}

func (f *fakeUserRepo) GetByOAuth(_ context.Context, provider, externalID string) (*model.User, error) {
	return f.find(func(u *model.User) bool {
		return u.OAuthProvider == provider && u.OAuthID == externalID
	}, externalID)
}

func (f *fakeUserRepo) List(_ context.Context) ([]model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	users := make([]model.User, 0, len(f.users))
	for _, u := range f.users {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (f *fakeUserRepo) UpdateDisplayName(_ context.Context, id int64, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return apperror.NotFound("user", strconv.FormatInt(id, 10))
	}
	candidate := *u
	candidate.DisplayName = name
	if err := f.conflictLocked(&candidate, id); err != nil {
		return err
	}
	u.DisplayName = name
	return nil
}

func (f *fakeUserRepo) UpdateAvatar(_ context.Context, id int64, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return apperror.NotFound("user", strconv.FormatInt(id, 10))
	}
	u.AvatarURL = url
	return nil
}

func (f *fakeUserRepo) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[id]; !ok {
		return apperror.NotFound("user", strconv.FormatInt(id, 10))
	}
	delete(f.users, id)
	return nil
}

// fakeProvider is an auth.Provider that returns a canned profile.
type fakeProvider struct {
	profile *auth.ExternalProfile
	err     error
}

func (p *fakeProvider) Name() string { return "github" }

func (p *fakeProvider) AuthURL(state string) string {
	return "https://github.example/login/oauth/authorize?state=" + state
}

func (p *fakeProvider) Exchange(_ context.Context, code string) (*auth.ExternalProfile, error) {
	if p.err != nil {
		return nil, p.err
	}
	copied := *p.profile
	return &copied, nil
}

// recordingSink collects telemetry events in memory.
type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingSink) Emit(message string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, message)
}

func (r *recordingSink) Close() error { return nil }

func (r *recordingSink) has(message string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == message {
			return true
		}
	}
	return false
}

// fakeFiles records removed avatar names.
type fakeFiles struct {
	removed []string
}

func (f *fakeFiles) Remove(name string) error {
	f.removed = append(f.removed, name)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// identityFixture bundles an IdentityService with the fakes behind it.
type identityFixture struct {
	svc      *IdentityService
	repo     *fakeUserRepo
	provider *fakeProvider
	events   *recordingSink
	files    *fakeFiles
}

func newIdentityFixture(t *testing.T) *identityFixture {
	t.Helper()
	f := &identityFixture{
		repo: newFakeUserRepo(),
		provider: &fakeProvider{profile: &auth.ExternalProfile{
			ID: "583231", Login: "octocat", Name: "The Octocat", AvatarURL: "https://avatars.example/u/583231",
		}},
		events: &recordingSink{},
		files:  &fakeFiles{},
	}
	// Cost 4 is bcrypt minimum, which keeps these tests fast
	f.svc = NewIdentityService(f.repo, auth.NewPasswordServiceForTest(4), []auth.Provider{f.provider}, f.files, f.events, testLogger())
	return f
}
