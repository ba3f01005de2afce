package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/sakif/pong-backend/internal/auth"
	"github.com/sakif/pong-backend/internal/handler"
	"github.com/sakif/pong-backend/internal/repository/sqlite"
	"github.com/sakif/pong-backend/internal/service"
	"github.com/sakif/pong-backend/internal/storage/avatar"
)

const (
	testSecret        = "handler-test-secret-key"
	testDefaultAvatar = "/img/default-avatar.png"
	testFrontendURL   = "http://localhost:5173/#stale"
	goodCode          = "good-code"
)

// fakeProvider stands in for GitHub. Only goodCode exchanges successfully.
type fakeProvider struct {
	profile auth.ExternalProfile
}

func (p *fakeProvider) Name() string { return "github" }

func (p *fakeProvider) AuthURL(state string) string {
	return "https://github.example/login/oauth/authorize?state=" + state
}

func (p *fakeProvider) Exchange(_ context.Context, code string) (*auth.ExternalProfile, error) {
	if code != goodCode {
		return nil, errors.New("bad_verification_code")
	}
	profile := p.profile
	return &profile, nil
}

// testEnv is a router with every handler mounted on real services backed by
// an in-memory database and a temporary avatar directory.
type testEnv struct {
	router   chi.Router
	db       *sqlite.DB
	store    *avatar.Store
	provider *fakeProvider
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := avatar.NewStore(filepath.Join(t.TempDir(), "avatars"))
	provider := &fakeProvider{profile: auth.ExternalProfile{
		ID:        "583231",
		Login:     "octocat",
		Name:      "The Octocat",
		AvatarURL: "https://avatars.example/u/583231",
	}}

	tokens, err := auth.NewTokenService(testSecret)
	require.NoError(t, err)
	sessions := auth.NewSessionManager(tokens, db, auth.SessionConfig{})

	identity := service.NewIdentityService(db, auth.NewPasswordServiceForTest(0), []auth.Provider{provider}, store, nil, logger)
	profile := service.NewProfileService(db, store, nil, logger)
	errs := handler.NewErrorWriter(logger, true)

	games := handler.NewGameHandler(db)
	users := handler.NewUserHandler(identity, testDefaultAvatar, errs)
	avatars := handler.NewAvatarHandler(profile, testDefaultAvatar, errs)
	accounts := handler.NewAuthHandler(identity, sessions, handler.AuthConfig{
		FrontendURL:   testFrontendURL,
		DefaultAvatar: testDefaultAvatar,
	}, errs, logger)

	r := chi.NewRouter()
	r.Get("/api/health", games.HandleHealth)
	r.Get("/api/game/status", games.HandleGameStatus)
	r.Get("/api/pong/score", games.HandleScore)

	r.Get("/api/users", users.HandleList)
	r.Post("/api/users", users.HandleCreate)
	r.Get("/api/users/{id}", users.HandleGet)
	r.Put("/api/users/{id}", users.HandleUpdate)
	r.Delete("/api/users/{id}", users.HandleDelete)
	r.Post("/api/users/{id}/avatar", avatars.HandleUpload)
	r.Delete("/api/users/{id}/avatar", avatars.HandleRemove)
	r.Get("/avatars/{filename}", avatars.HandleServe)

	r.Post("/api/register", accounts.HandleRegister)
	r.Post("/api/login", accounts.HandleLogin)
	r.Post("/api/logout", accounts.HandleLogout)
	r.With(auth.RequireSession(sessions, logger)).Get("/api/me", accounts.HandleMe)
	r.Get("/api/oauth/login/{provider}", accounts.HandleOAuthLogin)
	r.Get("/api/oauth/callback/{provider}", accounts.HandleOAuthCallback)

	return &testEnv{router: r, db: db, store: store, provider: provider}
}

// do sends a request through the router. body is JSON-encoded unless it is
// nil or already a string.
func (e *testEnv) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}

	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

// decode unmarshals a response body into a fresh value of type T.
func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), "body: %s", rr.Body.String())
	return v
}

func cookieNamed(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// userJSON mirrors model.PublicUser for decoding responses.
type userJSON struct {
	ID            int64   `json:"id"`
	Username      string  `json:"username"`
	DisplayName   string  `json:"display_name"`
	AvatarURL     *string `json:"avatar_url"`
	OAuthProvider string  `json:"oauth_provider"`
}

type errorJSON struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}
