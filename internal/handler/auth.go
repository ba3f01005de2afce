package handler

import (
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/pong-backend/internal/apperror"
	"github.com/sakif/pong-backend/internal/auth"
	"github.com/sakif/pong-backend/internal/service"
)

const oauthStateCookie = "oauth_state"

// AuthHandler manages password accounts, the OAuth login flow and sessions.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister      → create a password account
//   - HandleLogin         → check a username/password pair
//   - HandleOAuthLogin    → redirect the browser to the provider's authorization page
//   - HandleOAuthCallback → receive the code, resolve the user, start a session
//   - HandleLogout        → revoke the session and clear the cookie
//   - HandleMe            → return the currently logged-in user's profile
//
// DEPENDENCY CHAIN:
//   - identity *service.IdentityService → all account rules
//   - sessions *auth.SessionManager     → session rows and signed cookies
type AuthHandler struct {
	identity      *service.IdentityService
	sessions      *auth.SessionManager
	frontendURL   string
	defaultAvatar string
	secureCookies bool
	errs          ErrorWriter
	logger        *slog.Logger
}

// AuthConfig holds the handler settings that come from configuration.
type AuthConfig struct {
	// FrontendURL is where the browser lands after an OAuth login.
	FrontendURL   string
	DefaultAvatar string
	// SecureCookies sets the Secure flag on the OAuth state cookie.
	SecureCookies bool
}

// NewAuthHandler creates an AuthHandler. All dependencies are injected here;
// the handler has no knowledge of how they're constructed.
func NewAuthHandler(
	identity *service.IdentityService,
	sessions *auth.SessionManager,
	cfg AuthConfig,
	errs ErrorWriter,
	logger *slog.Logger,
) *AuthHandler {
	if cfg.FrontendURL == "" {
		cfg.FrontendURL = "/"
	}
	return &AuthHandler{
		identity:      identity,
		sessions:      sessions,
		frontendURL:   cfg.FrontendURL,
		defaultAvatar: cfg.DefaultAvatar,
		secureCookies: cfg.SecureCookies,
		errs:          errs,
		logger:        logger,
	}
}

// HandleRegister answers POST /api/register.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var input service.RegisterInput
	if err := decodeJSON(w, r, &input); err != nil {
		h.errs.write(w, r, err)
		return
	}

	user, err := h.identity.Register(r.Context(), input)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user.Public(h.defaultAvatar))
}

// HandleLogin answers POST /api/login.
//
// A password login only confirms the credentials and returns the user; the
// web client keeps that user in local state. It does not start a session.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var input service.LoginInput
	if err := decodeJSON(w, r, &input); err != nil {
		h.errs.write(w, r, err)
		return
	}

	user, err := h.identity.Login(r.Context(), input)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user.Public(h.defaultAvatar))
}

// HandleOAuthLogin redirects the user to the provider's authorization page.
//
// HTTP: GET /api/oauth/login/{provider}
//
// CSRF PROTECTION VIA STATE:
// The random state goes into a short-lived cookie as well as the
// authorization URL. HandleOAuthCallback compares the two, which proves the
// callback was initiated from this browser.
func (h *AuthHandler) HandleOAuthLogin(w http.ResponseWriter, r *http.Request) {
	authURL, state, err := h.identity.BeginOAuth(chi.URLParam(r, "provider"))
	if err != nil {
		h.errs.write(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10 minutes
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleOAuthCallback completes the OAuth login flow.
//
// HTTP: GET /api/oauth/callback/{provider}?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check)
//  2. Exchange the code and resolve (or provision) the local user
//  3. Start a session cookie
//  4. Redirect to the frontend with the user in the URL fragment
//
// The fragment never reaches a server, so the frontend can read the user
// without a second request and without it showing up in access logs.
func (h *AuthHandler) HandleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	query := r.URL.Query()

	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || query.Get("state") != stateCookie.Value {
		h.logger.Warn("oauth callback: state mismatch", slog.String("provider", provider))
		h.errs.write(w, r, apperror.ValidationFailed("state", "Invalid OAuth state"))
		return
	}

	// The state is single-use.
	http.SetCookie(w, &http.Cookie{
		Name:   oauthStateCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	// The provider reports a denied authorization through ?error=...
	if errParam := query.Get("error"); errParam != "" {
		h.errs.write(w, r, apperror.Upstream("OAuth authentication failed",
			&providerError{code: errParam, description: query.Get("error_description")}))
		return
	}

	user, err := h.identity.CompleteOAuth(r.Context(), provider, query.Get("code"))
	if err != nil {
		h.errs.write(w, r, err)
		return
	}

	cookie, err := h.sessions.Start(r.Context(), user.ID)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	http.SetCookie(w, cookie)

	public := user.Public(h.defaultAvatar)
	fragment := url.Values{}
	fragment.Set("id", strconv.FormatInt(public.ID, 10))
	fragment.Set("username", public.Username)
	fragment.Set("display_name", public.DisplayName)
	if public.AvatarURL != nil {
		fragment.Set("avatar_url", *public.AvatarURL)
	}

	target, _, _ := strings.Cut(h.frontendURL, "#")
	http.Redirect(w, r, target+"#"+fragment.Encode(), http.StatusFound)
}

// HandleLogout revokes the current session and clears its cookie.
//
// HTTP: POST /api/logout
//
// Logging out without a session still succeeds: the end state is the same.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := h.sessions.End(r.Context(), r)
	http.SetCookie(w, cookie)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Logged out"})
}

// HandleMe returns the currently authenticated user's profile.
//
// HTTP: GET /api/me
// Auth: Required (RequireSession middleware sets the user id in context)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.errs.write(w, r, apperror.Unauthorized("Not authenticated"))
		return
	}

	user, err := h.identity.GetUser(r.Context(), userID)
	if err != nil {
		// The session outlived its user only if the row was deleted
		// concurrently; cascade removes the session right after.
		h.errs.write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user.Public(h.defaultAvatar))
}

// providerError carries the ?error= value a provider sends back.
type providerError struct {
	code        string
	description string
}

func (e *providerError) Error() string {
	if e.description == "" {
		return "provider returned " + e.code
	}
	return "provider returned " + e.code + ": " + e.description
}
