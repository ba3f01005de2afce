// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects handlers, middleware, and routes,
// and decides:
// - Which URL patterns map to which handler functions
// - What middleware runs on which routes
// - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
// main.go creates:
//
//	config.Config, *slog.Logger, telemetry.Sink → passed to New
//
// New creates:
//
//	sqlite.DB → IdentityService / ProfileService → handlers
//	TokenService + sqlite.DB → SessionManager → AuthHandler, RequireSession
//
// This is the "composition root" pattern: all dependencies are wired
// in one place (New/setupRoutes), rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/pong-backend/internal/auth"
	"github.com/sakif/pong-backend/internal/config"
	"github.com/sakif/pong-backend/internal/handler"
	"github.com/sakif/pong-backend/internal/middleware"
	sqliteRepo "github.com/sakif/pong-backend/internal/repository/sqlite"
	"github.com/sakif/pong-backend/internal/service"
	"github.com/sakif/pong-backend/internal/storage/avatar"
	"github.com/sakif/pong-backend/internal/telemetry"
)

// Option customises New. Tests use these to swap in fakes.
type Option func(*options)

type options struct {
	providers    []auth.Provider
	hasProviders bool
	passwords    *auth.PasswordService
}

// WithOAuthProviders replaces the providers New would build from the
// configuration. Passing none disables OAuth.
func WithOAuthProviders(providers ...auth.Provider) Option {
	return func(o *options) {
		o.providers = providers
		o.hasProviders = true
	}
}

// WithPasswordService overrides the bcrypt cost, typically with
// auth.NewPasswordServiceForTest.
func WithPasswordService(p *auth.PasswordService) Option {
	return func(o *options) { o.passwords = p }
}

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection and the telemetry sink. Both are
// closed when Start returns, after in-flight requests have drained.
type Server struct {
	router *chi.Mux
	config config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
	store  *avatar.Store
	events telemetry.Sink
}

// New creates a Server from the configuration.
//
// DEPENDENCY INJECTION & WIRING:
//  1. Open the database (sqlite.New runs migrations)
//  2. Build the auth primitives: passwords, tokens, sessions, OAuth providers
//  3. Build the services on top of the repository interfaces
//  4. Build the handlers on top of the services and wire them to routes
//
// Each layer only receives what it needs: services get repository
// interfaces (not the concrete sqlite.DB), handlers get services.
func New(cfg config.Config, logger *slog.Logger, events telemetry.Sink, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if events == nil {
		events = telemetry.Nop{}
	}

	tokens, err := auth.NewTokenService(cfg.SecretKey)
	if err != nil {
		return nil, err
	}

	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
		store:  avatar.NewStore(cfg.UploadDir),
		events: events,
	}
	s.setupRoutes(tokens, o)
	return s, nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /api/health                   → liveness + database ping
// GET    /api/game/status              → placeholder game state
// GET    /api/pong/score               → placeholder score
// GET    /api/users                    → list users
// POST   /api/users                    → create a password-less user
// GET    /api/users/{id}               → one user
// PUT    /api/users/{id}               → change display name
// DELETE /api/users/{id}               → delete user
// POST   /api/users/{id}/avatar        → upload avatar (multipart)
// DELETE /api/users/{id}/avatar        → remove avatar
// POST   /api/register                 → password registration
// POST   /api/login                    → password login
// POST   /api/logout                   → end session
// GET    /api/me                       → current session's user
// GET    /api/oauth/login/{provider}   → redirect to provider
// GET    /api/oauth/callback/{provider} → provider redirect target
// GET    /avatars/{filename}           → stored avatar bytes
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns a unique ID to each request (for tracing)
// 2. RealIP: extracts the real client IP from proxy headers
// 3. Logger: logs each request with timing info (sees the request ID)
// 4. Recoverer: catches panics and returns 500 instead of crashing
// 5. CORS: answers preflights before they reach a route
func (s *Server) setupRoutes(tokens *auth.TokenService, o options) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger, s.events))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.CORS(s.config.CORSAllowedOrigins))

	passwords := o.passwords
	if passwords == nil {
		passwords = auth.NewPasswordService()
	}

	providers := o.providers
	if !o.hasProviders && s.config.OAuthEnabled() {
		providers = []auth.Provider{auth.NewGitHubProvider(
			s.config.GitHubClientID,
			s.config.GitHubClientSecret,
			s.config.OAuthRedirectURI,
		)}
	}
	if len(providers) == 0 {
		s.logger.Warn("no OAuth provider configured; /api/oauth routes will answer 404")
	}

	sessions := auth.NewSessionManager(tokens, s.db, auth.SessionConfig{
		TTL:      s.config.SessionTTL,
		SameSite: s.config.SameSite(),
		Secure:   s.config.CookieSecure,
	})

	// DEPENDENCY CHAIN:
	//   s.db (sqlite.DB) → implements repository.UserRepository and SessionRepository
	//   services receive the repository interfaces
	//   handlers receive the services
	identity := service.NewIdentityService(s.db, passwords, providers, s.store, s.events, s.logger)
	profile := service.NewProfileService(s.db, s.store, s.events, s.logger)

	errs := handler.NewErrorWriter(s.logger, !s.config.IsProduction())
	games := handler.NewGameHandler(s.db)
	users := handler.NewUserHandler(identity, s.config.DefaultAvatarURL, errs)
	avatars := handler.NewAvatarHandler(profile, s.config.DefaultAvatarURL, errs)
	accounts := handler.NewAuthHandler(identity, sessions, handler.AuthConfig{
		FrontendURL:   s.config.FrontendURL,
		DefaultAvatar: s.config.DefaultAvatarURL,
		SecureCookies: s.config.CookieSecure,
	}, errs, s.logger)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", games.HandleHealth)
		r.Get("/game/status", games.HandleGameStatus)
		r.Get("/pong/score", games.HandleScore)

		r.Route("/users", func(r chi.Router) {
			r.Get("/", users.HandleList)
			r.Post("/", users.HandleCreate)
			r.Get("/{id}", users.HandleGet)
			r.Put("/{id}", users.HandleUpdate)
			r.Delete("/{id}", users.HandleDelete)
			r.Post("/{id}/avatar", avatars.HandleUpload)
			r.Delete("/{id}/avatar", avatars.HandleRemove)
		})

		r.Post("/register", accounts.HandleRegister)
		r.Post("/login", accounts.HandleLogin)
		r.Post("/logout", accounts.HandleLogout)
		r.With(auth.RequireSession(sessions, s.logger)).Get("/me", accounts.HandleMe)

		r.Get("/oauth/login/{provider}", accounts.HandleOAuthLogin)
		r.Get("/oauth/callback/{provider}", accounts.HandleOAuthCallback)
	})

	s.router.Get(avatar.URLPrefix+"{filename}", avatars.HandleServe)
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database and flushes the telemetry sink. Start calls
// it on the way out; tests that never Start call it directly.
func (s *Server) Close() error {
	return errors.Join(s.events.Close(), s.db.Close())
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (30s timeout)
// 3. Wait for queued telemetry events, then close the database
func (s *Server) Start() error {
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Error("closing resources", slog.String("error", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DBPath),
			slog.String("uploads", s.store.Dir()),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
