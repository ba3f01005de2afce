// Package main is the entry point for the Pong backend.
//
// MAIN PACKAGE IN GO:
// Every Go program starts execution in the main() function of the "main" package.
// The main package should be kept minimal. Its job is to:
// 1. Read configuration (environment, optionally a .env file)
// 2. Create the process-wide dependencies (logger, telemetry)
// 3. Start the application
//
// All actual logic lives in imported packages (internal/server, internal/handler, etc.).
//
// WHY cmd/server/?
// The cmd/ directory is a Go convention for executable entry points.
// Each executable gets its own directory with its own main.go.
package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/pong-backend/internal/config"
	"github.com/sakif/pong-backend/internal/server"
	"github.com/sakif/pong-backend/internal/telemetry"
)

func main() {
	// === 1. READ CONFIGURATION ===
	// config.Load reads .env (if present) and then the real environment.
	// A bad or missing SECRET_KEY stops the server here.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	// Text logs are easier to read in a terminal; JSON logs are easier for a
	// log pipeline to parse. APP_ENV=production picks JSON.
	opts := &slog.HandlerOptions{Level: cfg.Level()}
	var logHandler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.IsProduction() {
		logHandler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	// === 3. DATA DIRECTORIES ===
	// os.MkdirAll creates all parent directories if needed (like `mkdir -p`).
	// The avatar directory is created by the store on first upload.
	dbDir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		logger.Error("failed to create database directory",
			slog.String("dir", dbDir),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// === 4. TELEMETRY ===
	// Without LOGSTASH_ADDR events are simply discarded.
	var events telemetry.Sink = telemetry.Nop{}
	if cfg.LogstashAddr != "" {
		events = telemetry.NewLogstash(cfg.LogstashAddr, telemetry.WithTimeout(cfg.LogstashTimeout))
		logger.Info("telemetry enabled", slog.String("logstash", cfg.LogstashAddr))
	}

	// === 5. CREATE AND START THE SERVER ===
	srv, err := server.New(cfg, logger, events)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
