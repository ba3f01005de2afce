// Package config loads the server configuration from environment variables.
//
// STRUCT TAGS AS CONFIG SCHEMA:
// caarlos0/env reads each field from the variable named in its `env` tag and
// falls back to `envDefault`. Durations ("500ms", "24h"), bools and
// comma-separated lists are parsed for us, so the struct below IS the full list
// of knobs and their defaults.
//
// A .env file in the working directory is loaded first (if present) with
// joho/godotenv. Variables already set in the real environment win.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// MinSecretKeyLength matches the HMAC key floor enforced by auth.TokenService.
const MinSecretKeyLength = 16

type Config struct {
	Port     int    `env:"PORT" envDefault:"8000"`
	AppEnv   string `env:"APP_ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	DBPath           string `env:"DB_PATH" envDefault:"data/pong.db"`
	UploadDir        string `env:"UPLOAD_DIR" envDefault:"avatars"`
	DefaultAvatarURL string `env:"DEFAULT_AVATAR_URL"`

	SecretKey      string        `env:"SECRET_KEY"`
	CookieSameSite string        `env:"SESSION_COOKIE_SAMESITE" envDefault:"Lax"`
	CookieSecure   bool          `env:"SESSION_COOKIE_SECURE" envDefault:"false"`
	SessionTTL     time.Duration `env:"SESSION_TTL" envDefault:"24h"`

	GitHubClientID     string `env:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `env:"GITHUB_CLIENT_SECRET"`
	OAuthRedirectURI   string `env:"OAUTH_REDIRECT_URI" envDefault:"http://localhost:8000/api/oauth/callback/github"`
	FrontendURL        string `env:"FRONTEND_URL" envDefault:"/"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	LogstashAddr    string        `env:"LOGSTASH_ADDR"`
	LogstashTimeout time.Duration `env:"LOGSTASH_TIMEOUT" envDefault:"500ms"`
}

// Load reads an optional .env file, parses the environment and validates the result.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: loading .env: %w", err)
	}
	return Parse()
}

// Parse reads the configuration from the process environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: PORT %d out of range", c.Port)
	}
	if len(c.SecretKey) < MinSecretKeyLength {
		return fmt.Errorf("config: SECRET_KEY must be at least %d characters", MinSecretKeyLength)
	}
	if _, err := parseSameSite(c.CookieSameSite); err != nil {
		return err
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("config: SESSION_TTL must be positive, got %s", c.SessionTTL)
	}
	if c.LogstashTimeout <= 0 {
		return fmt.Errorf("config: LOGSTASH_TIMEOUT must be positive, got %s", c.LogstashTimeout)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// IsProduction hides internal error detail and switches logs to JSON.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// OAuthEnabled is true once both GitHub credentials are present.
func (c Config) OAuthEnabled() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != ""
}

// SameSite returns the cookie mode. Validate has already rejected bad values.
func (c Config) SameSite() http.SameSite {
	mode, _ := parseSameSite(c.CookieSameSite)
	return mode
}

// Level returns the slog level named by LOG_LEVEL.
func (c Config) Level() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

func parseSameSite(value string) (http.SameSite, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return http.SameSiteDefaultMode, fmt.Errorf("config: SESSION_COOKIE_SAMESITE must be Lax, Strict or None, got %q", value)
	}
}

func parseLevel(value string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return slog.LevelInfo, fmt.Errorf("config: LOG_LEVEL %q: %w", value, err)
	}
	return level, nil
}
