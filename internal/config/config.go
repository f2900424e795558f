// Package config reads Rollcall's settings from the environment: the
// account database, token lifetimes, the account flows and the banner
// idle sweep. Load reports every bad variable at once.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration for Rollcall.
type Config struct {
	HTTP   HTTPConfig
	DB     DBConfig
	Log    LogConfig
	JWT    JWTConfig
	Auth   AuthConfig
	Banner BannerConfig
	App    AppConfig
	Worker WorkerConfig
	OTel   OTelConfig
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int
}

// DBConfig holds database connection configuration.
type DBConfig struct {
	Driver   string // "sqlite" (default) or "postgres"
	DSN      string // required when Driver == "postgres"
	File     string // SQLite database file path (default: "rollcall.db")
	MaxConns int    // Postgres only
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string
	Format string
}

// JWTConfig holds JSON Web Token signing and expiry settings.
type JWTConfig struct {
	Secret     string //nolint:gosec // intentional: holds JWT signing secret loaded from env
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// AuthConfig controls teacher self-service account flows.
type AuthConfig struct {
	AllowRegistration bool
	ResetTTL          time.Duration // lifetime of a password reset token
	MinPasswordLength int
}

// BannerConfig controls the lifetime of hosted welcome banners.
type BannerConfig struct {
	IdleTTL       time.Duration // banners unused for this long are torn down
	SweepInterval time.Duration
}

// AppConfig holds the seed account created on first boot.
type AppConfig struct {
	SeedAdminEmail    string
	SeedAdminName     string
	SeedAdminPassword string
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	Concurrency int
}

// OTelConfig holds OpenTelemetry exporter settings.
type OTelConfig struct {
	OTLPEndpoint string
}

// Load reads configuration from environment variables and applies
// defaults. Every invalid or missing setting is reported in one error.
func Load() (*Config, error) {
	var e env
	cfg := &Config{}

	cfg.HTTP.Port = e.int("HTTP_PORT", 8080)

	cfg.DB.Driver = e.str("DB_DRIVER", "sqlite")
	cfg.DB.File = e.str("DB_FILE", "rollcall.db")
	cfg.DB.DSN = os.Getenv("DB_DSN")
	cfg.DB.MaxConns = e.int("DB_MAX_CONNS", 25)
	switch cfg.DB.Driver {
	case "sqlite":
	case "postgres":
		if cfg.DB.DSN == "" {
			e.fail("DB_DSN is required when DB_DRIVER=postgres")
		}
	default:
		e.fail("DB_DRIVER %q is not one of sqlite, postgres", cfg.DB.Driver)
	}

	cfg.Log.Level = e.str("LOG_LEVEL", "info")
	cfg.Log.Format = e.str("LOG_FORMAT", "json")

	cfg.JWT.Secret = os.Getenv("JWT_SECRET")
	if cfg.JWT.Secret == "" {
		e.fail("JWT_SECRET is required")
	}
	cfg.JWT.AccessTTL = e.duration("JWT_ACCESS_TTL", 15*time.Minute)
	cfg.JWT.RefreshTTL = e.duration("JWT_REFRESH_TTL", 720*time.Hour)

	cfg.Auth.AllowRegistration = e.bool("AUTH_ALLOW_REGISTRATION", true)
	cfg.Auth.ResetTTL = e.duration("AUTH_RESET_TTL", time.Hour)
	cfg.Auth.MinPasswordLength = e.int("AUTH_MIN_PASSWORD_LENGTH", 8)
	if cfg.Auth.ResetTTL <= 0 {
		e.fail("AUTH_RESET_TTL must be positive")
	}

	cfg.Banner.IdleTTL = e.duration("BANNER_IDLE_TTL", 30*time.Minute)
	cfg.Banner.SweepInterval = e.duration("BANNER_SWEEP_INTERVAL", time.Minute)
	if cfg.Banner.SweepInterval <= 0 {
		e.fail("BANNER_SWEEP_INTERVAL must be positive")
	}

	cfg.App.SeedAdminEmail = e.str("SEED_ADMIN_EMAIL", "admin@rollcall.local")
	cfg.App.SeedAdminName = e.str("SEED_ADMIN_NAME", "Teacher")
	cfg.App.SeedAdminPassword = os.Getenv("SEED_ADMIN_PASSWORD")

	cfg.Worker.Concurrency = e.int("WORKER_CONCURRENCY", 10)

	cfg.OTel.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	if err := e.err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// env reads typed variables and collects the problems it meets.
type env struct {
	errs []error
}

func (e *env) fail(format string, args ...any) {
	e.errs = append(e.errs, fmt.Errorf(format, args...))
}

func (e *env) err() error { return errors.Join(e.errs...) }

func (e *env) str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (e *env) int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail("%s: invalid integer %q", key, v)
		return def
	}
	return n
}

func (e *env) bool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail("%s: invalid boolean %q", key, v)
		return def
	}
	return b
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail("%s: invalid duration %q", key, v)
		return def
	}
	return d
}
