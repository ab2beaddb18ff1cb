package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Authentication modes.
const (
	AuthModeRemote = "remote"
	AuthModeLocal  = "local"
)

type Config struct {
	Port               string        `mapstructure:"PORT"`
	Env                string        `mapstructure:"ENV"`
	BasePath           string        `mapstructure:"BASE_PATH"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32         `mapstructure:"DB_MIN_CONNS"`
	DBSchema           string        `mapstructure:"DB_SCHEMA"`
	AuthMode           string        `mapstructure:"AUTH_MODE"`
	IdentityServiceURL string        `mapstructure:"IDENTITY_SERVICE_URL"`
	IdentityTimeout    time.Duration `mapstructure:"IDENTITY_TIMEOUT"`
	AuthSigningKey     string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins        []string      `mapstructure:"CORS_ORIGINS"`
	BodyLimit          string        `mapstructure:"BODY_LIMIT"`
	LogFormat          string        `mapstructure:"LOG_FORMAT"`
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
	MetricsEnabled     bool          `mapstructure:"METRICS_ENABLED"`
	ShutdownTimeout    time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
}

var keys = []string{
	"PORT", "ENV", "BASE_PATH",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SCHEMA",
	"AUTH_MODE", "IDENTITY_SERVICE_URL", "IDENTITY_TIMEOUT", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "BODY_LIMIT", "LOG_FORMAT", "LOG_LEVEL",
	"METRICS_ENABLED", "SHUTDOWN_TIMEOUT",
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first without overriding variables already set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("BASE_PATH", "/api")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("AUTH_MODE", "")
	v.SetDefault("IDENTITY_TIMEOUT", "5s")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("LOG_FORMAT", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.BasePath = normalizeBasePath(cfg.BasePath)

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

// SigningKey reads AUTH_SIGNING_KEY the same way Load does, without
// requiring the rest of the configuration. The token command uses it.
func SigningKey() (string, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("read .env: %w", err)
	}
	v := viper.New()
	_ = v.BindEnv("AUTH_SIGNING_KEY")
	key := v.GetString("AUTH_SIGNING_KEY")
	if len(key) < 32 {
		return "", fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes")
	}
	return key, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns AUTH_MODE when set. Otherwise development servers
// sign their own tokens and every other environment uses the identity service.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return strings.ToLower(c.AuthMode)
	}
	if c.IsDev() {
		return AuthModeLocal
	}
	return AuthModeRemote
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch c.ResolvedAuthMode() {
	case AuthModeRemote:
		if c.IdentityServiceURL == "" {
			return fmt.Errorf("IDENTITY_SERVICE_URL is required when AUTH_MODE is %q", AuthModeRemote)
		}
		if c.IdentityTimeout <= 0 {
			return fmt.Errorf("IDENTITY_TIMEOUT must be positive, got %s", c.IdentityTimeout)
		}
	case AuthModeLocal:
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE %q is not allowed in production", AuthModeLocal)
		}
		if len(c.AuthSigningKey) < 32 {
			return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes when AUTH_MODE is %q", AuthModeLocal)
		}
	default:
		return fmt.Errorf("AUTH_MODE must be %q or %q, got %q", AuthModeRemote, AuthModeLocal, c.AuthMode)
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func normalizeBasePath(p string) string {
	p = strings.TrimRight(strings.TrimSpace(p), "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
