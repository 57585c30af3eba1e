// Package config loads the server configuration from environment variables.
//
// HOW IT WORKS:
// Every field carries an `env` tag naming its variable and, usually, an
// `envDefault` tag. Nested structs use `envPrefix`, so S3.Bucket is read from
// S3_BUCKET and Probe.Image from PROBE_IMAGE. caarlos0/env does the parsing,
// including time.Duration values such as "24h" or "90s".
//
// Load() parses, then validates. A config that parses but makes no sense
// (an unknown backend name, a negative limit) is rejected here rather than
// deep inside server start-up.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	CatalogSQLite = "sqlite"
	CatalogFile   = "file"

	StorageLocal = "local"
	StorageS3    = "s3"

	minSecretLen = 16
)

type Config struct {
	Port        int           `env:"PORT"         envDefault:"8080"`
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"2m"`
	LogLevel    string        `env:"LOG_LEVEL"    envDefault:"info"`
	LogFormat   string        `env:"LOG_FORMAT"   envDefault:"text"`
	DBPath      string        `env:"DB_PATH"      envDefault:"data/vidshare.db"`
	StaticDir   string        `env:"STATIC_DIR"   envDefault:"web/static"`

	// CORSAllowedOrigins is a comma-separated list; "*" allows any origin
	// and an empty value disables CORS headers.
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`
	// ForceHTTPS redirects plain-HTTP requests to https (set it in
	// production, behind the TLS-terminating proxy).
	ForceHTTPS bool `env:"FORCE_HTTPS" envDefault:"false"`

	JWTSecret       string        `env:"JWT_SECRET"`
	SessionTTL      time.Duration `env:"SESSION_TTL"      envDefault:"24h"`
	VerificationTTL time.Duration `env:"VERIFICATION_TTL" envDefault:"24h"`
	ResetTTL        time.Duration `env:"RESET_TTL"        envDefault:"1h"`
	BcryptCost      int           `env:"BCRYPT_COST"      envDefault:"12"`

	UploadDir         string `env:"UPLOAD_DIR"          envDefault:"uploads"`
	UploadMaxBytes    int64  `env:"UPLOAD_MAX_BYTES"    envDefault:"524288000"`
	UploadMaxParallel int    `env:"UPLOAD_MAX_PARALLEL" envDefault:"4"`

	CatalogBackend string `env:"CATALOG_BACKEND" envDefault:"sqlite"`
	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"local"`

	S3       S3       `envPrefix:"S3_"`
	GitHub   GitHub   `envPrefix:"GITHUB_"`
	Probe    Probe    `envPrefix:"PROBE_"`
	AuthRate AuthRate `envPrefix:"AUTH_RATE_"`
}

// S3 configures the object-store asset backend (STORAGE_BACKEND=s3).
// Endpoint is only needed for S3-compatible services such as MinIO.
type S3 struct {
	Bucket        string `env:"BUCKET"`
	Region        string `env:"REGION" envDefault:"us-east-1"`
	Endpoint      string `env:"ENDPOINT"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`
}

// GitHub sign-in is enabled only when both the client ID and secret are set.
type GitHub struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	CallbackURL  string `env:"CALLBACK_URL"`
}

func (g GitHub) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != ""
}

type Probe struct {
	Enabled  bool          `env:"ENABLED"   envDefault:"false"`
	Image    string        `env:"IMAGE"     envDefault:"linuxserver/ffmpeg:latest"`
	Timeout  time.Duration `env:"TIMEOUT"   envDefault:"10s"`
	PoolSize int           `env:"POOL_SIZE" envDefault:"2"`
}

// AuthRate limits requests per client IP on the /auth routes:
// Requests per Window, with short bursts up to Burst.
type AuthRate struct {
	Requests int           `env:"REQUESTS" envDefault:"10"`
	Window   time.Duration `env:"WINDOW"   envDefault:"1m"`
	Burst    int           `env:"BURST"    envDefault:"5"`
}

// Load reads the environment and validates the result.
//
// A missing JWT_SECRET is not fatal: a random secret is generated so the
// server still starts, with a warning that sessions will not survive a
// restart.
func Load(logger *slog.Logger) (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config: parsing environment: %w", err)
	}

	if cfg.JWTSecret == "" {
		secret, err := randomSecret()
		if err != nil {
			return nil, fmt.Errorf("config: generating JWT secret: %w", err)
		}
		cfg.JWTSecret = secret
		logger.Warn("JWT_SECRET not set, using an ephemeral secret; sessions will not survive a restart")
	}

	if cfg.GitHub.CallbackURL == "" {
		cfg.GitHub.CallbackURL = fmt.Sprintf("http://localhost:%d/auth/github/callback", cfg.Port)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field rules that struct tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	if len(c.JWTSecret) < minSecretLen {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d characters", minSecretLen))
	}
	if c.SessionTTL <= 0 || c.VerificationTTL <= 0 || c.ResetTTL <= 0 {
		errs = append(errs, errors.New("token lifetimes must be positive"))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("BCRYPT_COST %d out of range 4..31", c.BcryptCost))
	}
	if c.UploadMaxBytes <= 0 {
		errs = append(errs, errors.New("UPLOAD_MAX_BYTES must be positive"))
	}
	if c.UploadMaxParallel <= 0 {
		errs = append(errs, errors.New("UPLOAD_MAX_PARALLEL must be positive"))
	}

	switch c.CatalogBackend {
	case CatalogSQLite, CatalogFile:
	default:
		errs = append(errs, fmt.Errorf("CATALOG_BACKEND %q: want %q or %q", c.CatalogBackend, CatalogSQLite, CatalogFile))
	}
	switch c.StorageBackend {
	case StorageLocal:
	case StorageS3:
		if c.S3.Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required when STORAGE_BACKEND=s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND %q: want %q or %q", c.StorageBackend, StorageLocal, StorageS3))
	}

	if c.Probe.Enabled && c.Probe.PoolSize <= 0 {
		errs = append(errs, errors.New("PROBE_POOL_SIZE must be positive"))
	}
	if c.AuthRate.Requests <= 0 || c.AuthRate.Window <= 0 {
		errs = append(errs, errors.New("AUTH_RATE_REQUESTS and AUTH_RATE_WINDOW must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// SlogLevel maps LOG_LEVEL onto a slog.Level. Unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
