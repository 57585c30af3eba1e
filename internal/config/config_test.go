package config

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef0123")

	cfg, err := Load(discardLogger())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 2*time.Minute, cfg.HTTPTimeout)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 24*time.Hour, cfg.VerificationTTL)
	assert.Equal(t, time.Hour, cfg.ResetTTL)
	assert.Equal(t, 12, cfg.BcryptCost)
	assert.Equal(t, int64(524288000), cfg.UploadMaxBytes)
	assert.Equal(t, 4, cfg.UploadMaxParallel)
	assert.Equal(t, CatalogSQLite, cfg.CatalogBackend)
	assert.Equal(t, StorageLocal, cfg.StorageBackend)
	assert.Equal(t, "us-east-1", cfg.S3.Region)
	assert.False(t, cfg.Probe.Enabled)
	assert.Equal(t, "linuxserver/ffmpeg:latest", cfg.Probe.Image)
	assert.Equal(t, 10, cfg.AuthRate.Requests)
	assert.False(t, cfg.GitHub.Enabled())
	assert.Equal(t, "http://localhost:8080/auth/github/callback", cfg.GitHub.CallbackURL)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.False(t, cfg.ForceHTTPS)
}

func TestLoad_CORSAndHTTPS(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example,https://admin.example")
	t.Setenv("FORCE_HTTPS", "true")

	cfg, err := Load(discardLogger())
	require.NoError(t, err)

	assert.Equal(t, []string{"https://app.example", "https://admin.example"}, cfg.CORSAllowedOrigins)
	assert.True(t, cfg.ForceHTTPS)
}

func TestLoad_NestedPrefixes(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("STORAGE_BACKEND", "s3")
	t.Setenv("S3_BUCKET", "media")
	t.Setenv("S3_ENDPOINT", "http://minio:9000")
	t.Setenv("GITHUB_CLIENT_ID", "id")
	t.Setenv("GITHUB_CLIENT_SECRET", "secret")
	t.Setenv("PROBE_ENABLED", "true")
	t.Setenv("PROBE_TIMEOUT", "3s")
	t.Setenv("AUTH_RATE_WINDOW", "30s")

	cfg, err := Load(discardLogger())
	require.NoError(t, err)

	assert.Equal(t, "media", cfg.S3.Bucket)
	assert.Equal(t, "http://minio:9000", cfg.S3.Endpoint)
	assert.True(t, cfg.GitHub.Enabled())
	assert.True(t, cfg.Probe.Enabled)
	assert.Equal(t, 3*time.Second, cfg.Probe.Timeout)
	assert.Equal(t, 30*time.Second, cfg.AuthRate.Window)
}

func TestLoad_EphemeralSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	a, err := Load(discardLogger())
	require.NoError(t, err)
	b, err := Load(discardLogger())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(a.JWTSecret), minSecretLen)
	assert.NotEqual(t, a.JWTSecret, b.JWTSecret)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"short secret", "JWT_SECRET", "short"},
		{"unknown catalog", "CATALOG_BACKEND", "mongo"},
		{"unknown storage", "STORAGE_BACKEND", "ftp"},
		{"s3 without bucket", "STORAGE_BACKEND", "s3"},
		{"zero parallel uploads", "UPLOAD_MAX_PARALLEL", "0"},
		{"bcrypt cost too high", "BCRYPT_COST", "40"},
		{"bad duration", "SESSION_TTL", "forever"},
		{"port out of range", "PORT", "70000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "0123456789abcdef0123")
			t.Setenv(tt.key, tt.value)

			_, err := Load(discardLogger())
			assert.Error(t, err)
		})
	}
}

func TestSlogLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"chatty":  slog.LevelInfo,
		"warning": slog.LevelWarn,
	} {
		cfg := &Config{LogLevel: in}
		assert.Equal(t, want, cfg.SlogLevel(), in)
	}
}
