package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PratikDhanave/email-event-registry/internal/errs"
)

func TestLoad_RequiresDBURL(t *testing.T) {
	t.Setenv("DB_URL", "")
	t.Setenv("DB_CONNECTION_NAME", "")

	_, err := Load()
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindConfiguration))
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DB_URL", "postgres://localhost/events")
	t.Setenv("DB_CONNECTION_NAME", "")
	for _, key := range []string{"API_KEYS", "DB_DRIVER", "HTTP_ADDR", "LOG_LEVEL", "LOG_FORMAT",
		"DEFAULT_PROTECTION_INTERVAL", "REQUEST_TIMEOUT", "REDIS_URL", "CACHE_TTL"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, "postgres://localhost/events", cfg.DBURL)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, map[string]string{"dev-key-123": "dev"}, cfg.APIKeys)
	assert.Equal(t, time.Duration(0), cfg.DefaultProtectionInterval)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DB_URL", "/var/lib/events.db")
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("API_KEYS", "mailer:k1, tracker:k2")
	t.Setenv("DEFAULT_PROTECTION_INTERVAL", "90s")
	t.Setenv("DB_MAX_CONNS", "7")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, map[string]string{"k1": "mailer", "k2": "tracker"}, cfg.APIKeys)
	assert.Equal(t, 90*time.Second, cfg.DefaultProtectionInterval)
	assert.Equal(t, int32(7), cfg.DBMaxConns)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"bad api keys", "API_KEYS", "nocolon"},
		{"empty caller", "API_KEYS", ":key"},
		{"bad driver", "DB_DRIVER", "mysql"},
		{"negative interval", "DEFAULT_PROTECTION_INTERVAL", "-1s"},
		{"bad log format", "LOG_FORMAT", "xml"},
		{"bad log level", "LOG_LEVEL", "loud"},
		{"unparsable interval", "DEFAULT_PROTECTION_INTERVAL", "1 hour"},
		{"unparsable max conns", "DB_MAX_CONNS", "lots"},
		{"unparsable request timeout", "REQUEST_TIMEOUT", "5"},
		{"unparsable cache ttl", "CACHE_TTL", "ten minutes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DB_URL", "postgres://localhost/events")
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestResolveConnection_Named(t *testing.T) {
	t.Setenv("DB_URL_EMAIL_EVENTS", "postgres://db/email")

	url, err := ResolveConnection("email-events")
	require.NoError(t, err)
	assert.Equal(t, "postgres://db/email", url)

	_, err = ResolveConnection("reporting")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindConfiguration))
	assert.Contains(t, err.Error(), `no connection string configuration was found by the name "reporting"`)
}

func TestLoad_NamedConnection(t *testing.T) {
	t.Setenv("DB_URL", "")
	t.Setenv("DB_CONNECTION_NAME", "web")
	t.Setenv("DB_URL_WEB", "postgres://db/web")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://db/web", cfg.DBURL)
}
