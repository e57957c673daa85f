package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/PratikDhanave/email-event-registry/internal/errs"
)

// Config contains runtime configuration required by the service.
type Config struct {
	DBDriver string
	DBURL    string

	DBMaxConns        int32
	DBMinConns        int32
	DBMaxConnLifetime time.Duration
	DBMaxConnIdleTime time.Duration

	HTTPAddr                  string
	APIKeys                   map[string]string // apiKey -> caller
	DefaultProtectionInterval time.Duration
	RequestTimeout            time.Duration

	RedisURL string
	CacheTTL time.Duration

	LogLevel  slog.Level
	LogFormat string // "json" | "text"
}

// Load reads required values from environment variables.
//
// The storage connection descriptor comes from DB_URL or, when
// DB_CONNECTION_NAME is set, from DB_URL_<NAME>. A missing descriptor is a
// configuration error.
// API_KEYS format: "caller1:key1,caller2:key2"
func Load() (Config, error) {
	dbURL, err := ResolveConnection(os.Getenv("DB_CONNECTION_NAME"))
	if err != nil {
		return Config{}, err
	}

	driver := strings.ToLower(getEnv("DB_DRIVER", "postgres"))
	if driver != "postgres" && driver != "sqlite" {
		return Config{}, errs.Configuration(fmt.Sprintf("DB_DRIVER must be postgres or sqlite, got %q", driver), nil)
	}

	apiKeys, err := parseAPIKeys(os.Getenv("API_KEYS"))
	if err != nil {
		return Config{}, err
	}

	// Local dev fallback so the service runs out-of-the-box.
	if len(apiKeys) == 0 {
		apiKeys["dev-key-123"] = "dev"
	}

	// The first unparsable numeric or duration value fails Load.
	var parseErr error
	num := func(key string, fallback int32) int32 {
		v, err := parseInt32Env(key, fallback)
		if err != nil && parseErr == nil {
			parseErr = err
		}
		return v
	}
	dur := func(key string, fallback time.Duration) time.Duration {
		v, err := parseDurationEnv(key, fallback)
		if err != nil && parseErr == nil {
			parseErr = err
		}
		return v
	}

	level, err := parseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	protection := dur("DEFAULT_PROTECTION_INTERVAL", 0)
	if parseErr != nil {
		return Config{}, parseErr
	}
	if protection < 0 {
		return Config{}, errors.New("DEFAULT_PROTECTION_INTERVAL must not be negative")
	}

	logFormat := strings.ToLower(getEnv("LOG_FORMAT", "json"))
	if logFormat != "json" && logFormat != "text" {
		return Config{}, fmt.Errorf("LOG_FORMAT must be json or text, got %q", logFormat)
	}

	cfg := Config{
		DBDriver:                  driver,
		DBURL:                     dbURL,
		DBMaxConns:                num("DB_MAX_CONNS", 25),
		DBMinConns:                num("DB_MIN_CONNS", 2),
		DBMaxConnLifetime:         dur("DB_MAX_CONN_LIFETIME", 30*time.Minute),
		DBMaxConnIdleTime:         dur("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
		HTTPAddr:                  getEnv("HTTP_ADDR", ":8080"),
		APIKeys:                   apiKeys,
		DefaultProtectionInterval: protection,
		RequestTimeout:            dur("REQUEST_TIMEOUT", 5*time.Second),
		RedisURL:                  strings.TrimSpace(os.Getenv("REDIS_URL")),
		CacheTTL:                  dur("CACHE_TTL", 10*time.Minute),
		LogLevel:                  level,
		LogFormat:                 logFormat,
	}
	if parseErr != nil {
		return Config{}, parseErr
	}
	return cfg, nil
}

// ResolveConnection returns the connection descriptor for name. An empty
// name selects DB_URL; any other name selects DB_URL_<NAME>, upper-cased with
// dashes and dots turned into underscores.
func ResolveConnection(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		dbURL := strings.TrimSpace(os.Getenv("DB_URL"))
		if dbURL == "" {
			return "", errs.Configuration("DB_URL required", nil)
		}
		return dbURL, nil
	}

	envName := "DB_URL_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
	dbURL := strings.TrimSpace(os.Getenv(envName))
	if dbURL == "" {
		return "", errs.Configuration(fmt.Sprintf("no connection string configuration was found by the name %q (%s)", name, envName), nil)
	}
	return dbURL, nil
}

func parseAPIKeys(raw string) (map[string]string, error) {
	apiKeys := map[string]string{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return apiKeys, nil
	}
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 {
			return nil, errors.New(`API_KEYS must be "caller:key,caller:key"`)
		}
		caller := strings.TrimSpace(parts[0])
		key := strings.TrimSpace(parts[1])
		if caller == "" || key == "" {
			return nil, errors.New(`API_KEYS must be "caller:key,caller:key"`)
		}
		apiKeys[key] = caller
	}
	return apiKeys, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func parseInt32Env(key string, fallback int32) (int32, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseInt(val, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q: %w", key, val, err)
	}
	return int32(parsed), nil
}

func parseDurationEnv(key string, fallback time.Duration) (time.Duration, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration such as \"30s\", got %q: %w", key, val, err)
	}
	return parsed, nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", s)
	}
	return l, nil
}
