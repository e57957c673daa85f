// Package store persists engagement events and implements the atomic
// insert-or-update used to register them.
//
// Two backends satisfy Backend: PostgresStore (pgx) for shared deployments and
// SQLiteStore for single-node or local use. Both hold one row per event key and
// rely on the key's uniqueness constraint to elect exactly one first writer.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/PratikDhanave/email-event-registry/internal/errs"
	"github.com/PratikDhanave/email-event-registry/internal/models"
)

// Operation names used in error context.
const (
	opLookupOpen    = "lookup open"
	opLookupClick   = "lookup click"
	opRegisterOpen  = "register open"
	opRegisterClick = "register click"
)

// Reader answers advisory "when did this last happen" questions.
// A missing record is reported as ok=false with a nil error.
type Reader interface {
	LastOpen(ctx context.Context, key models.OpenKey) (ts time.Time, ok bool, err error)
	LastClick(ctx context.Context, key models.ClickKey) (ts time.Time, ok bool, err error)
}

// Backend is a storage engine able to run the registration protocol.
//
// UpsertOpen and UpsertClick must execute as one indivisible unit per key:
// concurrent callers on the same key never both observe "no record".
type Backend interface {
	Reader

	UpsertOpen(ctx context.Context, key models.OpenKey, now, cutoff time.Time) (models.RegistrationResult, error)
	UpsertClick(ctx context.Context, key models.ClickKey, now, cutoff time.Time) (models.RegistrationResult, error)

	EnsureSchema(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Drivers accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DBConfig holds the connection descriptor and pool settings.
type DBConfig struct {
	// Driver is DriverPostgres or DriverSQLite.
	Driver string

	// URL is the connection descriptor: a postgres:// URL or a SQLite file path.
	URL string

	// Pool settings, Postgres only. Zero keeps the pgxpool default.
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Open connects the backend named by cfg.Driver and verifies it is reachable.
func Open(ctx context.Context, cfg DBConfig, logger *slog.Logger) (Backend, error) {
	if cfg.URL == "" {
		return nil, errs.Configuration("empty connection descriptor", nil)
	}
	switch cfg.Driver {
	case DriverPostgres, "":
		return NewPostgresStore(ctx, cfg, logger)
	case DriverSQLite:
		return OpenSQLite(cfg.URL, logger)
	default:
		return nil, errs.Configuration(fmt.Sprintf("unsupported driver %q", cfg.Driver), nil)
	}
}

// decide classifies an existing record. update reports whether the stored
// timestamp must advance to now.
func decide(stored, now, cutoff time.Time) (res models.RegistrationResult, update bool) {
	if stored.Before(cutoff) {
		return models.RegistrationResult{Timestamp: now}, true
	}
	return models.RegistrationResult{Timestamp: stored, IsDuplicate: true}, false
}

func emptyResponse(op, key string) error {
	return errs.CorruptResponse(op, key, "empty response retrieved from the database", nil)
}

func unexpectedType(op, key string, v any) error {
	return errs.CorruptResponse(op, key, fmt.Sprintf("unexpected data type %T in result", v), nil)
}
