package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PratikDhanave/email-event-registry/internal/errs"
	"github.com/PratikDhanave/email-event-registry/internal/models"
)

// schemaSQL is embedded so the service can self-bootstrap its database schema.
//
//go:embed schema.sql
var schemaSQL string

var _ Backend = (*PostgresStore)(nil)

// PostgresStore is the durable persistence layer for engagement events.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore creates a connection pool and fails fast if DB is unreachable.
func NewPostgresStore(ctx context.Context, cfg DBConfig, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, errs.Configuration("invalid postgres connection descriptor", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errs.StorageUnavailable("connect", "", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errs.StorageUnavailable("connect", "", err)
	}

	logger.Debug("postgres pool ready",
		"max_conns", poolCfg.MaxConns,
		"min_conns", poolCfg.MinConns)

	return &PostgresStore{pool: pool, logger: logger}, nil
}

// NewPostgresStoreFromPool wraps an existing pool. The store takes ownership.
func NewPostgresStoreFromPool(pool *pgxpool.Pool, logger *slog.Logger) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// EnsureSchema applies schema.sql. Safe to run multiple times.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return errs.Storage("ensure schema", "", err)
	}
	return nil
}

// Ping is used by readiness endpoint to validate DB connectivity.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

// LastOpen returns the stored open timestamp for key.
func (p *PostgresStore) LastOpen(ctx context.Context, key models.OpenKey) (time.Time, bool, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT ts FROM open_events
		WHERE message_id=$1 AND instance_id=$2 AND contact_id=$3
	`, key.MessageID, key.InstanceID, key.ContactID)
	return scanOptionalPgTime(row, opLookupOpen, key.String())
}

// LastClick returns the stored click timestamp for key.
func (p *PostgresStore) LastClick(ctx context.Context, key models.ClickKey) (time.Time, bool, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT ts FROM click_events
		WHERE message_id=$1 AND instance_id=$2 AND contact_id=$3 AND link_hash=$4
	`, key.MessageID, key.InstanceID, key.ContactID, key.LinkHash[:])
	return scanOptionalPgTime(row, opLookupClick, key.String())
}

// UpsertOpen registers an open inside one transaction.
//
// INSERT ... ON CONFLICT DO NOTHING elects the single first writer for the key;
// every other caller waits for that insert to commit, then locks the row
// with SELECT ... FOR UPDATE before deciding whether to advance it.
func (p *PostgresStore) UpsertOpen(ctx context.Context, key models.OpenKey, now, cutoff time.Time) (models.RegistrationResult, error) {
	var res models.RegistrationResult
	k := key.String()

	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		inserted, err := insertPg(ctx, tx, opRegisterOpen, k, `
			INSERT INTO open_events (message_id, instance_id, contact_id, ts)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (message_id, instance_id, contact_id) DO NOTHING
			RETURNING ts
		`, key.MessageID, key.InstanceID, key.ContactID, now)
		if err != nil {
			return err
		}
		if inserted != nil {
			res = models.RegistrationResult{Timestamp: *inserted, IsFirstRegistration: true}
			return nil
		}

		stored, err := lockPg(ctx, tx, opRegisterOpen, k, `
			SELECT ts FROM open_events
			WHERE message_id=$1 AND instance_id=$2 AND contact_id=$3
			FOR UPDATE
		`, key.MessageID, key.InstanceID, key.ContactID)
		if err != nil {
			return err
		}

		var update bool
		res, update = decide(stored, now, cutoff)
		if !update {
			return nil
		}
		return execOnePg(ctx, tx, opRegisterOpen, k, `
			UPDATE open_events SET ts=$4
			WHERE message_id=$1 AND instance_id=$2 AND contact_id=$3
		`, key.MessageID, key.InstanceID, key.ContactID, now)
	})
	if err != nil {
		return models.RegistrationResult{}, errs.Storage(opRegisterOpen, k, err)
	}
	return res, nil
}

// UpsertClick registers a click inside one transaction.
//
// A transaction-scoped advisory lock on the (message, instance, contact)
// triple serializes the cross-link check across processes, so "first click
// of any link" has exactly one winner per contact and send.
func (p *PostgresStore) UpsertClick(ctx context.Context, key models.ClickKey, now, cutoff time.Time) (models.RegistrationResult, error) {
	var res models.RegistrationResult
	k := key.String()

	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key.Contact().String()); err != nil {
			return err
		}

		var otherClicks bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM click_events
				WHERE message_id=$1 AND instance_id=$2 AND contact_id=$3
			)
		`, key.MessageID, key.InstanceID, key.ContactID).Scan(&otherClicks); err != nil {
			return err
		}

		inserted, err := insertPg(ctx, tx, opRegisterClick, k, `
			INSERT INTO click_events (message_id, instance_id, contact_id, link_hash, ts)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (message_id, instance_id, contact_id, link_hash) DO NOTHING
			RETURNING ts
		`, key.MessageID, key.InstanceID, key.ContactID, key.LinkHash[:], now)
		if err != nil {
			return err
		}
		if inserted != nil {
			res = models.RegistrationResult{Timestamp: *inserted, IsFirstRegistration: !otherClicks}
			return nil
		}

		stored, err := lockPg(ctx, tx, opRegisterClick, k, `
			SELECT ts FROM click_events
			WHERE message_id=$1 AND instance_id=$2 AND contact_id=$3 AND link_hash=$4
			FOR UPDATE
		`, key.MessageID, key.InstanceID, key.ContactID, key.LinkHash[:])
		if err != nil {
			return err
		}

		var update bool
		res, update = decide(stored, now, cutoff)
		if !update {
			return nil
		}
		return execOnePg(ctx, tx, opRegisterClick, k, `
			UPDATE click_events SET ts=$5
			WHERE message_id=$1 AND instance_id=$2 AND contact_id=$3 AND link_hash=$4
		`, key.MessageID, key.InstanceID, key.ContactID, key.LinkHash[:], now)
	})
	if err != nil {
		return models.RegistrationResult{}, errs.Storage(opRegisterClick, k, err)
	}
	return res, nil
}

// insertPg runs an INSERT ... RETURNING ts. A nil timestamp means the key
// already existed and nothing was inserted.
func insertPg(ctx context.Context, tx pgx.Tx, op, key, sql string, args ...any) (*time.Time, error) {
	var raw any
	err := tx.QueryRow(ctx, sql, args...).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ts, err := pgTime(op, key, raw)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

// lockPg reads the stored timestamp of a row that must exist.
func lockPg(ctx context.Context, tx pgx.Tx, op, key, sql string, args ...any) (time.Time, error) {
	var raw any
	err := tx.QueryRow(ctx, sql, args...).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, emptyResponse(op, key)
	}
	if err != nil {
		return time.Time{}, err
	}
	return pgTime(op, key, raw)
}

func execOnePg(ctx context.Context, tx pgx.Tx, op, key, sql string, args ...any) error {
	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return errs.CorruptResponse(op, key, fmt.Sprintf("update affected %d rows", tag.RowsAffected()), nil)
	}
	return nil
}

func scanOptionalPgTime(row pgx.Row, op, key string) (time.Time, bool, error) {
	var raw any
	err := row.Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errs.Storage(op, key, err)
	}
	ts, err := pgTime(op, key, raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return ts, true, nil
}

func pgTime(op, key string, raw any) (time.Time, error) {
	ts, ok := raw.(time.Time)
	if !ok {
		return time.Time{}, unexpectedType(op, key, raw)
	}
	return ts.UTC(), nil
}
