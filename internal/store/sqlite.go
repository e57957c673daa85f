package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/PratikDhanave/email-event-registry/internal/errs"
	"github.com/PratikDhanave/email-event-registry/internal/models"
)

//go:embed schema_sqlite.sql
var sqliteSchemaSQL string

var _ Backend = (*SQLiteStore)(nil)

// SQLiteStore keeps engagement events in a local SQLite file.
//
// Every registration runs in a BEGIN IMMEDIATE transaction, which takes the
// database write lock up front; that makes the read-decide-write sequence
// indivisible across connections and processes sharing the file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite creates or opens the database at path and applies the schema.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return nil, errs.Configuration("empty sqlite path", nil)
	}

	db, err := sql.Open("sqlite3", sqliteDSN(path))
	if err != nil {
		return nil, errs.Configuration("invalid sqlite connection descriptor", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errs.StorageUnavailable("connect", "", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applySQLitePragmas(db); err != nil {
		db.Close()
		return nil, errs.StorageUnavailable("connect", "", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// sqliteDSN turns a plain path into a DSN whose transactions start IMMEDIATE.
func sqliteDSN(path string) string {
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	if !strings.Contains(dsn, "_txlock=") {
		dsn += sep + "_txlock=immediate"
	}
	return dsn
}

func applySQLitePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// EnsureSchema creates the tables if they don't exist.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchemaSQL); err != nil {
		return errs.Storage("ensure schema", "", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) LastOpen(ctx context.Context, key models.OpenKey) (time.Time, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT ts FROM open_events
		WHERE message_id = ? AND instance_id = ? AND contact_id = ?
	`, key.MessageID, key.InstanceID, key.ContactID)
	return scanOptionalSQLiteTime(row, opLookupOpen, key.String())
}

func (s *SQLiteStore) LastClick(ctx context.Context, key models.ClickKey) (time.Time, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT ts FROM click_events
		WHERE message_id = ? AND instance_id = ? AND contact_id = ? AND link_hash = ?
	`, key.MessageID, key.InstanceID, key.ContactID, key.LinkHash[:])
	return scanOptionalSQLiteTime(row, opLookupClick, key.String())
}

func (s *SQLiteStore) UpsertOpen(ctx context.Context, key models.OpenKey, now, cutoff time.Time) (models.RegistrationResult, error) {
	k := key.String()
	res, err := s.withTx(ctx, func(tx *sql.Tx) (models.RegistrationResult, error) {
		return upsertSQLite(ctx, tx, opRegisterOpen, k, false, now, cutoff,
			`INSERT INTO open_events (message_id, instance_id, contact_id, ts)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT (message_id, instance_id, contact_id) DO NOTHING`,
			`SELECT ts FROM open_events
			 WHERE message_id = ? AND instance_id = ? AND contact_id = ?`,
			`UPDATE open_events SET ts = ?
			 WHERE message_id = ? AND instance_id = ? AND contact_id = ?`,
			key.MessageID, key.InstanceID, key.ContactID)
	})
	if err != nil {
		return models.RegistrationResult{}, errs.Storage(opRegisterOpen, k, err)
	}
	return res, nil
}

func (s *SQLiteStore) UpsertClick(ctx context.Context, key models.ClickKey, now, cutoff time.Time) (models.RegistrationResult, error) {
	k := key.String()
	res, err := s.withTx(ctx, func(tx *sql.Tx) (models.RegistrationResult, error) {
		var otherClicks bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM click_events
				WHERE message_id = ? AND instance_id = ? AND contact_id = ?
			)
		`, key.MessageID, key.InstanceID, key.ContactID).Scan(&otherClicks); err != nil {
			return models.RegistrationResult{}, err
		}

		res, err := upsertSQLite(ctx, tx, opRegisterClick, k, otherClicks, now, cutoff,
			`INSERT INTO click_events (message_id, instance_id, contact_id, link_hash, ts)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (message_id, instance_id, contact_id, link_hash) DO NOTHING`,
			`SELECT ts FROM click_events
			 WHERE message_id = ? AND instance_id = ? AND contact_id = ? AND link_hash = ?`,
			`UPDATE click_events SET ts = ?
			 WHERE message_id = ? AND instance_id = ? AND contact_id = ? AND link_hash = ?`,
			key.MessageID, key.InstanceID, key.ContactID, key.LinkHash[:])
		return res, err
	})
	if err != nil {
		return models.RegistrationResult{}, errs.Storage(opRegisterClick, k, err)
	}
	return res, nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) (models.RegistrationResult, error)) (models.RegistrationResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.RegistrationResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	res, err := fn(tx)
	if err != nil {
		return models.RegistrationResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.RegistrationResult{}, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

// upsertSQLite runs insert-or-decide-update for one key. keyArgs are the
// identifying columns in table order; the insert appends the timestamp and
// the update prepends it. notFirst forces IsFirstRegistration off on insert.
func upsertSQLite(ctx context.Context, tx *sql.Tx, op, key string, notFirst bool, now, cutoff time.Time,
	insertSQL, selectSQL, updateSQL string, keyArgs ...any) (models.RegistrationResult, error) {

	micros := now.UnixMicro()

	result, err := tx.ExecContext(ctx, insertSQL, append(append([]any{}, keyArgs...), micros)...)
	if err != nil {
		return models.RegistrationResult{}, fmt.Errorf("insert: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return models.RegistrationResult{}, fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return models.RegistrationResult{Timestamp: time.UnixMicro(micros).UTC(), IsFirstRegistration: !notFirst}, nil
	}

	var raw any
	err = tx.QueryRowContext(ctx, selectSQL, keyArgs...).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RegistrationResult{}, emptyResponse(op, key)
	}
	if err != nil {
		return models.RegistrationResult{}, fmt.Errorf("select existing: %w", err)
	}
	stored, err := sqliteTime(op, key, raw)
	if err != nil {
		return models.RegistrationResult{}, err
	}

	res, update := decide(stored, now, cutoff)
	if !update {
		return res, nil
	}

	result, err = tx.ExecContext(ctx, updateSQL, append([]any{micros}, keyArgs...)...)
	if err != nil {
		return models.RegistrationResult{}, fmt.Errorf("update: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil || n != 1 {
		return models.RegistrationResult{}, errs.CorruptResponse(op, key, fmt.Sprintf("update affected %d rows", n), err)
	}
	return res, nil
}

func scanOptionalSQLiteTime(row *sql.Row, op, key string) (time.Time, bool, error) {
	var raw any
	err := row.Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errs.Storage(op, key, err)
	}
	ts, err := sqliteTime(op, key, raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return ts, true, nil
}

func sqliteTime(op, key string, raw any) (time.Time, error) {
	micros, ok := raw.(int64)
	if !ok {
		return time.Time{}, unexpectedType(op, key, raw)
	}
	return time.UnixMicro(micros).UTC(), nil
}
