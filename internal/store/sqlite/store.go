// Package sqlite persists monitor states in a SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jpalmerr/sitewatch/internal/store"
)

// Store implements [store.Persister] for SQLite.
type Store struct {
	db *sql.DB
}

// New opens the database at path and runs migrations.
func New(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}
	// a single writer avoids SQLITE_BUSY between loops
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, `pragma journal_mode=WAL; pragma synchronous=NORMAL; pragma busy_timeout=5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS monitor_states (
	id               TEXT PRIMARY KEY,
	url              TEXT NOT NULL UNIQUE,
	phase            TEXT NOT NULL,
	digest           TEXT NOT NULL,
	size_bytes       INTEGER NOT NULL,
	response_time_ms INTEGER NOT NULL,
	checks           INTEGER NOT NULL,
	failures         INTEGER NOT NULL,
	alerts           INTEGER NOT NULL,
	last_check       TEXT NOT NULL,
	last_change      TEXT,
	last_error       TEXT,
	last_alert_id    TEXT NOT NULL,
	sms_outcome      TEXT NOT NULL,
	email_outcome    TEXT NOT NULL
);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Put inserts or replaces the state with the same ID.
func (s *Store) Put(ctx context.Context, st store.State) error {
	if st.ID == "" {
		st.ID = store.ID(st.URL)
	}
	var lastChange *string
	if st.LastChange != nil {
		v := st.LastChange.UTC().Format(time.RFC3339Nano)
		lastChange = &v
	}

	const query = `
INSERT INTO monitor_states (id, url, phase, digest, size_bytes, response_time_ms,
	checks, failures, alerts, last_check, last_change, last_error,
	last_alert_id, sms_outcome, email_outcome)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	phase = excluded.phase,
	digest = excluded.digest,
	size_bytes = excluded.size_bytes,
	response_time_ms = excluded.response_time_ms,
	checks = excluded.checks,
	failures = excluded.failures,
	alerts = excluded.alerts,
	last_check = excluded.last_check,
	last_change = excluded.last_change,
	last_error = excluded.last_error,
	last_alert_id = excluded.last_alert_id,
	sms_outcome = excluded.sms_outcome,
	email_outcome = excluded.email_outcome`
	_, err := s.db.ExecContext(ctx, query,
		st.ID, st.URL, st.Phase, st.Digest, st.SizeBytes, st.ResponseTimeMs,
		st.Checks, st.Failures, st.Alerts, st.LastCheck.UTC().Format(time.RFC3339Nano),
		lastChange, st.LastError, st.LastAlertID, st.SMSOutcome, st.EmailOutcome,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert state: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, url, phase, digest, size_bytes, response_time_ms,
	checks, failures, alerts, last_check, last_change, last_error,
	last_alert_id, sms_outcome, email_outcome FROM monitor_states`

type scanner interface {
	Scan(dest ...any) error
}

func scanState(row scanner) (store.State, error) {
	var st store.State
	var lastCheck string
	var lastChange, lastError sql.NullString
	if err := row.Scan(&st.ID, &st.URL, &st.Phase, &st.Digest, &st.SizeBytes, &st.ResponseTimeMs,
		&st.Checks, &st.Failures, &st.Alerts, &lastCheck, &lastChange, &lastError,
		&st.LastAlertID, &st.SMSOutcome, &st.EmailOutcome); err != nil {
		return store.State{}, err
	}
	st.LastCheck, _ = time.Parse(time.RFC3339Nano, lastCheck)
	if lastChange.Valid {
		if t, err := time.Parse(time.RFC3339Nano, lastChange.String); err == nil {
			st.LastChange = &t
		}
	}
	if lastError.Valid {
		st.LastError = &lastError.String
	}
	return st, nil
}

// Get returns the state for id, or [store.ErrNotFound].
func (s *Store) Get(ctx context.Context, id string) (store.State, error) {
	st, err := scanState(s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return store.State{}, store.ErrNotFound
	}
	if err != nil {
		return store.State{}, fmt.Errorf("failed to get state: %w", err)
	}
	return st, nil
}

// List returns all states ordered by URL.
func (s *Store) List(ctx context.Context) ([]store.State, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY url`)
	if err != nil {
		return nil, fmt.Errorf("failed to list states: %w", err)
	}
	defer rows.Close()

	var states []store.State
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan state row: %w", err)
		}
		states = append(states, st)
	}
	return states, rows.Err()
}
