// Package postgres persists monitor states in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jpalmerr/sitewatch/internal/store"
)

// Store implements [store.Persister] for PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL using connString and runs migrations.
func New(ctx context.Context, connString string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("invalid connection string: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS monitor_states (
		id               TEXT PRIMARY KEY,
		url              TEXT NOT NULL UNIQUE,
		phase            TEXT NOT NULL,
		digest           TEXT NOT NULL,
		size_bytes       INTEGER NOT NULL,
		response_time_ms BIGINT NOT NULL,
		checks           BIGINT NOT NULL,
		failures         BIGINT NOT NULL,
		alerts           BIGINT NOT NULL,
		last_check       TIMESTAMPTZ NOT NULL,
		last_change      TIMESTAMPTZ,
		last_error       TEXT,
		last_alert_id    TEXT NOT NULL,
		sms_outcome      TEXT NOT NULL,
		email_outcome    TEXT NOT NULL
	);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Put inserts or replaces the state with the same ID.
func (s *Store) Put(ctx context.Context, st store.State) error {
	if st.ID == "" {
		st.ID = store.ID(st.URL)
	}

	const query = `
INSERT INTO monitor_states (id, url, phase, digest, size_bytes, response_time_ms,
	checks, failures, alerts, last_check, last_change, last_error,
	last_alert_id, sms_outcome, email_outcome)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (id) DO UPDATE SET
	phase = EXCLUDED.phase,
	digest = EXCLUDED.digest,
	size_bytes = EXCLUDED.size_bytes,
	response_time_ms = EXCLUDED.response_time_ms,
	checks = EXCLUDED.checks,
	failures = EXCLUDED.failures,
	alerts = EXCLUDED.alerts,
	last_check = EXCLUDED.last_check,
	last_change = EXCLUDED.last_change,
	last_error = EXCLUDED.last_error,
	last_alert_id = EXCLUDED.last_alert_id,
	sms_outcome = EXCLUDED.sms_outcome,
	email_outcome = EXCLUDED.email_outcome`
	_, err := s.pool.Exec(ctx, query,
		st.ID, st.URL, st.Phase, st.Digest, st.SizeBytes, st.ResponseTimeMs,
		st.Checks, st.Failures, st.Alerts, st.LastCheck, st.LastChange, st.LastError,
		st.LastAlertID, st.SMSOutcome, st.EmailOutcome,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert state: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, url, phase, digest, size_bytes, response_time_ms,
	checks, failures, alerts, last_check, last_change, last_error,
	last_alert_id, sms_outcome, email_outcome FROM monitor_states`

func scanState(row pgx.Row) (store.State, error) {
	var st store.State
	var lastChange *time.Time
	if err := row.Scan(&st.ID, &st.URL, &st.Phase, &st.Digest, &st.SizeBytes, &st.ResponseTimeMs,
		&st.Checks, &st.Failures, &st.Alerts, &st.LastCheck, &lastChange, &st.LastError,
		&st.LastAlertID, &st.SMSOutcome, &st.EmailOutcome); err != nil {
		return store.State{}, err
	}
	st.LastChange = lastChange
	return st, nil
}

// Get returns the state for id, or [store.ErrNotFound].
func (s *Store) Get(ctx context.Context, id string) (store.State, error) {
	st, err := scanState(s.pool.QueryRow(ctx, selectColumns+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.State{}, store.ErrNotFound
	}
	if err != nil {
		return store.State{}, fmt.Errorf("failed to get state: %w", err)
	}
	return st, nil
}

// List returns all states ordered by URL.
func (s *Store) List(ctx context.Context) ([]store.State, error) {
	rows, err := s.pool.Query(ctx, selectColumns+` ORDER BY url`)
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
