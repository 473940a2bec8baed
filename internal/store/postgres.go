package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on a pgx connection pool. One pool per
// process, shared by the scheduler, the workers, and the admin API.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects the pool and verifies the connection.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS monitored_links (
	id UUID PRIMARY KEY,
	convex_url_id TEXT NOT NULL,
	convex_user_id TEXT NOT NULL,
	long_url TEXT NOT NULL,
	short_url TEXT NOT NULL DEFAULT '',
	environment TEXT NOT NULL DEFAULT 'prod',
	interval_ms BIGINT NOT NULL DEFAULT 60000,
	next_check_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	scheduler_locked_until TIMESTAMPTZ,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	current_status TEXT NOT NULL DEFAULT 'pending',
	last_checked_at TIMESTAMPTZ,
	last_status_code INT,
	last_latency_ms BIGINT,
	consecutive_failures INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS monitored_links_convex_url_id_key ON monitored_links (convex_url_id);
CREATE INDEX IF NOT EXISTS monitored_links_due_idx ON monitored_links (next_check_at, is_active);
CREATE INDEX IF NOT EXISTS monitored_links_user_idx ON monitored_links (convex_user_id);
`

// EnsureSchema applies the table and index definitions. Idempotent; the
// full migration runner lives outside this service.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

const monitorColumns = `
	id, convex_url_id, convex_user_id, long_url, short_url, environment,
	interval_ms, next_check_at, scheduler_locked_until, is_active,
	current_status, last_checked_at, last_status_code, last_latency_ms,
	consecutive_failures, created_at, updated_at
`

func scanMonitor(row pgx.Row) (*Monitor, error) {
	var m Monitor
	err := row.Scan(
		&m.ID, &m.ConvexURLID, &m.ConvexUserID, &m.LongURL, &m.ShortURL, &m.Environment,
		&m.IntervalMS, &m.NextCheckAt, &m.SchedulerLockedUntil, &m.IsActive,
		&m.CurrentStatus, &m.LastCheckedAt, &m.LastStatusCode, &m.LastLatencyMS,
		&m.ConsecutiveFailures, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) CreateMonitor(ctx context.Context, m *Monitor) (bool, error) {
	query := `
		INSERT INTO monitored_links (id, convex_url_id, convex_user_id, long_url, short_url, environment, interval_ms, next_check_at, is_active, current_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), TRUE, $8, now(), now())
		ON CONFLICT (convex_url_id) DO NOTHING
	`
	tag, err := s.pool.Exec(ctx, query,
		m.ID, m.ConvexURLID, m.ConvexUserID, m.LongURL, m.ShortURL, m.Environment,
		m.IntervalMS, StatusPending,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) GetMonitor(ctx context.Context, id string) (*Monitor, error) {
	query := `SELECT ` + monitorColumns + ` FROM monitored_links WHERE id = $1`
	m, err := scanMonitor(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *PostgresStore) DeactivateMonitor(ctx context.Context, id string) error {
	query := `UPDATE monitored_links SET is_active = FALSE, updated_at = now() WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SelectDueMonitors(ctx context.Context, now time.Time, limit int) ([]*Monitor, error) {
	query := `
		SELECT ` + monitorColumns + `
		FROM monitored_links
		WHERE is_active
		  AND next_check_at <= $1
		  AND (scheduler_locked_until IS NULL OR scheduler_locked_until <= $1)
		ORDER BY next_check_at ASC, id ASC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var monitors []*Monitor
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, err
		}
		monitors = append(monitors, m)
	}
	return monitors, rows.Err()
}

// ClaimMonitor re-checks eligibility inside the UPDATE so that two replicas
// racing on the same row can never both win.
func (s *PostgresStore) ClaimMonitor(ctx context.Context, id string, nextCheckAt, lockedUntil time.Time) (bool, error) {
	query := `
		UPDATE monitored_links
		SET next_check_at = $2, scheduler_locked_until = $3, updated_at = now()
		WHERE id = $1
		  AND is_active
		  AND next_check_at <= now()
		  AND (scheduler_locked_until IS NULL OR scheduler_locked_until <= now())
	`
	tag, err := s.pool.Exec(ctx, query, id, nextCheckAt, lockedUntil)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ReleaseClaim(ctx context.Context, id string, nextCheckAt time.Time) error {
	query := `
		UPDATE monitored_links
		SET scheduler_locked_until = NULL, next_check_at = $2, updated_at = now()
		WHERE id = $1
	`
	_, err := s.pool.Exec(ctx, query, id, nextCheckAt)
	return err
}

func (s *PostgresStore) RecordProbeResult(ctx context.Context, id string, out ProbeOutcome, checkedAt time.Time) error {
	query := `
		UPDATE monitored_links
		SET last_checked_at = $2,
		    current_status = $3,
		    last_status_code = $4,
		    last_latency_ms = $5,
		    scheduler_locked_until = NULL,
		    consecutive_failures = CASE WHEN $6 THEN 0 ELSE consecutive_failures + 1 END,
		    updated_at = now()
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query, id, checkedAt, out.Status, out.StatusCode, out.LatencyMS, out.IsHealthy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CountActiveMonitors(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM monitored_links WHERE is_active`).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}
