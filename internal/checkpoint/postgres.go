package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/scrapeworks/sift/internal/scrape"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	identifier    TEXT PRIMARY KEY,
	status        TEXT NOT NULL,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	last_updated  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_status ON checkpoints(status);
`

// pgxPool is the subset of pgxpool.Pool the store needs; pgxmock satisfies
// it in tests.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store on a Postgres table. It is the deployment
// choice when the engine runs where a local file is not durable (containers
// without volumes); SQLite remains the default.
type PostgresStore struct {
	pool   pgxPool
	clock  scrape.Clock
	logger *zap.Logger

	mu   sync.RWMutex
	done map[string]struct{}
}

// OpenPostgres connects, ensures the schema, and loads the done-cache.
func OpenPostgres(ctx context.Context, dsn string, clock scrape.Clock, logger *zap.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create checkpoint pool: %w", err)
	}
	s, err := newPostgresWithPool(ctx, pool, clock, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func newPostgresWithPool(ctx context.Context, pool pgxPool, clock scrape.Clock, logger *zap.Logger) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("create checkpoint schema: %w", err)
	}
	s := &PostgresStore{
		pool:   pool,
		clock:  clock,
		logger: logger,
		done:   make(map[string]struct{}),
	}
	if err := s.loadDoneCache(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) loadDoneCache(ctx context.Context) error {
	rows, err := s.pool.Query(ctx,
		`SELECT identifier FROM checkpoints WHERE status = $1`, string(scrape.StatusDone))
	if err != nil {
		return fmt.Errorf("load done cache: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scan done identifier: %w", err)
		}
		s.done[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate done cache: %w", err)
	}
	return nil
}

// MarkInProgress upserts the record as in_progress with an incremented
// attempt count.
func (s *PostgresStore) MarkInProgress(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO checkpoints (identifier, status, attempt_count, last_updated)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (identifier) DO UPDATE SET
			status = EXCLUDED.status,
			attempt_count = checkpoints.attempt_count + 1,
			last_updated = EXCLUDED.last_updated`,
		id, string(scrape.StatusInProgress), s.clock.Now())
	if err != nil {
		return fmt.Errorf("mark in_progress %s: %w", id, err)
	}
	return nil
}

// MarkDone records the identifier as done and adds it to the done-cache.
func (s *PostgresStore) MarkDone(ctx context.Context, id string) error {
	if err := s.setStatus(ctx, id, scrape.StatusDone); err != nil {
		return err
	}
	s.mu.Lock()
	s.done[id] = struct{}{}
	s.mu.Unlock()
	return nil
}

// MarkFailed records the identifier as failed.
func (s *PostgresStore) MarkFailed(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, scrape.StatusFailed)
}

func (s *PostgresStore) setStatus(ctx context.Context, id string, status scrape.Status) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE checkpoints SET status = $1, last_updated = $2 WHERE identifier = $3`,
		string(status), s.clock.Now(), id)
	if err != nil {
		return fmt.Errorf("mark %s %s: %w", status, id, err)
	}
	return nil
}

// IsDone answers from the in-memory done-cache.
func (s *PostgresStore) IsDone(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.done[id]
	return ok
}

// Status reads the stored status for id.
func (s *PostgresStore) Status(ctx context.Context, id string) (string, bool, error) {
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM checkpoints WHERE identifier = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query status %s: %w", id, err)
	}
	return status, true, nil
}

// Incomplete lists every identifier abandoned in_progress by a prior run.
func (s *PostgresStore) Incomplete(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT identifier FROM checkpoints WHERE status = $1 ORDER BY last_updated`,
		string(scrape.StatusInProgress))
	if err != nil {
		return nil, fmt.Errorf("query incomplete: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan incomplete identifier: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incomplete: %w", err)
	}
	return ids, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
