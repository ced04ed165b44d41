package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/scrapeworks/sift/internal/scrape"
)

// Pragmas applied on open. WAL keeps readers off the writer's back;
// synchronous=FULL makes each committed transition survive power loss, which
// is the whole point of marking in_progress before fetching.
const sqlitePragmas = `
PRAGMA journal_mode = WAL;
PRAGMA busy_timeout = 10000;
PRAGMA synchronous = FULL;
PRAGMA foreign_keys = ON;
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	identifier    TEXT PRIMARY KEY,
	status        TEXT NOT NULL,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	last_updated  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_status ON checkpoints(status);
`

// SQLiteStore implements Store on an embedded SQLite database. A done-cache
// loaded at open makes IsDone an O(1) in-memory check.
type SQLiteStore struct {
	db     *sql.DB
	clock  scrape.Clock
	logger *zap.Logger

	mu   sync.RWMutex
	done map[string]struct{}
}

// OpenSQLite opens (creating if needed) the checkpoint database at path and
// loads the done-cache.
func OpenSQLite(ctx context.Context, path string, clock scrape.Clock, logger *zap.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db %s: %w", path, err)
	}
	// Single connection so the pragmas below apply to every statement; a
	// single-writer store does not need a pool.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqlitePragmas); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create checkpoint schema: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		clock:  clock,
		logger: logger,
		done:   make(map[string]struct{}),
	}
	if err := s.loadDoneCache(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("checkpoint store opened",
		zap.String("path", path),
		zap.Int("done_cached", len(s.done)),
	)
	return s, nil
}

func (s *SQLiteStore) loadDoneCache(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT identifier FROM checkpoints WHERE status = ?`, scrape.StatusDone)
	if err != nil {
		return fmt.Errorf("load done cache: %w", err)
	}
	defer func() { _ = rows.Close() }()
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
// attempt count. The commit is durable before the caller proceeds to fetch.
func (s *SQLiteStore) MarkInProgress(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (identifier, status, attempt_count, last_updated)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(identifier) DO UPDATE SET
			status = excluded.status,
			attempt_count = checkpoints.attempt_count + 1,
			last_updated = excluded.last_updated`,
		id, scrape.StatusInProgress, s.clock.Now())
	if err != nil {
		return fmt.Errorf("mark in_progress %s: %w", id, err)
	}
	return nil
}

// MarkDone records the identifier as done and adds it to the done-cache.
func (s *SQLiteStore) MarkDone(ctx context.Context, id string) error {
	if err := s.setStatus(ctx, id, scrape.StatusDone); err != nil {
		return err
	}
	s.mu.Lock()
	s.done[id] = struct{}{}
	s.mu.Unlock()
	return nil
}

// MarkFailed records the identifier as failed.
func (s *SQLiteStore) MarkFailed(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, scrape.StatusFailed)
}

func (s *SQLiteStore) setStatus(ctx context.Context, id string, status scrape.Status) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE checkpoints SET status = ?, last_updated = ? WHERE identifier = ?`,
		status, s.clock.Now(), id)
	if err != nil {
		return fmt.Errorf("mark %s %s: %w", status, id, err)
	}
	return nil
}

// IsDone answers from the in-memory done-cache.
func (s *SQLiteStore) IsDone(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.done[id]
	return ok
}

// Status reads the stored status for id.
func (s *SQLiteStore) Status(ctx context.Context, id string) (string, bool, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM checkpoints WHERE identifier = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query status %s: %w", id, err)
	}
	return status, true, nil
}

// Incomplete lists every identifier abandoned in_progress by a prior run.
func (s *SQLiteStore) Incomplete(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT identifier FROM checkpoints WHERE status = ? ORDER BY last_updated`,
		scrape.StatusInProgress)
	if err != nil {
		return nil, fmt.Errorf("query incomplete: %w", err)
	}
	defer func() { _ = rows.Close() }()

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

// Record returns the full checkpoint row for id. Used by tests and tooling.
func (s *SQLiteStore) Record(ctx context.Context, id string) (scrape.CheckpointRecord, bool, error) {
	var rec scrape.CheckpointRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT identifier, status, attempt_count, last_updated
		FROM checkpoints WHERE identifier = ?`, id).
		Scan(&rec.Identifier, &rec.Status, &rec.Attempts, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return scrape.CheckpointRecord{}, false, nil
	}
	if err != nil {
		return scrape.CheckpointRecord{}, false, fmt.Errorf("query record %s: %w", id, err)
	}
	return rec, true, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close checkpoint db: %w", err)
	}
	return nil
}
