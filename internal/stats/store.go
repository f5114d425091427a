// Package stats keeps the public usage counters shown on the landing page.
package stats

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Counter keys
const (
	KeyTotalRequests     = "total_requests"
	KeyTotalTasks        = "total_tasks"
	KeyTotalImages       = "total_images"
	KeyTotalVideos       = "total_videos"
	KeyTotalVideoSeconds = "total_video_seconds"
	KeyTotalVisitors     = "total_visitors"
)

// DefaultKeys are always present in a snapshot, zero when never incremented
var DefaultKeys = []string{
	KeyTotalRequests,
	KeyTotalTasks,
	KeyTotalImages,
	KeyTotalVideos,
	KeyTotalVideoSeconds,
	KeyTotalVisitors,
}

const schema = `
CREATE TABLE IF NOT EXISTS stats (
	key TEXT PRIMARY KEY,
	value INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS visitors (
	visitor_id TEXT PRIMARY KEY,
	first_seen TEXT NOT NULL
);
`

// Store is a sqlite-backed counter table
type Store struct {
	db *sqlx.DB
}

// Open creates the database file if needed and initialises the schema
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create stats dir: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open stats db: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{`PRAGMA journal_mode=WAL;`, `PRAGMA busy_timeout=5000;`} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to configure stats db: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialise stats schema: %w", err)
	}

	s := &Store{db: db}
	seed := make(map[string]int64, len(DefaultKeys))
	for _, k := range DefaultKeys {
		seed[k] = 0
	}
	if err := s.Increment(ctx, seed); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Increment adds every count to its key in one transaction
func (s *Store) Increment(ctx context.Context, counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin stats update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO stats (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = value + excluded.value`,
			k, counts[k],
		)
		if err != nil {
			return fmt.Errorf("failed to increment %s: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit stats update: %w", err)
	}
	return nil
}

// RecordVisitor stores a visitor id once and reports whether it was new
func (s *Store) RecordVisitor(ctx context.Context, visitorID string, now time.Time) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin visitor update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO visitors (visitor_id, first_seen) VALUES (?, ?)`,
		visitorID, now.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("failed to record visitor: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to record visitor: %w", err)
	}

	if n == 1 {
		_, err := tx.ExecContext(ctx,
			`UPDATE stats SET value = value + 1 WHERE key = ?`, KeyTotalVisitors)
		if err != nil {
			return false, fmt.Errorf("failed to count visitor: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit visitor update: %w", err)
	}
	return n == 1, nil
}

type row struct {
	Key   string `db:"key"`
	Value int64  `db:"value"`
}

// Get returns every counter, including the default keys
func (s *Store) Get(ctx context.Context) (map[string]int64, error) {
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, `SELECT key, value FROM stats`); err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}

	out := make(map[string]int64, len(DefaultKeys))
	for _, k := range DefaultKeys {
		out[k] = 0
	}
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}
