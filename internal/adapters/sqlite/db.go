// Package sqlite persists job history and feed posts in a single SQLite
// database file. Media bytes never live here; rows only reference files
// under the output directory.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the shared connection for the job and post stores.
type DB struct {
	conn   *sql.DB
	logger *slog.Logger
}

func New(logger *slog.Logger, dbPath string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db dir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{conn: conn, logger: logger}, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports connectivity for health checks.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Healthz proves the database accepts writes by inserting into a scratch
// table and trimming it to the newest 50 rows.
func (db *DB) Healthz(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS __healthz (id INTEGER PRIMARY KEY AUTOINCREMENT, ts INTEGER)`); err != nil {
		return err
	}
	if _, err := db.conn.ExecContext(ctx,
		`INSERT INTO __healthz (ts) VALUES (?)`, time.Now().Unix()); err != nil {
		return err
	}
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM __healthz WHERE id IN (SELECT id FROM __healthz ORDER BY id DESC LIMIT -1 OFFSET 50)`)
	return err
}

// withSchemaRetry runs fn, and when it fails because a table is gone it
// re-creates the schema once and retries. The db file can be swapped out
// or wiped under a running process; both stores route their statements
// through this so a blank database heals on the next request.
func (db *DB) withSchemaRetry(ctx context.Context, fn func() error) error {
	err := fn()
	if err != nil && strings.Contains(err.Error(), "no such table") {
		if mErr := db.Migrate(ctx); mErr != nil {
			return mErr
		}
		err = fn()
	}
	return err
}

// Migrate creates the schema and applies additive column migrations.
// Safe to run on every start.
func (db *DB) Migrate(ctx context.Context) error {
	db.logger.Info("running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			progress REAL NOT NULL,
			created_at REAL,
			started_at REAL,
			ended_at REAL,
			error TEXT,
			result_json TEXT,
			artifact_available INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_owner ON jobs(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS feed_posts (
			post_id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			author_name TEXT NULL,
			prompt TEXT NOT NULL,
			workflow_id TEXT NULL,
			seed INTEGER NULL,
			aspect_ratio TEXT NULL,
			image_url TEXT NOT NULL,
			thumb_url TEXT NULL,
			input_image_url TEXT NULL,
			input_thumb_url TEXT NULL,
			source_image_id TEXT NULL,
			input_source_image_id TEXT NULL,
			published_at REAL NOT NULL,
			status TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS feed_likes (
			post_id TEXT NOT NULL,
			liker_id TEXT NOT NULL,
			created_at REAL NOT NULL,
			UNIQUE(post_id, liker_id)
		)`,
		`CREATE TABLE IF NOT EXISTS feed_reactions (
			post_id TEXT NOT NULL,
			reactor_id TEXT NOT NULL,
			reaction TEXT NOT NULL,
			created_at REAL NOT NULL,
			UNIQUE(post_id, reactor_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_feed_posts_published ON feed_posts(published_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_feed_posts_status ON feed_posts(status)`,
		`CREATE INDEX IF NOT EXISTS idx_feed_posts_owner ON feed_posts(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_feed_posts_source ON feed_posts(source_image_id)`,
		`CREATE INDEX IF NOT EXISTS idx_feed_likes_post ON feed_likes(post_id)`,
		`CREATE INDEX IF NOT EXISTS idx_feed_likes_liker ON feed_likes(liker_id)`,
		`CREATE INDEX IF NOT EXISTS idx_feed_reactions_post ON feed_reactions(post_id)`,
		`CREATE INDEX IF NOT EXISTS idx_feed_reactions_reactor ON feed_reactions(reactor_id)`,
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, migration := range migrations {
		if _, err := tx.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migrations: %w", err)
	}

	// Additive columns for databases created before these fields existed.
	// "duplicate column" means the column is already there.
	alters := []string{
		`ALTER TABLE jobs ADD COLUMN artifact_available INTEGER`,
		`ALTER TABLE feed_posts ADD COLUMN input_image_url TEXT NULL`,
		`ALTER TABLE feed_posts ADD COLUMN input_thumb_url TEXT NULL`,
		`ALTER TABLE feed_posts ADD COLUMN input_source_image_id TEXT NULL`,
	}
	for _, alter := range alters {
		if _, err := db.conn.ExecContext(ctx, alter); err != nil {
			if !strings.Contains(err.Error(), "duplicate column") {
				db.logger.Warn("schema migration skipped", "stmt", alter, "error", err)
			}
		}
	}
	return nil
}
