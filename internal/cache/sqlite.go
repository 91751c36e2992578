package cache

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/perbu/teamdigest/internal/cache/migrations"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the default durable Store, backed by an embedded SQLite
// database in the data directory.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the cache database and runs migrations.
func OpenSQLite(dataDir string) (*SQLiteStore, error) {
	dbPath := filepath.Join(dataDir, "cache.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.deleteExpired(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, time.Time, bool, error) {
	var value string
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT value, expires_at FROM response_cache WHERE key = ?", key,
	).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return "", time.Time{}, false, nil
	}
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	return value, time.Unix(expiresAt, 0).UTC(), true, nil
}

// Set implements Store.
func (s *SQLiteStore) Set(ctx context.Context, key, value string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO response_cache (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
	`, key, value, expiresAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// deleteExpired drops entries that have passed their TTL.
func (s *SQLiteStore) deleteExpired(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM response_cache WHERE expires_at < ?", time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to delete expired cache entries: %w", err)
	}
	return nil
}
