package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/perbu/teamdigest/internal/cache/migrations"
	"github.com/pressly/goose/v3"
)

// PostgresStore is a Store backed by a shared Postgres database, for
// deployments where multiple instances should share one cache.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects to the given DSN and runs migrations.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to cache database: %w", err)
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, key string) (string, time.Time, bool, error) {
	var value string
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT value, expires_at FROM response_cache WHERE key = $1", key,
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
func (s *PostgresStore) Set(ctx context.Context, key, value string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO response_cache (key, value, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
	`, key, value, expiresAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
