package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/studio-relay/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements KV on a single SQLite table.
type SQLiteStore struct {
	db    *sql.DB
	quota int64
	mu    sync.Mutex // serializes quota check and write to prevent SQLITE_BUSY
}

// NewSQLite opens (or creates) the database at dbPath. A quota <= 0 disables
// the size limit.
func NewSQLite(dbPath string, quota int64) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, quota: quota}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Get returns the value stored under key.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

// Set replaces the value under key, enforcing the quota across all keys.
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	return withRetry(ctx, "set", key, func() error {
		return s.setOnce(ctx, key, value)
	})
}

func (s *SQLiteStore) setOnce(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("failed to roll back kv write", "key", key, "error", rbErr)
		}
	}()

	if s.quota > 0 {
		var others int64
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(length(key) + length(value)), 0) FROM kv WHERE key != ?`, key,
		).Scan(&others)
		if err != nil {
			return fmt.Errorf("measure usage: %w", err)
		}
		if used := others + int64(len(key)+len(value)); used > s.quota {
			return quotaError(used, s.quota)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit set: %w", err)
	}
	return nil
}

// Delete removes key.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	return withRetry(ctx, "delete", key, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		return nil
	})
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// withRetry runs fn with exponential backoff on SQLITE_BUSY and locked errors.
func withRetry(ctx context.Context, op, key string, fn func() error) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil || !shared.IsSQLiteConflictError(err) {
			return err
		}
		if i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i) // 100ms, 200ms, 400ms
		slog.Debug("kv write hit SQLITE_BUSY, retrying", "op", op, "key", key, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s %s failed after %d attempts: %w", op, key, maxRetries, err)
}
