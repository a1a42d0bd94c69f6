package counters

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	sqliteMaxRetries = 3
	sqliteBaseDelay  = 100 * time.Millisecond
)

// SQLiteStore keeps counters in a single SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens (and creates if needed) the counter database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// modernc.org/sqlite applies per-connection pragmas from _pragma params.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS counters (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key string) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM counters WHERE name = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read counter %s: %w", key, err)
	}
	return v, nil
}

// IncrBy implements Store. Lock contention is retried with exponential backoff.
func (s *SQLiteStore) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	var err error
	for i := 0; i < sqliteMaxRetries; i++ {
		var v int64
		v, err = s.incrOnce(ctx, key, n)
		if err == nil {
			return v, nil
		}
		if !isContention(err) || i == sqliteMaxRetries-1 {
			break
		}
		delay := sqliteBaseDelay * time.Duration(1<<i)
		slog.Debug("counter increment hit SQLITE_BUSY, retrying",
			"counter", key,
			"attempt", i+1,
			"delay", delay,
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return 0, fmt.Errorf("increment counter %s: %w", key, err)
}

func (s *SQLiteStore) incrOnce(ctx context.Context, key string, n int64) (int64, error) {
	query := `
	INSERT INTO counters (name, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET
		value = counters.value + excluded.value,
		updated_at = excluded.updated_at
	RETURNING value`
	var v int64
	if err := s.db.QueryRowContext(ctx, query, key, n, time.Now().Unix()).Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
