// Package store implements the durable backend (§6.3): a single
// embedded SQLite database holding the conversation log, cursors,
// sessions, conversation/membership state, keypackages and the social
// event chain. Presence and watch/block state is deliberately absent
// here -- it is in-memory only, per §4.9 and the Python original's pure
// in-memory Presence class.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/convgateway/core/internal/ratelimit"
)

// inviteRatePerMin and removeRatePerMin mirror conversations.py's
// module-level INVITES_PER_MIN/REMOVES_PER_MIN constants.
const (
	inviteRatePerMin = 60
	removeRatePerMin = 60
)

// Store owns the shared SQLite connection and exposes the gateway's
// persistence operations. The conversation, membership, log, cursor,
// keypackage, social and session create/resume writes go through
// withBusyRetry; the remaining single-statement writes (TouchLastSeen,
// InvalidateToken, DeleteExpiredSessions, ...) run once and return
// SQLITE_BUSY as an error.
type Store struct {
	db         *sql.DB
	maxRetries int
	retryDelay time.Duration

	inviteLimits *ratelimit.Limiter
	removeLimits *ratelimit.Limiter
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithRetry overrides the SQLITE_BUSY retry policy.
func WithRetry(maxRetries int, baseDelay time.Duration) Option {
	return func(s *Store) {
		s.maxRetries = maxRetries
		s.retryDelay = baseDelay
	}
}

// Open creates (or reopens) a SQLite-backed Store at dbPath, applying
// WAL pragmas and the monotonic migration chain.
func Open(dbPath string, opts ...Option) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000&_fk=1"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1) // single shared connection: WAL + one writer keeps SQLITE_BUSY rare
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{
		db:           db,
		maxRetries:   3,
		retryDelay:   50 * time.Millisecond,
		inviteLimits: ratelimit.New(inviteRatePerMin, 60_000),
		removeLimits: ratelimit.New(removeRatePerMin, 60_000),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("configure pragma %q: %w", p, err)
		}
	}
	return nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func (s *Store) retry(ctx context.Context, op string, fn func() error) error {
	return withBusyRetry(ctx, op, s.maxRetries, s.retryDelay, fn)
}
