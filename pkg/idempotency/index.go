// Package idempotency implements the idempotency index: an atomic
// check-and-store of (org_id, signal_id) pairs, shared by all request
// handlers for the lifetime of the process. Backends hide behind a narrow
// interface selected once at startup.
package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Result is the outcome of CheckAndStore.
type Result struct {
	IsDuplicate bool
	ReceivedAt  string // RFC3339Nano, UTC
}

// Index is the stable interface every backend implements.
type Index interface {
	// CheckAndStore atomically records (orgID, signalID) if absent and
	// returns {false, now}; if already present, returns {true, original}.
	CheckAndStore(ctx context.Context, orgID, signalID string, now time.Time) (Result, error)
}

// MemoryIndex is an in-process backend suitable for a single replica or
// for tests. Not shared across processes.
type MemoryIndex struct {
	mu      sync.Mutex
	entries map[string]string // "org\x00signal" -> RFC3339Nano receivedAt
}

// NewMemoryIndex creates an empty in-process idempotency index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]string)}
}

func key(orgID, signalID string) string { return orgID + "\x00" + signalID }

func (m *MemoryIndex) CheckAndStore(_ context.Context, orgID, signalID string, now time.Time) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(orgID, signalID)
	if existing, ok := m.entries[k]; ok {
		return Result{IsDuplicate: true, ReceivedAt: existing}, nil
	}
	ts := now.UTC().Format(time.RFC3339Nano)
	m.entries[k] = ts
	return Result{IsDuplicate: false, ReceivedAt: ts}, nil
}

// SQLiteIndex is the default production backend: a single-row-per-pair
// table with a primary key on (org_id, signal_id), following the
// migrate()-then-query idiom of pkg/store/receipt_store_sqlite.go.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex wraps an already-open *sql.DB (modernc.org/sqlite driver)
// and ensures its schema exists.
func NewSQLiteIndex(db *sql.DB) (*SQLiteIndex, error) {
	s := &SQLiteIndex{db: db}
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return nil, err
	}
	return s, nil
}

const schemaDDL = `
	CREATE TABLE IF NOT EXISTS signal_ids (
		org_id TEXT NOT NULL,
		signal_id TEXT NOT NULL,
		received_at TEXT NOT NULL,
		PRIMARY KEY (org_id, signal_id)
	)`

func (s *SQLiteIndex) CheckAndStore(ctx context.Context, orgID, signalID string, now time.Time) (Result, error) {
	ts := now.UTC().Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO signal_ids (org_id, signal_id, received_at) VALUES (?, ?, ?)
		 ON CONFLICT (org_id, signal_id) DO NOTHING`,
		orgID, signalID, ts)
	if err != nil {
		return Result{}, fmt.Errorf("idempotency: insert: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT received_at FROM signal_ids WHERE org_id = ? AND signal_id = ?`,
		orgID, signalID)
	var stored string
	if err := row.Scan(&stored); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Result{}, fmt.Errorf("idempotency: row vanished after insert for (%s, %s)", orgID, signalID)
		}
		return Result{}, fmt.Errorf("idempotency: select: %w", err)
	}

	return Result{IsDuplicate: stored != ts, ReceivedAt: stored}, nil
}

// PostgresIndex is the lib/pq-backed variant. cmd/licl does not select it:
// its idempotency backend is Redis when REDIS_ADDR is set and SQLite
// otherwise, whatever STORAGE_DRIVER says.
type PostgresIndex struct {
	db *sql.DB
}

// NewPostgresIndex wraps an already-open *sql.DB (lib/pq driver) and
// ensures its schema exists.
func NewPostgresIndex(db *sql.DB) (*PostgresIndex, error) {
	s := &PostgresIndex{db: db}
	ddl := `
		CREATE TABLE IF NOT EXISTS signal_ids (
			org_id TEXT NOT NULL,
			signal_id TEXT NOT NULL,
			received_at TEXT NOT NULL,
			PRIMARY KEY (org_id, signal_id)
		)`
	if _, err := s.db.Exec(ddl); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresIndex) CheckAndStore(ctx context.Context, orgID, signalID string, now time.Time) (Result, error) {
	ts := now.UTC().Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO signal_ids (org_id, signal_id, received_at) VALUES ($1, $2, $3)
		 ON CONFLICT (org_id, signal_id) DO NOTHING`,
		orgID, signalID, ts)
	if err != nil {
		return Result{}, fmt.Errorf("idempotency: insert: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT received_at FROM signal_ids WHERE org_id = $1 AND signal_id = $2`,
		orgID, signalID)
	var stored string
	if err := row.Scan(&stored); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Result{}, fmt.Errorf("idempotency: row vanished after insert for (%s, %s)", orgID, signalID)
		}
		return Result{}, fmt.Errorf("idempotency: select: %w", err)
	}

	return Result{IsDuplicate: stored != ts, ReceivedAt: stored}, nil
}
