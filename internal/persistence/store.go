// Package persistence stores output markers: rows recording that a task's
// work for one interval is done. Markers back the idempotent output check,
// so a rerun over the same range skips what an earlier run completed.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aristath/jobpipe/internal/timerange"
)

// ErrNotFound is returned by Get when no marker exists.
var ErrNotFound = errors.New("marker not found")

// Marker records the completed work of one task for one interval.
type Marker struct {
	TaskID      string
	Granularity timerange.Granularity
	Start       time.Time
	End         time.Time
	ScheduleID  string // schedule that wrote the marker
	Value       string // free-form payload, e.g. a path or row count
	CreatedAt   time.Time
}

// Range returns the interval the marker covers.
func (m Marker) Range() timerange.Range {
	return timerange.Range{Start: m.Start, End: m.End, Granularity: m.Granularity}
}

// Store defines the marker persistence interface.
type Store interface {
	Mark(ctx context.Context, m Marker) error
	Exists(ctx context.Context, taskID string, r timerange.Range) (bool, error)
	Get(ctx context.Context, taskID string, r timerange.Range) (Marker, error)
	Clear(ctx context.Context, taskID string, within timerange.Range) (int64, error)
	List(ctx context.Context, taskID string) ([]Marker, error)
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Every pooled connection runs in WAL
// mode with a busy timeout, since every node of a schedule may hit the store
// concurrently.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", dbPath)
	return open(ctx, connStr, 4)
}

// NewMemoryStore creates an in-memory SQLite store for testing.
// Each call gets its own named database. A shared-cache database reports
// table locks instead of waiting on them, so the pool holds one connection.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)", uuid.NewString())
	return open(ctx, connStr, 1)
}

func open(ctx context.Context, connStr string, maxConns int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc.org/sqlite applies the _pragma parameters to every new
	// connection. SQLite serialises writers anyway; a small pool avoids lock churn.
	db.SetMaxOpenConns(maxConns)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
