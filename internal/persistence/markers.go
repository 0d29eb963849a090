package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/jobpipe/internal/timerange"
)

// Mark records m, replacing any marker for the same task and interval.
func (s *SQLiteStore) Mark(ctx context.Context, m Marker) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO markers (task_id, granularity, start_ns, end_ns, schedule_id, value, created_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(task_id, granularity, start_ns) DO UPDATE SET
			end_ns = excluded.end_ns,
			schedule_id = excluded.schedule_id,
			value = excluded.value,
			created_at = CURRENT_TIMESTAMP
	`, m.TaskID, int(m.Granularity), m.Start.UnixNano(), m.End.UnixNano(), m.ScheduleID, m.Value)
	if err != nil {
		return fmt.Errorf("failed to mark %s %s: %w", m.TaskID, m.Range(), err)
	}
	return nil
}

// Exists reports whether a marker exists for taskID over exactly r.
func (s *SQLiteStore) Exists(ctx context.Context, taskID string, r timerange.Range) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM markers WHERE task_id = ? AND granularity = ? AND start_ns = ?
	`, taskID, int(r.Granularity), r.Start.UnixNano()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query marker: %w", err)
	}
	return true, nil
}

// Get returns the marker for taskID over r, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, taskID string, r timerange.Range) (Marker, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT task_id, granularity, start_ns, end_ns, schedule_id, value, created_at
		FROM markers WHERE task_id = ? AND granularity = ? AND start_ns = ?
	`, taskID, int(r.Granularity), r.Start.UnixNano())

	m, err := scanMarker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Marker{}, fmt.Errorf("%w: %s %s", ErrNotFound, taskID, r)
	}
	if err != nil {
		return Marker{}, fmt.Errorf("failed to get marker: %w", err)
	}
	return m, nil
}

// Clear deletes every marker of taskID whose interval starts within the
// given range, returning how many were removed. An empty taskID clears all tasks.
func (s *SQLiteStore) Clear(ctx context.Context, taskID string, within timerange.Range) (int64, error) {
	query := `DELETE FROM markers WHERE start_ns >= ? AND start_ns < ?`
	args := []any{within.Start.UnixNano(), within.End.UnixNano()}
	if taskID != "" {
		query += ` AND task_id = ?`
		args = append(args, taskID)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to clear markers: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleared markers: %w", err)
	}
	return n, nil
}

// List returns the markers of taskID ordered by interval start. An empty
// taskID lists all markers.
func (s *SQLiteStore) List(ctx context.Context, taskID string) ([]Marker, error) {
	query := `SELECT task_id, granularity, start_ns, end_ns, schedule_id, value, created_at FROM markers`
	var args []any
	if taskID != "" {
		query += ` WHERE task_id = ?`
		args = append(args, taskID)
	}
	query += ` ORDER BY start_ns, task_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list markers: %w", err)
	}
	defer rows.Close()

	var markers []Marker
	for rows.Next() {
		m, err := scanMarker(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan marker: %w", err)
		}
		markers = append(markers, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating markers: %w", err)
	}
	return markers, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMarker(row scanner) (Marker, error) {
	var (
		m              Marker
		g              int
		startNs, endNs int64
	)
	if err := row.Scan(&m.TaskID, &g, &startNs, &endNs, &m.ScheduleID, &m.Value, &m.CreatedAt); err != nil {
		return Marker{}, err
	}
	m.Granularity = timerange.Granularity(g)
	m.Start = time.Unix(0, startNs).UTC()
	m.End = time.Unix(0, endNs).UTC()
	return m, nil
}
