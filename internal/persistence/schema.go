package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS markers (
		task_id TEXT NOT NULL,
		granularity INTEGER NOT NULL,
		start_ns INTEGER NOT NULL,
		end_ns INTEGER NOT NULL,
		schedule_id TEXT NOT NULL DEFAULT '',
		value TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (task_id, granularity, start_ns)
	);

	CREATE INDEX IF NOT EXISTS idx_markers_task_start ON markers(task_id, start_ns);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
