// Package output provides the idempotency handles tasks return from Output:
// files on disk, rows in the marker store, and an in-process set.
package output

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"text/template"

	"github.com/aristath/jobpipe/internal/persistence"
	"github.com/aristath/jobpipe/internal/timerange"
)

// File is an output that exists once Path exists.
type File struct {
	Path string
}

func (f File) Exists() bool {
	_, err := os.Stat(f.Path)
	return err == nil
}

// Value returns the path.
func (f File) Value() any { return f.Path }

// Touch creates the file, and its parent directories, if missing.
func (f File) Touch() error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	file, err := os.OpenFile(f.Path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	return file.Close()
}

// Marker is an output backed by a row in a marker store.
type Marker struct {
	Store  persistence.Store
	TaskID string
	Range  timerange.Range
}

// Exists reports whether the marker row exists. Store errors count as
// missing output so the work is redone rather than skipped.
func (m Marker) Exists() bool {
	ok, err := m.Store.Exists(context.Background(), m.TaskID, m.Range)
	if err != nil {
		slog.Warn("marker lookup failed", "task", m.TaskID, "interval", m.Range.Format(), "error", err)
		return false
	}
	return ok
}

// Value returns the marker's stored value, or nil when there is none.
func (m Marker) Value() any {
	marker, err := m.Store.Get(context.Background(), m.TaskID, m.Range)
	if err != nil {
		return nil
	}
	return marker.Value
}

// Mark writes the marker row.
func (m Marker) Mark(ctx context.Context, scheduleID, value string) error {
	return m.Store.Mark(ctx, persistence.Marker{
		TaskID:      m.TaskID,
		Granularity: m.Range.Granularity,
		Start:       m.Range.Start,
		End:         m.Range.End,
		ScheduleID:  scheduleID,
		Value:       value,
	})
}

// Memory is a concurrency-safe set of completed keys with their values.
type Memory struct {
	mu   sync.RWMutex
	done map[string]any
}

// NewMemory returns an empty set.
func NewMemory() *Memory {
	return &Memory{done: make(map[string]any)}
}

// Set records key as done.
func (m *Memory) Set(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done[key] = value
}

// Len returns the number of completed keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.done)
}

// For returns the output handle for key.
func (m *Memory) For(key string) *MemoryOutput {
	return &MemoryOutput{set: m, key: key}
}

// MemoryOutput is one key of a Memory set.
type MemoryOutput struct {
	set *Memory
	key string
}

func (o *MemoryOutput) Exists() bool {
	o.set.mu.RLock()
	defer o.set.mu.RUnlock()
	_, ok := o.set.done[o.key]
	return ok
}

func (o *MemoryOutput) Value() any {
	o.set.mu.RLock()
	defer o.set.mu.RUnlock()
	return o.set.done[o.key]
}

// Vars are the fields available to Expand.
type Vars struct {
	ID          string
	Start       string
	End         string
	Granularity string
	ScheduleID  string
}

// VarsFor renders the interval bounds at the interval's own granularity.
func VarsFor(id string, r timerange.Range, scheduleID string) Vars {
	return Vars{
		ID:          id,
		Start:       r.Format(),
		End:         r.End.Format(r.Granularity.Layout()),
		Granularity: r.Granularity.String(),
		ScheduleID:  scheduleID,
	}
}

// Expand renders a path template such as "out/{{.ID}}/{{.Start}}.csv".
func Expand(pattern string, v Vars) (string, error) {
	tmpl, err := template.New("output").Option("missingkey=error").Parse(pattern)
	if err != nil {
		return "", fmt.Errorf("failed to parse output template %q: %w", pattern, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("failed to expand output template %q: %w", pattern, err)
	}
	return buf.String(), nil
}
