// Package shell implements scheduler tasks that run a shell command per
// interval.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/aristath/jobpipe/internal/output"
	"github.com/aristath/jobpipe/internal/persistence"
	"github.com/aristath/jobpipe/internal/scheduler"
	"github.com/aristath/jobpipe/internal/timerange"
)

// OutputKind selects how a shell task's completion is recorded.
type OutputKind string

const (
	// OutputMemory records completion in process memory. Reruns in a new
	// process execute again.
	OutputMemory OutputKind = "memory"
	// OutputFile treats the task as done once the expanded path exists. The
	// command is expected to create it.
	OutputFile OutputKind = "file"
	// OutputMarker records completion in the marker store after the command
	// succeeds.
	OutputMarker OutputKind = "marker"
)

// maxValueLen bounds the stdout kept as an output value.
const maxValueLen = 4096

// Task runs Command with "sh -c" once per interval.
//
// The command sees the interval through the environment:
//
//	JOBPIPE_TASK_ID, JOBPIPE_START, JOBPIPE_END, JOBPIPE_GRANULARITY,
//	JOBPIPE_SCHEDULE_ID, JOBPIPE_ARGS, JOBPIPE_OUTPUT (file outputs),
//	JOBPIPE_INPUTS (newline separated dependency output values)
type Task struct {
	Name        string
	Command     string
	Dir         string
	Env         []string
	Granularity timerange.Granularity

	OutputKind OutputKind
	OutputPath string            // template for OutputFile, see output.Expand
	Store      persistence.Store // for OutputMarker

	Processes *ProcessManager

	// Locks are resource names, expanded like OutputPath, held for the
	// duration of the command. They take effect when Resources is set.
	Locks     []string
	Resources *ResourceLocks

	memOnce sync.Once
	memory  *output.Memory
}

// New returns a task with in-memory output.
func New(name, command string, g timerange.Granularity) *Task {
	return &Task{Name: name, Command: command, Granularity: g, OutputKind: OutputMemory}
}

// Spec implements scheduler.Specifier.
func (t *Task) Spec() scheduler.Spec {
	return scheduler.Spec{ID: t.Name, Granularity: t.Granularity}
}

// Validate checks the output configuration.
func (t *Task) Validate() error {
	switch t.OutputKind {
	case "", OutputMemory:
	case OutputFile:
		if t.OutputPath == "" {
			return fmt.Errorf("task %s: file output needs a path", t.Name)
		}
		if _, err := output.Expand(t.OutputPath, output.Vars{}); err != nil {
			return fmt.Errorf("task %s: %w", t.Name, err)
		}
	case OutputMarker:
		if t.Store == nil {
			return fmt.Errorf("task %s: marker output needs a store", t.Name)
		}
	default:
		return fmt.Errorf("task %s: unknown output kind %q", t.Name, t.OutputKind)
	}
	for _, l := range t.Locks {
		if _, err := output.Expand(l, output.Vars{}); err != nil {
			return fmt.Errorf("task %s: lock %q: %w", t.Name, l, err)
		}
	}
	return nil
}

// lock acquires the task's expanded resource names.
func (t *Task) lock(ctx context.Context, tc *scheduler.TaskContext) (func(), error) {
	if t.Resources == nil || len(t.Locks) == 0 {
		return func() {}, nil
	}
	vars := output.VarsFor(tc.ID(), tc.Range(), tc.ScheduleID())
	names := make([]string, 0, len(t.Locks))
	for _, l := range t.Locks {
		name, err := output.Expand(l, vars)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return t.Resources.LockAll(ctx, names)
}

// Output implements scheduler.Task.
func (t *Task) Output(tc *scheduler.TaskContext) scheduler.Output {
	switch t.OutputKind {
	case OutputFile:
		path, err := t.outputPath(tc)
		if err != nil {
			tc.Logger().Warn("failed to expand output path", "error", err)
			return nil
		}
		return output.File{Path: path}
	case OutputMarker:
		return output.Marker{Store: t.Store, TaskID: tc.ID(), Range: tc.Range()}
	default:
		return t.mem().For(tc.String())
	}
}

func (t *Task) mem() *output.Memory {
	t.memOnce.Do(func() { t.memory = output.NewMemory() })
	return t.memory
}

func (t *Task) outputPath(tc *scheduler.TaskContext) (string, error) {
	return output.Expand(t.OutputPath, output.VarsFor(tc.ID(), tc.Range(), tc.ScheduleID()))
}

// Execute implements scheduler.Task.
func (t *Task) Execute(ctx context.Context, tc *scheduler.TaskContext) error {
	env, err := t.environ(tc)
	if err != nil {
		return err
	}

	unlock, err := t.lock(ctx, tc)
	if err != nil {
		return fmt.Errorf("task %s: acquiring locks: %w", tc, err)
	}
	defer unlock()

	cmd := newCommand(ctx, "sh", "-c", t.Command)
	cmd.Dir = t.Dir
	cmd.Env = append(append(os.Environ(), t.Env...), env...)

	stdout, _, err := executeCommand(cmd, t.Processes)
	if err != nil {
		return fmt.Errorf("task %s: %w", tc, err)
	}
	tc.Logger().Debug("command finished", "stdout_bytes", len(stdout))

	value := truncate(string(bytes.TrimSpace(stdout)), maxValueLen)

	switch t.OutputKind {
	case OutputMarker:
		m := output.Marker{Store: t.Store, TaskID: tc.ID(), Range: tc.Range()}
		if err := m.Mark(ctx, tc.ScheduleID(), value); err != nil {
			return fmt.Errorf("task %s: %w", tc, err)
		}
	case OutputFile:
		// The command owns the file.
	default:
		t.mem().Set(tc.String(), value)
	}
	return nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func (t *Task) environ(tc *scheduler.TaskContext) ([]string, error) {
	r := tc.Range()
	env := []string{
		"JOBPIPE_TASK_ID=" + tc.ID(),
		"JOBPIPE_START=" + r.Format(),
		"JOBPIPE_END=" + r.End.Format(r.Granularity.Layout()),
		"JOBPIPE_GRANULARITY=" + r.Granularity.String(),
		"JOBPIPE_SCHEDULE_ID=" + tc.ScheduleID(),
		"JOBPIPE_ARGS=" + strings.Join(tc.Args(), " "),
	}

	if t.OutputKind == OutputFile {
		path, err := t.outputPath(tc)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", tc, err)
		}
		env = append(env, "JOBPIPE_OUTPUT="+path)
	}

	var inputs []string
	for _, out := range tc.DependencyOutputs() {
		if out == nil || out.Value() == nil {
			continue
		}
		inputs = append(inputs, fmt.Sprint(out.Value()))
	}
	env = append(env, "JOBPIPE_INPUTS="+strings.Join(inputs, "\n"))
	return env, nil
}
