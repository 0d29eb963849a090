package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/aristath/jobpipe/internal/timerange"
)

// Task is a unit of work replicated over every sub-interval of a schedule.
// A single Task value is shared by all of its nodes; per-node state belongs
// in the TaskContext.
type Task interface {
	// Execute performs the work for tc's interval.
	Execute(ctx context.Context, tc *TaskContext) error
	// Output returns the handle used to decide whether the work for tc's
	// interval was already done.
	Output(tc *TaskContext) Output
}

// Output is the idempotency handle a task exposes for one interval.
type Output interface {
	Exists() bool
	Value() any
}

// Spec carries a task's defaults. Zero fields are unset.
type Spec struct {
	ID          string
	Granularity timerange.Granularity
}

// Specifier is implemented by tasks that declare their own id or granularity.
type Specifier interface {
	Spec() Spec
}

// specOf resolves a task's defaults, falling back to the Go type name for the id.
func specOf(t Task) Spec {
	var spec Spec
	if s, ok := t.(Specifier); ok {
		spec = s.Spec()
	}
	if spec.ID == "" {
		spec.ID = typeName(t)
	}
	return spec
}

func typeName(t Task) string {
	rt := reflect.TypeOf(t)
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if name := rt.Name(); name != "" {
		return name
	}
	return fmt.Sprintf("%T", t)
}

// TaskContext is what a task sees of the node it runs for.
type TaskContext struct {
	node *Node
}

// ID returns the task id of the node.
func (tc *TaskContext) ID() string { return tc.node.id }

// Range returns the sub-interval the node covers.
func (tc *TaskContext) Range() timerange.Range { return tc.node.rng }

// ScheduleID returns the id shared by every node built by the same builder.
func (tc *TaskContext) ScheduleID() string { return tc.node.env.scheduleID }

// Args returns the argument payload given to the builder.
func (tc *TaskContext) Args() []string { return tc.node.env.args }

// Attempt is the number of retries consumed before the current execution.
func (tc *TaskContext) Attempt() int { return tc.node.status.Retries() }

// DependencyOutputs returns the outputs of the node's direct dependencies,
// in declaration order.
func (tc *TaskContext) DependencyOutputs() []Output {
	outputs := make([]Output, 0, len(tc.node.deps))
	for _, dep := range tc.node.deps {
		outputs = append(outputs, dep.Output())
	}
	return outputs
}

// Logger returns the schedule logger annotated with the node.
func (tc *TaskContext) Logger() *slog.Logger {
	return tc.node.env.logger.With("node", tc.node.String())
}

func (tc *TaskContext) String() string { return tc.node.String() }
