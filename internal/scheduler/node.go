package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/aristath/jobpipe/internal/events"
	"github.com/aristath/jobpipe/internal/timerange"
)

const tracerName = "github.com/aristath/jobpipe/internal/scheduler"

// Observer is called on every status transition. Returning false aborts the
// node.
type Observer func(*Status) bool

// environment is the per-builder state every node of a schedule shares.
type environment struct {
	scheduleID string
	observer   Observer
	logger     *slog.Logger
	verbose    bool
	bus        *events.EventBus
	args       []string
	poll       time.Duration
	retry      RetryConfig
	breakers   *breakerRegistry
	tracer     trace.Tracer
}

func newEnvironment(scheduleID string) *environment {
	return &environment{
		scheduleID: scheduleID,
		logger:     slog.Default(),
		poll:       DefaultPollInterval,
		retry:      DefaultRetryConfig(),
		tracer:     otel.Tracer(tracerName),
	}
}

// report logs a transition and publishes it on the bus.
func (e *environment) report(s *Status) {
	code := s.Code()
	level := slog.LevelDebug
	if e.verbose {
		level = slog.LevelInfo
	}
	attrs := []any{"node", s.node.String(), "status", code.String()}
	if code.Failed() {
		level = slog.LevelWarn
		if err := s.Err(); err != nil {
			attrs = append(attrs, "error", err)
		}
	}
	e.logger.Log(context.Background(), level, "node transition", attrs...)

	if e.bus == nil {
		return
	}
	e.bus.Publish(events.TopicNode, events.NodeStatusEvent{
		Schedule:  e.scheduleID,
		Node:      s.node.String(),
		TaskID:    s.node.id,
		Interval:  s.node.rng.Format(),
		Code:      code.String(),
		Terminal:  code.Done(),
		Failed:    code.Failed(),
		Retries:   s.Retries(),
		Err:       s.Err(),
		Timestamp: s.LastUpdate(),
	})
}

// Node is one task bound to one sub-interval.
type Node struct {
	id       string
	task     Task
	rng      timerange.Range
	deps     []*Node
	retries  int
	executor Executor
	env      *environment
	status   *Status
	tc       *TaskContext
}

func newNode(id string, task Task, rng timerange.Range, retries int, exec Executor, env *environment) *Node {
	n := &Node{
		id:       id,
		task:     task,
		rng:      rng,
		retries:  retries,
		executor: exec,
		env:      env,
	}
	n.status = newStatus(n)
	n.tc = &TaskContext{node: n}
	return n
}

func (n *Node) ID() string { return n.id }
func (n *Node) Task() Task { return n.task }
func (n *Node) Range() timerange.Range { return n.rng }
func (n *Node) Status() *Status { return n.status }
func (n *Node) Context() *TaskContext { return n.tc }
func (n *Node) Executor() Executor { return n.executor }
func (n *Node) Dependencies() []*Node { return n.deps }

// RetryBudget is the number of retries allowed after a failed execution.
func (n *Node) RetryBudget() int {
	if n.retries < 0 {
		return 0
	}
	return n.retries
}

// Output returns the task's output handle for this node.
func (n *Node) Output() Output {
	return n.task.Output(n.tc)
}

// HasOutput reports whether the task's work for this node already exists.
func (n *Node) HasOutput() bool {
	out := n.Output()
	return out != nil && out.Exists()
}

// Delay is how long after now the node may start: once its interval is over.
func (n *Node) Delay(now time.Time) time.Duration {
	if d := n.rng.End.Sub(now); d > 0 {
		return d
	}
	return 0
}

// TransitiveDependencies returns every node reachable through dependency
// edges, each once, in depth-first order.
func (n *Node) TransitiveDependencies() []*Node {
	seen := make(map[*Node]bool)
	var out []*Node
	var walk func(*Node)
	walk = func(cur *Node) {
		for _, dep := range cur.deps {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			out = append(out, dep)
			walk(dep)
		}
	}
	walk(n)
	return out
}

// String renders the node as [id,GRANULARITY,start].
func (n *Node) String() string {
	return fmt.Sprintf("[%s,%s,%s]", n.id, n.rng.Granularity, n.rng.Format())
}
