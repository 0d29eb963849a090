package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/jobpipe/internal/events"
	"github.com/aristath/jobpipe/internal/timerange"
)

// Configuration errors. The builder keeps the first one it hits and returns
// it from Resolve and Execute.
var (
	ErrNoGranularity     = errors.New("task has no granularity")
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrDuplicateNode     = errors.New("duplicate node")
	ErrInvalidTarget     = errors.New("invalid target")
)

type nodeKey struct {
	id         string
	start, end int64
}

// slot holds the nodes built for one unit of the overall range.
type slot struct {
	rng   timerange.Range
	nodes []*Node
	byID  map[string][]*Node
	keys  map[nodeKey]bool
}

func newSlot(r timerange.Range) *slot {
	return &slot{
		rng:  r,
		byID: make(map[string][]*Node),
		keys: make(map[nodeKey]bool),
	}
}

func (s *slot) add(n *Node) error {
	key := nodeKey{id: n.id, start: n.rng.Start.UnixNano(), end: n.rng.End.UnixNano()}
	if s.keys[key] {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, n)
	}
	s.keys[key] = true
	s.nodes = append(s.nodes, n)
	s.byID[n.id] = append(s.byID[n.id], n)
	return nil
}

// Builder assembles the node graph for one range.
//
//	sched, err := scheduler.NewBuilder("2015-01-14T10").
//		Task(extract).Granularity(timerange.Minute).Add().
//		Task(rollup).Granularity(timerange.Hour).DependsOn("extract").Add().
//		Execute()
type Builder struct {
	rng             timerange.Range
	slots           []*slot
	registered      map[string]bool
	env             *environment
	defaultExecutor Executor
	target          *regexp.Regexp
	err             error
}

// NewBuilder parses expr (see timerange.Parse) and returns a builder over it.
// A parse error is reported by Resolve and Execute.
func NewBuilder(expr string) *Builder {
	r, err := timerange.Parse(expr)
	b := NewBuilderForRange(r)
	if err != nil {
		b.err = err
	}
	return b
}

// NewBuilderForRange returns a builder over r. Every unit of r's own
// granularity becomes one slot.
func NewBuilderForRange(r timerange.Range) *Builder {
	b := &Builder{
		rng:        r,
		registered: make(map[string]bool),
		env:        newEnvironment(uuid.NewString()),
	}
	if r.Granularity.Valid() {
		cur := r.First()
		for i := 0; i < r.Slots(); i++ {
			b.slots = append(b.slots, newSlot(cur))
			cur = cur.Next()
		}
	}
	return b
}

// ScheduleID returns the id every node context of this builder reports.
func (b *Builder) ScheduleID() string { return b.env.scheduleID }

// Range returns the overall range.
func (b *Builder) Range() timerange.Range { return b.rng }

// Err returns the first configuration error, if any.
func (b *Builder) Err() error { return b.err }

// Observer sets the callback invoked on every status transition.
func (b *Builder) Observer(o Observer) *Builder {
	b.env.observer = o
	return b
}

// Executor sets the executor used by tasks that do not pick their own.
// It must be set before those tasks are added.
func (b *Builder) Executor(e Executor) *Builder {
	b.defaultExecutor = e
	return b
}

// Target restricts execution to nodes whose id matches pattern, plus
// everything they depend on. An empty pattern selects every node.
func (b *Builder) Target(pattern string) *Builder {
	if pattern == "" {
		b.target = nil
		return b
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		b.fail(fmt.Errorf("%w %q: %w", ErrInvalidTarget, pattern, err))
		return b
	}
	b.target = re
	return b
}

// TargetRegexp is Target with a compiled pattern.
func (b *Builder) TargetRegexp(re *regexp.Regexp) *Builder {
	b.target = re
	return b
}

// TargetTask targets the id task would be registered under by default.
func (b *Builder) TargetTask(task Task) *Builder {
	return b.Target(regexp.QuoteMeta(specOf(task).ID))
}

// Args sets the payload every TaskContext returns from Args.
func (b *Builder) Args(args ...string) *Builder {
	b.env.args = args
	return b
}

// Verbose logs status transitions at Info instead of Debug.
func (b *Builder) Verbose(v bool) *Builder {
	b.env.verbose = v
	return b
}

// Logger sets the logger for transitions and task contexts.
func (b *Builder) Logger(l *slog.Logger) *Builder {
	if l != nil {
		b.env.logger = l
	}
	return b
}

// Events publishes node transitions and schedule progress on bus.
func (b *Builder) Events(bus *events.EventBus) *Builder {
	b.env.bus = bus
	return b
}

// PollInterval sets the pause between dependency scans.
func (b *Builder) PollInterval(d time.Duration) *Builder {
	if d > 0 {
		b.env.poll = d
	}
	return b
}

// RetryBackoff sets the pause between execution retries.
func (b *Builder) RetryBackoff(cfg RetryConfig) *Builder {
	b.env.retry = cfg
	return b
}

// CircuitBreaker guards each task id with a circuit breaker.
func (b *Builder) CircuitBreaker(cfg BreakerConfig) *Builder {
	b.env.breakers = newBreakerRegistry(cfg, b.env.logger)
	return b
}

// Task starts declaring task. Call Add to register it.
func (b *Builder) Task(task Task) *TaskBuilder {
	return &TaskBuilder{b: b, task: task, retries: -1}
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *Builder) executor() Executor {
	if b.defaultExecutor == nil {
		b.defaultExecutor = NewPoolExecutor(0)
	}
	return b.defaultExecutor
}

// Resolve returns the nodes that Execute would schedule, in submission order.
func (b *Builder) Resolve() ([]*Node, error) {
	if b.err != nil {
		return nil, b.err
	}
	return resolve(b.slots, b.target)
}

// Execute resolves the graph and dispatches every selected node. It does
// not wait; see Schedule.Wait. Executing the same builder twice aborts the
// already used nodes.
func (b *Builder) Execute() (*Schedule, error) {
	nodes, err := b.Resolve()
	if err != nil {
		return nil, err
	}
	s := newSchedule(b.env, nodes)
	s.start()
	return s, nil
}

// TaskBuilder declares one task of a Builder.
type TaskBuilder struct {
	b           *Builder
	task        Task
	id          string
	granularity timerange.Granularity
	deps        []string
	retries     int
	executor    Executor
}

// ID overrides the task id.
func (tb *TaskBuilder) ID(id string) *TaskBuilder {
	tb.id = id
	return tb
}

// Granularity sets the sub-interval size the task is replicated at.
func (tb *TaskBuilder) Granularity(g timerange.Granularity) *TaskBuilder {
	tb.granularity = g
	return tb
}

// DependsOn wires the task to every node already registered under ids
// within the same slot.
func (tb *TaskBuilder) DependsOn(ids ...string) *TaskBuilder {
	tb.deps = append(tb.deps, ids...)
	return tb
}

// DependsOnTasks is DependsOn with each task's default id.
func (tb *TaskBuilder) DependsOnTasks(tasks ...Task) *TaskBuilder {
	for _, t := range tasks {
		tb.deps = append(tb.deps, specOf(t).ID)
	}
	return tb
}

// Retries sets how many times a failed execution is retried. Zero or less
// disables retries.
func (tb *TaskBuilder) Retries(n int) *TaskBuilder {
	tb.retries = n
	return tb
}

// Executor runs this task's nodes on e instead of the builder default.
func (tb *TaskBuilder) Executor(e Executor) *TaskBuilder {
	tb.executor = e
	return tb
}

// Add registers one node per sub-interval of every slot.
func (tb *TaskBuilder) Add() *Builder {
	b := tb.b
	if b.err == nil {
		b.fail(tb.add())
	}
	return b
}

func (tb *TaskBuilder) add() error {
	b := tb.b
	spec := specOf(tb.task)

	id := tb.id
	if id == "" {
		id = spec.ID
	}
	g := tb.granularity
	if !g.Valid() {
		g = spec.Granularity
	}
	if !g.Valid() {
		return fmt.Errorf("%w: %s", ErrNoGranularity, id)
	}
	for _, dep := range tb.deps {
		if !b.registered[dep] {
			return fmt.Errorf("%w %q required by %s", ErrUnknownDependency, dep, id)
		}
	}

	exec := tb.executor
	if exec == nil {
		exec = b.executor()
	}

	for _, s := range b.slots {
		for _, sub := range s.rng.Split(g) {
			n := newNode(id, tb.task, sub, tb.retries, exec, b.env)
			for _, dep := range tb.deps {
				n.deps = append(n.deps, s.byID[dep]...)
			}
			if err := s.add(n); err != nil {
				return err
			}
		}
	}
	b.registered[id] = true
	return nil
}
