package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aristath/jobpipe/internal/timerange"
)

var errBoom = errors.New("boom")

// producer is a Task that records an in-memory output for every node it runs.
type producer struct {
	spec     Spec
	err      error // returned by every execution when set
	noOutput bool  // succeed without recording output

	outputs sync.Map
	runs    atomic.Int32
}

func (p *producer) Execute(_ context.Context, tc *TaskContext) error {
	p.runs.Add(1)
	if p.err != nil {
		return p.err
	}
	if !p.noOutput {
		p.outputs.Store(tc.String(), true)
	}
	return nil
}

func (p *producer) Output(tc *TaskContext) Output {
	return memOutput{p: p, key: tc.String()}
}

func (p *producer) Spec() Spec { return p.spec }

// markDone records output for n as if an earlier run produced it.
func (p *producer) markDone(n *Node) { p.outputs.Store(n.String(), true) }

type memOutput struct {
	p   *producer
	key string
}

func (o memOutput) Exists() bool {
	_, ok := o.p.outputs.Load(o.key)
	return ok
}

func (o memOutput) Value() any { return o.key }

// Named wrappers so default ids come from the type name.
type (
	extract struct{ producer }
	rollup  struct{ producer }
)

func newTestBuilder(expr string) *Builder {
	return NewBuilder(expr).
		PollInterval(5 * time.Millisecond).
		RetryBackoff(RetryConfig{
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			Multiplier:      2,
		})
}

// run executes b and waits for every node to finish.
func run(t *testing.T, b *Builder) *Schedule {
	t.Helper()
	s, err := b.Execute()
	require.NoError(t, err)
	t.Cleanup(s.Shutdown)
	wait(t, s)
	return s
}

func wait(t *testing.T, s *Schedule) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
}

func ids(nodes []*Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID()
	}
	return out
}

func codeCounts(statuses []*Status) map[Code]int {
	out := make(map[Code]int)
	for _, s := range statuses {
		out[s.Code()]++
	}
	return out
}

// addGraph registers the 13 task graph used by the DAG tests.
func addGraph(b *Builder, task Task) *Builder {
	add := func(id string, deps ...string) {
		b.Task(task).ID(id).Granularity(timerange.Minute).DependsOn(deps...).Add()
	}
	add("1")
	add("4")
	add("10")
	add("12")
	add("11", "12")
	add("9", "10", "11", "12")
	add("6", "4", "9")
	add("5", "4")
	add("0", "1", "5", "6")
	add("3", "5")
	add("2", "0", "3")
	add("7", "6")
	add("8", "7")
	return b
}
