package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/jobpipe/internal/events"
	"github.com/aristath/jobpipe/internal/timerange"
)

func TestSchedule_DirectedAcyclicGraph(t *testing.T) {
	task := &producer{}
	s := run(t, addGraph(newTestBuilder("2015-01-14T10:00"), task))

	require.Len(t, s.Nodes(), 13)
	assert.Empty(t, s.Failed())
	assert.Equal(t, 13, codeCounts(s.Statuses())[Finished])
	assert.EqualValues(t, 13, task.runs.Load())
}

func TestSchedule_Target(t *testing.T) {
	task := &producer{}
	s := run(t, addGraph(newTestBuilder("2015-12-01T10:00"), task).Target("6"))

	assert.ElementsMatch(t, []string{"4", "6", "9", "10", "11", "12"}, ids(s.Nodes()))
	assert.EqualValues(t, 6, task.runs.Load())
}

func TestSchedule_MixedGranularities(t *testing.T) {
	s := run(t, newTestBuilder("2011-10-17T15:16").
		Task(&producer{}).ID("1-sec").Retries(10).Granularity(timerange.Second).Add().
		Task(&producer{}).ID("1-min").Retries(10).Granularity(timerange.Minute).DependsOn("1-sec").Add())

	byID := s.StatusesByID()
	assert.Len(t, s.Nodes(), 61)
	assert.Len(t, byID["1-sec"], 60)
	assert.Len(t, byID["1-min"], 1)
	assert.Len(t, byID["1-min"][0].Node().Dependencies(), 60)
	assert.Empty(t, s.Failed())
}

func TestSchedule_TooShortRange(t *testing.T) {
	s := run(t, newTestBuilder("2006-01-17T15:16:01").
		Task(&producer{}).ID("1-min").Granularity(timerange.Minute).Add())

	assert.Empty(t, s.Nodes())
	assert.True(t, s.Done())
}

func TestSchedule_RetryBudget(t *testing.T) {
	task := &producer{err: errBoom}
	s := run(t, newTestBuilder("1913-12-18T15:16").
		Task(task).Retries(3).Granularity(timerange.Minute).Add())

	failed := s.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, ErrorExecute, failed[0].Code())
	assert.Equal(t, 3, failed[0].Retries())
	assert.True(t, errors.Is(failed[0].Err(), errBoom))
	assert.EqualValues(t, 4, task.runs.Load())
}

func TestSchedule_NoRetriesByDefault(t *testing.T) {
	task := &producer{err: errBoom}
	s := run(t, newTestBuilder("1913-12-18T15:16").
		Task(task).Granularity(timerange.Minute).Add())

	require.Len(t, s.Failed(), 1)
	assert.Equal(t, 0, s.Failed()[0].Retries())
	assert.EqualValues(t, 1, task.runs.Load())
}

func TestSchedule_RetryFailingTaskWithDependent(t *testing.T) {
	s := run(t, newTestBuilder("2013-12-18T15:16").
		Task(&extract{producer{err: errBoom}}).Retries(3).Granularity(timerange.Second).Add().
		Task(&rollup{}).Granularity(timerange.Minute).DependsOn("extract").Add())

	byID := s.StatusesByID()
	require.Len(t, byID["extract"], 60)
	for _, st := range byID["extract"] {
		assert.Equal(t, ErrorExecute, st.Code())
		assert.Equal(t, 3, st.Retries())
	}
	require.Len(t, byID["rollup"], 1)
	assert.Equal(t, ErrorDependency, byID["rollup"][0].Code())
	assert.True(t, errors.Is(byID["rollup"][0].Err(), ErrDependencyFailed))
}

func TestSchedule_FailedTaskAbortsDependents(t *testing.T) {
	for i := 0; i < 3; i++ {
		s := run(t, newTestBuilder("1999-01-17").
			Task(&extract{producer{err: errBoom}}).Granularity(timerange.Hour).Add().
			Task(&rollup{}).Granularity(timerange.Day).DependsOn("extract").Add())

		require.Len(t, s.Nodes(), 25)
		got := codeCounts(s.Statuses())
		assert.Equal(t, 24, got[ErrorExecute])
		assert.Equal(t, 1, got[ErrorDependency])

		for _, st := range s.Statuses() {
			switch st.Code() {
			case ErrorExecute:
				assert.Equal(t, "extract", st.Node().ID())
			case ErrorDependency:
				assert.Equal(t, "rollup", st.Node().ID())
				assert.Equal(t, "extract", st.FailedDependency().ID())
			}
		}
	}
}

func TestSchedule_TransitiveDependencyFailure(t *testing.T) {
	last := &producer{}
	s := run(t, newTestBuilder("2015-01-14T10:00").
		Task(&producer{err: errBoom}).ID("a").Granularity(timerange.Minute).Add().
		Task(&producer{}).ID("b").Granularity(timerange.Minute).DependsOn("a").Add().
		Task(last).ID("c").Granularity(timerange.Minute).DependsOn("b").Add())

	byID := s.StatusesByID()
	assert.Equal(t, ErrorExecute, byID["a"][0].Code())
	assert.Equal(t, ErrorDependency, byID["b"][0].Code())
	assert.Equal(t, ErrorDependency, byID["c"][0].Code())
	assert.Zero(t, last.runs.Load())
}

func TestSchedule_MissingDependencyInput(t *testing.T) {
	consumer := &producer{}
	s := run(t, newTestBuilder("1995-01-17").
		Task(&producer{noOutput: true}).ID("missing").Granularity(timerange.Minute).Add().
		Task(consumer).ID("task1").Granularity(timerange.Hour).DependsOn("missing").Add())

	byID := s.StatusesByID()
	require.Len(t, byID["missing"], 1440)
	for _, st := range byID["missing"] {
		assert.Equal(t, Finished, st.Code())
	}
	require.Len(t, byID["task1"], 24)
	for _, st := range byID["task1"] {
		assert.Equal(t, ErrorNoInput, st.Code())
		assert.Equal(t, "missing", st.FailedDependency().ID())
	}
	assert.Zero(t, consumer.runs.Load())
}

func TestSchedule_DefaultIDsAndSpec(t *testing.T) {
	exec := NewPoolExecutor(1)
	s := run(t, newTestBuilder("2011-01-17T15:16").
		Task(&extract{}).Retries(10).Granularity(timerange.Second).Add().
		Task(&rollup{producer{spec: Spec{Granularity: timerange.Minute}}}).
		Retries(10).DependsOnTasks(&extract{}).Executor(exec).Add())

	byID := s.StatusesByID()
	assert.Len(t, byID["extract"], 60)
	require.Len(t, byID["rollup"], 1)
	assert.Equal(t, Finished, byID["rollup"][0].Code())
	assert.Same(t, exec, byID["rollup"][0].Node().Executor())
}

func TestSchedule_SpecID(t *testing.T) {
	b := newTestBuilder("2011-01-17").
		Task(&producer{spec: Spec{ID: "daily", Granularity: timerange.Day}}).Add()

	nodes, err := b.Resolve()
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "[daily,DAY,2011-01-17]", nodes[0].String())
}

func TestSchedule_ScheduleID(t *testing.T) {
	s := run(t, newTestBuilder("2011-01-17T15:16").
		Task(&extract{}).Granularity(timerange.Second).Add().
		Task(&rollup{}).Granularity(timerange.Minute).DependsOnTasks(&extract{}).Add())

	_, err := uuid.Parse(s.ID())
	require.NoError(t, err)
	for _, n := range s.Nodes() {
		assert.Equal(t, s.ID(), n.Context().ScheduleID())
	}
}

// outputChecker asserts on the outputs of its dependencies while executing.
type outputChecker struct {
	producer
	seen atomic.Int32
}

func (c *outputChecker) Execute(ctx context.Context, tc *TaskContext) error {
	for _, out := range tc.DependencyOutputs() {
		if out.Exists() && out.Value() != nil {
			c.seen.Add(1)
		}
	}
	return c.producer.Execute(ctx, tc)
}

func TestSchedule_OutputFromDependency(t *testing.T) {
	checker := &outputChecker{}
	s := run(t, newTestBuilder("2013-01-17T15:16").
		Args("hello").
		Task(&extract{}).Retries(10).Granularity(timerange.Second).Add().
		Task(checker).Granularity(timerange.Minute).DependsOn("extract").Add())

	assert.Empty(t, s.Failed())
	assert.EqualValues(t, 60, checker.seen.Load())
	assert.Equal(t, []string{"hello"}, s.Nodes()[0].Context().Args())
}

func TestSchedule_AbortingObserver(t *testing.T) {
	first, second := &extract{}, &rollup{}
	s := run(t, newTestBuilder("2013-12-18T15:16").
		Observer(func(*Status) bool { return false }).
		Task(first).Granularity(timerange.Second).Add().
		Task(second).Granularity(timerange.Minute).DependsOn("extract").Add())

	failed := s.Failed()
	require.Len(t, failed, 61)
	for _, st := range failed {
		assert.Equal(t, ErrorAborted, st.Code())
	}
	assert.Zero(t, first.runs.Load())
	assert.Zero(t, second.runs.Load())
}

func TestSchedule_ObserverSeesTransitions(t *testing.T) {
	var finished atomic.Int32
	s := run(t, newTestBuilder("2015-01-14T10:00").
		Observer(func(st *Status) bool {
			if st.Code() == Finished {
				finished.Add(1)
			}
			return true
		}).
		Task(&producer{}).ID("a").Granularity(timerange.Minute).Add())

	assert.Empty(t, s.Failed())
	assert.EqualValues(t, 1, finished.Load())
}

func TestSchedule_SkipsExistingOutput(t *testing.T) {
	task := &producer{}
	b := newTestBuilder("2015-01-14T10").
		Task(task).ID("a").Granularity(timerange.Minute).Add()

	nodes, err := b.Resolve()
	require.NoError(t, err)
	require.Len(t, nodes, 60)
	for _, n := range nodes[:30] {
		task.markDone(n)
	}

	s := run(t, b)
	got := codeCounts(s.Statuses())
	assert.Equal(t, 30, got[Skipped])
	assert.Equal(t, 30, got[Finished])
	assert.EqualValues(t, 30, task.runs.Load())
}

func TestSchedule_ExecuteTwiceAborts(t *testing.T) {
	task := &producer{}
	b := newTestBuilder("2015-01-14T10:00").
		Task(task).ID("a").Granularity(timerange.Minute).Add()

	first := run(t, b)
	require.Empty(t, first.Failed())

	second := run(t, b)
	require.Len(t, second.Failed(), 1)
	assert.Equal(t, ErrorAborted, second.Failed()[0].Code())
	assert.EqualValues(t, 1, task.runs.Load())
}

type panicker struct{ producer }

func (p *panicker) Execute(context.Context, *TaskContext) error {
	panic("kaboom")
}

func TestSchedule_PanicIsExecutionError(t *testing.T) {
	s := run(t, newTestBuilder("2015-01-14T10:00").
		Task(&panicker{}).Granularity(timerange.Minute).Add())

	require.Len(t, s.Failed(), 1)
	st := s.Failed()[0]
	assert.Equal(t, ErrorExecute, st.Code())
	assert.Contains(t, st.Err().Error(), "kaboom")
}

func TestSchedule_CircuitBreaker(t *testing.T) {
	task := &producer{err: errBoom}
	s := run(t, newTestBuilder("2015-01-14T10:00/2015-01-14T10:05").
		Executor(NewPoolExecutor(1)).
		CircuitBreaker(BreakerConfig{ConsecutiveFailures: 2, MaxRequests: 1, Timeout: time.Minute}).
		Task(task).ID("flaky").Granularity(timerange.Minute).Add())

	require.Len(t, s.Failed(), 5)
	assert.EqualValues(t, 2, task.runs.Load())

	open := 0
	for _, st := range s.Failed() {
		if errors.Is(st.Err(), gobreaker.ErrOpenState) {
			open++
		}
	}
	assert.Equal(t, 3, open)
}

func TestSchedule_Events(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Close()
	nodeCh := bus.Subscribe(events.TopicNode, 100)
	schedCh := bus.Subscribe(events.TopicSchedule, 100)

	s := run(t, newTestBuilder("2015-01-14T10:00").
		Events(bus).
		Task(&producer{}).ID("a").Granularity(timerange.Minute).Add())

	// The terminal event is published right after the status becomes
	// visible, so it may trail Wait slightly.
	var transitions []string
	for len(transitions) < 3 {
		select {
		case ev := <-nodeCh:
			nev := ev.(events.NodeStatusEvent)
			assert.Equal(t, s.ID(), nev.Schedule)
			assert.Equal(t, "a", nev.TaskID)
			transitions = append(transitions, nev.Code)
		case <-time.After(time.Second):
			t.Fatalf("timeout after %v", transitions)
		}
	}
	assert.Equal(t, []string{"SCHEDULED", "RUNNING", "FINISHED"}, transitions)

	var last events.ScheduleProgressEvent
	for len(schedCh) > 0 {
		last = (<-schedCh).(events.ScheduleProgressEvent)
	}
	assert.True(t, last.Done)
	assert.Equal(t, 1, last.Finished)
}

func TestSchedule_ShutdownAbortsPendingNodes(t *testing.T) {
	start := timerange.Minute.Truncate(time.Now()).Add(time.Hour)
	task := &producer{}
	b := NewBuilderForRange(timerange.New(start, timerange.Minute, 1)).
		Task(task).ID("future").Granularity(timerange.Minute).Add()

	s, err := b.Execute()
	require.NoError(t, err)
	require.Len(t, s.Nodes(), 1)
	assert.Equal(t, Scheduled, s.Nodes()[0].Status().Code())
	assert.Greater(t, s.Nodes()[0].Delay(time.Now()), 30*time.Minute)

	s.Shutdown()
	wait(t, s)

	assert.Equal(t, ErrorAborted, s.Nodes()[0].Status().Code())
	assert.True(t, errors.Is(s.Nodes()[0].Status().Err(), context.Canceled))
	assert.Zero(t, task.runs.Load())
}

func TestSchedule_WaitHonoursContext(t *testing.T) {
	start := timerange.Minute.Truncate(time.Now()).Add(time.Hour)
	b := NewBuilderForRange(timerange.New(start, timerange.Minute, 1)).
		Task(&producer{}).ID("future").Granularity(timerange.Minute).Add()

	s, err := b.Execute()
	require.NoError(t, err)
	defer s.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)
	assert.Equal(t, 1, s.Progress().Pending)
}

// gated holds every execution until release is closed.
type gated struct {
	producer
	release chan struct{}
}

func (g *gated) Execute(ctx context.Context, tc *TaskContext) error {
	select {
	case <-g.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return g.producer.Execute(ctx, tc)
}

func TestSchedule_ConsumerWaitsForDependencyOutput(t *testing.T) {
	source := &gated{release: make(chan struct{})}
	sink := &producer{}

	var early atomic.Int32
	var runningAt atomic.Int64
	s, err := newTestBuilder("2015-01-14T10:00").
		Observer(func(st *Status) bool {
			if st.Node().ID() == "load" && st.Code() == Running {
				for _, dep := range st.Node().Dependencies() {
					if !dep.HasOutput() {
						early.Add(1)
					}
				}
				runningAt.Store(time.Now().UnixNano())
			}
			return true
		}).
		Task(source).ID("extract").Granularity(timerange.Minute).Add().
		Task(sink).ID("load").Granularity(timerange.Minute).DependsOn("extract").Add().
		Execute()
	require.NoError(t, err)
	t.Cleanup(s.Shutdown)

	load := s.StatusesByID()["load"][0]
	assert.Never(t, func() bool {
		return sink.runs.Load() > 0 || load.Code() == Running
	}, 100*time.Millisecond, 5*time.Millisecond)

	releasedAt := time.Now()
	close(source.release)
	wait(t, s)

	assert.Empty(t, s.Failed())
	assert.Zero(t, early.Load())
	assert.EqualValues(t, 1, sink.runs.Load())
	assert.False(t, time.Unix(0, runningAt.Load()).Before(releasedAt))
}

func TestSchedule_SingleWorkerFutureRange(t *testing.T) {
	// One second that has not ended yet, so every node waits for the same
	// deadline before it can start.
	start := time.Now().UTC().Truncate(time.Second).Add(time.Second)
	e := NewPoolExecutor(1)
	defer e.Shutdown()

	b := NewBuilderForRange(timerange.New(start, timerange.Second, 1)).
		PollInterval(5 * time.Millisecond).
		Executor(e)
	chain := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for i, id := range chain {
		tb := b.Task(&producer{}).ID(id).Granularity(timerange.Second)
		if i > 0 {
			tb = tb.DependsOn(chain[i-1])
		}
		tb.Add()
	}

	s, err := b.Execute()
	require.NoError(t, err)
	t.Cleanup(s.Shutdown)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
	assert.Empty(t, s.Failed())
	assert.Equal(t, 8, codeCounts(s.Statuses())[Finished])
}
