package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolExecutor_SingleWorkerIsFIFO(t *testing.T) {
	e := NewPoolExecutor(1)
	defer e.Shutdown()

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		e.Schedule(func(context.Context) {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}, 0)
	}
	wg.Wait()

	want := make([]int, 20)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, order)
}

func TestPoolExecutor_BoundedParallelism(t *testing.T) {
	e := NewPoolExecutor(2)
	defer e.Shutdown()
	assert.Equal(t, 2, e.Parallelism())

	var (
		mu      sync.Mutex
		current int
		peak    int
		wg      sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		e.Schedule(func(context.Context) {
			defer wg.Done()
			mu.Lock()
			current++
			peak = max(peak, current)
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			current--
			mu.Unlock()
		}, 0)
	}
	wg.Wait()

	assert.LessOrEqual(t, peak, 2)
}

func TestPoolExecutor_UnboundedRunsConcurrently(t *testing.T) {
	e := NewPoolExecutor(0)
	defer e.Shutdown()
	assert.Equal(t, 0, e.Parallelism())

	// Each job waits for the other, so this only completes if both run at once.
	a, b := make(chan struct{}), make(chan struct{})
	done := make(chan struct{}, 2)
	e.Schedule(func(context.Context) { close(a); <-b; done <- struct{}{} }, 0)
	e.Schedule(func(context.Context) { close(b); <-a; done <- struct{}{} }, 0)

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("jobs did not run concurrently")
		}
	}
}

func TestPoolExecutor_Delay(t *testing.T) {
	e := NewPoolExecutor(1)
	defer e.Shutdown()

	start := time.Now()
	ran := make(chan time.Duration, 1)
	e.Schedule(func(context.Context) { ran <- time.Since(start) }, 30*time.Millisecond)

	select {
	case elapsed := <-ran:
		assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("delayed job never ran")
	}
}

func TestPoolExecutor_ShutdownReleasesDelayedJobs(t *testing.T) {
	for _, parallelism := range []int{0, 1} {
		e := NewPoolExecutor(parallelism)

		ran := make(chan error, 1)
		e.Schedule(func(ctx context.Context) { ran <- ctx.Err() }, time.Hour)

		e.Shutdown()

		select {
		case err := <-ran:
			assert.ErrorIs(t, err, context.Canceled)
		default:
			t.Fatalf("parallelism %d: Shutdown returned before the delayed job ran", parallelism)
		}
	}
}

func TestPoolExecutor_ScheduleAfterShutdown(t *testing.T) {
	e := NewPoolExecutor(1)
	e.Shutdown()
	e.Shutdown()

	ran := make(chan error, 1)
	e.Schedule(func(ctx context.Context) { ran <- ctx.Err() }, 0)

	select {
	case err := <-ran:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("job submitted after shutdown never ran")
	}
}

func TestPoolExecutor_ShutdownWaitsForRunningJobs(t *testing.T) {
	e := NewPoolExecutor(1)

	started := make(chan struct{})
	finished := false
	e.Schedule(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		finished = true
	}, 0)

	<-started
	e.Shutdown()
	assert.True(t, finished)
}

func TestPoolExecutor_DelayedJobsKeepSubmissionOrder(t *testing.T) {
	e := NewPoolExecutor(1)
	defer e.Shutdown()

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		e.Schedule(func(context.Context) {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}, 20*time.Millisecond)
	}
	wg.Wait()

	want := make([]int, 50)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, order)
}

func TestPoolExecutor_EarlierDeadlineFirst(t *testing.T) {
	e := NewPoolExecutor(1)
	defer e.Shutdown()

	got := make(chan string, 2)
	e.Schedule(func(context.Context) { got <- "late" }, 60*time.Millisecond)
	e.Schedule(func(context.Context) { got <- "early" }, 10*time.Millisecond)

	for _, want := range []string{"early", "late"} {
		select {
		case name := <-got:
			assert.Equal(t, want, name)
		case <-time.After(time.Second):
			t.Fatal("delayed job never ran")
		}
	}
}
