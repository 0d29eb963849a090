package scheduler

import (
	"context"
	"time"

	"github.com/aristath/jobpipe/internal/events"
)

const waitInterval = 100 * time.Millisecond

// Progress counts the nodes of a schedule per state class.
type Progress struct {
	Total    int
	Pending  int // NEW or SCHEDULED
	Running  int // RUNNING or RETRY
	Finished int
	Skipped  int
	Failed   int
}

// Done reports whether every node is terminal.
func (p Progress) Done() bool {
	return p.Finished+p.Skipped+p.Failed == p.Total
}

// Schedule is one run of a resolved node set. Individual node failures are
// recorded on the nodes; callers inspect Failed after Wait.
type Schedule struct {
	env   *environment
	nodes []*Node
}

func newSchedule(env *environment, nodes []*Node) *Schedule {
	return &Schedule{env: env, nodes: nodes}
}

// start admits every node and hands the admitted ones to their executors,
// in order.
func (s *Schedule) start() {
	now := time.Now()
	for _, n := range s.nodes {
		if !n.status.admit() {
			continue
		}
		n.executor.Schedule(newWorker(n).run, n.Delay(now))
	}
}

// ID returns the schedule id.
func (s *Schedule) ID() string { return s.env.scheduleID }

// Nodes returns the scheduled nodes in submission order.
func (s *Schedule) Nodes() []*Node { return s.nodes }

// Statuses returns the status of every scheduled node, in submission order.
func (s *Schedule) Statuses() []*Status {
	out := make([]*Status, len(s.nodes))
	for i, n := range s.nodes {
		out[i] = n.status
	}
	return out
}

// StatusesByID groups statuses by task id, each group in submission order.
func (s *Schedule) StatusesByID() map[string][]*Status {
	out := make(map[string][]*Status)
	for _, n := range s.nodes {
		out[n.id] = append(out[n.id], n.status)
	}
	return out
}

// Failed returns the statuses currently in an error state.
func (s *Schedule) Failed() []*Status {
	var out []*Status
	for _, n := range s.nodes {
		if n.status.Failed() {
			out = append(out, n.status)
		}
	}
	return out
}

// Done reports whether every scheduled node reached a terminal state.
func (s *Schedule) Done() bool {
	for _, n := range s.nodes {
		if !n.status.Done() {
			return false
		}
	}
	return true
}

// Progress takes a snapshot of node states.
func (s *Schedule) Progress() Progress {
	p := Progress{Total: len(s.nodes)}
	for _, n := range s.nodes {
		switch code := n.status.Code(); {
		case code.Failed():
			p.Failed++
		case code == Finished:
			p.Finished++
		case code == Skipped:
			p.Skipped++
		case code == Running || code == Retry:
			p.Running++
		default:
			p.Pending++
		}
	}
	return p
}

// Wait polls until every node is terminal or ctx is done.
func (s *Schedule) Wait(ctx context.Context) error {
	ticker := time.NewTicker(waitInterval)
	defer ticker.Stop()

	for {
		p := s.Progress()
		s.publish(p)
		if p.Done() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Schedule) publish(p Progress) {
	if s.env.bus == nil {
		return
	}
	s.env.bus.Publish(events.TopicSchedule, events.ScheduleProgressEvent{
		Schedule:  s.env.scheduleID,
		Total:     p.Total,
		Finished:  p.Finished,
		Skipped:   p.Skipped,
		Running:   p.Running,
		Failed:    p.Failed,
		Pending:   p.Pending,
		Done:      p.Done(),
		Timestamp: time.Now(),
	})
}

// Shutdown shuts down every executor used by the schedule, once each.
func (s *Schedule) Shutdown() {
	seen := make(map[Executor]bool)
	for _, n := range s.nodes {
		if n.executor == nil || seen[n.executor] {
			continue
		}
		seen[n.executor] = true
		n.executor.Shutdown()
	}
}
