package scheduler

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// worker drives one node to a terminal state.
type worker struct {
	node *Node
	poll backoff.BackOff
	wait backoff.BackOff
}

func newWorker(n *Node) *worker {
	return &worker{
		node: n,
		poll: backoff.NewConstantBackOff(n.env.poll),
		wait: n.env.retry.backOff(),
	}
}

// run is the job handed to the node's executor.
func (w *worker) run(ctx context.Context) {
	n := w.node
	st := n.status

	for !st.Done() {
		if err := ctx.Err(); err != nil {
			st.abort(fmt.Errorf("%w: %w", ErrAborted, err))
			return
		}

		if !w.awaitDependencies(ctx) {
			return
		}

		if n.HasOutput() {
			st.set(Skipped, nil)
			return
		}

		// Retries stay in RETRY while they execute.
		if st.Code() != Retry && !st.set(Running, nil) {
			return
		}

		err := w.execute(ctx)
		if err == nil {
			st.set(Finished, nil)
			return
		}

		if st.Retries() >= n.RetryBudget() {
			st.set(ErrorExecute, &failure{err: err})
			return
		}
		if !st.retry() {
			return
		}
		if !sleep(ctx, w.wait.NextBackOff()) {
			st.abort(fmt.Errorf("%w: %w", ErrAborted, ctx.Err()))
			return
		}
	}
}

// awaitDependencies blocks until every direct dependency has produced
// output. It returns false after moving the node to a terminal state.
func (w *worker) awaitDependencies(ctx context.Context) bool {
	n := w.node
	w.poll.Reset()

scan:
	for {
		for _, dep := range n.deps {
			code := dep.status.Code()
			switch {
			case code.Failed():
				n.status.set(ErrorDependency, &failure{err: ErrDependencyFailed, dep: dep})
				return false
			case dep.HasOutput():
				continue
			case code.Done():
				n.status.set(ErrorNoInput, &failure{err: ErrNoInput, dep: dep})
				return false
			}

			n.env.logger.Debug("waiting for dependency", "node", n.String(), "dependency", dep.String())
			if !sleep(ctx, w.poll.NextBackOff()) {
				n.status.abort(fmt.Errorf("%w: %w", ErrAborted, ctx.Err()))
				return false
			}
			continue scan
		}
		return true
	}
}

// execute runs the task body once inside a span, through the task's circuit
// breaker when one is configured. Panics become errors.
func (w *worker) execute(ctx context.Context) (err error) {
	n := w.node
	ctx, span := n.env.tracer.Start(ctx, "jobpipe.execute",
		trace.WithAttributes(
			attribute.String("jobpipe.schedule", n.env.scheduleID),
			attribute.String("jobpipe.task", n.id),
			attribute.String("jobpipe.interval", n.rng.Format()),
			attribute.String("jobpipe.granularity", n.rng.Granularity.String()),
			attribute.Int("jobpipe.attempt", n.status.Retries()),
		))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", n, r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if n.env.breakers == nil {
		return n.task.Execute(ctx, n.tc)
	}
	_, err = n.env.breakers.get(n.id).Execute(func() (interface{}, error) {
		return nil, n.task.Execute(ctx, n.tc)
	})
	return err
}
