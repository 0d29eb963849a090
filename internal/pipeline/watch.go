package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aristath/jobpipe/internal/scheduler"
	"github.com/aristath/jobpipe/internal/timerange"
)

// RunFunc handles one cron firing over the unit that just elapsed.
type RunFunc func(ctx context.Context, r timerange.Range)

// Watch fires run on every tick of spec with the last fully elapsed unit of
// g, until ctx is done. A tick that arrives while the previous run is still
// going is skipped. Watch returns once the last run has finished.
func (p *Pipeline) Watch(ctx context.Context, spec string, g timerange.Granularity, run RunFunc) error {
	if !g.Valid() {
		return fmt.Errorf("watch: %w", scheduler.ErrNoGranularity)
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("watch: invalid cron expression %q: %w", spec, err)
	}

	logger := cronLogger{p.logger.With("component", "watch")}
	c := cron.New(
		cron.WithLocation(p.loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.SkipIfStillRunning(logger), cron.Recover(logger)),
	)
	if _, err := c.AddFunc(spec, func() {
		r := timerange.Previous(time.Now().In(p.loc), g)
		p.logger.Info("cron tick", "range", r.String())
		run(ctx, r)
	}); err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	c.Start()
	p.logger.Info("watching", "cron", spec, "granularity", g.String())
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// RunOnTick is a RunFunc executing the pipeline and logging its outcome.
func (p *Pipeline) RunOnTick(opts Options) RunFunc {
	return func(ctx context.Context, r timerange.Range) {
		s, err := p.Run(ctx, r, opts)
		if err != nil {
			p.logger.Error("scheduled run failed", "range", r.String(), "error", err)
			return
		}
		if failed := s.Failed(); len(failed) > 0 {
			p.logger.Warn("scheduled run had failures", "range", r.String(), "failed", len(failed))
		}
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
