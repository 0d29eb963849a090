// Package pipeline turns a loaded configuration into scheduler builders of
// shell tasks and runs them, once or on a cron schedule.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/aristath/jobpipe/internal/config"
	"github.com/aristath/jobpipe/internal/events"
	"github.com/aristath/jobpipe/internal/logging"
	"github.com/aristath/jobpipe/internal/persistence"
	"github.com/aristath/jobpipe/internal/scheduler"
	"github.com/aristath/jobpipe/internal/shell"
	"github.com/aristath/jobpipe/internal/timerange"
)

// Options are the per-run knobs that do not come from configuration.
type Options struct {
	Target  string
	Args    []string
	Verbose bool
	Bus     *events.EventBus
}

// Pipeline is a validated configuration bound to its shell tasks and, when
// any task records marker outputs, an open marker store.
type Pipeline struct {
	cfg       *config.Config
	loc       *time.Location
	logger    *slog.Logger
	store     persistence.Store
	ownsStore bool
	tasks     []*shell.Task
}

// New validates cfg and prepares its tasks. A nil logger is taken from ctx. A nil store is opened from
// Settings.MarkerDB relative to baseDir when a task needs one; a store
// passed in is not closed by Close.
func New(ctx context.Context, cfg *config.Config, baseDir string, store persistence.Store, pm *shell.ProcessManager, logger *slog.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.FromContext(ctx)
	}

	loc := time.UTC
	if cfg.Settings.Timezone != "" {
		l, err := time.LoadLocation(cfg.Settings.Timezone)
		if err != nil {
			return nil, fmt.Errorf("loading timezone: %w", err)
		}
		loc = l
	}

	p := &Pipeline{cfg: cfg, loc: loc, logger: logger, store: store}
	locks := shell.NewResourceLocks()

	if p.store == nil && needsStore(cfg) {
		path := cfg.Settings.MarkerDB
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		s, err := persistence.NewSQLiteStore(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("opening marker store: %w", err)
		}
		p.store = s
		p.ownsStore = true
	}

	for _, tc := range cfg.Tasks {
		t := shell.New(tc.ID, tc.Command, tc.ParsedGranularity())
		t.Dir = tc.Dir
		if t.Dir == "" {
			t.Dir = baseDir
		}
		t.Env = tc.Env
		t.Processes = pm
		t.Locks = tc.Locks
		t.Resources = locks
		if tc.Output.Kind != "" {
			t.OutputKind = shell.OutputKind(tc.Output.Kind)
		}
		t.OutputPath = tc.Output.Path
		if t.OutputPath != "" && !filepath.IsAbs(t.OutputPath) {
			t.OutputPath = filepath.Join(t.Dir, t.OutputPath)
		}
		t.Store = p.store
		if err := t.Validate(); err != nil {
			p.Close()
			return nil, err
		}
		p.tasks = append(p.tasks, t)
	}

	return p, nil
}

func needsStore(cfg *config.Config) bool {
	for _, t := range cfg.Tasks {
		if t.Output.Kind == string(shell.OutputMarker) {
			return true
		}
	}
	return false
}

// Location is the time zone range expressions are read in.
func (p *Pipeline) Location() *time.Location { return p.loc }

// Store returns the marker store, or nil when no task uses one.
func (p *Pipeline) Store() persistence.Store { return p.store }

// Config returns the validated configuration.
func (p *Pipeline) Config() *config.Config { return p.cfg }

// ParseRange reads expr in the pipeline's time zone.
func (p *Pipeline) ParseRange(expr string) (timerange.Range, error) {
	return timerange.ParseIn(expr, p.loc)
}

// Builder declares every task over r. Each call gets fresh executors; the
// returned release func shuts all of them down, including those of tasks a
// target left out.
func (p *Pipeline) Builder(r timerange.Range, opts Options) (*scheduler.Builder, func()) {
	s := p.cfg.Settings
	executors := []scheduler.Executor{scheduler.NewPoolExecutor(s.Parallelism)}
	release := func() {
		for _, e := range executors {
			e.Shutdown()
		}
	}

	b := scheduler.NewBuilderForRange(r).
		Logger(p.logger).
		Verbose(opts.Verbose).
		Events(opts.Bus).
		Args(opts.Args...).
		PollInterval(s.PollInterval.Duration).
		RetryBackoff(scheduler.RetryConfig{
			InitialInterval:     s.Retry.InitialInterval.Duration,
			MaxInterval:         s.Retry.MaxInterval.Duration,
			Multiplier:          s.Retry.Multiplier,
			RandomizationFactor: s.Retry.Jitter,
		}).
		Executor(executors[0]).
		Target(opts.Target)
	if s.Breaker != nil {
		b.CircuitBreaker(scheduler.BreakerConfig{
			ConsecutiveFailures: s.Breaker.ConsecutiveFailures,
			MaxRequests:         s.Breaker.MaxRequests,
			Timeout:             s.Breaker.Timeout.Duration,
		})
	}

	for i, tc := range p.cfg.Tasks {
		tb := b.Task(p.tasks[i]).DependsOn(tc.DependsOn...).Retries(tc.Retries)
		if tc.Parallelism > 0 {
			e := scheduler.NewPoolExecutor(tc.Parallelism)
			executors = append(executors, e)
			tb.Executor(e)
		}
		tb.Add()
	}
	return b, release
}

// Run executes the pipeline over r and waits for it. The executors are shut
// down before Run returns; a cancelled ctx aborts whatever has not started.
func (p *Pipeline) Run(ctx context.Context, r timerange.Range, opts Options) (*scheduler.Schedule, error) {
	b, release := p.Builder(r, opts)
	defer release()

	s, err := b.Execute()
	if err != nil {
		return nil, err
	}

	p.logger.Info("schedule started", "schedule", s.ID(), "range", r.String(), "nodes", len(s.Nodes()))
	if err := s.Wait(ctx); err != nil {
		return s, err
	}

	prog := s.Progress()
	p.logger.Info("schedule done", "schedule", s.ID(),
		"finished", prog.Finished, "skipped", prog.Skipped, "failed", prog.Failed)
	return s, nil
}

// Close releases the marker store if New opened it.
func (p *Pipeline) Close() error {
	if p.ownsStore && p.store != nil {
		return p.store.Close()
	}
	return nil
}
