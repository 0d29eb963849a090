package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	cli "github.com/urfave/cli/v3"

	"github.com/aristath/jobpipe/internal/config"
	"github.com/aristath/jobpipe/internal/logging"
	"github.com/aristath/jobpipe/internal/persistence"
	"github.com/aristath/jobpipe/internal/pipeline"
	"github.com/aristath/jobpipe/internal/shell"
	"github.com/aristath/jobpipe/internal/telemetry"
)

// app holds what every command builds from the global flags.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	processes *shell.ProcessManager
	pipeline  *pipeline.Pipeline
	shutdown  telemetry.ShutdownFunc
	stop      func() bool
}

// setup loads configuration and prepares the pipeline. logOut receives log
// output; the TUI passes io.Discard to keep the screen clean. A non-nil
// store replaces the configured marker database.
func setup(ctx context.Context, command *cli.Command, logOut io.Writer, store persistence.Store) (*app, error) {
	path := command.String("config")
	cfg, err := config.LoadDefault(path)
	if err != nil {
		return nil, err
	}

	if lvl := command.String("log-level"); lvl != "" {
		cfg.Settings.LogLevel = lvl
	}
	if f := command.String("log-format"); f != "" {
		cfg.Settings.LogFormat = f
	}
	logger := logging.New(cfg.Settings.LogLevel, cfg.Settings.LogFormat, logOut)

	shutdown, err := telemetry.Setup(ctx, cfg.Settings.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	pm := shell.NewProcessManager()
	ctx = logging.WithLogger(ctx, logging.WithComponent(logger, "pipeline"))
	p, err := pipeline.New(ctx, cfg, filepath.Dir(path), store, pm, nil)
	if err != nil {
		shutdown(context.Background())
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, processes: pm, pipeline: p, shutdown: shutdown}

	// Children run in their own process groups and do not see the terminal's
	// signal, so kill them once the command context ends.
	a.stop = context.AfterFunc(ctx, func() {
		if pm.Count() == 0 {
			return
		}
		logger.Warn("shutdown signal received, killing subprocesses", "count", pm.Count())
		if err := pm.KillAll(); err != nil {
			logger.Error("failed to kill subprocesses", "error", err)
		}
	})
	return a, nil
}

func (a *app) Close() {
	a.stop()
	if err := a.pipeline.Close(); err != nil {
		a.logger.Error("failed to close marker store", "error", err)
	}
	if err := a.shutdown(context.Background()); err != nil {
		a.logger.Error("failed to shutdown tracer provider", "error", err)
	}
}

func stderr(command *cli.Command) io.Writer {
	if w := command.Root().ErrWriter; w != nil {
		return w
	}
	return os.Stderr
}

func stdout(command *cli.Command) io.Writer {
	if w := command.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}
