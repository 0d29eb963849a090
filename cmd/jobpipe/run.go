package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	cli "github.com/urfave/cli/v3"

	"github.com/aristath/jobpipe/internal/events"
	"github.com/aristath/jobpipe/internal/pipeline"
	"github.com/aristath/jobpipe/internal/scheduler"
	"github.com/aristath/jobpipe/internal/timerange"
	"github.com/aristath/jobpipe/internal/tui"
)

// errNodesFailed makes the process exit 1 without printing anything more
// than the summary already did.
var errNodesFailed = errors.New("nodes failed")

func newRunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Aliases:   []string{"r"},
		Usage:     "Run the pipeline over a time range",
		ArgsUsage: "[args...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "range",
				Aliases:  []string{"r"},
				Usage:    "Range expression, e.g. 2015-01-14T10 or 2015-01-14/2015-01-16",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "target",
				Aliases: []string{"t"},
				Usage:   "Only run task ids matching this regular expression, and their dependencies",
			},
			&cli.BoolFlag{
				Name:  "tui",
				Usage: "Show progress in a terminal UI",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Log every status transition at info level",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			useTUI := command.Bool("tui")
			logOut := stderr(command)
			if useTUI {
				logOut = io.Discard
			}

			a, err := setup(ctx, command, logOut, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			r, err := a.pipeline.ParseRange(command.String("range"))
			if err != nil {
				return err
			}
			opts := pipeline.Options{
				Target:  command.String("target"),
				Args:    command.Args().Slice(),
				Verbose: command.Bool("verbose"),
			}

			var s *scheduler.Schedule
			if useTUI {
				s, err = runWithTUI(ctx, a, r, opts)
			} else {
				s, err = a.pipeline.Run(ctx, r, opts)
			}
			if s != nil {
				writeSummary(stdout(command), s)
			}
			if err != nil {
				return err
			}
			if len(s.Failed()) > 0 {
				return errNodesFailed
			}
			return nil
		},
	}
}

// runWithTUI runs the schedule while a Bubble Tea program renders its
// events. Quitting the UI early cancels the run.
func runWithTUI(ctx context.Context, a *app, r timerange.Range, opts pipeline.Options) (*scheduler.Schedule, error) {
	bus := events.NewEventBus()
	defer bus.Close()
	opts.Bus = bus

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(tui.New(bus, false), tea.WithAltScreen(), tea.WithContext(ctx))
	errChan := make(chan error, 1)
	go func() {
		_, err := p.Run()
		cancel()
		errChan <- err
	}()

	s, runErr := a.pipeline.Run(runCtx, r, opts)

	// Leave the final state on screen until the user quits.
	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			a.logger.Error("TUI exit error", "error", err)
		}
	case <-ctx.Done():
		p.Quit()
		select {
		case <-errChan:
		case <-time.After(10 * time.Second):
			return s, fmt.Errorf("TUI did not exit")
		}
	}
	return s, runErr
}
