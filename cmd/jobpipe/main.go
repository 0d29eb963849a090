package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newApp().Run(ctx, os.Args)
	switch {
	case err == nil:
	case errors.Is(err, errNodesFailed):
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:                  "jobpipe",
		Usage:                 "Run time-partitioned shell pipelines",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Pipeline file, merged over ~/.jobpipe/config.json and .jobpipe/config.json",
				Value:   "pipeline.json",
				Sources: cli.EnvVars("JOBPIPE_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error), overrides the config",
				Sources: cli.EnvVars("JOBPIPE_LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json), overrides the config",
				Sources: cli.EnvVars("JOBPIPE_LOG_FORMAT"),
			},
		},
		Commands: []*cli.Command{
			newRunCommand(),
			newWatchCommand(),
			newValidateCommand(),
			newClearCommand(),
		},
	}
}
