package main

import (
	"context"

	cli "github.com/urfave/cli/v3"

	"github.com/aristath/jobpipe/internal/pipeline"
	"github.com/aristath/jobpipe/internal/timerange"
)

func newWatchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Aliases:   []string{"w"},
		Usage:     "Run the pipeline over the last elapsed unit on a cron schedule",
		ArgsUsage: "[args...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "cron",
				Usage:   "Cron expression (5 fields or @hourly, @every 10m)",
				Value:   "@hourly",
				Sources: cli.EnvVars("JOBPIPE_CRON"),
			},
			&cli.StringFlag{
				Name:    "granularity",
				Aliases: []string{"g"},
				Usage:   "Unit each tick runs over (second, minute, hour, day, month)",
				Value:   "hour",
			},
			&cli.StringFlag{
				Name:    "target",
				Aliases: []string{"t"},
				Usage:   "Only run task ids matching this regular expression, and their dependencies",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Log every status transition at info level",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			g, err := timerange.ParseGranularity(command.String("granularity"))
			if err != nil {
				return err
			}

			a, err := setup(ctx, command, stderr(command), nil)
			if err != nil {
				return err
			}
			defer a.Close()

			run := a.pipeline.RunOnTick(pipeline.Options{
				Target:  command.String("target"),
				Args:    command.Args().Slice(),
				Verbose: command.Bool("verbose"),
			})
			return a.pipeline.Watch(ctx, command.String("cron"), g, run)
		},
	}
}
