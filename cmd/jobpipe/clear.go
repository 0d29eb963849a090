package main

import (
	"context"
	"errors"
	"fmt"

	cli "github.com/urfave/cli/v3"
)

func newClearCommand() *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "Delete a task's completion markers within a range so it runs again",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "task",
				Usage:    "Task id",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "range",
				Aliases:  []string{"r"},
				Usage:    "Range expression",
				Required: true,
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			a, err := setup(ctx, command, stderr(command), nil)
			if err != nil {
				return err
			}
			defer a.Close()

			id := command.String("task")
			if _, ok := a.cfg.Task(id); !ok {
				return fmt.Errorf("unknown task %q", id)
			}
			if a.pipeline.Store() == nil {
				return errors.New("no task records marker outputs")
			}

			r, err := a.pipeline.ParseRange(command.String("range"))
			if err != nil {
				return err
			}
			n, err := a.pipeline.Store().Clear(ctx, id, r)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout(command), "cleared %d markers of %s within %s\n", n, id, r)
			return nil
		},
	}
}
