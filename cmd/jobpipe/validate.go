package main

import (
	"context"
	"fmt"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/aristath/jobpipe/internal/persistence"
	"github.com/aristath/jobpipe/internal/pipeline"
	"github.com/aristath/jobpipe/internal/timerange"
)

func newValidateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Check the configuration and resolve the graph without running it",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "range",
				Usage: "Range to resolve over (default: yesterday)",
			},
			&cli.StringFlag{
				Name:    "target",
				Aliases: []string{"t"},
				Usage:   "Target expression to resolve",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			// Marker tasks resolve against a throwaway store.
			store, err := persistence.NewMemoryStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			a, err := setup(ctx, command, stderr(command), store)
			if err != nil {
				return err
			}
			defer a.Close()

			r := timerange.Previous(time.Now().In(a.pipeline.Location()), timerange.Day)
			if expr := command.String("range"); expr != "" {
				if r, err = a.pipeline.ParseRange(expr); err != nil {
					return err
				}
			}

			b, release := a.pipeline.Builder(r, pipeline.Options{Target: command.String("target")})
			defer release()
			nodes, err := b.Resolve()
			if err != nil {
				return err
			}

			counts := make(map[string]int)
			var order []string
			for _, n := range nodes {
				if counts[n.ID()] == 0 {
					order = append(order, n.ID())
				}
				counts[n.ID()]++
			}

			w := stdout(command)
			fmt.Fprintf(w, "%d tasks, %d nodes over %s\n", len(order), len(nodes), r)
			for _, id := range order {
				fmt.Fprintf(w, "  %-24s %d\n", id, counts[id])
			}
			return nil
		},
	}
}
