package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/devcubo3/trabalho-mae/internal/janitor"
)

func newCleanupCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Run one retention sweep and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(g.cfg, g.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := janitor.New(a.uploads, a.results, a.db, g.cfg.Retention, g.logger).Sweep(cmd.Context(), time.Now())
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d uploads, %d results, %d jobs\n", report.Uploads, report.Results, report.Jobs)
			return err
		},
	}
}
