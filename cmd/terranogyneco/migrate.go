package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vango-go/terranogyneco/internal/migrations"
	"github.com/vango-go/terranogyneco/internal/pg"
)

func newMigrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the postgres schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := a.config()
				if err != nil {
					return err
				}
				pool, err := pg.NewPool(cmd.Context(), cfg.DatabaseURL)
				if err != nil {
					return err
				}
				defer pool.Close()
				return migrations.Up(cmd.Context(), pool, a.logger)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show which migrations are applied",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := a.config()
				if err != nil {
					return err
				}
				pool, err := pg.NewPool(cmd.Context(), cfg.DatabaseURL)
				if err != nil {
					return err
				}
				defer pool.Close()
				statuses, err := migrations.List(cmd.Context(), pool)
				if err != nil {
					return err
				}
				printMigrations(cmd.OutOrStdout(), statuses)
				return nil
			},
		},
	)
	return cmd
}

func printMigrations(out io.Writer, statuses []migrations.Status) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tSTATE\tFILE")
	for _, s := range statuses {
		state := "pending"
		if s.Applied {
			state = "applied"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", s.Version, state, s.Path)
	}
	_ = w.Flush()
}
