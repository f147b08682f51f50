package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vango-go/terranogyneco/pkg/auth"
)

func withDirectory(cmd *cobra.Command, a *app, fn func(ctx context.Context, dir auth.Directory, out io.Writer) error) error {
	cfg, err := a.config()
	if err != nil {
		return err
	}
	b := newBackends(cfg, a.logger)
	defer b.Close()
	dir, err := b.directory(cmd.Context())
	if err != nil {
		return fmt.Errorf("open user directory: %w", err)
	}
	return fn(cmd.Context(), dir, cmd.OutOrStdout())
}

func newUsersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Review account requests",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "pending",
			Short: "List users waiting for approval",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDirectory(cmd, a, func(ctx context.Context, dir auth.Directory, out io.Writer) error {
					users, err := dir.ListPending(ctx)
					if err != nil {
						return err
					}
					if len(users) == 0 {
						fmt.Fprintln(out, "No pending users.")
						return nil
					}
					w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
					fmt.Fprintln(w, "ID\tEMAIL\tNAME")
					for _, u := range users {
						fmt.Fprintf(w, "%s\t%s\t%s\n", u.ID, u.Email, u.FullName)
					}
					return w.Flush()
				})
			},
		},
		&cobra.Command{
			Use:   "approve ID",
			Short: "Approve a pending user",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDirectory(cmd, a, func(ctx context.Context, dir auth.Directory, out io.Writer) error {
					if err := dir.Approve(ctx, args[0]); err != nil {
						return err
					}
					fmt.Fprintf(out, "Approved %s.\n", args[0])
					return nil
				})
			},
		},
	)
	return cmd
}
