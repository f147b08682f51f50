package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-go/terranogyneco/pkg/history"
)

// withHistory opens the configured store for the duration of fn.
func withHistory(cmd *cobra.Command, a *app, fn func(ctx context.Context, store history.Store, out io.Writer) error) error {
	cfg, err := a.config()
	if err != nil {
		return err
	}
	b := newBackends(cfg, a.logger)
	defer b.Close()
	store, err := b.history(cmd.Context())
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	return fn(cmd.Context(), store, cmd.OutOrStdout())
}

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Manage stored conversations",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List conversations, newest first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withHistory(cmd, a, listConversations)
			},
		},
		&cobra.Command{
			Use:   "show ID",
			Short: "Print a conversation",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withHistory(cmd, a, func(ctx context.Context, store history.Store, out io.Writer) error {
					conv, err := store.Load(ctx, args[0])
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%s\n%s\n\n", conv.Title, conv.CreatedAt.Local().Format(time.DateTime))
					for _, m := range conv.Messages {
						fmt.Fprintln(out, renderMessage(m))
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "new",
			Short: "Create an empty conversation and print its id",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withHistory(cmd, a, func(ctx context.Context, store history.Store, out io.Writer) error {
					conv, err := store.Create(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintln(out, conv.ID)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "rename ID TITLE",
			Short: "Rename a conversation",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				title := strings.Join(args[1:], " ")
				return withHistory(cmd, a, func(ctx context.Context, store history.Store, out io.Writer) error {
					return store.Rename(ctx, args[0], title)
				})
			},
		},
		&cobra.Command{
			Use:   "delete ID",
			Short: "Delete a conversation",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withHistory(cmd, a, func(ctx context.Context, store history.Store, out io.Writer) error {
					return store.Delete(ctx, args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "sources [TERM]",
			Short: "List the sources cited across conversations",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				term := ""
				if len(args) == 1 {
					term = args[0]
				}
				return withHistory(cmd, a, func(ctx context.Context, store history.Store, out io.Writer) error {
					convs, err := store.List(ctx)
					if err != nil {
						return err
					}
					printLibrary(out, history.Sources(convs, term))
					return nil
				})
			},
		},
	)
	return cmd
}

func listConversations(ctx context.Context, store history.Store, out io.Writer) error {
	convs, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		fmt.Fprintln(out, "No conversations.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tMESSAGES\tTITLE")
	for _, c := range convs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", c.ID, c.CreatedAt.Local().Format(time.DateTime), len(c.Messages), c.Title)
	}
	return w.Flush()
}

func printLibrary(out io.Writer, lib history.Library) {
	fmt.Fprintf(out, "%d sources across %d conversations\n", lib.Total, lib.WithSources)
	for _, c := range lib.Conversations {
		fmt.Fprintf(out, "\n%s (%s)\n", c.Title, c.ConversationID)
		for _, s := range c.Sources {
			fmt.Fprintf(out, "  - %s <%s>\n", s.Title, s.URI)
		}
	}
}
