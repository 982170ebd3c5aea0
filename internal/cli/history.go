package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/eventdb/internal/store"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <user> <event-id>",
		Short: "Show the earlier versions of an event",
		Long: `Show the history rows of a live event, oldest first.

Examples:
  eventdb history alice ev-42
  eventdb history alice ev-42 --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			session, err := openUser(ctx, rootOpts, args[0])
			if err != nil {
				return err
			}
			defer session.Close()

			events, err := session.db.GetHistory(ctx, args[1])
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read history", err)
			}
			return writeEvents(rootOpts.formatter(cmd), events)
		},
	}
	return cmd
}

// DeletionsOptions holds flags for the deletions command.
type DeletionsOptions struct {
	*RootOptions
	Since float64
}

// NewDeletionsCommand creates the deletions command.
func NewDeletionsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeletionsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "deletions <user>",
		Short: "List events deleted since a time",
		Long: `List tombstones deleted at or after --since (seconds since the epoch),
most recent first.

Examples:
  eventdb deletions alice --since 1700000000
  eventdb deletions alice --since 0 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			session, err := openUser(ctx, rootOpts, args[0])
			if err != nil {
				return err
			}
			defer session.Close()

			events, err := session.db.GetDeletionsSince(ctx, opts.Since)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read deletions", err)
			}
			return writeEvents(rootOpts.formatter(cmd), events)
		},
	}

	cmd.Flags().Float64Var(&opts.Since, "since", 0, "deletion time lower bound, inclusive (required)")
	_ = cmd.MarkFlagRequired("since")

	return cmd
}

func writeEvents(formatter *OutputFormatter, events []*store.Event) error {
	for _, ev := range events {
		if err := formatter.Event(ev); err != nil {
			return WrapExitError(ExitFailure, "failed to write output", err)
		}
	}
	formatter.VerboseLog("%d events", len(events))
	return nil
}
