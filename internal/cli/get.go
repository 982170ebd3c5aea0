package cli

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/eventdb/internal/queryir"
)

// GetOptions holds flags for the get command.
type GetOptions struct {
	*RootOptions
	Filter     string
	FilterFile string
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "get <user>",
		Short: "Query a user's events",
		Long: `Query a user's events with a JSON filter and stream the matches.

The filter has the form
  {"query": [{"type": "...", "content": ...}], "options": {"sort": [...], "limit": n, "skip": n}}
and defaults to every row. With --format json each event is one JSON line.

Exit codes:
  0 - Query ran
  1 - Query failed (user not found, read error)
  2 - Command error (malformed or unsupported filter)

Examples:
  eventdb get alice
  eventdb get alice --filter '{"query":[{"type":"typesList","content":["note/*"]}]}'
  eventdb get alice --filter-file filter.json --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter as JSON")
	cmd.Flags().StringVar(&opts.FilterFile, "filter-file", "", "read the filter from a file")
	cmd.MarkFlagsMutuallyExclusive("filter", "filter-file")

	return cmd
}

func runGet(opts *GetOptions, cmd *cobra.Command, userID string) error {
	ctx := commandContext(cmd)

	filter, err := opts.parseFilter()
	if err != nil {
		return err
	}

	session, err := openUser(ctx, opts.RootOptions, userID)
	if err != nil {
		return err
	}
	defer session.Close()

	formatter := opts.formatter(cmd)
	n := 0
	for ev, err := range session.db.GetStreamed(ctx, filter) {
		if err != nil {
			if errors.Is(err, queryir.ErrUnsupportedQuery) {
				return WrapExitError(ExitCommandError, "unsupported filter", err)
			}
			return WrapExitError(ExitFailure, "query failed", err)
		}
		if err := formatter.Event(ev); err != nil {
			return WrapExitError(ExitFailure, "failed to write output", err)
		}
		n++
	}
	formatter.VerboseLog("%d events", n)
	return nil
}

// parseFilter decodes the filter flag or file. No filter matches every row.
func (o *GetOptions) parseFilter() (queryir.Filter, error) {
	data := []byte(o.Filter)
	if o.FilterFile != "" {
		var err error
		data, err = os.ReadFile(o.FilterFile)
		if err != nil {
			return queryir.Filter{}, WrapExitError(ExitCommandError, "failed to read filter file", err)
		}
	}
	if len(data) == 0 {
		return queryir.Filter{}, nil
	}

	filter, err := queryir.ParseFilterJSON(data)
	if err != nil {
		return queryir.Filter{}, WrapExitError(ExitCommandError, "invalid filter", err)
	}
	return filter, nil
}
