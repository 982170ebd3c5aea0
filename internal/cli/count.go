package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// CountResult is the JSON payload of the count command.
type CountResult struct {
	User  string `json:"user"`
	Count int64  `json:"count"`
}

// NewCountCommand creates the count command.
func NewCountCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "count <user>",
		Short: "Count the rows of a user's database",
		Long: `Count every row of a user's database, history rows and tombstones included.

Examples:
  eventdb count alice
  eventdb count alice --format json`,
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

			n, err := session.db.Count(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to count events", err)
			}

			formatter := rootOpts.formatter(cmd)
			if rootOpts.Format == "json" {
				return formatter.Success(CountResult{User: args[0], Count: n})
			}
			return formatter.Success(fmt.Sprintf("%d", n))
		},
	}
	return cmd
}
