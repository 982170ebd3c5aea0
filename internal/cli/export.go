package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <user>",
		Short: "Dump every row of a user's database as JSON lines",
		Long: `Dump every row of a user's database, history rows and tombstones
included, in insertion order. Output is always one JSON object per line.

Examples:
  eventdb export alice > alice.jsonl`,
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

			enc := json.NewEncoder(cmd.OutOrStdout())
			n := 0
			for ev, err := range session.db.ExportAll(ctx) {
				if err != nil {
					return WrapExitError(ExitFailure, "export failed", err)
				}
				if err := enc.Encode(ev); err != nil {
					return WrapExitError(ExitFailure, "failed to write output", err)
				}
				n++
			}
			rootOpts.formatter(cmd).VerboseLog("%d rows exported", n)
			return nil
		},
	}
	return cmd
}
