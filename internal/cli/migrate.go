package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/eventdb/internal/migrate"
	"github.com/roach88/eventdb/internal/store"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Upgrade every user database to the current schema generation",
		Long: `Upgrade every user database under the base directory to the current
schema generation.

Each previous-generation file is copied into a fresh current-generation file,
the row count is verified and the old file is removed. A marker file in the
base directory records a completed run; later runs do nothing.

Exit codes:
  0 - Migration complete (or already done)
  1 - Migration aborted (inconsistent generations, failed user)
  2 - Command error (bad config, etc.)

Examples:
  eventdb migrate --base-dir ./data
  eventdb migrate --config eventdb.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(commandContext(cmd), rootOpts, cmd)
		},
	}
	return cmd
}

func runMigrate(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	m := migrate.New(opts.Config.BaseDir, opts.Config.StoreName,
		migrate.WithLogger(opts.Logger),
		migrate.WithStoreOptions(store.WithMaxRetries(opts.Config.MaxRetries)),
	)
	report, err := m.Run(ctx)
	if err != nil {
		if opts.Format == "json" {
			_ = formatter.Error(ErrCodeMigration, err.Error(), report)
		}
		if errors.Is(err, migrate.ErrInconsistentGenerations) || errors.Is(err, migrate.ErrMigrationFailed) {
			return WrapExitError(ExitFailure, "migration aborted", err)
		}
		return WrapExitError(ExitCommandError, "migration could not run", err)
	}

	if opts.Format == "json" {
		return formatter.Success(report)
	}
	return formatter.Success(describeReport(report))
}

// describeReport renders a migration report as one line of text.
func describeReport(r migrate.Report) string {
	if r.AlreadyDone {
		return "Already migrated (marker present)."
	}
	return fmt.Sprintf("Migrated %d of %d users (%d skipped, %d rows).",
		r.Migrated, r.Users, r.Skipped, r.Rows)
}
