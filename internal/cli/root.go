package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/eventdb/internal/config"
	"github.com/roach88/eventdb/internal/storage"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	BaseDir    string
	StoreName  string
	MaxRetries int

	// Resolved in PersistentPreRunE.
	Config config.Config
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the eventdb CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "eventdb",
		Short: "eventdb - per-user event storage",
		Long:  "Inspect and migrate per-user SQLite event databases stored in a sharded directory tree.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return opts.resolve(cmd)
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (.yaml, .yml or .toml)")
	cmd.PersistentFlags().StringVar(&opts.BaseDir, "base-dir", "", "base directory of the user tree (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.StoreName, "store", "", "store name (overrides config)")
	cmd.PersistentFlags().IntVar(&opts.MaxRetries, "max-retries", 0, "write attempts before giving up (overrides config)")

	// Add subcommands
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewUsersCommand(opts))
	cmd.AddCommand(NewCountCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewDeletionsCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))

	return cmd
}

// resolve loads the config file, applies flag overrides and builds the
// logger. Diagnostics go to stderr so JSON output stays clean.
func (o *RootOptions) resolve(cmd *cobra.Command) error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	flags := cmd.Flags()
	if flags.Changed("base-dir") {
		cfg.BaseDir = o.BaseDir
	}
	if flags.Changed("store") {
		cfg.StoreName = o.StoreName
	}
	if flags.Changed("max-retries") {
		cfg.MaxRetries = o.MaxRetries
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid flags", err)
	}

	level := cfg.SlogLevel()
	if o.Verbose {
		level = slog.LevelDebug
	}
	o.Config = cfg
	o.Logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return nil
}

// openStorage migrates the configured store if needed and opens it.
func (o *RootOptions) openStorage(ctx context.Context) (*storage.Storage, error) {
	s, err := storage.New(ctx, storage.Config{
		BaseDir:    o.Config.BaseDir,
		StoreName:  o.Config.StoreName,
		MaxRetries: o.Config.MaxRetries,
		Logger:     o.Logger,
	})
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to open storage", err)
	}
	return s, nil
}

// formatter returns the output formatter for a command.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
