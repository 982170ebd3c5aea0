package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/eventdb/internal/layout"
	"github.com/roach88/eventdb/internal/storage"
	"github.com/roach88/eventdb/internal/store"
)

// NewUsersCommand creates the users command.
func NewUsersCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "List users found under the base directory",
		Long: `List every well-formed user directory under the base directory.

Examples:
  eventdb users --base-dir ./data
  eventdb users --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUsers(commandContext(cmd), rootOpts, cmd)
		},
	}
	return cmd
}

func runUsers(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	s, err := opts.openStorage(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	users, err := s.Users()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list users", err)
	}

	formatter := opts.formatter(cmd)
	if opts.Format == "json" {
		return formatter.Success(users)
	}
	if len(users) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No users found.")
		return nil
	}
	for _, user := range users {
		fmt.Fprintln(cmd.OutOrStdout(), user)
	}
	return nil
}

// commandContext returns the command's context, or Background when the
// command was executed without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// userSession is an open storage plus one user's database.
type userSession struct {
	storage *storage.Storage
	db      *store.UserDatabase
}

func (u *userSession) Close() error {
	return u.storage.Close()
}

// openUser opens the storage and an existing user's database. A user
// without a current-generation file is reported as not found rather than
// created.
func openUser(ctx context.Context, opts *RootOptions, userID string) (*userSession, error) {
	if err := layout.ValidateUserID(userID); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid user id", err)
	}

	s, err := opts.openStorage(ctx)
	if err != nil {
		return nil, err
	}

	path, err := s.Path(userID)
	if err != nil {
		s.Close()
		return nil, WrapExitError(ExitCommandError, "invalid user id", err)
	}
	if _, err := os.Stat(path); err != nil {
		s.Close()
		if errors.Is(err, os.ErrNotExist) {
			return nil, NewExitError(ExitFailure, fmt.Sprintf("user %q not found", userID))
		}
		return nil, WrapExitError(ExitFailure, "failed to open user", err)
	}

	db, err := s.ForUser(ctx, userID)
	if err != nil {
		s.Close()
		return nil, WrapExitError(ExitFailure, "failed to open user", err)
	}
	return &userSession{storage: s, db: db}, nil
}
