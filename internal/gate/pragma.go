package gate

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// DSN builds the go-sqlite3 connection string for a gated file. The pragmas
// are encoded in the DSN so every pooled connection gets them, not only the
// one Bootstrap happens to run on.
//
//   - _journal_mode=WAL: readers are not blocked by an in-flight writer
//   - _busy_timeout=0: the driver returns SQLITE_BUSY at once; Gate retries
//   - _synchronous=NORMAL: reduced-safety mode, see package doc
//   - _txlock=immediate: transactions take the write lock at BEGIN
func DSN(path string) string {
	return path + "?_journal_mode=WAL&_busy_timeout=0&_synchronous=NORMAL&_txlock=immediate"
}

// Bootstrap applies the gate's pragmas once per opened file and verifies the
// journal mode took effect. Switching to WAL needs the write lock, so it runs
// through Execute.
func (g *Gate) Bootstrap(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 0",
		"PRAGMA synchronous = NORMAL",
	}

	for _, pragma := range pragmas {
		err := g.Execute(ctx, func() error {
			_, err := db.ExecContext(ctx, pragma)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	var mode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		return fmt.Errorf("failed to query journal_mode: %w", err)
	}
	if !strings.EqualFold(mode, "wal") {
		return fmt.Errorf("journal_mode = %q, expected %q", mode, "wal")
	}

	return nil
}
