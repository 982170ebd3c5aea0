// Package gate funnels every mutation of a single-writer SQLite file through
// one retry policy.
//
// SQLite allows one writer per file. Several processes may hold the same
// per-user file open, so a write can fail with SQLITE_BUSY or SQLITE_LOCKED
// while another process commits. The driver's own busy handler is switched
// off (busy_timeout=0) and replaced by Gate.Execute, which sleeps along a
// fixed ramp and retries the whole unit of work.
//
// # Safety envelope
//
// Bootstrap enables WAL and synchronous=NORMAL. In WAL mode NORMAL never
// corrupts the file, but a power loss may roll back the most recent commits.
// Every mutation must go through Execute or ExecuteTx; code that writes
// around the gate gets neither the retry policy nor the in-process
// serialisation, and is only acceptable when no other writer can exist
// (bulk load into a fresh file, migration).
package gate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
)

// DefaultMaxRetries is the attempt budget used when none is configured.
const DefaultMaxRetries = 100

// ErrRetriesExhausted matches every RetriesExhaustedError via errors.Is.
var ErrRetriesExhausted = errors.New("write retries exhausted")

// backoffRamp is walked one step per failed attempt; the last step repeats
// once the ramp runs out.
var backoffRamp = []time.Duration{
	1 * time.Millisecond,
	2 * time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	20 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
}

// RetriesExhaustedError is returned when every attempt failed with a busy error.
type RetriesExhaustedError struct {
	Retries int   // Attempts made
	Err     error // Last busy error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("write failed after %d retries: %v", e.Retries, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Err
}

// Is reports ErrRetriesExhausted as a match.
func (e *RetriesExhaustedError) Is(target error) bool {
	return target == ErrRetriesExhausted
}

// Gate serialises writers within one process and retries busy failures
// caused by writers in other processes.
//
// Thread-safety: Gate is safe for concurrent use. Execute calls on the same
// Gate run one at a time.
type Gate struct {
	mu         sync.Mutex
	maxRetries int
	sleep      func(time.Duration)
	logger     *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithMaxRetries sets the attempt budget. Values below 1 are ignored.
func WithMaxRetries(n int) Option {
	return func(g *Gate) {
		if n >= 1 {
			g.maxRetries = n
		}
	}
}

// WithSleep replaces time.Sleep, letting tests observe the ramp without waiting.
func WithSleep(sleep func(time.Duration)) Option {
	return func(g *Gate) {
		g.sleep = sleep
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

// New creates a Gate with DefaultMaxRetries and real sleeps.
func New(opts ...Option) *Gate {
	g := &Gate{
		maxRetries: DefaultMaxRetries,
		sleep:      time.Sleep,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "gate")
	return g
}

// MaxRetries returns the configured attempt budget.
func (g *Gate) MaxRetries() int {
	return g.maxRetries
}

// Execute runs fn with the gate's attempt budget.
func (g *Gate) Execute(ctx context.Context, fn func() error) error {
	return g.ExecuteN(ctx, g.maxRetries, fn)
}

// ExecuteN runs fn at most maxRetries times. A busy or locked failure is
// followed by a sleep from the backoff ramp and another attempt; any other
// failure is returned at once. When the budget is spent the last busy error
// is wrapped in a RetriesExhaustedError.
//
// The context is checked before every attempt; a cancelled context ends the
// loop with ctx.Err().
func (g *Gate) ExecuteN(ctx context.Context, maxRetries int, fn func() error) error {
	if maxRetries < 1 {
		maxRetries = 1
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			if attempt > 1 {
				g.logger.Debug("write succeeded after retry", "attempts", attempt)
			}
			return nil
		}
		if !IsBusy(err) {
			return err
		}
		lastErr = err

		if attempt == maxRetries {
			break
		}
		delay := backoffDelay(attempt)
		g.logger.Debug("database busy, retrying",
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		g.sleep(delay)
	}

	g.logger.Warn("write retries exhausted", "retries", maxRetries, "error", lastErr)
	return &RetriesExhaustedError{Retries: maxRetries, Err: lastErr}
}

// ExecuteTx runs fn inside a transaction under the gate. The transaction is
// rolled back and the whole of fn retried on a busy failure at any point,
// including commit.
func (g *Gate) ExecuteTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	return g.Execute(ctx, func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback() // No-op after commit

		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// backoffDelay returns the sleep after the given failed attempt (1-based).
func backoffDelay(attempt int) time.Duration {
	idx := attempt - 1
	if idx >= len(backoffRamp) {
		idx = len(backoffRamp) - 1
	}
	return backoffRamp[idx]
}

// IsBusy reports whether err is SQLITE_BUSY or SQLITE_LOCKED, including any
// of their extended codes.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}

	// Errors that crossed a string boundary lose their code.
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}
