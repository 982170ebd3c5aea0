// Package migrate upgrades every user's database file to the current schema
// generation.
//
// Generations live side by side as separate files in a user's directory
// ("<store>-v0.sqlite", "<store>-v1.sqlite"). A migration copies the
// previous generation into a fresh current file and removes the previous
// one, so at most one generation of a user is ever authoritative. A marker
// file in the base directory ("<store>-schema-v1.done") records that every
// user has been upgraded and turns later runs into no-ops.
package migrate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"

	"github.com/roach88/eventdb/internal/layout"
	"github.com/roach88/eventdb/internal/store"
)

var (
	// ErrInconsistentGenerations is returned when a user has both the
	// previous and the current generation on disk. Nothing is migrated.
	ErrInconsistentGenerations = errors.New("inconsistent schema generations")

	// ErrMigrationFailed wraps the cause of a failed user migration.
	ErrMigrationFailed = errors.New("migration failed")
)

// Report summarises a run.
type Report struct {
	Users       int   `json:"users"`       // user directories found
	Migrated    int   `json:"migrated"`    // users upgraded by this run
	Skipped     int   `json:"skipped"`     // users with no previous-generation file
	Rows        int64 `json:"rows"`        // rows copied
	AlreadyDone bool  `json:"alreadyDone"` // marker present, nothing examined
}

// Migrator upgrades the files of one store under a base directory.
type Migrator struct {
	baseDir   string
	storeName string
	logger    *slog.Logger
	storeOpts []store.Option
	now       func() time.Time
}

// Option configures a Migrator.
type Option func(*Migrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Migrator) {
		m.logger = logger
	}
}

// WithStoreOptions sets options for opening current-generation files.
func WithStoreOptions(opts ...store.Option) Option {
	return func(m *Migrator) {
		m.storeOpts = append(m.storeOpts, opts...)
	}
}

// New creates a Migrator for storeName under baseDir.
func New(baseDir, storeName string, opts ...Option) *Migrator {
	m := &Migrator{
		baseDir:   baseDir,
		storeName: storeName,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.storeOpts = append([]store.Option{store.WithLogger(m.logger)}, m.storeOpts...)
	m.logger = m.logger.With("component", "migrate", "store", storeName)
	return m
}

// MarkerPath returns the path of the current generation's marker file.
func (m *Migrator) MarkerPath() string {
	return filepath.Join(m.baseDir, MarkerName(m.storeName, CurrentVersion()))
}

// Run upgrades every user to the current generation.
//
// Sequence:
//  1. Marker present: return at once.
//  2. Walk the user directories; malformed entries are logged and skipped.
//  3. Any user holding both generations aborts the run before anything is
//     touched (ErrInconsistentGenerations).
//  4. Upgrade each user holding the previous generation. The first failure
//     aborts the run (ErrMigrationFailed); users already upgraded stay
//     upgraded, and the next run resumes with the rest.
//  5. Write the marker.
func (m *Migrator) Run(ctx context.Context) (Report, error) {
	var report Report

	marker := m.MarkerPath()
	if _, err := os.Stat(marker); err == nil {
		m.logger.Debug("schema marker present, nothing to do", "marker", marker)
		report.AlreadyDone = true
		return report, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return report, fmt.Errorf("check marker: %w", err)
	}

	latest := generations.Latest()
	previous, ok := generations.Find(latest.Version - 1)
	if !ok {
		// Nothing can predate the first generation.
		return report, m.writeMarker(report)
	}

	users, err := layout.Walk(m.baseDir, m.logger)
	if err != nil {
		return report, fmt.Errorf("walk users: %w", err)
	}
	report.Users = len(users)

	var pending []layout.UserEntry
	for _, user := range users {
		hasPrevious, err := fileExists(m.userFile(user, previous.Version))
		if err != nil {
			return report, err
		}
		hasLatest, err := fileExists(m.userFile(user, latest.Version))
		if err != nil {
			return report, err
		}

		switch {
		case hasPrevious && hasLatest:
			return report, fmt.Errorf("%w: user %s has v%d and v%d files",
				ErrInconsistentGenerations, user.UserID, previous.Version, latest.Version)
		case hasPrevious:
			pending = append(pending, user)
		default:
			report.Skipped++
		}
	}

	for _, user := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		start := m.now()
		rows, err := latest.Upgrade(ctx, m, user)
		if err != nil {
			m.logger.Error("user migration failed", "user", user.UserID, "error", err)
			return report, fmt.Errorf("%w: user %s: %w", ErrMigrationFailed, user.UserID, err)
		}
		report.Migrated++
		report.Rows += rows
		m.logger.Info("user migrated",
			"user", user.UserID,
			"rows", rows,
			"duration", m.now().Sub(start),
		)
	}

	if err := m.writeMarker(report); err != nil {
		return report, err
	}
	m.logger.Info("migration complete",
		"users", report.Users,
		"migrated", report.Migrated,
		"skipped", report.Skipped,
		"rows", report.Rows,
	)
	return report, nil
}

// writeMarker records the completed run. The marker is replaced atomically
// so a crash never leaves a partial marker behind.
func (m *Migrator) writeMarker(report Report) error {
	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	if err := atomic.WriteFile(m.MarkerPath(), bytes.NewReader(append(body, '\n'))); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	return nil
}

func (m *Migrator) userFile(user layout.UserEntry, version int) string {
	return filepath.Join(user.Dir, FileName(m.storeName, version))
}

// upgradeFromV0 copies a generation 0 file into a new generation 1 file in
// one transaction, verifies the row count and removes the old file. A
// failure before the new file is closed removes it and keeps the old one.
// Once removal of the old file has begun the new file is the only copy and
// is never removed; a failed removal is returned as is.
func upgradeFromV0(ctx context.Context, m *Migrator, user layout.UserEntry) (rows int64, err error) {
	legacyPath := m.userFile(user, 0)
	currentPath := m.userFile(user, 1)

	legacy, err := openLegacy(legacyPath)
	if err != nil {
		return 0, fmt.Errorf("open legacy: %w", err)
	}
	events, err := readLegacy(ctx, legacy)
	legacy.Close()
	if err != nil {
		return 0, err
	}

	committed := false
	defer func() {
		if err != nil && !committed {
			if rmErr := removeDatabaseFiles(currentPath); rmErr != nil {
				m.logger.Warn("cleanup of partial file failed", "path", currentPath, "error", rmErr)
			}
		}
	}()

	db, err := store.Open(ctx, currentPath, m.storeOpts...)
	if err != nil {
		return 0, err
	}

	if err := db.CreateManySync(ctx, events); err != nil {
		db.Close()
		return 0, err
	}

	count, err := db.Count(ctx)
	if err != nil {
		db.Close()
		return 0, err
	}
	if count != int64(len(events)) {
		db.Close()
		return 0, fmt.Errorf("row count mismatch: read %d, wrote %d", len(events), count)
	}

	if err := db.Close(); err != nil {
		return 0, err
	}

	committed = true
	if err := removeDatabaseFiles(legacyPath); err != nil {
		m.logger.Error("legacy removal failed, current file kept",
			"user", user.UserID, "current", currentPath, "error", err)
		return count, fmt.Errorf("remove legacy: %w", err)
	}
	return count, nil
}
