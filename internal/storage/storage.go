// Package storage hands out per-user databases for one store under a base
// directory.
//
// New runs the schema migration once; afterwards ForUser opens a user's
// database on first use and keeps it open until CloseUser or Close.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/roach88/eventdb/internal/layout"
	"github.com/roach88/eventdb/internal/migrate"
	"github.com/roach88/eventdb/internal/store"
)

// ErrClosed is returned by a Storage after Close.
var ErrClosed = errors.New("storage closed")

// Config selects the files a Storage serves.
type Config struct {
	BaseDir    string
	StoreName  string
	MaxRetries int
	Logger     *slog.Logger
	IDs        store.IDGenerator // nil for the default UUIDv7 ids
}

// Storage owns the open databases of one store.
type Storage struct {
	cfg    Config
	logger *slog.Logger
	report migrate.Report

	mu     sync.Mutex
	dbs    map[string]*store.UserDatabase
	closed bool
}

// New migrates the store's files to the current generation and returns a
// Storage serving them. A failed migration is returned and no Storage is
// created.
func New(ctx context.Context, cfg Config) (*Storage, error) {
	if cfg.BaseDir == "" || cfg.StoreName == "" {
		return nil, fmt.Errorf("new storage: base dir and store name are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	m := migrate.New(cfg.BaseDir, cfg.StoreName,
		migrate.WithLogger(cfg.Logger),
		migrate.WithStoreOptions(storeOptions(cfg)...),
	)
	report, err := m.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("new storage: %w", err)
	}

	return &Storage{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "storage", "store", cfg.StoreName),
		report: report,
		dbs:    make(map[string]*store.UserDatabase),
	}, nil
}

func storeOptions(cfg Config) []store.Option {
	opts := []store.Option{store.WithLogger(cfg.Logger)}
	if cfg.MaxRetries > 0 {
		opts = append(opts, store.WithMaxRetries(cfg.MaxRetries))
	}
	if cfg.IDs != nil {
		opts = append(opts, store.WithIDGenerator(cfg.IDs))
	}
	return opts
}

// MigrationReport returns the report of the migration New ran.
func (s *Storage) MigrationReport() migrate.Report {
	return s.report
}

// Path returns the current-generation file of a user.
func (s *Storage) Path(userID string) (string, error) {
	dir, err := layout.UserDir(s.cfg.BaseDir, userID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, migrate.FileName(s.cfg.StoreName, migrate.CurrentVersion())), nil
}

// ForUser returns the user's database, opening (and creating) it on first
// use. Later calls return the same instance.
func (s *Storage) ForUser(ctx context.Context, userID string) (*store.UserDatabase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if db, ok := s.dbs[userID]; ok {
		return db, nil
	}

	path, err := s.Path(userID)
	if err != nil {
		return nil, fmt.Errorf("open user %q: %w", userID, err)
	}
	db, err := store.Open(ctx, path, storeOptions(s.cfg)...)
	if err != nil {
		return nil, fmt.Errorf("open user %q: %w", userID, err)
	}

	s.dbs[userID] = db
	s.logger.Debug("user database opened", "user", userID)
	return db, nil
}

// CloseUser closes the user's database if it is open.
func (s *Storage) CloseUser(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closeUserLocked(userID)
}

func (s *Storage) closeUserLocked(userID string) error {
	db, ok := s.dbs[userID]
	if !ok {
		return nil
	}
	delete(s.dbs, userID)
	if err := db.Close(); err != nil {
		return fmt.Errorf("close user %q: %w", userID, err)
	}
	return nil
}

// DeleteUser closes the user's database and removes the user's directory
// with every file in it.
func (s *Storage) DeleteUser(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.closeUserLocked(userID); err != nil {
		return err
	}
	dir, err := layout.UserDir(s.cfg.BaseDir, userID)
	if err != nil {
		return fmt.Errorf("delete user %q: %w", userID, err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete user %q: %w", userID, err)
	}
	s.logger.Info("user deleted", "user", userID)
	return nil
}

// Users lists the users with a directory under the base directory.
func (s *Storage) Users() ([]string, error) {
	entries, err := layout.Walk(s.cfg.BaseDir, s.logger)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.UserID)
	}
	return ids, nil
}

// Close closes every open database. The Storage cannot be used afterwards.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for userID := range s.dbs {
		errs = append(errs, s.closeUserLocked(userID))
	}
	return errors.Join(errs...)
}
