// Package layout maps user ids to their directory in the sharded per-user tree.
//
// Users live under base/<c1>/<c2>/<c3>/<userId>/, where c1..c3 are the last
// three characters of the user id in reverse order. Ids shorter than Depth
// are padded with PadChar. Runtime lookup and migration both go through
// this package so they always agree on where a user's files are.
package layout

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Depth is the number of single-character shard levels.
const Depth = 3

// PadChar fills shard levels for ids shorter than Depth. It also stands in
// for a '.' among the last characters, which cannot name a directory level
// on its own.
const PadChar = '_'

// ErrInvalidUserID is returned for ids that cannot name a directory.
var ErrInvalidUserID = errors.New("invalid user id")

// ShardPath returns the shard directory names for a user id, outermost first.
func ShardPath(userID string) []string {
	runes := []rune(userID)
	parts := make([]string, Depth)
	for i := 0; i < Depth; i++ {
		idx := len(runes) - 1 - i
		if idx < 0 || runes[idx] == '.' {
			parts[i] = string(PadChar)
			continue
		}
		parts[i] = string(runes[idx])
	}
	return parts
}

// UserDir returns the directory holding all of a user's files.
func UserDir(base, userID string) (string, error) {
	if err := ValidateUserID(userID); err != nil {
		return "", err
	}
	elems := append([]string{base}, ShardPath(userID)...)
	elems = append(elems, userID)
	return filepath.Join(elems...), nil
}

// ValidateUserID rejects ids that are empty or would escape their directory.
func ValidateUserID(userID string) error {
	switch {
	case userID == "":
		return fmt.Errorf("%w: empty", ErrInvalidUserID)
	case userID == "." || userID == "..":
		return fmt.Errorf("%w: %q", ErrInvalidUserID, userID)
	case strings.ContainsAny(userID, `/\`+string(os.PathSeparator)):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidUserID, userID)
	case strings.ContainsRune(userID, 0):
		return fmt.Errorf("%w: %q contains a NUL byte", ErrInvalidUserID, userID)
	}
	return nil
}

// UserEntry is one user directory found by Walk.
type UserEntry struct {
	UserID string
	Dir    string
}

// Walk lists every well-formed user directory under base, sorted by user id.
//
// Entries that do not fit the layout (shard names longer than one character,
// stray files inside the shard levels, user directories whose suffix does
// not match their shard path) are logged and skipped. Plain files directly
// under base are ignored; that is where store-wide marker files live.
// A missing base directory yields no users.
func Walk(base string, logger *slog.Logger) ([]UserEntry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "layout")

	if _, err := os.Stat(base); errors.Is(err, os.ErrNotExist) {
		return []UserEntry{}, nil
	}

	var users []UserEntry
	if err := walkLevel(base, nil, logger, &users); err != nil {
		return nil, err
	}

	sort.Slice(users, func(i, j int) bool {
		return users[i].UserID < users[j].UserID
	})
	if users == nil {
		users = []UserEntry{}
	}
	return users, nil
}

// walkLevel descends one shard level. prefix holds the shard names so far.
func walkLevel(dir string, prefix []string, logger *slog.Logger, users *[]UserEntry) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read %s: %w", dir, err)
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		if len(prefix) == Depth {
			if !entry.IsDir() {
				logger.Warn("skipping stray file in shard directory", "path", path)
				continue
			}
			if !matchesShard(entry.Name(), prefix) {
				logger.Warn("skipping user directory in wrong shard", "path", path)
				continue
			}
			*users = append(*users, UserEntry{UserID: entry.Name(), Dir: path})
			continue
		}

		if !entry.IsDir() {
			if len(prefix) > 0 {
				logger.Warn("skipping stray file in shard directory", "path", path)
			}
			continue
		}
		if len([]rune(entry.Name())) != 1 {
			logger.Warn("skipping malformed shard directory", "path", path)
			continue
		}

		next := append(append([]string{}, prefix...), entry.Name())
		if err := walkLevel(path, next, logger, users); err != nil {
			return err
		}
	}
	return nil
}

// matchesShard reports whether userID belongs under the given shard names.
func matchesShard(userID string, shards []string) bool {
	want := ShardPath(userID)
	for i := range want {
		if want[i] != shards[i] {
			return false
		}
	}
	return true
}
