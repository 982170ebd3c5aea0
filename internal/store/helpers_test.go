package store

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/eventdb/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// openTestDB opens a database in a temporary directory with predictable
// history ids ("h-1", "h-2", ...).
func openTestDB(t *testing.T, opts ...Option) *UserDatabase {
	t.Helper()
	path := filepath.Join(t.TempDir(), "user", "events-v1.sqlite")
	return openTestDBAt(t, path, opts...)
}

func openTestDBAt(t *testing.T, path string, opts ...Option) *UserDatabase {
	t.Helper()
	base := []Option{
		WithLogger(quietLogger()),
		WithIDGenerator(testutil.NewSequenceGenerator("h")),
	}
	db, err := Open(context.Background(), path, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// newEvent creates an event with the required fields set.
func newEvent(id string, streams []string, typ string, tm float64) Event {
	return Event{
		ID:         id,
		StreamIDs:  streams,
		Type:       typ,
		Time:       tm,
		Content:    json.RawMessage(`{"v":1}`),
		Created:    tm,
		CreatedBy:  "tester",
		Modified:   tm,
		ModifiedBy: "tester",
	}
}

func mustCreate(t *testing.T, db *UserDatabase, events ...Event) {
	t.Helper()
	for _, ev := range events {
		_, err := db.Create(context.Background(), ev)
		require.NoError(t, err)
	}
}

func eventIDs(events []*Event) []string {
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}
	return ids
}

func ptr[T any](v T) *T {
	return &v
}
