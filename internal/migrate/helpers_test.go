package migrate

import (
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/eventdb/internal/layout"
)

const testStore = "events"

const legacySchema = `
CREATE TABLE events (
    id          TEXT PRIMARY KEY,
    streamIds   TEXT,
    type        TEXT NOT NULL,
    time        REAL NOT NULL,
    duration    REAL,
    content     TEXT,
    description TEXT,
    clientData  TEXT,
    attachments TEXT,
    integrity   TEXT,
    trashed     INTEGER DEFAULT 0,
    deleted     REAL,
    headId      TEXT,
    created     REAL NOT NULL,
    createdBy   TEXT NOT NULL,
    modified    REAL NOT NULL,
    modifiedBy  TEXT NOT NULL
)`

// legacyRow is one generation 0 row; nil fields are stored as NULL.
type legacyRow struct {
	ID        string
	StreamIDs string
	Type      string
	Time      float64
	Duration  any
	Content   any
	HeadID    any
	Deleted   any
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMigrator(base string) *Migrator {
	return New(base, testStore, WithLogger(quietLogger()))
}

// userDir returns (and creates) a user's directory under base.
func userDir(t *testing.T, base, userID string) string {
	t.Helper()
	dir, err := layout.UserDir(base, userID)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	return dir
}

// writeLegacy creates a generation 0 file for a user holding rows.
func writeLegacy(t *testing.T, base, userID string, rows ...legacyRow) string {
	t.Helper()
	path := filepath.Join(userDir(t, base, userID), FileName(testStore, 0))

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(legacySchema)
	require.NoError(t, err)

	for _, r := range rows {
		_, err := db.Exec(`
			INSERT INTO events (id, streamIds, type, time, duration, content, headId, deleted,
				created, createdBy, modified, modifiedBy)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'legacy', ?, 'legacy')`,
			r.ID, r.StreamIDs, r.Type, r.Time, r.Duration, r.Content, r.HeadID, r.Deleted,
			r.Time, r.Time,
		)
		require.NoError(t, err)
	}
	return path
}

// writeCurrent creates an empty file where the current generation lives.
func writeCurrent(t *testing.T, base, userID string) string {
	t.Helper()
	path := filepath.Join(userDir(t, base, userID), FileName(testStore, CurrentVersion()))
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	return path
}

func exists(t *testing.T, path string) bool {
	t.Helper()
	ok, err := fileExists(path)
	require.NoError(t, err)
	return ok
}
