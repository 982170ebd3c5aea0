package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/eventdb/internal/storage"
	"github.com/roach88/eventdb/internal/store"
	"github.com/roach88/eventdb/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func event(id, typ string, at float64, streams ...string) store.Event {
	return store.Event{
		ID:         id,
		StreamIDs:  streams,
		Type:       typ,
		Time:       at,
		Content:    json.RawMessage(`{"n":1}`),
		Created:    at,
		CreatedBy:  "tester",
		Modified:   at,
		ModifiedBy: "tester",
	}
}

// decodeLines decodes JSON-lines output into events.
func decodeLines(t *testing.T, out string) []store.Event {
	t.Helper()
	var events []store.Event
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		var ev store.Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev), scanner.Text())
		events = append(events, ev)
	}
	require.NoError(t, scanner.Err())
	return events
}

func ids(events []store.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.ID
	}
	return out
}

func TestCount(t *testing.T) {
	base := t.TempDir()
	seedUser(t, base, "alice", event("e1", "note/txt", 1), event("e2", "note/txt", 2))

	out, _, err := runCLI(t, "count", "alice", "--base-dir", base)
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)

	out, _, err = runCLI(t, "count", "alice", "--base-dir", base, "--format", "json")
	require.NoError(t, err)
	var resp struct {
		Status string      `json:"status"`
		Data   CountResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, CountResult{User: "alice", Count: 2}, resp.Data)
}

func TestUnknownUserIsNotCreated(t *testing.T) {
	base := t.TempDir()

	_, _, err := runCLI(t, "count", "nobody", "--base-dir", base)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "not found")

	_, statErr := os.Stat(filepath.Join(base, "y", "d", "o", "nobody"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestInvalidUserID(t *testing.T) {
	_, _, err := runCLI(t, "count", "..", "--base-dir", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGet_Filter(t *testing.T) {
	base := t.TempDir()
	seedUser(t, base, "alice",
		event("e1", "note/txt", 1, "diary"),
		event("e2", "mass/kg", 2, "diary", "private"),
		event("e3", "note/html", 3, "work"),
	)

	filter := `{"query":[{"type":"typesList","content":["note/*"]}],"options":{"sort":[{"field":"time","descending":true}]}}`
	out, _, err := runCLI(t, "get", "alice", "--base-dir", base, "--format", "json", "--filter", filter)
	require.NoError(t, err)
	assert.Equal(t, []string{"e3", "e1"}, ids(decodeLines(t, out)))

	streams := `{"query":[{"type":"streamsQuery","content":[{"any":["diary"],"not":["private"]}]}]}`
	out, _, err = runCLI(t, "get", "alice", "--base-dir", base, "--format", "json", "--filter", streams)
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, ids(decodeLines(t, out)))
}

func TestGet_FilterFileAndText(t *testing.T) {
	base := t.TempDir()
	seedUser(t, base, "alice", event("e1", "note/txt", 1.5, "diary"))

	filterPath := filepath.Join(t.TempDir(), "filter.json")
	require.NoError(t, os.WriteFile(filterPath, []byte(`{"options":{"limit":1}}`), 0o644))

	out, _, err := runCLI(t, "get", "alice", "--base-dir", base, "--filter-file", filterPath)
	require.NoError(t, err)
	assert.Equal(t, "e1 note/txt 1.5 [diary]\n", out)
}

func TestGet_BadFilter(t *testing.T) {
	base := t.TempDir()
	seedUser(t, base, "alice")

	tests := []struct {
		name   string
		filter string
	}{
		{name: "malformed json", filter: `{"query":`},
		{name: "unknown predicate", filter: `{"query":[{"type":"like","content":{}}]}`},
		{name: "unknown field", filter: `{"query":[{"type":"equal","content":{"field":"nope","value":1}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := runCLI(t, "get", "alice", "--base-dir", base, "--filter", tt.filter)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}

func TestHistoryAndDeletions(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	seedUser(t, base, "alice", event("e1", "note/txt", 1), event("e2", "note/txt", 2))

	s, err := storage.New(ctx, storage.Config{
		BaseDir:   base,
		StoreName: "events",
		Logger:    quietLogger(),
		IDs:       testutil.NewSequenceGenerator("h"),
	})
	require.NoError(t, err)
	db, err := s.ForUser(ctx, "alice")
	require.NoError(t, err)
	updated := event("e1", "note/txt", 1)
	updated.Modified = 10
	_, err = db.Update(ctx, "e1", updated)
	require.NoError(t, err)
	require.NoError(t, db.MarkDeleted(ctx, "e2", 20))
	require.NoError(t, s.Close())

	out, _, err := runCLI(t, "history", "alice", "e1", "--base-dir", base, "--format", "json")
	require.NoError(t, err)
	history := decodeLines(t, out)
	require.Len(t, history, 1)
	assert.Equal(t, "h-1", history[0].ID)
	require.NotNil(t, history[0].HeadID)
	assert.Equal(t, "e1", *history[0].HeadID)

	out, _, err = runCLI(t, "history", "alice", "e1", "--base-dir", base)
	require.NoError(t, err)
	assert.Contains(t, out, "history of e1")

	out, _, err = runCLI(t, "deletions", "alice", "--since", "15", "--base-dir", base, "--format", "json")
	require.NoError(t, err)
	assert.Equal(t, []string{"e2"}, ids(decodeLines(t, out)))

	out, _, err = runCLI(t, "deletions", "alice", "--since", "21", "--base-dir", base)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDeletions_RequiresSince(t *testing.T) {
	_, _, err := runCLI(t, "deletions", "alice", "--base-dir", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestExport(t *testing.T) {
	base := t.TempDir()
	seedUser(t, base, "alice", event("e2", "note/txt", 2), event("e1", "note/txt", 1))

	// Export ignores --format and keeps insertion order.
	out, _, err := runCLI(t, "export", "alice", "--base-dir", base)
	require.NoError(t, err)
	events := decodeLines(t, out)
	assert.Equal(t, []string{"e2", "e1"}, ids(events))
	assert.JSONEq(t, `{"n":1}`, string(events[0].Content))
}

func TestMigrate_EmptyThenDone(t *testing.T) {
	base := t.TempDir()

	out, _, err := runCLI(t, "migrate", "--base-dir", base)
	require.NoError(t, err)
	assert.Equal(t, "Migrated 0 of 0 users (0 skipped, 0 rows).\n", out)

	out, _, err = runCLI(t, "migrate", "--base-dir", base, "--format", "json")
	require.NoError(t, err)
	var resp struct {
		Status string `json:"status"`
		Data   struct {
			AlreadyDone bool `json:"alreadyDone"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Data.AlreadyDone)
}

func TestMigrate_InconsistentGenerationsFails(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "e", "c", "i", "alice")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range []string{"events-v0.sqlite", "events-v1.sqlite"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	out, _, err := runCLI(t, "migrate", "--base-dir", base, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrCodeMigration, resp.Error.Code)

	_, statErr := os.Stat(filepath.Join(base, "events-schema-v1.done"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestUsers_Empty(t *testing.T) {
	out, _, err := runCLI(t, "users", "--base-dir", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "No users found.\n", out)
}
