package migrate

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/eventdb/internal/store"
)

// Generation 0 kept stream ids as one space-delimited string and a duration
// instead of an end time.
const legacyColumns = `id, streamIds, type, time, duration, content, description,
	clientData, attachments, integrity, trashed, deleted, headId,
	created, createdBy, modified, modifiedBy`

// openLegacy opens a generation 0 file read-only.
func openLegacy(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// readLegacy reads and remaps every row of a generation 0 file, in rowid
// order.
func readLegacy(ctx context.Context, db *sql.DB) ([]store.Event, error) {
	rows, err := db.QueryContext(ctx, "SELECT "+legacyColumns+" FROM events ORDER BY rowid ASC")
	if err != nil {
		return nil, fmt.Errorf("query legacy rows: %w", err)
	}
	defer rows.Close()

	var events []store.Event
	for rows.Next() {
		ev, err := scanLegacy(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate legacy rows: %w", err)
	}
	return events, nil
}

func scanLegacy(rows *sql.Rows) (store.Event, error) {
	var (
		ev                                     store.Event
		streamIDs, description, integrity      sql.NullString
		content, clientData, attachments, head sql.NullString
		duration, deleted                      sql.NullFloat64
		trashed                                sql.NullInt64
	)

	err := rows.Scan(
		&ev.ID,
		&streamIDs,
		&ev.Type,
		&ev.Time,
		&duration,
		&content,
		&description,
		&clientData,
		&attachments,
		&integrity,
		&trashed,
		&deleted,
		&head,
		&ev.Created,
		&ev.CreatedBy,
		&ev.Modified,
		&ev.ModifiedBy,
	)
	if err != nil {
		return store.Event{}, fmt.Errorf("scan legacy row: %w", err)
	}

	ev.StreamIDs = splitStreamIDs(streamIDs.String)
	if duration.Valid {
		end := ev.Time + duration.Float64
		ev.EndTime = &end
	}

	if ev.Content, err = compactJSON(content); err != nil {
		return store.Event{}, fmt.Errorf("event %s: content: %w", ev.ID, err)
	}
	if ev.ClientData, err = compactJSON(clientData); err != nil {
		return store.Event{}, fmt.Errorf("event %s: clientData: %w", ev.ID, err)
	}
	if attachments.Valid && attachments.String != "" {
		if err := json.Unmarshal([]byte(attachments.String), &ev.Attachments); err != nil {
			return store.Event{}, fmt.Errorf("event %s: attachments: %w", ev.ID, err)
		}
	}

	ev.Description = optionalString(description)
	ev.Integrity = optionalString(integrity)
	ev.HeadID = optionalString(head)
	ev.Trashed = trashed.Valid && trashed.Int64 != 0
	if deleted.Valid {
		at := deleted.Float64
		ev.Deleted = &at
	}
	return ev, nil
}

// splitStreamIDs splits the legacy delimiter-joined form. Repeated or
// surrounding spaces produce no empty ids.
func splitStreamIDs(joined string) []string {
	return strings.Fields(joined)
}

// compactJSON validates a JSON text column and strips insignificant
// whitespace. NULL and "" stay absent.
func compactJSON(ns sql.NullString) (json.RawMessage, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(ns.String)); err != nil {
		return nil, err
	}
	return json.RawMessage(buf.Bytes()), nil
}

func optionalString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
