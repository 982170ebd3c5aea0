package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/eventdb/internal/querysql"
)

// readColumns is the column list of every event read, in scanEvent order.
var readColumns = []string{
	"eventid", "headId", "streamIds", "type", "time", "endTime",
	"content", "description", "clientData", "attachments", "integrity",
	"trashed", "deleted", "created", "createdBy", "modified", "modifiedBy",
}

// writeColumns is readColumns plus the full-text document, in encodeEvent
// order.
var writeColumns = []string{
	"eventid", "headId", "streamIds", "streamIndex", "type", "time", "endTime",
	"content", "description", "clientData", "attachments", "integrity",
	"trashed", "deleted", "created", "createdBy", "modified", "modifiedBy",
}

// normalizeStreamIDs substitutes the sentinel for an empty stream set.
func normalizeStreamIDs(ids []string) []string {
	if len(ids) == 0 {
		return []string{AllStreams}
	}
	return ids
}

// validateEvent checks the fields every stored event needs.
func validateEvent(ev *Event) error {
	var missing []string
	if ev.ID == "" {
		missing = append(missing, "id")
	}
	if ev.Type == "" {
		missing = append(missing, "type")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidEvent, strings.Join(missing, ", "))
	}
	for _, raw := range []json.RawMessage{ev.Content, ev.ClientData} {
		if len(raw) > 0 && !json.Valid(raw) {
			return fmt.Errorf("%w: malformed JSON payload", ErrInvalidEvent)
		}
	}
	return nil
}

// encodeEvent returns the bind parameters for writeColumns.
func encodeEvent(ev *Event) ([]any, error) {
	streamIDs, err := json.Marshal(ev.StreamIDs)
	if err != nil {
		return nil, fmt.Errorf("marshal streamIds: %w", err)
	}

	var attachments any
	if len(ev.Attachments) > 0 {
		b, err := json.Marshal(ev.Attachments)
		if err != nil {
			return nil, fmt.Errorf("marshal attachments: %w", err)
		}
		attachments = string(b)
	}

	return []any{
		ev.ID,
		nullableString(ev.HeadID),
		string(streamIDs),
		querysql.StreamIndex(ev.StreamIDs),
		ev.Type,
		ev.Time,
		nullableFloat(ev.EndTime),
		nullableJSON(ev.Content),
		nullableString(ev.Description),
		nullableJSON(ev.ClientData),
		attachments,
		nullableString(ev.Integrity),
		boolToInt(ev.Trashed),
		nullableFloat(ev.Deleted),
		ev.Created,
		ev.CreatedBy,
		ev.Modified,
		ev.ModifiedBy,
	}, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanEvent scans one row of readColumns.
func scanEvent(s scanner) (*Event, error) {
	var (
		ev                               Event
		headID, description, integrity   sql.NullString
		content, clientData, attachments sql.NullString
		endTime, deleted                 sql.NullFloat64
		streamIDs                        string
		trashed                          int64
	)

	err := s.Scan(
		&ev.ID,
		&headID,
		&streamIDs,
		&ev.Type,
		&ev.Time,
		&endTime,
		&content,
		&description,
		&clientData,
		&attachments,
		&integrity,
		&trashed,
		&deleted,
		&ev.Created,
		&ev.CreatedBy,
		&ev.Modified,
		&ev.ModifiedBy,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(streamIDs), &ev.StreamIDs); err != nil {
		return nil, fmt.Errorf("unmarshal streamIds of %s: %w", ev.ID, err)
	}
	if attachments.Valid {
		if err := json.Unmarshal([]byte(attachments.String), &ev.Attachments); err != nil {
			return nil, fmt.Errorf("unmarshal attachments of %s: %w", ev.ID, err)
		}
	}

	ev.HeadID = stringPtr(headID)
	ev.Description = stringPtr(description)
	ev.Integrity = stringPtr(integrity)
	ev.EndTime = floatPtr(endTime)
	ev.Deleted = floatPtr(deleted)
	ev.Content = rawJSON(content)
	ev.ClientData = rawJSON(clientData)
	ev.Trashed = trashed != 0

	return &ev, nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}

func rawJSON(ns sql.NullString) json.RawMessage {
	if !ns.Valid {
		return nil
	}
	return json.RawMessage(ns.String)
}
