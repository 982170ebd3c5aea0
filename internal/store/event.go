package store

import (
	"encoding/json"
	"errors"
)

// AllStreams is stored in place of an empty stream set.
const AllStreams = "all"

var (
	// ErrNotFound is returned when an operation targets a live event that
	// does not exist.
	ErrNotFound = errors.New("event not found")

	// ErrAlreadyExists is returned when an event id is already taken.
	ErrAlreadyExists = errors.New("event already exists")

	// ErrInvalidEvent is returned for events missing required fields.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrUnsupportedField is returned by MinimizeHistory for fields that
	// are unknown or cannot be cleared.
	ErrUnsupportedField = errors.New("unsupported field")
)

// Event is one stored record. Times are seconds since the Unix epoch.
//
// A live event has HeadID == nil. A history row is a snapshot of an earlier
// version of the live event HeadID points to. A tombstone is a live event
// with Deleted set and its payload cleared.
type Event struct {
	ID          string          `json:"id"`
	StreamIDs   []string        `json:"streamIds"`
	Type        string          `json:"type"`
	Time        float64         `json:"time"`
	EndTime     *float64        `json:"endTime,omitempty"`
	Content     json.RawMessage `json:"content,omitempty"`
	Description *string         `json:"description,omitempty"`
	ClientData  json.RawMessage `json:"clientData,omitempty"`
	Attachments []Attachment    `json:"attachments,omitempty"`
	Integrity   *string         `json:"integrity,omitempty"`
	Trashed     bool            `json:"trashed,omitempty"`
	Deleted     *float64        `json:"deleted,omitempty"`
	HeadID      *string         `json:"headId,omitempty"`
	Created     float64         `json:"created"`
	CreatedBy   string          `json:"createdBy"`
	Modified    float64         `json:"modified"`
	ModifiedBy  string          `json:"modifiedBy"`
}

// Attachment describes a file attached to an event. The file itself lives
// outside the database.
type Attachment struct {
	ID        string `json:"id"`
	FileName  string `json:"fileName"`
	Type      string `json:"type"`
	Size      int64  `json:"size"`
	ReadToken string `json:"readToken,omitempty"`
	Integrity string `json:"integrity,omitempty"`
}

// IsHistory reports whether the event is a history row.
func (e *Event) IsHistory() bool {
	return e.HeadID != nil
}

// IsDeleted reports whether the event is a tombstone.
func (e *Event) IsDeleted() bool {
	return e.Deleted != nil
}
