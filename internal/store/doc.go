// Package store provides the per-user embedded event database.
//
// One UserDatabase owns one SQLite file holding a user's events, the edit
// history of those events and their deletion tombstones:
//   - Live rows: headId IS NULL, deleted IS NULL
//   - Tombstones: live rows with deleted set and the payload cleared
//   - History rows: snapshots taken before each update, headId = live id
//
// # Critical Patterns
//
// Every mutation runs through a gate.Gate, which serialises writers in this
// process and retries SQLITE_BUSY with a sleep ramp so several processes can
// share the file. CreateSync and CreateManySync skip the gate and are only
// for single-writer bulk loads such as migration.
//
// Stream membership lives twice: as a JSON array in streamIds, and as
// tokens in the FTS4 table events_fts. Triggers keep the two in step inside
// the statement that changes the record, so a reader never sees one without
// the other.
//
// Every read has an ORDER BY ending in seq, so results are deterministic.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: reduced-safety mode, see package gate
//   - busy_timeout=0: busy handling belongs to the gate
//   - user_version: schema generation of the file
package store
