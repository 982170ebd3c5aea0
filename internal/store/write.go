package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/eventdb/internal/queryir"
	"github.com/roach88/eventdb/internal/querysql"
)

// Create inserts a new live event through the gate. An empty stream set is
// stored as the AllStreams sentinel. Returns the event as stored.
func (d *UserDatabase) Create(ctx context.Context, ev Event) (*Event, error) {
	ev.HeadID = nil
	args, err := prepareInsert(&ev)
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}

	err = d.gate.Execute(ctx, func() error {
		_, err := d.stmts.insert.ExecContext(ctx, args...)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create event %s: %w", ev.ID, classifyWriteError(err))
	}
	return &ev, nil
}

// CreateSync inserts a new live event without the gate.
//
// Only for single-writer bulk loads (migration): a busy file fails at once.
func (d *UserDatabase) CreateSync(ctx context.Context, ev Event) (*Event, error) {
	ev.HeadID = nil
	args, err := prepareInsert(&ev)
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}

	if _, err := d.stmts.insert.ExecContext(ctx, args...); err != nil {
		return nil, fmt.Errorf("create event %s: %w", ev.ID, classifyWriteError(err))
	}
	return &ev, nil
}

// CreateManySync inserts rows in one transaction without the gate. Either
// every row is stored or none is. Rows are stored as given, history rows
// and tombstones included, which is what a bulk load of an existing
// database needs.
func (d *UserDatabase) CreateManySync(ctx context.Context, events []Event) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create events: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	insert := tx.StmtContext(ctx, d.stmts.insert)
	defer insert.Close()

	for i := range events {
		args, err := prepareInsert(&events[i])
		if err != nil {
			return fmt.Errorf("create events: event %d: %w", i, err)
		}
		if _, err := insert.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("create events: event %s: %w", events[i].ID, classifyWriteError(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create events: commit: %w", err)
	}
	return nil
}

// prepareInsert normalises a row and encodes its parameters.
func prepareInsert(ev *Event) ([]any, error) {
	ev.StreamIDs = normalizeStreamIDs(ev.StreamIDs)
	if err := validateEvent(ev); err != nil {
		return nil, err
	}
	return encodeEvent(ev)
}

// Update replaces the live event id with ev, keeping the previous version
// as a history row. The snapshot and the replacement run in one gated
// transaction; ErrNotFound leaves the database untouched.
//
// ev.ID is ignored; the live event keeps its id.
func (d *UserDatabase) Update(ctx context.Context, id string, ev Event) (*Event, error) {
	ev.ID = id
	ev.StreamIDs = normalizeStreamIDs(ev.StreamIDs)
	ev.HeadID = nil
	if err := validateEvent(&ev); err != nil {
		return nil, fmt.Errorf("update event: %w", err)
	}

	encoded, err := encodeEvent(&ev)
	if err != nil {
		return nil, fmt.Errorf("update event %s: %w", id, err)
	}
	replaceArgs := append(encoded[2:len(encoded):len(encoded)], id)
	historyID := d.ids.Generate()

	err = d.gate.ExecuteTx(ctx, d.db, func(tx *sql.Tx) error {
		if _, err := tx.StmtContext(ctx, d.stmts.snapshot).ExecContext(ctx, historyID, id); err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}

		result, err := tx.StmtContext(ctx, d.stmts.replace).ExecContext(ctx, replaceArgs...)
		if err != nil {
			return fmt.Errorf("replace: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n != 1 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update event %s: %w", id, err)
	}

	d.logger.Debug("event updated", "id", id, "history_id", historyID)
	return &ev, nil
}

// MarkDeleted turns the live event id into a tombstone deleted at the given
// time. Stream ids, type and time are kept; the payload is cleared.
func (d *UserDatabase) MarkDeleted(ctx context.Context, id string, at float64) error {
	var n int64
	err := d.gate.Execute(ctx, func() error {
		result, err := d.stmts.markDeleted.ExecContext(ctx, at, at, id)
		if err != nil {
			return err
		}
		n, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("mark deleted %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("mark deleted %s: %w", id, ErrNotFound)
	}
	return nil
}

// Delete removes every row matching the filter and returns how many were
// removed.
//
// A filter without a stream clause is one bulk DELETE. A stream clause reads
// the full-text shadow, which the DELETE itself rewrites through a trigger,
// so the matching ids are selected first and deleted one at a time. That
// path is not atomic: a concurrent writer may add matching rows between the
// select and the deletes, and those rows survive.
func (d *UserDatabase) Delete(ctx context.Context, f queryir.Filter) (int64, error) {
	st, err := d.compiler.CompileDelete(f)
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}

	if !st.FullText {
		var n int64
		err := d.gate.Execute(ctx, func() error {
			result, err := d.db.ExecContext(ctx, st.SQL, st.Params...)
			if err != nil {
				return err
			}
			n, err = result.RowsAffected()
			return err
		})
		if err != nil {
			return 0, fmt.Errorf("delete events: %w", err)
		}
		return n, nil
	}

	ids, err := d.selectIDs(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}

	var total int64
	for _, id := range ids {
		err := d.gate.Execute(ctx, func() error {
			result, err := d.stmts.deleteByID.ExecContext(ctx, id)
			if err != nil {
				return err
			}
			n, err := result.RowsAffected()
			total += n
			return err
		})
		if err != nil {
			return total, fmt.Errorf("delete events: %s: %w", id, err)
		}
	}

	d.logger.Debug("deleted by stream query", "selected", len(ids), "deleted", total)
	return total, nil
}

// selectIDs returns the ids of rows matching the filter.
func (d *UserDatabase) selectIDs(ctx context.Context, f queryir.Filter) ([]string, error) {
	st, err := d.compiler.CompileSelectIDs(f)
	if err != nil {
		return nil, err
	}

	rows, err := d.db.QueryContext(ctx, st.SQL, st.Params...)
	if err != nil {
		return nil, fmt.Errorf("select ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ids: %w", err)
	}
	return ids, nil
}

// DeleteHistory removes every history row of the live event id and returns
// how many were removed.
func (d *UserDatabase) DeleteHistory(ctx context.Context, id string) (int64, error) {
	var n int64
	err := d.gate.Execute(ctx, func() error {
		result, err := d.stmts.deleteHistory.ExecContext(ctx, id)
		if err != nil {
			return err
		}
		n, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete history %s: %w", id, err)
	}
	return n, nil
}

// minimizable maps the fields MinimizeHistory may clear to their columns.
// streamIds is accepted and always reset to the sentinel.
var minimizable = map[string]string{
	"endTime":     "endTime",
	"content":     "content",
	"description": "description",
	"clientData":  "clientData",
	"attachments": "attachments",
	"integrity":   "integrity",
	"streamIds":   "",
}

// MinimizeHistory clears the named fields on every history row of the live
// event id and resets their stream set to the sentinel. Rows are kept.
// Returns how many rows were minimized.
func (d *UserDatabase) MinimizeHistory(ctx context.Context, id string, fields []string) (int64, error) {
	var cols []string
	seen := make(map[string]bool)
	for _, field := range fields {
		col, ok := minimizable[field]
		if !ok {
			return 0, fmt.Errorf("minimize history %s: %w: %q", id, ErrUnsupportedField, field)
		}
		if col == "" || seen[col] {
			continue
		}
		seen[col] = true
		cols = append(cols, col)
	}
	sort.Strings(cols)

	sets := []string{"streamIds = ?", "streamIndex = ?"}
	for _, col := range cols {
		sets = append(sets, col+" = NULL")
	}
	query := fmt.Sprintf("UPDATE events SET %s WHERE headId = ?", strings.Join(sets, ", "))
	sentinel := []string{AllStreams}
	args := []any{`["` + AllStreams + `"]`, querysql.StreamIndex(sentinel), id}

	var n int64
	err := d.gate.Execute(ctx, func() error {
		result, err := d.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("minimize history %s: %w", id, err)
	}
	return n, nil
}

// classifyWriteError maps driver constraint failures to package errors.
func classifyWriteError(err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	}
	return err
}
