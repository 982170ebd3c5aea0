package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"

	"github.com/roach88/eventdb/internal/queryir"
)

// GetOne returns the live, non-deleted event with the given id.
// Returns ErrNotFound if there is none.
func (d *UserDatabase) GetOne(ctx context.Context, id string) (*Event, error) {
	ev, err := scanEvent(d.stmts.getOne.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get event %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}
	return ev, nil
}

// Get returns every row matching the filter, in the filter's order.
//
// Returns an empty slice (not nil) if nothing matches.
func (d *UserDatabase) Get(ctx context.Context, f queryir.Filter) ([]*Event, error) {
	events := []*Event{}
	for ev, err := range d.GetStreamed(ctx, f) {
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// GetStreamed is Get as an iterator. Rows are fetched as the consumer pulls
// them; breaking out of the loop closes the cursor.
//
//	for ev, err := range db.GetStreamed(ctx, filter) {
//		if err != nil {
//			return err
//		}
//		...
//	}
func (d *UserDatabase) GetStreamed(ctx context.Context, f queryir.Filter) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		st, err := d.compiler.CompileRead(f)
		if err != nil {
			yield(nil, fmt.Errorf("get events: %w", err))
			return
		}

		rows, err := d.db.QueryContext(ctx, st.SQL, st.Params...)
		if err != nil {
			yield(nil, fmt.Errorf("get events: %w", err))
			return
		}
		yieldRows(rows, "get events", yield)
	}
}

// GetHistory returns the history rows of the live event id, oldest first.
func (d *UserDatabase) GetHistory(ctx context.Context, id string) ([]*Event, error) {
	rows, err := d.stmts.history.QueryContext(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get history %s: %w", id, err)
	}
	return collectRows(rows, "get history")
}

// GetDeletionsSince returns tombstones deleted at or after since, most
// recent first.
func (d *UserDatabase) GetDeletionsSince(ctx context.Context, since float64) ([]*Event, error) {
	rows, err := d.stmts.deletionsSince.QueryContext(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("get deletions: %w", err)
	}
	return collectRows(rows, "get deletions")
}

// Count returns the number of stored rows, history rows and tombstones
// included.
func (d *UserDatabase) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := d.stmts.count.QueryRowContext(ctx).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// ExportAll streams every stored row, history rows and tombstones included,
// in insertion order.
func (d *UserDatabase) ExportAll(ctx context.Context) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		rows, err := d.stmts.exportAll.QueryContext(ctx)
		if err != nil {
			yield(nil, fmt.Errorf("export events: %w", err))
			return
		}
		yieldRows(rows, "export events", yield)
	}
}

// yieldRows scans rows into yield until the rows or the consumer are done.
// It always closes rows.
func yieldRows(rows *sql.Rows, op string, yield func(*Event, error) bool) {
	defer rows.Close()

	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			yield(nil, fmt.Errorf("%s: scan: %w", op, err))
			return
		}
		if !yield(ev, nil) {
			return
		}
	}
	if err := rows.Err(); err != nil {
		yield(nil, fmt.Errorf("%s: iterate: %w", op, err))
	}
}

// collectRows scans all rows into a slice. Returns an empty slice (not nil)
// if there are none.
func collectRows(rows *sql.Rows, op string) ([]*Event, error) {
	events := []*Event{}
	var iterErr error
	yieldRows(rows, op, func(ev *Event, err error) bool {
		if err != nil {
			iterErr = err
			return false
		}
		events = append(events, ev)
		return true
	})
	if iterErr != nil {
		return nil, iterErr
	}
	return events, nil
}
