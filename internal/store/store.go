package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/eventdb/internal/gate"
	"github.com/roach88/eventdb/internal/queryir"
	"github.com/roach88/eventdb/internal/querysql"
)

//go:embed schema.sql
var schemaSQL string

// SchemaVersion is the schema generation written to PRAGMA user_version.
const SchemaVersion = 1

const (
	eventsTable   = "events"
	fullTextTable = "events_fts"
	rowKey        = "seq"
)

// maxOpenConns bounds the pool. Writers are serialised by the gate; the
// extra connections let a streamed read stay open while this process
// writes.
const maxOpenConns = 4

// UserDatabase is one user's event database.
type UserDatabase struct {
	path     string
	db       *sql.DB
	gate     *gate.Gate
	compiler *querysql.Compiler
	stmts    *statements
	ids      IDGenerator
	logger   *slog.Logger
}

// Option configures a UserDatabase.
type Option func(*options)

type options struct {
	gate       *gate.Gate
	maxRetries int
	logger     *slog.Logger
	ids        IDGenerator
}

// WithGate shares a gate between databases. Databases sharing a gate never
// write concurrently.
func WithGate(g *gate.Gate) Option {
	return func(o *options) {
		o.gate = g
	}
}

// WithMaxRetries sets the write attempt budget of the database's own gate.
// Ignored when WithGate is given.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		o.maxRetries = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithIDGenerator sets the generator for history row ids.
func WithIDGenerator(ids IDGenerator) Option {
	return func(o *options) {
		o.ids = ids
	}
}

// Open creates or opens the database file at path, creating parent
// directories as needed.
//
// The file is bootstrapped through the gate (WAL, busy_timeout=0,
// synchronous=NORMAL), the schema is applied in one transaction and every
// fixed statement is prepared.
//
// This function is idempotent - safe to call multiple times.
func Open(ctx context.Context, path string, opts ...Option) (*UserDatabase, error) {
	o := options{
		maxRetries: gate.DefaultMaxRetries,
		logger:     slog.Default(),
		ids:        UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With("component", "store")
	if o.gate == nil {
		o.gate = gate.New(gate.WithMaxRetries(o.maxRetries), gate.WithLogger(o.logger))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("open %s: create directory: %w", path, err)
	}

	db, err := sql.Open("sqlite3", gate.DSN(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)

	d := &UserDatabase{
		path:     path,
		db:       db,
		gate:     o.gate,
		compiler: querysql.NewCompiler(eventsTable, fullTextTable, rowKey, readColumns),
		ids:      o.ids,
		logger:   logger,
	}

	if err := d.init(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	logger.Debug("database opened", "path", path)
	return d, nil
}

// init connects, bootstraps, applies the schema and prepares statements.
func (d *UserDatabase) init(ctx context.Context) error {
	// Connecting runs the DSN pragmas, which may meet another writer.
	err := d.gate.Execute(ctx, func() error {
		return d.db.PingContext(ctx)
	})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	if err := d.gate.Bootstrap(ctx, d.db); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	if err := d.applySchema(ctx); err != nil {
		return err
	}

	stmts, err := prepareStatements(ctx, d.db, d.compiler)
	if err != nil {
		return err
	}
	d.stmts = stmts
	return nil
}

// applySchema creates tables, indexes and triggers if missing and records
// the schema generation. The whole script runs in one transaction.
func (d *UserDatabase) applySchema(ctx context.Context) error {
	err := d.gate.ExecuteTx(ctx, d.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion))
		return err
	})
	if err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (d *UserDatabase) Path() string {
	return d.path
}

// Gate returns the gate guarding this database's writes.
func (d *UserDatabase) Gate() *gate.Gate {
	return d.gate
}

// SchemaVersion reads the file's PRAGMA user_version.
func (d *UserDatabase) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := d.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}

// Close closes prepared statements, checkpoints the WAL into the main file
// and releases the handle. A failed checkpoint is logged, not returned: the
// WAL is replayed on the next open.
func (d *UserDatabase) Close() error {
	if d.db == nil {
		return nil
	}

	var errs []error
	if d.stmts != nil {
		errs = append(errs, d.stmts.close())
		d.stmts = nil
	}

	err := d.gate.Execute(context.Background(), func() error {
		_, err := d.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return err
	})
	if err != nil {
		d.logger.Warn("wal checkpoint failed", "path", d.path, "error", err)
	}

	errs = append(errs, d.db.Close())
	d.db = nil

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close %s: %w", d.path, err)
	}
	return nil
}

// statements is the set of prepared statements owned by one database.
type statements struct {
	insert         *sql.Stmt
	getOne         *sql.Stmt
	snapshot       *sql.Stmt
	replace        *sql.Stmt
	markDeleted    *sql.Stmt
	deleteByID     *sql.Stmt
	deleteHistory  *sql.Stmt
	history        *sql.Stmt
	deletionsSince *sql.Stmt
	count          *sql.Stmt
	exportAll      *sql.Stmt
}

func prepareStatements(ctx context.Context, db *sql.DB, c *querysql.Compiler) (*statements, error) {
	cols := strings.Join(readColumns, ", ")
	writeCols := strings.Join(writeColumns, ", ")
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(writeColumns)), ", ")

	// History and deletion reads are ordinary filters; their shape is fixed,
	// so the compiled SQL is prepared once and bound per call.
	history, err := c.CompileRead(queryir.Filter{
		Query:   []queryir.Predicate{queryir.Equal{Field: "headId", Value: ""}},
		Options: queryir.ReadOptions{Sort: []queryir.SortKey{{Field: "modified"}}},
	})
	if err != nil {
		return nil, fmt.Errorf("compile history: %w", err)
	}
	deletions, err := c.CompileRead(queryir.Filter{
		Query: []queryir.Predicate{
			queryir.Equal{Field: "headId", Value: nil},
			queryir.GreaterOrEqual{Field: "deleted", Value: 0},
		},
		Options: queryir.ReadOptions{Sort: []queryir.SortKey{{Field: "deleted", Descending: true}}},
	})
	if err != nil {
		return nil, fmt.Errorf("compile deletions: %w", err)
	}

	queries := []struct {
		name string
		sql  string
	}{
		{name: "insert", sql: fmt.Sprintf(
			"INSERT INTO events (%s) VALUES (%s)", writeCols, placeholders)},
		{name: "getOne", sql: fmt.Sprintf(
			"SELECT %s FROM events WHERE eventid = ? AND headId IS NULL AND deleted IS NULL", cols)},
		{name: "snapshot", sql: fmt.Sprintf(
			"INSERT INTO events (%s) SELECT ?, eventid, %s FROM events WHERE eventid = ? AND headId IS NULL AND deleted IS NULL",
			writeCols, strings.Join(writeColumns[2:], ", "))},
		{name: "replace", sql: `
			UPDATE events SET
				streamIds = ?, streamIndex = ?, type = ?, time = ?, endTime = ?,
				content = ?, description = ?, clientData = ?, attachments = ?, integrity = ?,
				trashed = ?, deleted = ?, created = ?, createdBy = ?, modified = ?, modifiedBy = ?
			WHERE eventid = ? AND headId IS NULL AND deleted IS NULL`},
		{name: "markDeleted", sql: `
			UPDATE events SET
				endTime = NULL, content = NULL, description = NULL, clientData = NULL,
				attachments = NULL, integrity = NULL, trashed = 0, deleted = ?, modified = ?
			WHERE eventid = ? AND headId IS NULL AND deleted IS NULL`},
		{name: "deleteByID", sql: "DELETE FROM events WHERE eventid = ?"},
		{name: "deleteHistory", sql: "DELETE FROM events WHERE headId = ?"},
		{name: "history", sql: history.SQL},
		{name: "deletionsSince", sql: deletions.SQL},
		{name: "count", sql: "SELECT COUNT(*) FROM events"},
		{name: "exportAll", sql: fmt.Sprintf("SELECT %s FROM events ORDER BY seq ASC", cols)},
	}

	s := &statements{}
	targets := map[string]**sql.Stmt{
		"insert":         &s.insert,
		"getOne":         &s.getOne,
		"snapshot":       &s.snapshot,
		"replace":        &s.replace,
		"markDeleted":    &s.markDeleted,
		"deleteByID":     &s.deleteByID,
		"deleteHistory":  &s.deleteHistory,
		"history":        &s.history,
		"deletionsSince": &s.deletionsSince,
		"count":          &s.count,
		"exportAll":      &s.exportAll,
	}

	for _, q := range queries {
		stmt, err := db.PrepareContext(ctx, q.sql)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("prepare %s: %w", q.name, err)
		}
		*targets[q.name] = stmt
	}
	return s, nil
}

func (s *statements) close() error {
	var errs []error
	for _, stmt := range []*sql.Stmt{
		s.insert, s.getOne, s.snapshot, s.replace, s.markDeleted, s.deleteByID,
		s.deleteHistory, s.history, s.deletionsSince, s.count, s.exportAll,
	} {
		if stmt != nil {
			errs = append(errs, stmt.Close())
		}
	}
	return errors.Join(errs...)
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
