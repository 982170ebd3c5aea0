package querysql

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/roach88/eventdb/internal/queryir"
)

// Statement is a compiled, parameterized SQL statement.
type Statement struct {
	SQL    string
	Params []any

	// FullText is set when the WHERE clause reads the full-text index.
	// SQLite cannot delete rows of a table while walking its full-text
	// shadow in the same statement, so callers switch to per-row deletes.
	FullText bool
}

// Compiler lowers queryir filters to SQLite statements over one event table
// and its full-text shadow.
//
// CRITICAL: All values are parameterized (never interpolated).
// CRITICAL: Every read has an ORDER BY ending in the row sequence, so
// results are deterministic.
type Compiler struct {
	Table         string   // Record table
	FullTextTable string   // Full-text shadow keyed by docid = RowKey
	RowKey        string   // Integer primary key of Table
	Columns       []string // Column list for reads
}

// NewCompiler creates a Compiler for the given tables.
func NewCompiler(table, fullTextTable, rowKey string, columns []string) *Compiler {
	return &Compiler{
		Table:         table,
		FullTextTable: fullTextTable,
		RowKey:        rowKey,
		Columns:       columns,
	}
}

// CompileRead compiles a filter into a SELECT with sort, limit and skip.
func (c *Compiler) CompileRead(f queryir.Filter) (Statement, error) {
	where, params, fullText, err := c.CompileWhere(f)
	if err != nil {
		return Statement{}, err
	}

	orderBy, err := c.orderBy(f.Options.Sort)
	if err != nil {
		return Statement{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(c.Columns, ", "), c.Table)
	if where != "" {
		b.WriteString(" WHERE " + where)
	}
	b.WriteString(" ORDER BY " + orderBy)

	switch {
	case f.Options.Limit > 0:
		b.WriteString(" LIMIT ?")
		params = append(params, int64(f.Options.Limit))
		if f.Options.Skip > 0 {
			b.WriteString(" OFFSET ?")
			params = append(params, int64(f.Options.Skip))
		}
	case f.Options.Skip > 0:
		// SQLite has no OFFSET without LIMIT; -1 means unbounded.
		b.WriteString(" LIMIT -1 OFFSET ?")
		params = append(params, int64(f.Options.Skip))
	}

	return Statement{SQL: b.String(), Params: params, FullText: fullText}, nil
}

// CompileSelectIDs compiles a filter into a SELECT of matching record ids,
// ignoring read options. Used to resolve full-text deletes row by row.
func (c *Compiler) CompileSelectIDs(f queryir.Filter) (Statement, error) {
	where, params, fullText, err := c.CompileWhere(f)
	if err != nil {
		return Statement{}, err
	}

	sql := fmt.Sprintf("SELECT eventid FROM %s", c.Table)
	if where != "" {
		sql += " WHERE " + where
	}
	sql += " ORDER BY " + c.RowKey + " ASC"

	return Statement{SQL: sql, Params: params, FullText: fullText}, nil
}

// CompileDelete compiles a filter into a bulk DELETE. Sort is meaningless
// for a delete and dropped; limit and skip are rejected, since honouring
// them would need an ordering the caller never stated.
func (c *Compiler) CompileDelete(f queryir.Filter) (Statement, error) {
	if f.Options.Limit != 0 || f.Options.Skip != 0 {
		return Statement{}, fmt.Errorf("%w: limit/skip on delete", queryir.ErrUnsupportedQuery)
	}

	where, params, fullText, err := c.CompileWhere(f)
	if err != nil {
		return Statement{}, err
	}

	sql := "DELETE FROM " + c.Table
	if where != "" {
		sql += " WHERE " + where
	}
	return Statement{SQL: sql, Params: params, FullText: fullText}, nil
}

// CompileWhere compiles the filter's predicates into a WHERE fragment
// (without the keyword). An empty predicate list yields "".
func (c *Compiler) CompileWhere(f queryir.Filter) (string, []any, bool, error) {
	if err := queryir.Validate(f); err != nil {
		return "", nil, false, err
	}

	var (
		parts    []string
		params   []any
		fullText bool
	)
	for _, p := range f.Query {
		sql, ps, ft, err := c.compilePredicate(p)
		if err != nil {
			return "", nil, false, err
		}
		if sql == "" {
			continue
		}
		parts = append(parts, sql)
		params = append(params, ps...)
		fullText = fullText || ft
	}

	return strings.Join(parts, " AND "), params, fullText, nil
}

// compilePredicate compiles one predicate. An empty SQL string means the
// predicate places no condition.
func (c *Compiler) compilePredicate(p queryir.Predicate) (string, []any, bool, error) {
	switch pred := p.(type) {
	case queryir.Equal:
		sql, params, err := c.compileEqual(pred)
		return sql, params, false, err
	case *queryir.Equal:
		sql, params, err := c.compileEqual(*pred)
		return sql, params, false, err
	case queryir.Greater:
		sql, params, err := compareOp(pred.Field, ">", pred.Value)
		return sql, params, false, err
	case *queryir.Greater:
		sql, params, err := compareOp(pred.Field, ">", pred.Value)
		return sql, params, false, err
	case queryir.GreaterOrEqual:
		sql, params, err := compareOp(pred.Field, ">=", pred.Value)
		return sql, params, false, err
	case *queryir.GreaterOrEqual:
		sql, params, err := compareOp(pred.Field, ">=", pred.Value)
		return sql, params, false, err
	case queryir.LowerOrEqual:
		sql, params, err := compareOp(pred.Field, "<=", pred.Value)
		return sql, params, false, err
	case *queryir.LowerOrEqual:
		sql, params, err := compareOp(pred.Field, "<=", pred.Value)
		return sql, params, false, err
	case queryir.GreaterOrEqualOrNull:
		sql, params, err := compareOrNull(pred.Field, pred.Value)
		return sql, params, false, err
	case *queryir.GreaterOrEqualOrNull:
		sql, params, err := compareOrNull(pred.Field, pred.Value)
		return sql, params, false, err
	case queryir.TypesList:
		sql, params := compileTypesList(pred)
		return sql, params, false, nil
	case *queryir.TypesList:
		sql, params := compileTypesList(*pred)
		return sql, params, false, nil
	case queryir.StreamsQuery:
		return c.compileStreams(pred)
	case *queryir.StreamsQuery:
		return c.compileStreams(*pred)
	default:
		return "", nil, false, fmt.Errorf("%w: predicate type %T", queryir.ErrUnsupportedQuery, p)
	}
}

// compileEqual compiles "col = ?", or "col IS NULL" for a nil value.
func (c *Compiler) compileEqual(eq queryir.Equal) (string, []any, error) {
	col, err := lookupColumn(eq.Field)
	if err != nil {
		return "", nil, err
	}
	if eq.Value == nil {
		return col.Name + " IS NULL", nil, nil
	}

	param, err := coerce(col, eq.Value)
	if err != nil {
		return "", nil, err
	}
	return col.Name + " = ?", []any{param}, nil
}

func compareOp(field, op string, value any) (string, []any, error) {
	col, err := lookupColumn(field)
	if err != nil {
		return "", nil, err
	}
	if value == nil {
		return "", nil, fmt.Errorf("%w: %s %s null", queryir.ErrUnsupportedQuery, field, op)
	}

	param, err := coerce(col, value)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("%s %s ?", col.Name, op), []any{param}, nil
}

func compareOrNull(field string, value any) (string, []any, error) {
	sql, params, err := compareOp(field, ">=", value)
	if err != nil {
		return "", nil, err
	}
	col, _ := lookupColumn(field)
	return fmt.Sprintf("(%s OR %s IS NULL)", sql, col.Name), params, nil
}

// compileTypesList renders a disjunction over the type column. A "family/*"
// entry becomes a case-sensitive prefix comparison; LIKE would fold case.
func compileTypesList(tl queryir.TypesList) (string, []any) {
	parts := make([]string, 0, len(tl.Types))
	params := make([]any, 0, len(tl.Types))

	for _, typ := range tl.Types {
		if prefix, ok := strings.CutSuffix(typ, "*"); ok {
			parts = append(parts, "substr(type, 1, ?) = ?")
			params = append(params, int64(utf8.RuneCountInString(prefix)), prefix)
			continue
		}
		parts = append(parts, "type = ?")
		params = append(params, typ)
	}

	return "(" + strings.Join(parts, " OR ") + ")", params
}

// compileStreams renders a stream query as a sub-select on the full-text
// shadow. An empty query places no condition.
func (c *Compiler) compileStreams(sq queryir.StreamsQuery) (string, []any, bool, error) {
	match := MatchExpression(sq)
	if match == "" {
		return "", nil, false, nil
	}

	sql := fmt.Sprintf("%s IN (SELECT docid FROM %s WHERE %s MATCH ?)",
		c.RowKey, c.FullTextTable, c.FullTextTable)
	return sql, []any{match}, true, nil
}

// orderBy renders the ORDER BY list. The row sequence is always the last
// key so ties resolve deterministically.
func (c *Compiler) orderBy(keys []queryir.SortKey) (string, error) {
	parts := make([]string, 0, len(keys)+1)
	for _, key := range keys {
		col, err := lookupColumn(key.Field)
		if err != nil {
			return "", fmt.Errorf("sort: %w", err)
		}
		dir := "ASC"
		if key.Descending {
			dir = "DESC"
		}
		parts = append(parts, col.Name+" "+dir)
	}
	parts = append(parts, c.RowKey+" ASC")
	return strings.Join(parts, ", "), nil
}
