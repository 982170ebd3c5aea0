package queryir

// Predicate is one filter condition of a Filter.
//
// This is a sealed interface - only types in this package implement it.
// The marker method pattern lets backend compilers switch exhaustively.
//
// Predicate types:
//   - Equal: field = value (IS NULL for a nil value)
//   - Greater, GreaterOrEqual, LowerOrEqual: coerced comparisons
//   - GreaterOrEqualOrNull: field >= value, or field unset
//   - TypesList: type matches one of a list, "family/*" selecting a family
//   - StreamsQuery: category membership, lowered onto the full-text index
//
// Predicates in a Filter are conjoined.
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Filter is the abstract query handed to the storage engine.
//
// The stream selector inside a StreamsQuery has already been authorised and
// expanded by the caller; the engine does no permission checks.
type Filter struct {
	Query   []Predicate // Conjoined; empty means no filtering
	Options ReadOptions // Ignored by deletes except for validation
}

// ReadOptions shapes a read's result set.
type ReadOptions struct {
	Sort  []SortKey // Applied in order; reads only
	Limit int       // 0 = unlimited
	Skip  int       // Rows to skip after sorting
}

// SortKey orders results by one logical field.
type SortKey struct {
	Field      string
	Descending bool
}

// Equal matches rows whose field equals Value.
//
// A nil Value matches rows where the field is unset:
//
//	Equal{Field: "deleted", Value: nil}  →  deleted IS NULL
type Equal struct {
	Field string
	Value any
}

func (Equal) predicateNode() {}

// Greater matches rows whose field is strictly greater than Value.
type Greater struct {
	Field string
	Value any
}

func (Greater) predicateNode() {}

// GreaterOrEqual matches rows whose field is greater than or equal to Value.
type GreaterOrEqual struct {
	Field string
	Value any
}

func (GreaterOrEqual) predicateNode() {}

// LowerOrEqual matches rows whose field is lower than or equal to Value.
type LowerOrEqual struct {
	Field string
	Value any
}

func (LowerOrEqual) predicateNode() {}

// GreaterOrEqualOrNull is GreaterOrEqual that also accepts unset fields.
// Used for open-ended ranges, where a null end time means "still running".
type GreaterOrEqualOrNull struct {
	Field string
	Value any
}

func (GreaterOrEqualOrNull) predicateNode() {}

// TypesList matches rows whose type is one of Types.
//
// An entry ending in "/*" selects the whole family:
//
//	TypesList{Types: []string{"note/txt", "mass/*"}}
//	  →  type = 'note/txt' OR type starts with 'mass/'
type TypesList struct {
	Types []string
}

func (TypesList) predicateNode() {}

// StreamsQuery matches rows by the streams they belong to.
//
// Blocks are alternatives: a row matches if it satisfies any block. An empty
// StreamsQuery matches every row.
type StreamsQuery struct {
	Blocks []StreamsBlock
}

func (StreamsQuery) predicateNode() {}

// StreamsBlock is one conjunctive stream condition. Every list holds
// concrete stream ids, already expanded to descendants where the caller
// wants transitive membership.
//
//	StreamsBlock{
//	  Any: []string{"diary", "diary-work"},   // in diary or any child
//	  And: [][]string{{"health", "health-hr"}},// and in health or a child
//	  Not: []string{"private"},               // and never in private
//	}
type StreamsBlock struct {
	Any []string   // At least one must be present
	And [][]string // Each group needs at least one member present
	Not []string   // None may be present
}

// IsEmpty reports whether the block places no condition on a row.
func (b StreamsBlock) IsEmpty() bool {
	if len(b.Any) > 0 || len(b.Not) > 0 {
		return false
	}
	for _, group := range b.And {
		if len(group) > 0 {
			return false
		}
	}
	return true
}

// IsEmpty reports whether the query matches every row.
func (q StreamsQuery) IsEmpty() bool {
	for _, b := range q.Blocks {
		if !b.IsEmpty() {
			return false
		}
	}
	return true
}
