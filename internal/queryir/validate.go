package queryir

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedQuery is returned for filter shapes that cannot be lowered
// safely. Failing fast is preferred to computing a wrong result.
var ErrUnsupportedQuery = errors.New("unsupported query")

// ValidationError lists every problem found in a filter.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s", ErrUnsupportedQuery, strings.Join(e.Problems, "; "))
}

// Is reports ErrUnsupportedQuery as a match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrUnsupportedQuery
}

// Validate checks a filter's shape. It does not know the physical schema;
// field names are checked by the backend compiler.
//
// Rejected shapes:
//  1. nil predicates
//  2. predicates without a field name
//  3. TypesList with no entries, or with empty entries
//  4. StreamsQuery mixing empty and non-empty blocks
//  5. StreamsQuery with an empty stream id
//  6. negative Limit or Skip, sort keys without a field
//
// Validate is a pure function with no side effects.
func Validate(f Filter) error {
	v := &validator{}
	for i, p := range f.Query {
		v.validatePredicate(i, p)
	}
	v.validateOptions(f.Options)

	if len(v.problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: v.problems}
}

// validator accumulates problems during traversal.
type validator struct {
	problems []string
}

// addProblem appends a problem message.
func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

// validatePredicate validates the predicate at position i.
func (v *validator) validatePredicate(i int, p Predicate) {
	if p == nil {
		v.addProblem("query[%d]: nil predicate", i)
		return
	}

	switch pred := p.(type) {
	case Equal:
		v.requireField(i, "equal", pred.Field)
	case *Equal:
		v.requireField(i, "equal", pred.Field)
	case Greater:
		v.requireField(i, "greater", pred.Field)
	case *Greater:
		v.requireField(i, "greater", pred.Field)
	case GreaterOrEqual:
		v.requireField(i, "greaterOrEqual", pred.Field)
	case *GreaterOrEqual:
		v.requireField(i, "greaterOrEqual", pred.Field)
	case LowerOrEqual:
		v.requireField(i, "lowerOrEqual", pred.Field)
	case *LowerOrEqual:
		v.requireField(i, "lowerOrEqual", pred.Field)
	case GreaterOrEqualOrNull:
		v.requireField(i, "greaterOrEqualOrNull", pred.Field)
	case *GreaterOrEqualOrNull:
		v.requireField(i, "greaterOrEqualOrNull", pred.Field)
	case TypesList:
		v.validateTypesList(i, pred)
	case *TypesList:
		v.validateTypesList(i, *pred)
	case StreamsQuery:
		v.validateStreamsQuery(i, pred)
	case *StreamsQuery:
		v.validateStreamsQuery(i, *pred)
	default:
		v.addProblem("query[%d]: unknown predicate type %T", i, p)
	}
}

func (v *validator) requireField(i int, kind, field string) {
	if field == "" {
		v.addProblem("query[%d]: %s without a field", i, kind)
	}
}

func (v *validator) validateTypesList(i int, tl TypesList) {
	if len(tl.Types) == 0 {
		v.addProblem("query[%d]: typesList is empty", i)
		return
	}
	for j, typ := range tl.Types {
		if typ == "" || typ == "*" || typ == "/*" {
			v.addProblem("query[%d]: typesList[%d] is empty", i, j)
		}
	}
}

func (v *validator) validateStreamsQuery(i int, sq StreamsQuery) {
	empty, nonEmpty := 0, 0
	for j, b := range sq.Blocks {
		if b.IsEmpty() {
			empty++
			continue
		}
		nonEmpty++

		ids := append(append([]string{}, b.Any...), b.Not...)
		for _, group := range b.And {
			ids = append(ids, group...)
		}
		for _, id := range ids {
			if id == "" {
				v.addProblem("query[%d]: streamsQuery block %d has an empty stream id", i, j)
				break
			}
		}
	}
	if empty > 0 && nonEmpty > 0 {
		v.addProblem("query[%d]: streamsQuery mixes empty and non-empty blocks", i)
	}
}

func (v *validator) validateOptions(opts ReadOptions) {
	if opts.Limit < 0 {
		v.addProblem("options: negative limit %d", opts.Limit)
	}
	if opts.Skip < 0 {
		v.addProblem("options: negative skip %d", opts.Skip)
	}
	for i, key := range opts.Sort {
		if key.Field == "" {
			v.addProblem("options: sort[%d] without a field", i)
		}
	}
}
