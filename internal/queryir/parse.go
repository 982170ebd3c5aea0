package queryir

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Predicate type names used by the JSON form of a filter.
const (
	TypeEqual                = "equal"
	TypeGreater              = "greater"
	TypeGreaterOrEqual       = "greaterOrEqual"
	TypeLowerOrEqual         = "lowerOrEqual"
	TypeGreaterOrEqualOrNull = "greaterOrEqualOrNull"
	TypeTypesList            = "typesList"
	TypeStreamsQuery         = "streamsQuery"
)

type filterJSON struct {
	Query   []predicateJSON `json:"query"`
	Options struct {
		Sort []struct {
			Field      string `json:"field"`
			Descending bool   `json:"descending"`
		} `json:"sort"`
		Limit int `json:"limit"`
		Skip  int `json:"skip"`
	} `json:"options"`
}

type predicateJSON struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

type fieldValueJSON struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

type streamsBlockJSON struct {
	Any []string   `json:"any"`
	And [][]string `json:"and"`
	Not []string   `json:"not"`
}

// ParseFilterJSON decodes the wire form of a filter:
//
//	{"query": [{"type": "equal", "content": {"field": "deleted", "value": null}},
//	           {"type": "typesList", "content": ["note/*"]},
//	           {"type": "streamsQuery", "content": [{"any": ["a"], "not": ["b"]}]}],
//	 "options": {"sort": [{"field": "time", "descending": true}], "limit": 20}}
//
// Numbers are kept as json.Number so the compiler coerces them per column.
// The result is validated before it is returned.
func ParseFilterJSON(data []byte) (Filter, error) {
	var raw filterJSON
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &raw); err != nil {
			return Filter{}, fmt.Errorf("parse filter: %w", err)
		}
	}

	f := Filter{
		Query: make([]Predicate, 0, len(raw.Query)),
		Options: ReadOptions{
			Limit: raw.Options.Limit,
			Skip:  raw.Options.Skip,
		},
	}
	for _, s := range raw.Options.Sort {
		f.Options.Sort = append(f.Options.Sort, SortKey{Field: s.Field, Descending: s.Descending})
	}

	for i, p := range raw.Query {
		pred, err := parsePredicate(p)
		if err != nil {
			return Filter{}, fmt.Errorf("parse filter: query[%d]: %w", i, err)
		}
		f.Query = append(f.Query, pred)
	}

	if err := Validate(f); err != nil {
		return Filter{}, fmt.Errorf("parse filter: %w", err)
	}
	return f, nil
}

func parsePredicate(p predicateJSON) (Predicate, error) {
	switch p.Type {
	case TypeEqual, TypeGreater, TypeGreaterOrEqual, TypeLowerOrEqual, TypeGreaterOrEqualOrNull:
		var fv fieldValueJSON
		if err := decodeNumbers(p.Content, &fv); err != nil {
			return nil, err
		}
		switch p.Type {
		case TypeEqual:
			return Equal{Field: fv.Field, Value: fv.Value}, nil
		case TypeGreater:
			return Greater{Field: fv.Field, Value: fv.Value}, nil
		case TypeGreaterOrEqual:
			return GreaterOrEqual{Field: fv.Field, Value: fv.Value}, nil
		case TypeLowerOrEqual:
			return LowerOrEqual{Field: fv.Field, Value: fv.Value}, nil
		default:
			return GreaterOrEqualOrNull{Field: fv.Field, Value: fv.Value}, nil
		}

	case TypeTypesList:
		var types []string
		if err := json.Unmarshal(p.Content, &types); err != nil {
			return nil, err
		}
		return TypesList{Types: types}, nil

	case TypeStreamsQuery:
		var blocks []streamsBlockJSON
		if err := json.Unmarshal(p.Content, &blocks); err != nil {
			return nil, err
		}
		sq := StreamsQuery{Blocks: make([]StreamsBlock, 0, len(blocks))}
		for _, b := range blocks {
			sq.Blocks = append(sq.Blocks, StreamsBlock{Any: b.Any, And: b.And, Not: b.Not})
		}
		return sq, nil

	default:
		return nil, fmt.Errorf("%w: unknown predicate type %q", ErrUnsupportedQuery, p.Type)
	}
}

func decodeNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
