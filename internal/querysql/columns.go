package querysql

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/roach88/eventdb/internal/queryir"
)

// kind is a column's storage class; filter values are coerced to it.
type kind int

const (
	kindText kind = iota
	kindReal
	kindBool
)

func (k kind) String() string {
	switch k {
	case kindText:
		return "TEXT"
	case kindReal:
		return "REAL"
	case kindBool:
		return "BOOLEAN"
	default:
		return "UNKNOWN"
	}
}

// column is the physical side of a logical field.
type column struct {
	Name string
	Kind kind
}

// columns maps logical field names to physical columns. Stream membership is
// not a column filter; it goes through StreamsQuery.
var columns = map[string]column{
	"id":          {Name: "eventid", Kind: kindText},
	"headId":      {Name: "headId", Kind: kindText},
	"type":        {Name: "type", Kind: kindText},
	"time":        {Name: "time", Kind: kindReal},
	"endTime":     {Name: "endTime", Kind: kindReal},
	"description": {Name: "description", Kind: kindText},
	"integrity":   {Name: "integrity", Kind: kindText},
	"trashed":     {Name: "trashed", Kind: kindBool},
	"deleted":     {Name: "deleted", Kind: kindReal},
	"created":     {Name: "created", Kind: kindReal},
	"createdBy":   {Name: "createdBy", Kind: kindText},
	"modified":    {Name: "modified", Kind: kindReal},
	"modifiedBy":  {Name: "modifiedBy", Kind: kindText},
}

func lookupColumn(field string) (column, error) {
	col, ok := columns[field]
	if !ok {
		if field == "streamIds" {
			return column{}, fmt.Errorf("%w: filter streams with streamsQuery, not %q", queryir.ErrUnsupportedQuery, field)
		}
		return column{}, fmt.Errorf("%w: unknown field %q", queryir.ErrUnsupportedQuery, field)
	}
	return col, nil
}

// coerce converts a filter value to the column's storage type.
// CRITICAL: the result is bound as a parameter, never interpolated.
func coerce(col column, v any) (any, error) {
	var (
		out any
		err error
	)
	switch col.Kind {
	case kindText:
		out, err = toText(v)
	case kindReal:
		out, err = toReal(v)
	case kindBool:
		out, err = toBool(v)
	default:
		err = fmt.Errorf("unknown column kind %d", col.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s (%s): %v", queryir.ErrUnsupportedQuery, col.Name, col.Kind, err)
	}
	return out, nil
}

func toText(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case json.Number:
		return val.String(), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("cannot use %T as text", v)
	}
}

func toReal(v any) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int32:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case uint32:
		return float64(val), nil
	case json.Number:
		return val.Float64()
	case string:
		return strconv.ParseFloat(val, 64)
	default:
		return 0, fmt.Errorf("cannot use %T as a number", v)
	}
}

func toBool(v any) (int64, error) {
	switch val := v.(type) {
	case bool:
		if val {
			return 1, nil
		}
		return 0, nil
	case int, int64, float64, json.Number:
		f, err := toReal(val)
		if err != nil {
			return 0, err
		}
		switch f {
		case 0:
			return 0, nil
		case 1:
			return 1, nil
		}
		return 0, fmt.Errorf("%v is not 0 or 1", val)
	case string:
		b, err := strconv.ParseBool(val)
		if err != nil {
			return 0, err
		}
		return toBool(b)
	default:
		return 0, fmt.Errorf("cannot use %T as a boolean", v)
	}
}
