package database

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Row is one result row keyed by column name. Values are normalized to
// string, int64, float64 or nil regardless of backend.
type Row map[string]any

// String returns the column as a string ("" for NULL)
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// NullString returns the column as a string pointer (nil for NULL or empty)
func (r Row) NullString(col string) *string {
	s := r.String(col)
	if s == "" {
		return nil
	}
	return &s
}

// Int64 returns the column as an integer (0 for NULL or non-numeric)
func (r Row) Int64(col string) int64 {
	switch v := r[col].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}

// Float64 returns the column as a float (0 for NULL or non-numeric)
func (r Row) Float64(col string) float64 {
	f, _ := toFloat(r[col])
	return f
}

// Clone returns a shallow copy
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// normalizeValue maps driver and JSON values onto the Row value set
func normalizeValue(v any) any {
	switch x := v.(type) {
	case nil, string, int64, float64:
		return x
	case []byte:
		return string(x)
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case uint32:
		return int64(x)
	case float32:
		return float64(x)
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// coerce converts a normalized value to the column's storage class the way
// SQLite type affinity would for the values this layer writes.
func coerce(col Column, v any) any {
	v = normalizeValue(v)
	if v == nil {
		return nil
	}
	switch col.Type {
	case TypeInteger:
		switch x := v.(type) {
		case float64:
			if x == math.Trunc(x) {
				return int64(x)
			}
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
				return n
			}
		}
	case TypeReal:
		switch x := v.(type) {
		case int64:
			return float64(x)
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
				return f
			}
		}
	case TypeText:
		switch x := v.(type) {
		case int64:
			return strconv.FormatInt(x, 10)
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64)
		}
	}
	return v
}

func toFloat(v any) (float64, bool) {
	switch x := normalizeValue(v).(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}

// valuesEqual implements SQL "=" for normalized values. NULL never matches.
func valuesEqual(a, b any) bool {
	a, b = normalizeValue(a), normalizeValue(b)
	if a == nil || b == nil {
		return false
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// foldEqual implements LOWER(TRIM(a)) = LOWER(TRIM(b))
func foldEqual(a, b any) bool {
	a, b = normalizeValue(a), normalizeValue(b)
	if a == nil || b == nil {
		return false
	}
	return foldString(fmt.Sprint(a)) == foldString(fmt.Sprint(b))
}

func foldString(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// compareValues orders values NULL first, then numbers, then text.
func compareValues(a, b any) int {
	a, b = normalizeValue(a), normalizeValue(b)
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	switch {
	case aNum && bNum:
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case aNum:
		return -1
	case bNum:
		return 1
	}

	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
