package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ToInt64 converts a JSON scalar to an int64, returning nil when the value
// cannot be interpreted as an integer. Booleans are rejected so that a
// mis-typed flag never masquerades as an id.
func ToInt64(value any) *int64 {
	switch v := value.(type) {
	case nil, bool:
		return nil
	case int:
		n := int64(v)
		return &n
	case int32:
		n := int64(v)
		return &n
	case int64:
		return &v
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		n := int64(v)
		return &n
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return &n
		}
		if f, err := v.Float64(); err == nil {
			n := int64(f)
			return &n
		}
		return nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return &n
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			n := int64(f)
			return &n
		}
		return nil
	default:
		return nil
	}
}

// ToFloat64 converts a JSON scalar to a float64, returning nil when the
// value is not numeric
func ToFloat64(value any) *float64 {
	switch v := value.(type) {
	case nil, bool:
		return nil
	case int:
		f := float64(v)
		return &f
	case int64:
		f := float64(v)
		return &f
	case float64:
		return &v
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return &f
		}
		return nil
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return &f
		}
		return nil
	default:
		return nil
	}
}

// ToBool converts a JSON scalar to a bool; string forms accept true/1/yes
func ToBool(value any) *bool {
	switch v := value.(type) {
	case nil:
		return nil
	case bool:
		return &v
	case string:
		b := false
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes":
			b = true
		}
		return &b
	case json.Number:
		b := v.String() != "0"
		return &b
	case float64:
		b := v != 0
		return &b
	default:
		return nil
	}
}

// ToString renders a scalar as its string form; composites are JSON-encoded
func ToString(value any) *string {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		return &v
	case json.Number:
		s := v.String()
		return &s
	case []any, map[string]any:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		s := string(raw)
		return &s
	default:
		s := fmt.Sprint(v)
		return &s
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ToTimestampMillis parses a timestamp value to epoch milliseconds
func ToTimestampMillis(value any) *int64 {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				ms := t.UTC().UnixMilli()
				return &ms
			}
		}
		return nil
	case time.Time:
		ms := v.UTC().UnixMilli()
		return &ms
	default:
		// Numeric timestamps are assumed to already be epoch milliseconds
		return ToInt64(value)
	}
}

// NormalizeJSONish flattens composite values to their JSON text and maps
// textual nulls to nil; plain scalars pass through unchanged
func NormalizeJSONish(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case []any, map[string]any:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return string(raw)
	case string:
		s := strings.TrimSpace(v)
		if s == "null" || s == "None" {
			return nil
		}
		return value
	default:
		return value
	}
}

// ParseJSONish returns the structured form of a value that may arrive either
// as a composite or as its JSON text; nil when neither applies
func ParseJSONish(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case []any, map[string]any:
		return v
	case string:
		s := strings.TrimSpace(v)
		if s == "" || s == "null" || s == "None" {
			return nil
		}
		if s[0] != '[' && s[0] != '{' {
			return nil
		}
		var out any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil
		}
		return out
	default:
		return nil
	}
}

// CoerceValue converts a raw value to the Go representation the parquet
// writer expects for the given logical type; nil stands for a null cell
func CoerceValue(value any, logical LogicalType) any {
	switch logical {
	case TypeBigint:
		if n := ToInt64(value); n != nil {
			return *n
		}
	case TypeInt:
		if n := ToInt64(value); n != nil {
			if *n >= math.MinInt32 && *n <= math.MaxInt32 {
				return int32(*n)
			}
		}
	case TypeDouble:
		if f := ToFloat64(value); f != nil {
			return *f
		}
	case TypeBoolean:
		if b := ToBool(value); b != nil {
			return *b
		}
	case TypeTimestamp:
		if ms := ToTimestampMillis(value); ms != nil {
			return *ms
		}
	case TypeString:
		if s := ToString(value); s != nil {
			return *s
		}
	}
	return nil
}

// InferType derives a logical type from a sample value the way payload
// inspection would: integral numbers become bigint, everything composite
// collapses to its JSON text
func InferType(value any) LogicalType {
	switch v := value.(type) {
	case bool:
		return TypeBoolean
	case json.Number:
		if _, err := v.Int64(); err == nil {
			return TypeBigint
		}
		return TypeDouble
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return TypeBigint
		}
		return TypeDouble
	case int, int32, int64:
		return TypeBigint
	default:
		return TypeString
	}
}
