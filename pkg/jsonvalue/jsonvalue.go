// Package jsonvalue represents parsed API responses as a closed set of JSON
// kinds. Every decoded tree only ever contains nil, bool, int64, float64,
// string, []any and map[string]any, so consumers can switch on Kind
// exhaustively instead of probing arbitrary Go types.
package jsonvalue

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	gojson "github.com/goccy/go-json"
)

// Kind tags a normalized JSON node.
type Kind int

const (
	Invalid Kind = iota
	Null
	Bool
	Integer
	Number
	String
	Array
	Object
)

var kindNames = [...]string{"invalid", "null", "boolean", "integer", "number", "string", "array", "object"}

// String returns the JSON Schema name of the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "invalid"
}

// IsContainer reports whether the kind holds nested values.
func (k Kind) IsContainer() bool {
	return k == Array || k == Object
}

// KindOf classifies a normalized value.
func KindOf(v any) Kind {
	switch v.(type) {
	case nil:
		return Null
	case bool:
		return Bool
	case int64:
		return Integer
	case float64:
		return Number
	case string:
		return String
	case []any:
		return Array
	case map[string]any:
		return Object
	default:
		return Invalid
	}
}

type number interface {
	Int64() (int64, error)
	Float64() (float64, error)
	String() string
}

// Decode parses JSON text into a normalized tree.
func Decode(data []byte) (any, error) {
	dec := gojson.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return Normalize(v), nil
}

// Normalize converts a tree produced by any JSON decoder (or built by hand)
// into the normalized representation. Unknown types are kept as-is and
// classify as Invalid.
func Normalize(v any) any {
	switch t := v.(type) {
	case nil, bool, int64, string:
		return t
	case float64:
		return normalizeFloat(t)
	case float32:
		return normalizeFloat(float64(t))
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case uint32:
		return int64(t)
	case number:
		if i, err := t.Int64(); err == nil && !strings.ContainsAny(t.String(), ".eE") {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Normalize(e)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = e
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	default:
		return v
	}
}

// normalizeFloat keeps floats as float64. Integral values decoded through a
// float-only decoder stay floats: the source said "1.0" or we cannot tell.
func normalizeFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

// Encode renders v as compact JSON with sorted object keys.
func Encode(v any) (string, error) {
	var buf bytes.Buffer
	enc := gojson.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("encode json: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// Truthy implements the loose "has more" semantics used by page-number
// pagination: nil, false, zero, empty strings, "false", "0" and empty
// containers are false.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case int64:
		return t != 0
	case float64:
		return t != 0
	case string:
		s := strings.TrimSpace(strings.ToLower(t))
		return s != "" && s != "false" && s != "0"
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return false
	}
}

// AsInt64 converts integer-like values, including numeric strings.
func AsInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case float64:
		if t == math.Trunc(t) {
			return int64(t), true
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

// AsString renders scalars as strings for use in query parameters.
func AsString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		s, err := Encode(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return s
	}
}
