// Package schema derives a consistent JSON Schema from a sample of flattened
// records, or loads a schema supplied in configuration.
package schema

import (
	"sort"

	"github.com/ajitpratap0/resttap/pkg/flatten"
	"github.com/ajitpratap0/resttap/pkg/jsonvalue"
)

// FieldType is the JSON Schema type of a flattened field.
type FieldType string

const (
	TypeBoolean FieldType = "boolean"
	TypeInteger FieldType = "integer"
	TypeNumber  FieldType = "number"
	TypeString  FieldType = "string"
	// TypeNull is only used for fields that were never observed with a
	// non-null value.
	TypeNull FieldType = "null"
)

// Field is one property of an inferred schema.
type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Nullable bool      `json:"nullable"`
}

// observation accumulates what the sample says about one key.
type observation struct {
	kinds   map[jsonvalue.Kind]int
	nulls   int
	present int
}

// Infer computes a schema covering every key observed in sample.
//
// Reconciliation rules:
//   - integer and number together widen to number
//   - a null value, or absence from any sampled record, marks the field nullable
//   - any other mix of non-null kinds (boolean with numbers, strings with
//     anything else) falls back to string
//   - arrays and excepted subtrees are already JSON text, so they are strings
func Infer(sample []flatten.Record) *Schema {
	obs := make(map[string]*observation)
	for _, rec := range sample {
		for k, v := range rec {
			o, ok := obs[k]
			if !ok {
				o = &observation{kinds: make(map[jsonvalue.Kind]int)}
				obs[k] = o
			}
			o.present++

			kind := jsonvalue.KindOf(jsonvalue.Normalize(v))
			switch kind {
			case jsonvalue.Null:
				o.nulls++
			case jsonvalue.Array, jsonvalue.Object, jsonvalue.Invalid:
				// Flattened records should not hold containers; treat
				// anything unexpected as its serialized form.
				o.kinds[jsonvalue.String]++
			default:
				o.kinds[kind]++
			}
		}
	}

	fields := make(map[string]Field, len(obs))
	for name, o := range obs {
		fields[name] = Field{
			Name:     name,
			Type:     reconcile(o.kinds),
			Nullable: o.nulls > 0 || o.present < len(sample),
		}
	}

	return newInferred(fields)
}

func reconcile(kinds map[jsonvalue.Kind]int) FieldType {
	if len(kinds) == 0 {
		return TypeNull
	}
	if len(kinds) == 1 {
		for k := range kinds {
			return kindType(k)
		}
	}
	if len(kinds) == 2 && kinds[jsonvalue.Integer] > 0 && kinds[jsonvalue.Number] > 0 {
		return TypeNumber
	}
	return TypeString
}

func kindType(k jsonvalue.Kind) FieldType {
	switch k {
	case jsonvalue.Bool:
		return TypeBoolean
	case jsonvalue.Integer:
		return TypeInteger
	case jsonvalue.Number:
		return TypeNumber
	default:
		return TypeString
	}
}

func sortedFields(fields map[string]Field) []Field {
	out := make([]Field, 0, len(fields))
	for _, f := range fields {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
