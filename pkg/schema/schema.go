package schema

import (
	"strings"

	gojson "github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ajitpratap0/resttap/pkg/errors"
	"github.com/ajitpratap0/resttap/pkg/jsonvalue"
)

// Schema is a stream schema. Inferred schemas keep their per-field view;
// supplied schemas are carried verbatim and expose whatever fields their
// "properties" declare.
type Schema struct {
	fields   map[string]Field
	document map[string]any
	supplied bool
}

func newInferred(fields map[string]Field) *Schema {
	properties := make(map[string]any, len(fields))
	for name, f := range fields {
		properties[name] = propertyFor(f)
	}
	return &Schema{
		fields: fields,
		document: map[string]any{
			"type":       "object",
			"properties": properties,
		},
	}
}

func propertyFor(f Field) map[string]any {
	if f.Type == TypeNull {
		return map[string]any{"type": string(TypeNull)}
	}
	if f.Nullable {
		return map[string]any{"type": []any{string(f.Type), string(TypeNull)}}
	}
	return map[string]any{"type": string(f.Type)}
}

// Supplied reports whether the schema came from configuration rather than
// inference.
func (s *Schema) Supplied() bool {
	return s.supplied
}

// Field looks up a single field by flattened key.
func (s *Schema) Field(name string) (Field, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// Fields returns all known fields sorted by name.
func (s *Schema) Fields() []Field {
	return sortedFields(s.fields)
}

// Document returns the JSON Schema document. Callers must not modify it.
func (s *Schema) Document() map[string]any {
	return s.document
}

// MarshalJSON renders the JSON Schema document.
func (s *Schema) MarshalJSON() ([]byte, error) {
	return gojson.Marshal(s.document)
}

// Compile checks that the document is a well-formed JSON Schema.
func (s *Schema) Compile() error {
	text, err := jsonvalue.Encode(s.document)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSchema, "encode schema document")
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(text))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSchema, "parse schema document")
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("stream.json", doc); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSchema, "add schema resource")
	}
	if _, err := compiler.Compile("stream.json"); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSchema, "compile schema")
	}
	return nil
}

// Raw builds the schema used in raw passthrough mode: the unflattened
// document under rawKey plus the flattened key fields copied beside it.
func Raw(rawKey string, keys []string) *Schema {
	fields := make(map[string]Field, len(keys))
	properties := make(map[string]any, len(keys)+1)
	for _, k := range keys {
		properties[k] = map[string]any{}
	}
	properties[rawKey] = map[string]any{"type": "object"}

	return &Schema{
		fields: fields,
		document: map[string]any{
			"type":       "object",
			"properties": properties,
		},
	}
}
