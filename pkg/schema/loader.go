package schema

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/resttap/pkg/errors"
	"github.com/ajitpratap0/resttap/pkg/jsonvalue"
)

// Load turns a configured schema value into a Schema, bypassing inference.
//
// The value may be a decoded object, inline JSON text, or a path-like string
// (a file:// URL, a string containing a path separator, or one ending in
// .json, .yaml or .yml) naming a schema document. Every failure is a schema
// error.
func Load(value any) (*Schema, error) {
	var doc any
	switch v := value.(type) {
	case nil:
		return nil, errors.New(errors.ErrorTypeSchema, "schema value is empty")
	case string:
		var err error
		if isPathLike(v) {
			doc, err = loadFile(v)
		} else {
			doc, err = jsonvalue.Decode([]byte(v))
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeSchema, "load supplied schema")
		}
	case []byte:
		var err error
		doc, err = jsonvalue.Decode(v)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeSchema, "load supplied schema")
		}
	default:
		doc = jsonvalue.Normalize(v)
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeSchema, "schema must be a JSON object, got %s", jsonvalue.KindOf(doc))
	}

	s := &Schema{
		fields:   fieldsFromDocument(obj),
		document: obj,
		supplied: true,
	}
	if err := s.Compile(); err != nil {
		return nil, err
	}
	return s, nil
}

func isPathLike(s string) bool {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		return false
	}
	if strings.HasPrefix(s, "file://") || strings.ContainsRune(s, os.PathSeparator) || strings.Contains(s, "/") {
		return true
	}
	switch strings.ToLower(filepath.Ext(s)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

func loadFile(path string) (any, error) {
	path = strings.TrimPrefix(strings.TrimSpace(path), "file://")

	data, err := os.ReadFile(path) //nolint:gosec // schema path comes from operator configuration
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return jsonvalue.Normalize(v), nil
	default:
		return jsonvalue.Decode(data)
	}
}

// fieldsFromDocument reads top-level "properties" of a supplied schema.
// Unknown shapes are skipped; the document itself stays authoritative.
func fieldsFromDocument(doc map[string]any) map[string]Field {
	fields := make(map[string]Field)
	props, _ := doc["properties"].(map[string]any)
	for name, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		f := Field{Name: name}
		switch t := prop["type"].(type) {
		case string:
			f.Type = FieldType(t)
		case []any:
			for _, e := range t {
				s, _ := e.(string)
				if s == string(TypeNull) {
					f.Nullable = true
				} else if f.Type == "" {
					f.Type = FieldType(s)
				}
			}
		}
		if f.Type == "" {
			f.Type = TypeString
		}
		fields[name] = f
	}
	return fields
}
