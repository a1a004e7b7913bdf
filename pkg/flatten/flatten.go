// Package flatten converts nested JSON documents into single-level records.
//
// Keys are built by joining path segments with "_" (parent "meta" with field
// "lastUpdated" becomes "meta_lastUpdated"); "-" and "." inside segments are
// translated to "_" so keys are safe as column names. Arrays and excepted
// subtrees are never descended into: they are stored as one compact JSON text
// leaf, so list-valued fields never duplicate a record. Empty objects become
// "{}" and empty arrays "[]".
package flatten

import (
	"sort"
	"strings"

	"github.com/ajitpratap0/resttap/pkg/errors"
	"github.com/ajitpratap0/resttap/pkg/jsonvalue"
)

// Separator joins path segments in flattened keys.
const Separator = "_"

var keyReplacer = strings.NewReplacer("-", Separator, ".", Separator)

// Record is a flattened document: every value is a scalar (nil, bool,
// int64, float64, string) or the JSON text of an array / excepted subtree.
type Record map[string]any

// Keys returns the record keys in sorted order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ExceptSet is the set of paths that are serialized instead of descended.
// Entries match either the joined source path ("b_c") or the translated
// output key.
type ExceptSet map[string]struct{}

// NewExceptSet builds an ExceptSet from configuration.
func NewExceptSet(keys []string) ExceptSet {
	set := make(ExceptSet, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

func (s ExceptSet) contains(path string) bool {
	if len(s) == 0 {
		return false
	}
	if _, ok := s[path]; ok {
		return true
	}
	_, ok := s[translate(path)]
	return ok
}

func translate(path string) string {
	return keyReplacer.Replace(path)
}

// Key returns the output key a dotted or underscored source path flattens
// to, e.g. "meta.lastUpdated" becomes "meta_lastUpdated".
func Key(path string) string {
	return translate(path)
}

// Flatten flattens a decoded JSON object. The document must be a JSON
// object (map[string]any); anything else is a data error.
func Flatten(doc any, except ExceptSet) (Record, error) {
	obj, ok := jsonvalue.Normalize(doc).(map[string]any)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeData, "record must be a JSON object, got %s",
			jsonvalue.KindOf(jsonvalue.Normalize(doc)))
	}

	out := make(Record, len(obj))
	if len(obj) == 0 {
		return out, nil
	}
	if err := flattenObject(obj, "", except, out); err != nil {
		return nil, err
	}
	return out, nil
}

// flattenObject visits keys in sorted order, so when distinct paths translate
// to the same key the last one in that order wins on every run.
func flattenObject(obj map[string]any, prefix string, except ExceptSet, out Record) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := obj[k]
		path := k
		if prefix != "" {
			path = prefix + Separator + k
		}

		if except.contains(path) {
			if err := leafJSON(out, path, v); err != nil {
				return err
			}
			continue
		}

		switch jsonvalue.KindOf(v) {
		case jsonvalue.Object:
			child := v.(map[string]any)
			if len(child) == 0 {
				out[translate(path)] = "{}"
				continue
			}
			if err := flattenObject(child, path, except, out); err != nil {
				return err
			}
		case jsonvalue.Array:
			if err := leafJSON(out, path, v); err != nil {
				return err
			}
		case jsonvalue.Invalid:
			return errors.Newf(errors.ErrorTypeData, "unsupported value type %T at %q", v, path)
		default:
			out[translate(path)] = v
		}
	}
	return nil
}

func leafJSON(out Record, path string, v any) error {
	s, err := jsonvalue.Encode(v)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "serialize subtree").WithDetail("path", path)
	}
	out[translate(path)] = s
	return nil
}
