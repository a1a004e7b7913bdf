// Package jsonpath evaluates JSONPath locators (records_path,
// next_page_token_path, pagination overrides) against decoded response
// bodies. Filters and slices are supported, for example
// `$.link[?(@.relation=='next')].url` and `$.hits.hits[-1:].sort`.
package jsonpath

import (
	"strings"

	"github.com/ohler55/ojg/jp"

	"github.com/ajitpratap0/resttap/pkg/errors"
)

// Path is a compiled JSONPath expression. It is immutable and safe for
// concurrent use.
type Path struct {
	raw  string
	expr jp.Expr
}

// Compile parses expr. A bare key such as "pagination" is treated as
// "$.pagination". Malformed expressions are configuration errors.
func Compile(expr string) (*Path, error) {
	normalized := normalize(expr)
	if normalized == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "empty JSONPath expression")
	}

	x, err := jp.ParseString(normalized)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "malformed JSONPath expression").
			WithDetail("expression", expr)
	}
	return &Path{raw: expr, expr: x}, nil
}

// MustCompile is like Compile but panics on error. Intended for constants.
func MustCompile(expr string) *Path {
	p, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return p
}

func normalize(expr string) string {
	expr = strings.TrimSpace(expr)
	switch {
	case expr == "":
		return ""
	case strings.HasPrefix(expr, "$"), strings.HasPrefix(expr, "@"):
		return expr
	case strings.HasPrefix(expr, "."), strings.HasPrefix(expr, "["):
		return "$" + expr
	default:
		return "$." + expr
	}
}

// String returns the expression as written in configuration.
func (p *Path) String() string {
	return p.raw
}

// All returns every match in document order.
func (p *Path) All(doc any) []any {
	if doc == nil {
		return nil
	}
	return p.expr.Get(doc)
}

// First returns the first match. ok is false when nothing matched.
func (p *Path) First(doc any) (any, bool) {
	matches := p.All(doc)
	if len(matches) == 0 {
		return nil, false
	}
	return matches[0], true
}
