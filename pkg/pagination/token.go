package pagination

import (
	"net/url"
	"sort"
	"strings"

	"github.com/ajitpratap0/resttap/pkg/config"
	"github.com/ajitpratap0/resttap/pkg/errors"
	"github.com/ajitpratap0/resttap/pkg/jsonpath"
	"github.com/ajitpratap0/resttap/pkg/jsonvalue"
)

// tokenSource reads the next-page token from a response. nil means there
// is no next page.
type tokenSource func(resp *Response) any

// shaper turns a token into the next request.
type shaper func(token any) (*RequestState, error)

// tokenStep covers every style where the response hands over an opaque
// next-page token: a body value, a header, a Link relation or a HATEOAS
// link.
type tokenStep struct {
	source      tokenSource
	shape       shaper
	startParams map[string]any
	stopOnEmpty bool
}

func newTokenStep(cfg config.PaginationConfig, src tokenSource, shape shaper) *tokenStep {
	ts := &tokenStep{source: src, shape: shape}
	if cfg.ResponseStyle.Canonical() == config.ResponseOffset && cfg.PageSize > 0 {
		ts.startParams = map[string]any{cfg.LimitParam: int64(cfg.PageSize)}
	}
	return ts
}

func (s *tokenStep) start() RequestState {
	return RequestState{Params: copyParams(s.startParams)}
}

func (s *tokenStep) next(resp *Response, prev RequestState) (*RequestState, error) {
	if s.stopOnEmpty && resp.Records == 0 {
		return nil, nil
	}

	token := s.source(resp)
	if isEmptyToken(token) {
		return nil, nil
	}
	if prev.Token != nil && jsonvalue.AsString(prev.Token) == jsonvalue.AsString(token) {
		return nil, errors.Newf(errors.ErrorTypeData, "pagination loop: next page token %q repeats",
			jsonvalue.AsString(token))
	}

	next, err := s.shape(token)
	if err != nil {
		return nil, err
	}
	next.Token = token
	return next, nil
}

func isEmptyToken(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case bool:
		return !t
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

// responseSource picks the token source of jsonpath_paginator from the
// response style.
func responseSource(cfg config.PaginationConfig) (tokenSource, error) {
	switch cfg.ResponseStyle.Canonical() {
	case config.ResponseOffset:
		loc, err := newOffsetLocator(cfg)
		if err != nil {
			return nil, err
		}
		return loc.nextOffset, nil
	case config.ResponseHeaderLink:
		return linkSource, nil
	default:
		return pathSource(cfg.NextPageTokenPath, cfg.NextPageHeader)
	}
}

// pathSource reads the body at expr, falling back to header when the body
// carries nothing.
func pathSource(expr, header string) (tokenSource, error) {
	p, err := compileOptional(expr)
	if err != nil {
		return nil, err
	}
	fromHeader := headerSource(header)
	return func(resp *Response) any {
		if p != nil {
			if v, ok := p.First(resp.Body); ok && !isEmptyToken(v) {
				return v
			}
		}
		return fromHeader(resp)
	}, nil
}

func headerSource(name string) tokenSource {
	return func(resp *Response) any {
		if name == "" || resp.Header == nil {
			return nil
		}
		if v := strings.TrimSpace(resp.Header.Get(name)); v != "" {
			return v
		}
		return nil
	}
}

func linkSource(resp *Response) any {
	if resp.Header == nil {
		return nil
	}
	if next, ok := NextLink(resp.Header.Values("Link")); ok {
		return next
	}
	return nil
}

// responseShaper shapes tokens according to the response style.
func responseShaper(cfg config.PaginationConfig) shaper {
	switch cfg.ResponseStyle.Canonical() {
	case config.ResponseOffset:
		return func(token any) (*RequestState, error) {
			offset, _ := jsonvalue.AsInt64(token)
			params := map[string]any{cfg.OffsetParam: token}
			if cfg.PageSize > 0 {
				params[cfg.LimitParam] = int64(cfg.PageSize)
			}
			return &RequestState{Params: params, Offset: int(offset)}, nil
		}
	case config.ResponseHeaderLink:
		return shapeLinkQuery
	case config.ResponseHATEOAS:
		return shapeHATEOAS
	default:
		return func(token any) (*RequestState, error) {
			return &RequestState{Params: map[string]any{cfg.NextPageParam: token}}, nil
		}
	}
}

// shapeLinkQuery uses the query string of a next link as the next params.
func shapeLinkQuery(token any) (*RequestState, error) {
	u, err := url.Parse(jsonvalue.AsString(token))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "parse next link")
	}
	return &RequestState{Params: queryParams(u.Query())}, nil
}

// shapeHATEOAS follows a next link embedded in the body. An absolute URL
// replaces the request URL, a relative path replaces the stream path, and a
// bare query string only changes params.
func shapeHATEOAS(token any) (*RequestState, error) {
	raw := strings.TrimSpace(jsonvalue.AsString(token))
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "parse next link").WithDetail("link", raw)
	}

	switch {
	case u.Scheme != "" && u.Host != "":
		base := url.URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path, RawPath: u.RawPath}
		return &RequestState{URL: base.String(), Params: queryParams(u.Query())}, nil
	case u.RawQuery == "" && strings.Contains(u.Path, "="):
		q, err := url.ParseQuery(strings.TrimPrefix(raw, "?"))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "parse next link query").WithDetail("link", raw)
		}
		return &RequestState{Params: queryParams(q)}, nil
	case u.Path == "":
		return &RequestState{Params: queryParams(u.Query())}, nil
	default:
		return &RequestState{Path: u.Path, Params: queryParams(u.Query())}, nil
	}
}

func queryParams(q url.Values) map[string]any {
	params := make(map[string]any, len(q))
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		vs := q[k]
		if len(vs) == 1 {
			params[k] = vs[0]
			continue
		}
		list := make([]any, len(vs))
		for i, v := range vs {
			list[i] = v
		}
		params[k] = list
	}
	return params
}

func copyParams(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// offsetLocator reads the offset/limit/total object of offset-style APIs.
type offsetLocator struct {
	path      *jsonpath.Path
	offsetKey string
	limitKey  string
	totalKey  string
}

type offsetInfo struct {
	offset, limit, total          int64
	hasOffset, hasLimit, hasTotal bool
}

func newOffsetLocator(cfg config.PaginationConfig) (*offsetLocator, error) {
	expr := cfg.OffsetPath
	if expr == "" {
		expr = config.DefaultOffsetPath
	}
	p, err := jsonpath.Compile(expr)
	if err != nil {
		return nil, err
	}
	return &offsetLocator{
		path:      p,
		offsetKey: cfg.OffsetParam,
		limitKey:  cfg.LimitParam,
		totalKey:  cfg.TotalLimitParam,
	}, nil
}

func (l *offsetLocator) locate(body any) (offsetInfo, bool) {
	v, ok := l.path.First(body)
	if !ok {
		return offsetInfo{}, false
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return offsetInfo{}, false
	}

	var info offsetInfo
	info.offset, info.hasOffset = jsonvalue.AsInt64(obj[l.offsetKey])
	info.limit, info.hasLimit = jsonvalue.AsInt64(obj[l.limitKey])
	info.total, info.hasTotal = jsonvalue.AsInt64(obj[l.totalKey])
	return info, true
}

// nextOffset is the token source of the offset response style: body offset
// plus body limit, while that stays below total.
func (l *offsetLocator) nextOffset(resp *Response) any {
	info, ok := l.locate(resp.Body)
	if !ok || !info.hasOffset || !info.hasLimit {
		return nil
	}
	next := info.offset + info.limit
	if info.hasTotal && next >= info.total {
		return nil
	}
	return next
}
