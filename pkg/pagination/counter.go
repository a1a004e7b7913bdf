package pagination

import (
	"github.com/ajitpratap0/resttap/pkg/config"
	"github.com/ajitpratap0/resttap/pkg/errors"
	"github.com/ajitpratap0/resttap/pkg/jsonpath"
	"github.com/ajitpratap0/resttap/pkg/jsonvalue"
)

// offsetStep advances by the offset and limit the API reports under the
// offset locator, stopping at the reported total.
type offsetStep struct {
	cfg config.PaginationConfig
	loc *offsetLocator
}

func newOffsetStep(cfg config.PaginationConfig) (*offsetStep, error) {
	if cfg.PageSize <= 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "offset_paginator requires pagination_page_size").
			WithDetail("style", string(config.StyleOffset))
	}
	loc, err := newOffsetLocator(cfg)
	if err != nil {
		return nil, err
	}
	return &offsetStep{cfg: cfg, loc: loc}, nil
}

func (s *offsetStep) start() RequestState {
	return offsetState(s.cfg, int64(s.cfg.InitialOffset))
}

func (s *offsetStep) next(resp *Response, prev RequestState) (*RequestState, error) {
	if resp.Records == 0 {
		return nil, nil
	}
	info, ok := s.loc.locate(resp.Body)
	if !ok {
		return nil, nil
	}

	next := int64(prev.Offset) + int64(s.cfg.PageSize)
	if info.hasOffset && info.hasLimit {
		next = info.offset + info.limit
	}
	if info.hasTotal && next >= info.total {
		return nil, nil
	}

	st := offsetState(s.cfg, next)
	return &st, nil
}

// simpleOffsetStep advances by the page size until a page comes back
// empty.
type simpleOffsetStep struct {
	cfg config.PaginationConfig
}

func newSimpleOffsetStep(cfg config.PaginationConfig) (*simpleOffsetStep, error) {
	if cfg.PageSize <= 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "simple_offset_paginator requires pagination_page_size").
			WithDetail("style", string(config.StyleSimpleOffset))
	}
	return &simpleOffsetStep{cfg: cfg}, nil
}

func (s *simpleOffsetStep) start() RequestState {
	return offsetState(s.cfg, int64(s.cfg.InitialOffset))
}

func (s *simpleOffsetStep) next(resp *Response, prev RequestState) (*RequestState, error) {
	if resp.Records == 0 {
		return nil, nil
	}
	st := offsetState(s.cfg, int64(prev.Offset)+int64(s.cfg.PageSize))
	return &st, nil
}

func offsetState(cfg config.PaginationConfig, offset int64) RequestState {
	return RequestState{
		Offset: int(offset),
		Params: map[string]any{
			cfg.OffsetParam: offset,
			cfg.LimitParam:  int64(cfg.PageSize),
		},
	}
}

// pageNumberStep requests increasing page numbers while the has-more field
// of the last response is truthy.
type pageNumberStep struct {
	cfg     config.PaginationConfig
	hasMore *jsonpath.Path
}

func newPageNumberStep(cfg config.PaginationConfig) (*pageNumberStep, error) {
	expr := cfg.HasMorePath
	if expr == "" {
		expr = config.DefaultHasMorePath
	}
	p, err := jsonpath.Compile(expr)
	if err != nil {
		return nil, err
	}
	return &pageNumberStep{cfg: cfg, hasMore: p}, nil
}

func (s *pageNumberStep) start() RequestState {
	page := s.cfg.InitialPage
	if page <= 0 {
		page = config.DefaultInitialPage
	}
	return s.state(page)
}

func (s *pageNumberStep) next(resp *Response, prev RequestState) (*RequestState, error) {
	v, ok := s.hasMore.First(resp.Body)
	if !ok || !jsonvalue.Truthy(v) {
		return nil, nil
	}
	st := s.state(prev.Page + 1)
	return &st, nil
}

func (s *pageNumberStep) state(page int) RequestState {
	params := map[string]any{s.cfg.NextPageParam: int64(page)}
	if s.cfg.PageSize > 0 {
		params[s.cfg.LimitParam] = int64(s.cfg.PageSize)
	}
	return RequestState{Page: page, Params: params}
}
