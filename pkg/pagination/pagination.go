// Package pagination implements the per-style state machines that decide
// the next request of a stream, or that the stream is done.
//
// Every paginator is wrapped in a Pager that counts pages and records and
// enforces pagination_results_limit. Hitting the cap is a normal stop for
// simple_offset_paginator and restapi_header_link_paginator (reported as
// ErrResultsLimit, like io.EOF) and a pagination_exhausted error for every
// other style.
package pagination

import (
	stderrors "errors"
	"net/http"

	"github.com/ajitpratap0/resttap/pkg/config"
	"github.com/ajitpratap0/resttap/pkg/errors"
	"github.com/ajitpratap0/resttap/pkg/jsonpath"
)

// ErrResultsLimit is returned with a nil state when the results cap stops a
// style for which that is expected. It is not a failure.
var ErrResultsLimit = stderrors.New("pagination results limit reached")

// Response is what a paginator sees of a fetched page.
type Response struct {
	Header http.Header
	// Body is the decoded document (jsonvalue tree).
	Body any
	// Records is the number of records extracted from this page.
	Records int
}

// RequestState describes the next request of a stream.
type RequestState struct {
	// Params are layered over the stream's base params.
	Params map[string]any
	// Path replaces the stream path when set.
	Path string
	// URL replaces api_url + path when set.
	URL string

	Token  any
	Offset int
	Page   int

	// Records and Pages count what was fetched before this request.
	Records int
	Pages   int
	First   bool
}

// Paginator drives one stream's page loop. Next returns nil when the
// stream is done.
type Paginator interface {
	Style() config.RequestStyle
	Start() RequestState
	Next(resp *Response, prev RequestState) (*RequestState, error)
}

// step is implemented by each style. It only decides the style-specific
// parts of the next state.
type step interface {
	start() RequestState
	next(resp *Response, prev RequestState) (*RequestState, error)
}

// Pager wraps a style with page accounting and the results cap.
type Pager struct {
	style        config.RequestStyle
	step         step
	limit        int
	expectedStop bool
}

var _ Paginator = (*Pager)(nil)

// New builds the paginator for cfg.RequestStyle. pagination config must
// already have defaults applied.
func New(cfg config.PaginationConfig) (*Pager, error) {
	style := cfg.RequestStyle.Canonical()
	s, err := newStep(style, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.ResultsLimit < 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "pagination_results_limit cannot be negative")
	}
	return &Pager{
		style:        style,
		step:         s,
		limit:        cfg.ResultsLimit,
		expectedStop: style == config.StyleSimpleOffset || style == config.StyleRestAPIHeaderLink,
	}, nil
}

func newStep(style config.RequestStyle, cfg config.PaginationConfig) (step, error) {
	switch style {
	case config.StyleJSONPath:
		src, err := responseSource(cfg)
		if err != nil {
			return nil, err
		}
		return newTokenStep(cfg, src, responseShaper(cfg)), nil
	case config.StyleSimpleHeader:
		return newTokenStep(cfg, headerSource(cfg.NextPageHeader), responseShaper(cfg)), nil
	case config.StyleHeaderLink:
		return newTokenStep(cfg, linkSource, shapeLinkQuery), nil
	case config.StyleRestAPIHeaderLink:
		ts := newTokenStep(cfg, linkSource, shapeLinkQuery)
		ts.stopOnEmpty = true
		return ts, nil
	case config.StyleHATEOAS:
		src, err := pathSource(cfg.NextPageTokenPath, cfg.NextPageHeader)
		if err != nil {
			return nil, err
		}
		return newTokenStep(cfg, src, shapeHATEOAS), nil
	case config.StyleOffset:
		return newOffsetStep(cfg)
	case config.StyleSimpleOffset:
		return newSimpleOffsetStep(cfg)
	case config.StylePageNumber:
		return newPageNumberStep(cfg)
	case config.StyleSinglePage:
		return singlePage{}, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported pagination style %q", cfg.RequestStyle).
			WithDetail("style", string(cfg.RequestStyle))
	}
}

// Style returns the canonical request style.
func (p *Pager) Style() config.RequestStyle {
	return p.style
}

// Start returns the state of the first request.
func (p *Pager) Start() RequestState {
	s := p.step.start()
	s.First = true
	return s
}

// Next accounts for resp and asks the style for the following request.
// Natural termination wins over the results cap.
func (p *Pager) Next(resp *Response, prev RequestState) (*RequestState, error) {
	if resp == nil {
		resp = &Response{}
	}
	records := prev.Records + resp.Records

	next, err := p.step.next(resp, prev)
	if err != nil {
		return nil, p.annotate(err)
	}
	if next == nil {
		return nil, nil
	}

	if p.limit > 0 && records >= p.limit {
		if p.expectedStop {
			return nil, ErrResultsLimit
		}
		return nil, errors.Newf(errors.ErrorTypePaginationExhausted,
			"results limit %d reached with more pages available", p.limit).
			WithDetail("style", string(p.style)).
			WithDetail("records", records)
	}

	next.Records = records
	next.Pages = prev.Pages + 1
	next.First = false
	return next, nil
}

func (p *Pager) annotate(err error) error {
	var e *errors.Error
	if errors.As(err, &e) {
		if _, ok := e.Detail("style"); !ok {
			e.WithDetail("style", string(p.style))
		}
	}
	return err
}

// singlePage never requests a second page.
type singlePage struct{}

func (singlePage) start() RequestState { return RequestState{} }

func (singlePage) next(*Response, RequestState) (*RequestState, error) { return nil, nil }

func compileOptional(expr string) (*jsonpath.Path, error) {
	if expr == "" {
		return nil, nil
	}
	return jsonpath.Compile(expr)
}
