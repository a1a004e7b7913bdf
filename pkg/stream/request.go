package stream

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/resttap/pkg/auth"
	"github.com/ajitpratap0/resttap/pkg/clients"
	"github.com/ajitpratap0/resttap/pkg/errors"
	"github.com/ajitpratap0/resttap/pkg/jsonvalue"
	"github.com/ajitpratap0/resttap/pkg/logger"
	"github.com/ajitpratap0/resttap/pkg/observability"
	"github.com/ajitpratap0/resttap/pkg/pagination"
)

// LastRunDate is the placeholder in source_search_query replaced by the
// last replication value.
const LastRunDate = "$last_run_date"

// page is one fetched and decoded response.
type page struct {
	header http.Header
	doc    any
}

// SearchValue renders the incremental search parameter for a run: the
// prior replication value, or start_date when there is none, prefixed with
// search_prefix and substituted into source_search_query when one is set.
// ok is false when the stream does not search.
func (e *Executor) SearchValue(prior any) (string, bool) {
	if !e.cfg.Searchable() {
		return "", false
	}
	last := jsonvalue.AsString(prior)
	if last == "" {
		last = e.cfg.StartDate
	}
	if last == "" {
		return "", false
	}
	value := e.cfg.SearchPrefix + last
	if e.cfg.SourceSearchQuery != "" {
		value = strings.ReplaceAll(e.cfg.SourceSearchQuery, LastRunDate, value)
	}
	return value, true
}

// baseParams are the stream params plus the search parameter and, with
// replication_sort, the ordering params. They are computed once per run.
func (e *Executor) baseParams(prior any) map[string]any {
	params := make(map[string]any, len(e.cfg.Params)+3)
	if e.cfg.ReplicationSort && e.cfg.ReplicationKey != "" {
		params["sort"] = "asc"
		params["order_by"] = e.cfg.ReplicationKey
	}
	for k, v := range e.cfg.Params {
		params[k] = v
	}
	if v, ok := e.SearchValue(prior); ok {
		params[e.cfg.SourceSearchField] = v
	}
	return params
}

// buildRequest layers the paginator state over the base params and places
// them in the query string, or in a JSON body when
// use_request_body_not_params is set.
func (e *Executor) buildRequest(base map[string]any, state pagination.RequestState) (*clients.Request, error) {
	params := make(map[string]any, len(base)+len(state.Params))
	for k, v := range base {
		params[k] = v
	}
	for k, v := range state.Params {
		params[k] = v
	}

	target := state.URL
	if target == "" {
		path := e.cfg.Path
		if state.Path != "" {
			path = state.Path
		}
		target = joinURL(e.cfg.APIURL, path)
	}

	u, err := url.Parse(target)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "build request url").WithDetail("url", target)
	}

	header := make(http.Header, len(e.cfg.Headers))
	for k, v := range e.cfg.Headers {
		header.Set(k, v)
	}

	req := &clients.Request{
		Method: http.MethodGet,
		Header: header,
		Stream: e.cfg.Name,
		Signer: e.auth,
	}

	if e.cfg.UseRequestBodyNotParams {
		body, err := jsonvalue.Encode(jsonvalue.Normalize(params))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "encode request body")
		}
		req.Method = http.MethodPost
		req.Body = []byte(body)
	} else if len(params) > 0 {
		q := u.Query()
		for k, v := range params {
			addQuery(q, k, v)
		}
		u.RawQuery = q.Encode()
	}

	if e.cfg.HTTPMethod != "" {
		req.Method = e.cfg.HTTPMethod
	}
	req.URL = u.String()
	return req, nil
}

func joinURL(base, path string) string {
	if path == "" {
		return base
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}

func addQuery(q url.Values, key string, v any) {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			q.Add(key, jsonvalue.AsString(item))
		}
	case []string:
		for _, item := range t {
			q.Add(key, item)
		}
	default:
		q.Set(key, jsonvalue.AsString(jsonvalue.Normalize(v)))
	}
}

// fetch sends the request for state and decodes the response. A 401 from a
// refreshable authenticator invalidates its token and is retried once.
func (e *Executor) fetch(ctx context.Context, base map[string]any, state pagination.RequestState) (pg *page, err error) {
	ctx, span := observability.StartSpan(ctx, e.cfg.Name, "stream.page",
		attribute.Int("resttap.page", state.Pages+1))
	defer func() { observability.EndSpan(span, err) }()

	req, err := e.buildRequest(base, state)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("http.url", req.URL), attribute.String("http.method", req.Method))

	resp, err := e.send(ctx, req)
	if err != nil {
		return nil, err
	}

	if len(strings.TrimSpace(string(resp.Body))) == 0 {
		return &page{header: resp.Header}, nil
	}
	doc, err := jsonvalue.Decode(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "decode response body").
			WithDetail("url", req.URL).
			WithDetail("status", resp.StatusCode)
	}
	return &page{header: resp.Header, doc: doc}, nil
}

func (e *Executor) send(ctx context.Context, req *clients.Request) (*clients.Response, error) {
	do := func(ctx context.Context) (*clients.Response, error) {
		return e.client.Do(ctx, req)
	}

	resp, err := e.retrier.Do(ctx, do)
	if err == nil {
		return resp, nil
	}
	refresher, ok := e.auth.(auth.Refresher)
	if !ok || errors.StatusCode(err) != http.StatusUnauthorized {
		return nil, err
	}

	logger.FromContext(ctx, e.logger).Warn("request unauthorized, refreshing credentials",
		zap.String("url", req.URL))
	refresher.Invalidate()
	return e.retrier.Do(ctx, do)
}
