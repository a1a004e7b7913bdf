package config

import (
	"strings"
	"time"

	"github.com/ajitpratap0/resttap/pkg/errors"
)

// Defaults applied to unset stream settings.
const (
	DefaultRecordsPath         = "$[*]"
	DefaultNextPageTokenPath   = "$.next_page"
	DefaultNextPageParam       = "page"
	DefaultOffsetParam         = "offset"
	DefaultLimitParam          = "limit"
	DefaultTotalLimitParam     = "total"
	DefaultNextPageHeader      = "X-Next-Page"
	DefaultOffsetPath          = "$.pagination"
	DefaultHasMorePath         = "$.hasMore"
	DefaultInitialPage         = 1
	DefaultNumInferenceRecords = 50
	DefaultRawKey              = "record"
	DefaultAPIKeyLocation      = "header"
	DefaultOAuthExpiryMargin   = 120 * time.Second
	DefaultRequestTimeout      = 300 * time.Second
	DefaultMaxAttempts         = 5
	DefaultBackoffHeader       = "Retry-After"
	DefaultBackoffSource       = "header"
	DefaultInitialDelay        = time.Second
	DefaultMaxDelay            = 60 * time.Second
	DefaultMaxConcurrency      = 4
)

// DefaultBackoffStatusCodes are the statuses treated as rate limiting when
// none are configured.
var DefaultBackoffStatusCodes = []int{429}

// Resolve merges the named stream over the top-level defaults and applies
// the package defaults to whatever is still unset.
func (c *TapConfig) Resolve(name string) (StreamConfig, error) {
	for _, def := range c.definitions() {
		if def.Name == name {
			return Merge(c, def), nil
		}
	}
	return StreamConfig{}, errors.Newf(errors.ErrorTypeConfig, "stream %q is not configured", name)
}

// ResolveAll resolves and validates every configured stream.
func (c *TapConfig) ResolveAll() ([]StreamConfig, error) {
	defs := c.definitions()
	if len(defs) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "no streams configured")
	}

	seen := make(map[string]struct{}, len(defs))
	out := make([]StreamConfig, 0, len(defs))
	for _, def := range defs {
		if _, dup := seen[def.Name]; dup {
			return nil, errors.Newf(errors.ErrorTypeConfig, "stream %q is configured twice", def.Name)
		}
		seen[def.Name] = struct{}{}

		sc := Merge(c, def)
		if err := sc.Validate(); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, nil
}

// StreamNames lists the configured streams in file order.
func (c *TapConfig) StreamNames() []string {
	defs := c.definitions()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

// Concurrency returns the number of streams run at once.
func (c *TapConfig) Concurrency() int {
	if c.MaxConcurrency <= 0 {
		return DefaultMaxConcurrency
	}
	return c.MaxConcurrency
}

func (c *TapConfig) definitions() []StreamDefinition {
	if len(c.Streams) > 0 {
		return c.Streams
	}
	if c.Name != "" {
		return []StreamDefinition{{Name: c.Name}}
	}
	return nil
}

// Merge builds the StreamConfig for def: scalar settings set on the stream
// override the top level, params and headers are shallow-merged with the
// stream winning, and defaults fill the rest. Neither input is modified.
func Merge(top *TapConfig, def StreamDefinition) StreamConfig {
	base, over := top.StreamSettings, def.StreamSettings

	sc := StreamConfig{
		Name:      def.Name,
		APIURL:    top.APIURL,
		UserAgent: top.UserAgent,

		Path:                pick(base.Path, over.Path),
		Params:              mergeParams(base.Params, over.Params),
		Headers:             mergeHeaders(base.Headers, over.Headers),
		RecordsPath:         pick(base.RecordsPath, over.RecordsPath),
		PrimaryKeys:         pickSlice(base.PrimaryKeys, over.PrimaryKeys),
		ReplicationKey:      pick(base.ReplicationKey, over.ReplicationKey),
		ExceptKeys:          pickSlice(base.ExceptKeys, over.ExceptKeys),
		NumInferenceRecords: pickInt(base.NumInferenceRecords, over.NumInferenceRecords),
		Schema:              base.Schema,
		StartDate:           pick(base.StartDate, over.StartDate),
		SourceSearchField:   pick(base.SourceSearchField, over.SourceSearchField),
		SourceSearchQuery:   pick(base.SourceSearchQuery, over.SourceSearchQuery),
		SearchPrefix:        pick(base.SearchPrefix, over.SearchPrefix),
		RawKey:              pick(base.RawKey, over.RawKey),
		HTTPMethod:          pick(base.HTTPMethod, over.HTTPMethod),

		UseRequestBodyNotParams: pickBool(base.UseRequestBodyNotParams, over.UseRequestBodyNotParams),
		RawMode:                 pickBool(base.RawMode, over.RawMode),
		ReplicationSort:         pickBool(base.ReplicationSort, over.ReplicationSort),

		Pagination: mergePagination(base.PaginationConfig, over.PaginationConfig),
		Auth:       copyAuth(top.AuthConfig),
		Backoff:    top.Backoff,
		HTTP:       top.HTTP,
	}
	if over.Schema != nil {
		sc.Schema = over.Schema
	}
	sc.Backoff.StatusCodes = append([]int(nil), top.Backoff.StatusCodes...)

	sc.ApplyDefaults()
	return sc
}

// ApplyDefaults fills unset settings with the package defaults.
func (sc *StreamConfig) ApplyDefaults() {
	sc.HTTPMethod = strings.ToUpper(sc.HTTPMethod)
	if sc.RecordsPath == "" {
		sc.RecordsPath = DefaultRecordsPath
	}
	if sc.NumInferenceRecords <= 0 {
		sc.NumInferenceRecords = DefaultNumInferenceRecords
	}
	if sc.RawKey == "" {
		sc.RawKey = DefaultRawKey
	}
	if sc.Params == nil {
		sc.Params = map[string]any{}
	}
	if sc.Headers == nil {
		sc.Headers = map[string]string{}
	}

	p := &sc.Pagination
	if p.RequestStyle == "" {
		p.RequestStyle = StyleJSONPath
	}
	if p.ResponseStyle == "" {
		p.ResponseStyle = ResponseDefault
	}
	if p.NextPageTokenPath == "" {
		p.NextPageTokenPath = DefaultNextPageTokenPath
	}
	if p.NextPageParam == "" {
		p.NextPageParam = DefaultNextPageParam
	}
	if p.OffsetParam == "" {
		p.OffsetParam = DefaultOffsetParam
	}
	if p.LimitParam == "" {
		p.LimitParam = DefaultLimitParam
	}
	if p.TotalLimitParam == "" {
		p.TotalLimitParam = DefaultTotalLimitParam
	}
	if p.NextPageHeader == "" {
		p.NextPageHeader = DefaultNextPageHeader
	}
	if p.OffsetPath == "" {
		p.OffsetPath = DefaultOffsetPath
	}
	if p.HasMorePath == "" {
		p.HasMorePath = DefaultHasMorePath
	}
	if p.InitialPage == 0 {
		p.InitialPage = DefaultInitialPage
	}

	a := &sc.Auth
	a.Method = CanonicalAuthMethod(a.Method)
	if a.APIKeyLocation == "" {
		a.APIKeyLocation = DefaultAPIKeyLocation
	}
	if a.OAuthExpiryMargin == 0 {
		a.OAuthExpiryMargin = Duration(DefaultOAuthExpiryMargin)
	}

	b := &sc.Backoff
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = DefaultMaxAttempts
	}
	if len(b.StatusCodes) == 0 {
		b.StatusCodes = append([]int(nil), DefaultBackoffStatusCodes...)
	}
	if b.Source == "" {
		b.Source = DefaultBackoffSource
	}
	if b.Header == "" {
		b.Header = DefaultBackoffHeader
	}
	if b.InitialDelay <= 0 {
		b.InitialDelay = Duration(DefaultInitialDelay)
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = Duration(DefaultMaxDelay)
	}

	if sc.HTTP.RequestTimeout <= 0 {
		sc.HTTP.RequestTimeout = Duration(DefaultRequestTimeout)
	}
}

// Searchable reports whether the stream issues a templated incremental query.
func (sc *StreamConfig) Searchable() bool {
	return sc.ReplicationKey != "" && sc.SourceSearchField != ""
}

func pick(base, over string) string {
	if over != "" {
		return over
	}
	return base
}

func pickInt(base, over int) int {
	if over != 0 {
		return over
	}
	return base
}

func pickBool(base, over *bool) bool {
	if over != nil {
		return *over
	}
	if base != nil {
		return *base
	}
	return false
}

func pickSlice(base, over []string) []string {
	src := base
	if over != nil {
		src = over
	}
	if src == nil {
		return nil
	}
	return append([]string(nil), src...)
}

func mergeParams(base, over map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

func mergeHeaders(base, over map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

func mergePagination(base, over PaginationConfig) PaginationConfig {
	return PaginationConfig{
		RequestStyle:      RequestStyle(pick(string(base.RequestStyle), string(over.RequestStyle))),
		ResponseStyle:     ResponseStyle(pick(string(base.ResponseStyle), string(over.ResponseStyle))),
		PageSize:          pickInt(base.PageSize, over.PageSize),
		ResultsLimit:      pickInt(base.ResultsLimit, over.ResultsLimit),
		InitialOffset:     pickInt(base.InitialOffset, over.InitialOffset),
		InitialPage:       pickInt(base.InitialPage, over.InitialPage),
		NextPageParam:     pick(base.NextPageParam, over.NextPageParam),
		OffsetParam:       pick(base.OffsetParam, over.OffsetParam),
		LimitParam:        pick(base.LimitParam, over.LimitParam),
		TotalLimitParam:   pick(base.TotalLimitParam, over.TotalLimitParam),
		NextPageTokenPath: pick(base.NextPageTokenPath, over.NextPageTokenPath),
		NextPageHeader:    pick(base.NextPageHeader, over.NextPageHeader),
		OffsetPath:        pick(base.OffsetPath, over.OffsetPath),
		HasMorePath:       pick(base.HasMorePath, over.HasMorePath),
	}
}

func copyAuth(a AuthConfig) AuthConfig {
	out := a
	if a.APIKeys != nil {
		out.APIKeys = mergeHeaders(nil, a.APIKeys)
	}
	if a.OAuthExtras != nil {
		out.OAuthExtras = mergeHeaders(nil, a.OAuthExtras)
	}
	return out
}
