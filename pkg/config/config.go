package config

import "strings"

// RequestStyle selects the paginator driving a stream.
type RequestStyle string

const (
	StyleDefault           RequestStyle = "default"
	StyleJSONPath          RequestStyle = "jsonpath_paginator"
	StyleOffset            RequestStyle = "offset_paginator"
	StyleSimpleHeader      RequestStyle = "simple_header_paginator"
	StyleHeaderLink        RequestStyle = "header_link_paginator"
	StyleRestAPIHeaderLink RequestStyle = "restapi_header_link_paginator"
	StyleHATEOAS           RequestStyle = "hateoas_paginator"
	StyleHATEOASBody       RequestStyle = "hateoas_body"
	StyleSinglePage        RequestStyle = "single_page_paginator"
	StylePageNumber        RequestStyle = "page_number_paginator"
	StyleSimpleOffset      RequestStyle = "simple_offset_paginator"
)

// Canonical folds aliases onto one tag per paginator.
func (s RequestStyle) Canonical() RequestStyle {
	switch s {
	case "", StyleDefault:
		return StyleJSONPath
	case StyleHATEOASBody:
		return StyleHATEOAS
	default:
		return s
	}
}

// Known reports whether s names a supported paginator.
func (s RequestStyle) Known() bool {
	switch s.Canonical() {
	case StyleJSONPath, StyleOffset, StyleSimpleHeader, StyleHeaderLink, StyleRestAPIHeaderLink,
		StyleHATEOAS, StyleSinglePage, StylePageNumber, StyleSimpleOffset:
		return true
	}
	return false
}

// ResponseStyle selects where the next-page signal is read from and how the
// next request's parameters are shaped.
type ResponseStyle string

const (
	ResponseDefault    ResponseStyle = "default"
	ResponsePage       ResponseStyle = "page"
	ResponseOffset     ResponseStyle = "offset"
	ResponseStyle1     ResponseStyle = "style1"
	ResponseHeaderLink ResponseStyle = "header_link"
	ResponseHATEOAS    ResponseStyle = "hateoas_body"
)

// Canonical folds aliases onto one tag per response style.
func (s ResponseStyle) Canonical() ResponseStyle {
	switch s {
	case "", ResponsePage:
		return ResponseDefault
	case ResponseStyle1:
		return ResponseOffset
	default:
		return s
	}
}

// Known reports whether s names a supported response style.
func (s ResponseStyle) Known() bool {
	switch s.Canonical() {
	case ResponseDefault, ResponseOffset, ResponseHeaderLink, ResponseHATEOAS:
		return true
	}
	return false
}

// Auth method tags.
const (
	AuthNone   = "none"
	AuthBasic  = "basic"
	AuthAPIKey = "api_key"
	AuthBearer = "bearer"
	AuthOAuth  = "oauth"
	AuthAWS    = "aws"
)

// CanonicalAuthMethod folds the accepted aliases of an auth method tag.
func CanonicalAuthMethod(method string) string {
	switch method {
	case "", "none", "no_auth":
		return AuthNone
	case "bearer", "bearer_token":
		return AuthBearer
	default:
		return method
	}
}

// API key locations.
const (
	APIKeyInHeader = "header"
	APIKeyInParams = "params"
)

// CanonicalAPIKeyLocation folds the accepted aliases of api_key_location.
// Unknown locations are returned unchanged.
func CanonicalAPIKeyLocation(loc string) string {
	switch strings.ToLower(loc) {
	case "", "header", "headers":
		return APIKeyInHeader
	case "params", "query":
		return APIKeyInParams
	default:
		return loc
	}
}

// PaginationConfig holds the pagination settings of a stream.
type PaginationConfig struct {
	RequestStyle  RequestStyle  `yaml:"pagination_request_style" json:"pagination_request_style"`
	ResponseStyle ResponseStyle `yaml:"pagination_response_style" json:"pagination_response_style"`
	PageSize      int           `yaml:"pagination_page_size" json:"pagination_page_size"`
	// ResultsLimit caps the cumulative record count of a run (0 = no cap).
	ResultsLimit  int    `yaml:"pagination_results_limit" json:"pagination_results_limit"`
	InitialOffset int    `yaml:"pagination_initial_offset" json:"pagination_initial_offset"`
	InitialPage   int    `yaml:"pagination_initial_page" json:"pagination_initial_page"`
	NextPageParam string `yaml:"pagination_next_page_param" json:"pagination_next_page_param"`
	OffsetParam   string `yaml:"pagination_offset_param" json:"pagination_offset_param"`
	LimitParam    string `yaml:"pagination_limit_per_page_param" json:"pagination_limit_per_page_param"`
	// TotalLimitParam names the total-count field inside the offset locator.
	TotalLimitParam   string `yaml:"pagination_total_limit_param" json:"pagination_total_limit_param"`
	NextPageTokenPath string `yaml:"next_page_token_path" json:"next_page_token_path"`
	NextPageHeader    string `yaml:"next_page_header" json:"next_page_header"`
	// OffsetPath locates the offset/limit/total object (default $.pagination).
	OffsetPath  string `yaml:"offset_path" json:"offset_path"`
	HasMorePath string `yaml:"has_more_path" json:"has_more_path"`
}

// AWSConfig holds SigV4 signing settings. Missing keys fall back to the
// profile and then to the ambient credential chain.
type AWSConfig struct {
	AccessKeyID     string `yaml:"aws_access_key_id" json:"aws_access_key_id"`
	SecretAccessKey string `yaml:"aws_secret_access_key" json:"aws_secret_access_key"`
	SessionToken    string `yaml:"aws_session_token" json:"aws_session_token"`
	Profile         string `yaml:"aws_profile" json:"aws_profile"`
	Region          string `yaml:"aws_region" json:"aws_region"`
	Service         string `yaml:"aws_service" json:"aws_service"`
	// CreateSignedCredentials turns signing off when explicitly false.
	CreateSignedCredentials *bool `yaml:"create_signed_credentials" json:"create_signed_credentials"`
}

// AuthConfig holds the settings for every auth method; only the fields of
// the selected method are read.
type AuthConfig struct {
	Method string `yaml:"auth_method" json:"auth_method"`

	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`

	APIKeys map[string]string `yaml:"api_keys" json:"api_keys"`
	// APIKeyLocation is "header" (default) or "params"; "headers" and
	// "query" are accepted as aliases.
	APIKeyLocation string `yaml:"api_key_location" json:"api_key_location"`

	BearerToken string `yaml:"bearer_token" json:"bearer_token"`

	AccessTokenURL      string            `yaml:"access_token_url" json:"access_token_url"`
	GrantType           string            `yaml:"grant_type" json:"grant_type"`
	ClientID            string            `yaml:"client_id" json:"client_id"`
	ClientSecret        string            `yaml:"client_secret" json:"client_secret"`
	RefreshToken        string            `yaml:"refresh_token" json:"refresh_token"`
	RedirectURI         string            `yaml:"redirect_uri" json:"redirect_uri"`
	Scope               string            `yaml:"scope" json:"scope"`
	OAuthExtras         map[string]string `yaml:"oauth_extras" json:"oauth_extras"`
	OAuthExpirationSecs int               `yaml:"oauth_expiration_secs" json:"oauth_expiration_secs"`
	OAuthExpiryMargin   Duration          `yaml:"oauth_expiry_margin" json:"oauth_expiry_margin"`

	AWS AWSConfig `yaml:"aws_credentials" json:"aws_credentials"`
}

// BackoffConfig is the single retry policy applied to rate-limited requests
// and token exchanges.
type BackoffConfig struct {
	MaxAttempts int   `yaml:"max_attempts" json:"max_attempts"`
	StatusCodes []int `yaml:"status_codes" json:"status_codes"`
	// Source is "header" (default) or "body".
	Source      string `yaml:"source" json:"source"`
	Header      string `yaml:"header" json:"header"`
	MessagePath string `yaml:"message_path" json:"message_path"`
	// Jitter is the upper bound of a random delay added to every wait.
	Jitter       Duration `yaml:"jitter" json:"jitter"`
	Extension    Duration `yaml:"extension" json:"extension"`
	InitialDelay Duration `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay     Duration `yaml:"max_delay" json:"max_delay"`
}

// HTTPConfig tunes the outbound HTTP client.
type HTTPConfig struct {
	RequestTimeout  Duration `yaml:"request_timeout" json:"request_timeout"`
	RateLimitPerSec float64  `yaml:"rate_limit_per_sec" json:"rate_limit_per_sec"`
	RateLimitBurst  int      `yaml:"rate_limit_burst" json:"rate_limit_burst"`
	MaxIdleConns    int      `yaml:"max_idle_conns" json:"max_idle_conns"`
	DisableHTTP2    bool     `yaml:"disable_http2" json:"disable_http2"`
}

// StreamSettings are the settings that may be given at the top level as
// defaults and again on each stream.
type StreamSettings struct {
	Path                string            `yaml:"path" json:"path"`
	Params              map[string]any    `yaml:"params" json:"params"`
	Headers             map[string]string `yaml:"headers" json:"headers"`
	RecordsPath         string            `yaml:"records_path" json:"records_path"`
	PrimaryKeys         []string          `yaml:"primary_keys" json:"primary_keys"`
	ReplicationKey      string            `yaml:"replication_key" json:"replication_key"`
	ExceptKeys          []string          `yaml:"except_keys" json:"except_keys"`
	NumInferenceRecords int               `yaml:"num_inference_records" json:"num_inference_records"`
	// Schema is an inline schema object, inline JSON text, or a path to a
	// schema document.
	Schema            any    `yaml:"schema" json:"schema"`
	StartDate         string `yaml:"start_date" json:"start_date"`
	SourceSearchField string `yaml:"source_search_field" json:"source_search_field"`
	SourceSearchQuery string `yaml:"source_search_query" json:"source_search_query"`
	SearchPrefix      string `yaml:"search_prefix" json:"search_prefix"`

	UseRequestBodyNotParams *bool  `yaml:"use_request_body_not_params" json:"use_request_body_not_params"`
	RawMode                 *bool  `yaml:"raw_mode" json:"raw_mode"`
	RawKey                  string `yaml:"raw_key" json:"raw_key"`
	// HTTPMethod overrides the request method. By default streams GET, or
	// POST when use_request_body_not_params is set.
	HTTPMethod string `yaml:"http_method" json:"http_method"`
	// ReplicationSort adds sort=asc and order_by=<replication_key> to every
	// request of a stream with a replication key.
	ReplicationSort *bool `yaml:"replication_sort" json:"replication_sort"`

	PaginationConfig `yaml:",inline" json:",inline"`
}

// StreamDefinition is one entry of the streams list.
type StreamDefinition struct {
	Name           string `yaml:"name" json:"name"`
	StreamSettings `yaml:",inline" json:",inline"`
}

// TapConfig is the whole configuration file.
type TapConfig struct {
	// Name declares a single stream built from the top-level settings when
	// Streams is empty.
	Name string `yaml:"name" json:"name"`

	APIURL         string `yaml:"api_url" json:"api_url"`
	UserAgent      string `yaml:"user_agent" json:"user_agent"`
	MaxConcurrency int    `yaml:"max_concurrency" json:"max_concurrency"`

	StreamSettings `yaml:",inline" json:",inline"`
	AuthConfig     `yaml:",inline" json:",inline"`

	Backoff BackoffConfig `yaml:"backoff" json:"backoff"`
	HTTP    HTTPConfig    `yaml:"http" json:"http"`

	Streams []StreamDefinition `yaml:"streams" json:"streams"`
}

// StreamConfig is the resolved, read-only configuration of one stream run.
type StreamConfig struct {
	Name      string
	APIURL    string
	UserAgent string

	Path                string
	Params              map[string]any
	Headers             map[string]string
	RecordsPath         string
	PrimaryKeys         []string
	ReplicationKey      string
	ExceptKeys          []string
	NumInferenceRecords int
	Schema              any
	StartDate           string
	SourceSearchField   string
	SourceSearchQuery   string
	SearchPrefix        string

	UseRequestBodyNotParams bool
	RawMode                 bool
	RawKey                  string
	HTTPMethod              string
	ReplicationSort         bool

	Pagination PaginationConfig
	Auth       AuthConfig
	Backoff    BackoffConfig
	HTTP       HTTPConfig
}
