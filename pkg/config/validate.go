package config

import (
	"net/http"
	"net/url"

	"github.com/ajitpratap0/resttap/pkg/errors"
	"github.com/ajitpratap0/resttap/pkg/jsonpath"
)

// Validate performs the shape checks that must pass before any request is
// sent. Every failure is a configuration error naming the stream.
func (sc *StreamConfig) Validate() error {
	if err := sc.validate(); err != nil {
		var e *errors.Error
		if errors.As(err, &e) {
			e.WithDetail("stream", sc.Name)
		}
		return err
	}
	return nil
}

func (sc *StreamConfig) validate() error {
	if sc.Name == "" {
		return errors.New(errors.ErrorTypeConfig, "stream name is required")
	}
	if sc.APIURL == "" {
		return errors.New(errors.ErrorTypeConfig, "api_url is required")
	}
	u, err := url.Parse(sc.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.Newf(errors.ErrorTypeConfig, "api_url %q is not an absolute URL", sc.APIURL)
	}

	if err := sc.validatePaths(); err != nil {
		return err
	}
	if err := sc.validatePagination(); err != nil {
		return err
	}
	if err := sc.validateAuth(); err != nil {
		return err
	}

	switch sc.HTTPMethod {
	case "", http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return errors.Newf(errors.ErrorTypeConfig, "http_method %q must be GET, POST, PUT or PATCH", sc.HTTPMethod)
	}
	if sc.SourceSearchQuery != "" && sc.SourceSearchField == "" {
		return errors.New(errors.ErrorTypeConfig, "source_search_query requires source_search_field")
	}
	if sc.Backoff.Source != "header" && sc.Backoff.Source != "body" {
		return errors.Newf(errors.ErrorTypeConfig, "backoff source %q must be header or body", sc.Backoff.Source)
	}
	if sc.Backoff.Jitter < 0 || sc.Backoff.Extension < 0 {
		return errors.New(errors.ErrorTypeConfig, "backoff jitter and extension cannot be negative")
	}
	if sc.HTTP.RateLimitPerSec < 0 {
		return errors.New(errors.ErrorTypeConfig, "rate_limit_per_sec cannot be negative")
	}
	return nil
}

func (sc *StreamConfig) validatePaths() error {
	paths := map[string]string{
		"records_path":         sc.RecordsPath,
		"next_page_token_path": sc.Pagination.NextPageTokenPath,
		"offset_path":          sc.Pagination.OffsetPath,
		"has_more_path":        sc.Pagination.HasMorePath,
		"backoff.message_path": sc.Backoff.MessagePath,
	}
	for name, expr := range paths {
		if expr == "" && name != "records_path" {
			continue
		}
		if _, err := jsonpath.Compile(expr); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "invalid "+name)
		}
	}
	return nil
}

func (sc *StreamConfig) validatePagination() error {
	p := sc.Pagination
	if !p.RequestStyle.Known() {
		return errors.Newf(errors.ErrorTypeConfig, "unsupported pagination style %q", p.RequestStyle).
			WithDetail("style", string(p.RequestStyle))
	}
	if !p.ResponseStyle.Known() {
		return errors.Newf(errors.ErrorTypeConfig, "unsupported pagination response style %q", p.ResponseStyle).
			WithDetail("style", string(p.ResponseStyle))
	}
	if p.PageSize < 0 || p.ResultsLimit < 0 || p.InitialOffset < 0 {
		return errors.New(errors.ErrorTypeConfig, "pagination sizes and offsets cannot be negative")
	}
	switch p.RequestStyle.Canonical() {
	case StyleOffset, StyleSimpleOffset:
		if p.PageSize == 0 {
			return errors.Newf(errors.ErrorTypeConfig, "%s requires pagination_page_size", p.RequestStyle).
				WithDetail("style", string(p.RequestStyle))
		}
	}
	return nil
}

func (sc *StreamConfig) validateAuth() error {
	a := sc.Auth
	switch CanonicalAuthMethod(a.Method) {
	case AuthNone:
	case AuthBasic:
		if a.Username == "" {
			return errors.New(errors.ErrorTypeConfig, "basic auth requires username")
		}
	case AuthAPIKey:
		if len(a.APIKeys) == 0 {
			return errors.New(errors.ErrorTypeConfig, "api_key auth requires api_keys")
		}
		if loc := CanonicalAPIKeyLocation(a.APIKeyLocation); loc != APIKeyInHeader && loc != APIKeyInParams {
			return errors.Newf(errors.ErrorTypeConfig, "api_key_location %q must be header or params", a.APIKeyLocation)
		}
	case AuthBearer:
		if a.BearerToken == "" {
			return errors.New(errors.ErrorTypeConfig, "bearer auth requires bearer_token")
		}
	case AuthOAuth:
		if a.AccessTokenURL == "" {
			return errors.New(errors.ErrorTypeConfig, "oauth requires access_token_url")
		}
		if a.OAuthExpiryMargin < 0 || a.OAuthExpirationSecs < 0 {
			return errors.New(errors.ErrorTypeConfig, "oauth expiry settings cannot be negative")
		}
		return ValidateGrant(a)
	case AuthAWS:
		if (a.AWS.AccessKeyID == "") != (a.AWS.SecretAccessKey == "") {
			return errors.New(errors.ErrorTypeConfig, "aws_access_key_id and aws_secret_access_key must be set together")
		}
	default:
		return errors.Newf(errors.ErrorTypeConfig,
			"unknown authentication method %q, use api_key, basic, oauth, bearer_token or aws", a.Method)
	}
	return nil
}

// ValidateGrant checks that the fields required by the OAuth grant type are
// present.
func ValidateGrant(a AuthConfig) error {
	switch a.GrantType {
	case "":
		return errors.New(errors.ErrorTypeConfig, "missing grant_type for oauth token")
	case "client_credentials":
		if a.ClientID == "" || a.ClientSecret == "" {
			return errors.New(errors.ErrorTypeConfig, "client_credentials grant requires client_id and client_secret")
		}
	case "password":
		if a.Username == "" || a.Password == "" {
			return errors.New(errors.ErrorTypeConfig, "password grant requires username and password")
		}
	case "refresh_token":
		if a.RefreshToken == "" {
			return errors.New(errors.ErrorTypeConfig, "refresh_token grant requires refresh_token")
		}
	}
	return nil
}
