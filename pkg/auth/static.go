package auth

import (
	"context"
	"net/http"
	"sort"

	"github.com/ajitpratap0/resttap/pkg/config"
	"github.com/ajitpratap0/resttap/pkg/errors"
)

// None leaves the request untouched; credentials, if any, arrive through
// the configured headers.
type None struct{}

func (None) Apply(context.Context, *http.Request) error { return nil }

func (None) Method() string { return config.AuthNone }

// Basic sends HTTP basic credentials.
type Basic struct {
	username string
	password string
}

// NewBasic creates a basic authenticator.
func NewBasic(username, password string) *Basic {
	return &Basic{username: username, password: password}
}

func (b *Basic) Apply(_ context.Context, req *http.Request) error {
	req.SetBasicAuth(b.username, b.password)
	return nil
}

func (b *Basic) Method() string { return config.AuthBasic }

// APIKey sends static key/value pairs as headers or query parameters.
type APIKey struct {
	keys     map[string]string
	names    []string
	inParams bool
}

// NewAPIKey creates an API key authenticator. location is "header" or
// "params".
func NewAPIKey(keys map[string]string, location string) (*APIKey, error) {
	if len(keys) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "api_key auth requires api_keys")
	}

	a := &APIKey{keys: make(map[string]string, len(keys))}
	for k, v := range keys {
		a.keys[k] = v
		a.names = append(a.names, k)
	}
	sort.Strings(a.names)

	switch config.CanonicalAPIKeyLocation(location) {
	case config.APIKeyInHeader:
	case config.APIKeyInParams:
		a.inParams = true
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported api_key_location %q", location)
	}
	return a, nil
}

func (a *APIKey) Apply(_ context.Context, req *http.Request) error {
	if !a.inParams {
		for _, k := range a.names {
			req.Header.Set(k, a.keys[k])
		}
		return nil
	}

	q := req.URL.Query()
	for _, k := range a.names {
		q.Set(k, a.keys[k])
	}
	req.URL.RawQuery = q.Encode()
	return nil
}

func (a *APIKey) Method() string { return config.AuthAPIKey }

// Bearer sends a static bearer token.
type Bearer struct {
	token string
}

// NewBearer creates a bearer authenticator.
func NewBearer(token string) (*Bearer, error) {
	if token == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "bearer auth requires bearer_token")
	}
	return &Bearer{token: token}, nil
}

func (b *Bearer) Apply(_ context.Context, req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+b.token)
	return nil
}

func (b *Bearer) Method() string { return config.AuthBearer }
