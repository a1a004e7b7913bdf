// Package auth produces per-request credentials for a stream.
//
// Every auth method is an Authenticator selected by the configured
// auth_method. Authenticators that cache credentials (oauth) also implement
// Refresher. Instances are owned by one stream run and never shared, so no
// token state is process-wide.
package auth

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/resttap/pkg/clients"
	"github.com/ajitpratap0/resttap/pkg/config"
	"github.com/ajitpratap0/resttap/pkg/errors"
	"github.com/ajitpratap0/resttap/pkg/metrics"
)

// Authenticator adds credentials to an outbound request. Apply is called
// once per HTTP request and never mutates configuration.
type Authenticator interface {
	Apply(ctx context.Context, req *http.Request) error
	Method() string
}

// Refresher is implemented by authenticators with cached credentials.
// Invalidate drops the cache so the next Apply fetches fresh credentials.
type Refresher interface {
	Invalidate()
}

type options struct {
	logger       *zap.Logger
	metrics      *metrics.Metrics
	client       *clients.HTTPClient
	backoff      *clients.Backoff
	sleep        clients.Sleeper
	now          func() time.Time
	tokenHeaders map[string]string
}

// Option configures New.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records token refreshes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithHTTPClient sets the client used for token exchanges.
func WithHTTPClient(c *clients.HTTPClient) Option {
	return func(o *options) { o.client = c }
}

// WithBackoff bounds token exchange retries.
func WithBackoff(b *clients.Backoff) Option {
	return func(o *options) { o.backoff = b }
}

// WithSleeper replaces the wait between token exchange retries.
func WithSleeper(s clients.Sleeper) Option {
	return func(o *options) { o.sleep = s }
}

// WithClock replaces time.Now for expiry checks and signing.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithTokenHeaders sets the headers sent on token requests, usually the
// stream's merged headers.
func WithTokenHeaders(h map[string]string) Option {
	return func(o *options) { o.tokenHeaders = h }
}

// New builds the authenticator for cfg.Method. Missing fields are
// configuration errors returned before any request is sent.
func New(ctx context.Context, cfg config.AuthConfig, opts ...Option) (Authenticator, error) {
	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	switch config.CanonicalAuthMethod(cfg.Method) {
	case config.AuthNone:
		return None{}, nil
	case config.AuthBasic:
		return NewBasic(cfg.Username, cfg.Password), nil
	case config.AuthAPIKey:
		return NewAPIKey(cfg.APIKeys, cfg.APIKeyLocation)
	case config.AuthBearer:
		return NewBearer(cfg.BearerToken)
	case config.AuthOAuth:
		return newOAuth(cfg, o)
	case config.AuthAWS:
		return newAWS(ctx, cfg.AWS, o)
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig,
			"unknown authentication method %q, use api_key, basic, oauth, bearer_token or aws", cfg.Method)
	}
}
