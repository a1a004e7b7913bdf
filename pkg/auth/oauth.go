package auth

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/ajitpratap0/resttap/pkg/clients"
	"github.com/ajitpratap0/resttap/pkg/config"
	"github.com/ajitpratap0/resttap/pkg/errors"
	"github.com/ajitpratap0/resttap/pkg/metrics"
)

// tokenResponse is the token endpoint reply.
type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type"`
	RefreshToken string        `json:"refresh_token,omitempty"`
	ExpiresIn    gojson.Number `json:"expires_in,omitempty"`
	Scope        string        `json:"scope,omitempty"`
}

// tokenError is an RFC 6749 error reply.
type tokenError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// OAuth exchanges configured credentials for an access token and caches it
// until it expires. A token is refreshed when none is cached, when it is
// older than oauth_expiration_secs, or when the server-declared expiry
// minus the safety margin has passed.
type OAuth struct {
	cfg     config.AuthConfig
	headers map[string]string
	client  *clients.HTTPClient
	backoff *clients.Backoff
	sleep   clients.Sleeper
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu           sync.Mutex
	token        *oauth2.Token
	issuedAt     time.Time
	refreshToken string
}

func newOAuth(cfg config.AuthConfig, o *options) (*OAuth, error) {
	if cfg.AccessTokenURL == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "oauth requires access_token_url")
	}
	if err := config.ValidateGrant(cfg); err != nil {
		return nil, err
	}

	client := o.client
	if client == nil {
		client = clients.NewHTTPClient(nil, o.logger, o.metrics)
	}
	backoff := o.backoff
	if backoff == nil {
		var err error
		backoff, err = clients.NewBackoff(config.BackoffConfig{})
		if err != nil {
			return nil, err
		}
	}
	sleep := o.sleep
	if sleep == nil {
		sleep = clients.Sleep
	}

	headers := make(map[string]string, len(o.tokenHeaders))
	for k, v := range o.tokenHeaders {
		headers[k] = v
	}

	return &OAuth{
		cfg:          cfg,
		headers:      headers,
		client:       client,
		backoff:      backoff,
		sleep:        sleep,
		now:          o.now,
		logger:       o.logger.With(zap.String("component", "oauth")),
		metrics:      o.metrics,
		refreshToken: cfg.RefreshToken,
	}, nil
}

func (a *OAuth) Method() string { return config.AuthOAuth }

// Apply sets the Authorization header from the cached or a fresh token.
func (a *OAuth) Apply(ctx context.Context, req *http.Request) error {
	tok, err := a.Token(ctx)
	if err != nil {
		return err
	}
	tok.SetAuthHeader(req)
	return nil
}

// Invalidate drops the cached token.
func (a *OAuth) Invalidate() {
	a.mu.Lock()
	a.token = nil
	a.mu.Unlock()
}

// Token returns a valid access token, fetching one if needed. Concurrent
// callers share one exchange.
func (a *OAuth) Token(ctx context.Context) (*oauth2.Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.needsRefresh() {
		return a.token, nil
	}

	tok, err := a.exchange(ctx)
	a.metrics.TokenRefresh(err)
	if err != nil {
		a.logger.Error("token refresh failed", zap.Error(err))
		return nil, err
	}

	a.token = tok
	a.issuedAt = a.now()
	a.logger.Info("token acquired", zap.Time("expires_at", tok.Expiry))
	return tok, nil
}

func (a *OAuth) needsRefresh() bool {
	if a.token == nil || a.token.AccessToken == "" {
		return true
	}
	now := a.now()
	if a.cfg.OAuthExpirationSecs > 0 &&
		now.Sub(a.issuedAt) >= time.Duration(a.cfg.OAuthExpirationSecs)*time.Second {
		return true
	}
	if !a.token.Expiry.IsZero() && !now.Before(a.token.Expiry.Add(-a.cfg.OAuthExpiryMargin.Std())) {
		return true
	}
	return false
}

// form builds the token request body. Extras are applied last and win.
func (a *OAuth) form() url.Values {
	form := url.Values{}
	form.Set("grant_type", a.cfg.GrantType)
	set := func(k, v string) {
		if v != "" {
			form.Set(k, v)
		}
	}
	set("scope", a.cfg.Scope)
	set("client_id", a.cfg.ClientID)
	set("client_secret", a.cfg.ClientSecret)
	set("username", a.cfg.Username)
	set("password", a.cfg.Password)
	set("refresh_token", a.refreshToken)
	set("redirect_uri", a.cfg.RedirectURI)

	keys := make([]string, 0, len(a.cfg.OAuthExtras))
	for k := range a.cfg.OAuthExtras {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		form.Set(k, a.cfg.OAuthExtras[k])
	}
	return form
}

// exchange posts the token request, retrying transport failures, 5xx and
// rate-limited responses up to the backoff policy's attempt budget.
func (a *OAuth) exchange(ctx context.Context) (*oauth2.Token, error) {
	header := http.Header{}
	for k, v := range a.headers {
		header.Set(k, v)
	}
	header.Set("Content-Type", "application/x-www-form-urlencoded")
	header.Set("Accept", "application/json")

	req := &clients.Request{
		Method: http.MethodPost,
		URL:    a.cfg.AccessTokenURL,
		Header: header,
		Body:   []byte(a.form().Encode()),
	}

	var (
		resp    *clients.Response
		lastErr error
	)
	for attempt := 0; attempt < a.backoff.MaxAttempts; attempt++ {
		var err error
		resp, err = a.client.Do(ctx, req)
		switch {
		case err != nil && errors.IsType(err, errors.ErrorTypeCancelled):
			return nil, err
		case err != nil:
			lastErr = err
		case resp.StatusCode >= 500, a.backoff.Retryable(resp.StatusCode):
			lastErr = errors.NewHTTPError(resp.StatusCode, req.Method, req.URL, resp.Body)
		default:
			return a.parse(resp)
		}

		if attempt == a.backoff.MaxAttempts-1 {
			break
		}
		a.logger.Warn("token request failed, retrying",
			zap.Error(lastErr),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", a.backoff.MaxAttempts))
		if err := a.sleep(ctx, a.backoff.Delay(resp, attempt)); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeCancelled, "token request cancelled")
		}
	}

	return nil, errors.Wrap(lastErr, errors.ErrorTypeAuthentication, "token request failed").
		WithDetail("url", a.cfg.AccessTokenURL)
}

func (a *OAuth) parse(resp *clients.Response) (*oauth2.Token, error) {
	if !resp.OK() {
		cause := errors.NewHTTPError(resp.StatusCode, resp.Method, resp.URL, resp.Body)
		e := errors.Wrap(cause, errors.ErrorTypeAuthentication, "token request rejected").
			WithDetail("status", resp.StatusCode)
		var te tokenError
		if gojson.Unmarshal(resp.Body, &te) == nil && te.Code != "" {
			e.WithDetail("error", te.Code)
			if te.Description != "" {
				e.WithDetail("error_description", te.Description)
			}
		}
		return nil, e
	}

	var tr tokenResponse
	if err := gojson.Unmarshal(resp.Body, &tr); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeAuthentication, "decode token response")
	}
	if tr.AccessToken == "" {
		return nil, errors.New(errors.ErrorTypeAuthentication, "token response has no access_token")
	}

	tok := &oauth2.Token{
		AccessToken:  tr.AccessToken,
		TokenType:    tr.TokenType,
		RefreshToken: tr.RefreshToken,
	}
	if tr.ExpiresIn != "" {
		if secs, err := tr.ExpiresIn.Float64(); err == nil && secs > 0 {
			tok.Expiry = a.now().Add(time.Duration(secs * float64(time.Second)))
		}
	}
	if tr.RefreshToken != "" {
		a.refreshToken = tr.RefreshToken
	}
	return tok, nil
}
