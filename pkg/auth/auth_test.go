package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/resttap/pkg/clients"
	"github.com/ajitpratap0/resttap/pkg/config"
	"github.com/ajitpratap0/resttap/pkg/errors"
)

func newRequest(t *testing.T, rawURL string, body string) *http.Request {
	t.Helper()
	var r *http.Request
	var err error
	if body == "" {
		r, err = http.NewRequest(http.MethodGet, rawURL, nil)
	} else {
		r, err = http.NewRequest(http.MethodPost, rawURL, strings.NewReader(body))
	}
	require.NoError(t, err)
	return r
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestStaticAuthenticators(t *testing.T) {
	ctx := context.Background()

	t.Run("none", func(t *testing.T) {
		a, err := New(ctx, config.AuthConfig{Method: "no_auth"})
		require.NoError(t, err)
		req := newRequest(t, "https://api.example.com/users", "")
		req.Header.Set("X-Custom", "kept")
		require.NoError(t, a.Apply(ctx, req))
		assert.Equal(t, "kept", req.Header.Get("X-Custom"))
		assert.Empty(t, req.Header.Get("Authorization"))
		assert.Equal(t, config.AuthNone, a.Method())
	})

	t.Run("basic", func(t *testing.T) {
		a, err := New(ctx, config.AuthConfig{Method: "basic", Username: "user", Password: "pass"})
		require.NoError(t, err)
		req := newRequest(t, "https://api.example.com/users", "")
		require.NoError(t, a.Apply(ctx, req))
		u, p, ok := req.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "user", u)
		assert.Equal(t, "pass", p)
	})

	t.Run("bearer alias", func(t *testing.T) {
		a, err := New(ctx, config.AuthConfig{Method: "bearer_token", BearerToken: "abc"})
		require.NoError(t, err)
		req := newRequest(t, "https://api.example.com/users", "")
		require.NoError(t, a.Apply(ctx, req))
		assert.Equal(t, "Bearer abc", req.Header.Get("Authorization"))
	})

	t.Run("api key header", func(t *testing.T) {
		a, err := New(ctx, config.AuthConfig{
			Method:  "api_key",
			APIKeys: map[string]string{"X-API-Key": "k1", "X-Tenant": "t1"},
		})
		require.NoError(t, err)
		req := newRequest(t, "https://api.example.com/users", "")
		require.NoError(t, a.Apply(ctx, req))
		assert.Equal(t, "k1", req.Header.Get("X-API-Key"))
		assert.Equal(t, "t1", req.Header.Get("X-Tenant"))
	})

	t.Run("api key params", func(t *testing.T) {
		a, err := New(ctx, config.AuthConfig{
			Method:         "api_key",
			APIKeys:        map[string]string{"api_key": "k1"},
			APIKeyLocation: "params",
		})
		require.NoError(t, err)
		req := newRequest(t, "https://api.example.com/users?page=2", "")
		require.NoError(t, a.Apply(ctx, req))
		assert.Equal(t, "k1", req.URL.Query().Get("api_key"))
		assert.Equal(t, "2", req.URL.Query().Get("page"))
		assert.Empty(t, req.Header.Get("api_key"))
	})

	t.Run("api key query alias", func(t *testing.T) {
		a, err := New(ctx, config.AuthConfig{
			Method:         "api_key",
			APIKeys:        map[string]string{"api_key": "k1"},
			APIKeyLocation: "query",
		})
		require.NoError(t, err)
		req := newRequest(t, "https://api.example.com/users", "")
		require.NoError(t, a.Apply(ctx, req))
		assert.Equal(t, "k1", req.URL.Query().Get("api_key"))
	})
}

func TestNewRejectsBadConfiguration(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.AuthConfig
	}{
		{"unknown method", config.AuthConfig{Method: "kerberos"}},
		{"bearer without token", config.AuthConfig{Method: "bearer"}},
		{"api key without keys", config.AuthConfig{Method: "api_key"}},
		{"oauth without url", config.AuthConfig{Method: "oauth", GrantType: "client_credentials"}},
		{"oauth without grant", config.AuthConfig{Method: "oauth", AccessTokenURL: "https://id.example.com/token"}},
		{"client credentials without secret", config.AuthConfig{
			Method: "oauth", AccessTokenURL: "https://id.example.com/token",
			GrantType: "client_credentials", ClientID: "id",
		}},
		{"password grant without password", config.AuthConfig{
			Method: "oauth", AccessTokenURL: "https://id.example.com/token",
			GrantType: "password", Username: "u",
		}},
		{"aws without service", config.AuthConfig{
			Method: "aws",
			AWS:    config.AWSConfig{AccessKeyID: "AKID", SecretAccessKey: "secret", Region: "us-east-1"},
		}},
	}

	t.Setenv("AWS_SERVICE", "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(context.Background(), tt.cfg)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), "got %v", err)
		})
	}
}

// tokenServer issues numbered tokens and records every form it receives.
type tokenServer struct {
	*httptest.Server
	calls      atomic.Int32
	mu         sync.Mutex
	forms      []url.Values
	headers    []http.Header
	expiresIn  int
	rotate     bool
	failFirst  int32
	limitFirst int32
	status     int
}

func newTokenServer(t *testing.T) *tokenServer {
	ts := &tokenServer{expiresIn: 3600}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := ts.calls.Add(1)
		_ = r.ParseForm()
		ts.mu.Lock()
		ts.forms = append(ts.forms, r.PostForm)
		ts.headers = append(ts.headers, r.Header.Clone())
		ts.mu.Unlock()

		if n <= ts.failFirst {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if n <= ts.limitFirst {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		if ts.status != 0 {
			w.WriteHeader(ts.status)
			_, _ = w.Write([]byte(`{"error":"invalid_client","error_description":"bad secret"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		body := fmt.Sprintf(`{"access_token":"tok-%d","token_type":"bearer"`, n)
		if ts.expiresIn > 0 {
			body += fmt.Sprintf(`,"expires_in":%d`, ts.expiresIn)
		}
		if ts.rotate {
			body += fmt.Sprintf(`,"refresh_token":"refresh-%d"`, n)
		}
		_, _ = w.Write([]byte(body + "}"))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) form(i int) url.Values {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.forms[i]
}

func clientCredentials(tokenURL string) config.AuthConfig {
	return config.AuthConfig{
		Method:            "oauth",
		AccessTokenURL:    tokenURL,
		GrantType:         "client_credentials",
		ClientID:          "id",
		ClientSecret:      "secret",
		Scope:             "read",
		OAuthExtras:       map[string]string{"audience": "api"},
		OAuthExpiryMargin: config.Duration(120 * time.Second),
	}
}

func authorize(t *testing.T, a Authenticator) string {
	t.Helper()
	req := newRequest(t, "https://api.example.com/users", "")
	require.NoError(t, a.Apply(context.Background(), req))
	return req.Header.Get("Authorization")
}

func TestOAuthReusesTokenAndRefreshesOnceAfterExpiry(t *testing.T) {
	ts := newTokenServer(t)
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}

	a, err := New(context.Background(), clientCredentials(ts.URL),
		WithClock(clock.Now),
		WithTokenHeaders(map[string]string{"X-Tenant": "acme"}))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		assert.Equal(t, "Bearer tok-1", authorize(t, a))
	}
	assert.Equal(t, int32(1), ts.calls.Load())

	clock.Advance(30 * time.Minute)
	assert.Equal(t, "Bearer tok-1", authorize(t, a))
	assert.Equal(t, int32(1), ts.calls.Load())

	clock.Advance(31 * time.Minute)
	assert.Equal(t, "Bearer tok-2", authorize(t, a))
	assert.Equal(t, "Bearer tok-2", authorize(t, a))
	assert.Equal(t, int32(2), ts.calls.Load())

	form := ts.form(0)
	assert.Equal(t, "client_credentials", form.Get("grant_type"))
	assert.Equal(t, "id", form.Get("client_id"))
	assert.Equal(t, "secret", form.Get("client_secret"))
	assert.Equal(t, "read", form.Get("scope"))
	assert.Equal(t, "api", form.Get("audience"))
	assert.Equal(t, "acme", ts.headers[0].Get("X-Tenant"))
}

func TestOAuthExpirationSecondsOverride(t *testing.T) {
	ts := newTokenServer(t)
	ts.expiresIn = 0
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}

	cfg := clientCredentials(ts.URL)
	cfg.OAuthExpirationSecs = 60
	a, err := New(context.Background(), cfg, WithClock(clock.Now))
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok-1", authorize(t, a))
	clock.Advance(59 * time.Second)
	assert.Equal(t, "Bearer tok-1", authorize(t, a))
	clock.Advance(time.Second)
	assert.Equal(t, "Bearer tok-2", authorize(t, a))
}

func TestOAuthRotatedRefreshTokenIsUsed(t *testing.T) {
	ts := newTokenServer(t)
	ts.rotate = true

	a, err := New(context.Background(), config.AuthConfig{
		Method:         "oauth",
		AccessTokenURL: ts.URL,
		GrantType:      "refresh_token",
		RefreshToken:   "refresh-0",
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok-1", authorize(t, a))
	r, ok := a.(Refresher)
	require.True(t, ok)
	r.Invalidate()
	assert.Equal(t, "Bearer tok-2", authorize(t, a))

	assert.Equal(t, "refresh-0", ts.form(0).Get("refresh_token"))
	assert.Equal(t, "refresh-1", ts.form(1).Get("refresh_token"))
}

func TestOAuthRetriesServerErrors(t *testing.T) {
	ts := newTokenServer(t)
	ts.failFirst = 2

	backoff, err := clients.NewBackoff(config.BackoffConfig{MaxAttempts: 3})
	require.NoError(t, err)

	var slept atomic.Int32
	a, err := New(context.Background(), clientCredentials(ts.URL),
		WithBackoff(backoff),
		WithSleeper(func(context.Context, time.Duration) error {
			slept.Add(1)
			return nil
		}))
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok-3", authorize(t, a))
	assert.Equal(t, int32(3), ts.calls.Load())
	assert.Equal(t, int32(2), slept.Load())
}

func TestOAuthBacksOffRateLimitedTokenRequests(t *testing.T) {
	ts := newTokenServer(t)
	ts.limitFirst = 1

	var (
		mu     sync.Mutex
		delays []time.Duration
	)
	a, err := New(context.Background(), clientCredentials(ts.URL),
		WithSleeper(func(_ context.Context, d time.Duration) error {
			mu.Lock()
			defer mu.Unlock()
			delays = append(delays, d)
			return nil
		}))
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok-2", authorize(t, a))
	assert.Equal(t, int32(2), ts.calls.Load())
	assert.Equal(t, []time.Duration{2 * time.Second}, delays)
}

func TestOAuthGivesUpAfterAttemptBudget(t *testing.T) {
	ts := newTokenServer(t)
	ts.failFirst = 100

	backoff, err := clients.NewBackoff(config.BackoffConfig{MaxAttempts: 2})
	require.NoError(t, err)

	a, err := New(context.Background(), clientCredentials(ts.URL), WithBackoff(backoff), WithSleeper(noSleep))
	require.NoError(t, err)

	req := newRequest(t, "https://api.example.com/users", "")
	err = a.Apply(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
	assert.Equal(t, http.StatusServiceUnavailable, errors.StatusCode(err))
	assert.Equal(t, int32(2), ts.calls.Load())
}

func TestOAuthRejectedCredentialsAreNotRetried(t *testing.T) {
	ts := newTokenServer(t)
	ts.status = http.StatusUnauthorized

	a, err := New(context.Background(), clientCredentials(ts.URL), WithSleeper(noSleep))
	require.NoError(t, err)

	req := newRequest(t, "https://api.example.com/users", "")
	err = a.Apply(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
	assert.Equal(t, int32(1), ts.calls.Load())

	var e *errors.Error
	require.True(t, errors.As(err, &e))
	code, _ := e.Detail("error")
	assert.Equal(t, "invalid_client", code)
}

func TestAWSSignsRequests(t *testing.T) {
	signedAt := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	a, err := New(context.Background(), config.AuthConfig{
		Method: "aws",
		AWS: config.AWSConfig{
			AccessKeyID:     "AKIDEXAMPLE",
			SecretAccessKey: "secret",
			SessionToken:    "session",
			Region:          "eu-west-1",
			Service:         "execute-api",
		},
	}, WithClock(func() time.Time { return signedAt }))
	require.NoError(t, err)
	assert.Equal(t, config.AuthAWS, a.Method())

	req := newRequest(t, "https://abc.execute-api.eu-west-1.amazonaws.com/prod/items", `{"q":1}`)
	require.NoError(t, a.Apply(context.Background(), req))

	authz := req.Header.Get("Authorization")
	assert.True(t, strings.HasPrefix(authz,
		"AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/20240102/eu-west-1/execute-api/aws4_request"), authz)
	assert.Contains(t, authz, "SignedHeaders=")
	assert.Contains(t, authz, "Signature=")
	assert.Equal(t, "20240102T030405Z", req.Header.Get("X-Amz-Date"))
	assert.Equal(t, "session", req.Header.Get("X-Amz-Security-Token"))
	assert.NotEqual(t, emptyPayloadHash, req.Header.Get("X-Amz-Content-Sha256"))

	get := newRequest(t, "https://abc.execute-api.eu-west-1.amazonaws.com/prod/items", "")
	require.NoError(t, a.Apply(context.Background(), get))
	assert.Equal(t, emptyPayloadHash, get.Header.Get("X-Amz-Content-Sha256"))
}

func TestAWSSigningCanBeDisabled(t *testing.T) {
	off := false
	a, err := New(context.Background(), config.AuthConfig{
		Method: "aws",
		AWS:    config.AWSConfig{CreateSignedCredentials: &off},
	})
	require.NoError(t, err)

	req := newRequest(t, "https://api.example.com/items", "")
	require.NoError(t, a.Apply(context.Background(), req))
	assert.Empty(t, req.Header.Get("Authorization"))
}
