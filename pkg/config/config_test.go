package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/resttap/pkg/errors"
)

const sampleYAML = `
api_url: https://api.example.com
user_agent: resttap-test
auth_method: bearer_token
bearer_token: ${RESTTAP_TEST_TOKEN}
params:
  per_page: 50
  Region: EU
headers:
  Accept: application/json
  X-Trace: top
pagination_request_style: page_number_paginator
backoff:
  max_attempts: 3
  jitter: 250ms
  extension: 2
http:
  request_timeout: 30s
streams:
  - name: users
    path: /users
    records_path: $.data[*]
    primary_keys: [id]
    headers:
      X-Trace: stream
  - name: orders
    path: /orders
    params:
      per_page: 10
    pagination_request_style: offset_paginator
    pagination_page_size: 10
    use_request_body_not_params: true
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadYAMLAndResolve(t *testing.T) {
	t.Setenv("RESTTAP_TEST_TOKEN", "s3cret")

	var cfg TapConfig
	require.NoError(t, Load(writeFile(t, "tap.yaml", sampleYAML), &cfg))

	assert.Equal(t, "https://api.example.com", cfg.APIURL)
	assert.Equal(t, "s3cret", cfg.BearerToken)
	assert.Equal(t, []string{"users", "orders"}, cfg.StreamNames())

	streams, err := cfg.ResolveAll()
	require.NoError(t, err)
	require.Len(t, streams, 2)

	users := streams[0]
	assert.Equal(t, "/users", users.Path)
	assert.Equal(t, "$.data[*]", users.RecordsPath)
	assert.Equal(t, "stream", users.Headers["X-Trace"])
	assert.Equal(t, "application/json", users.Headers["Accept"])
	assert.Equal(t, "EU", users.Params["Region"], "param keys keep their case")
	assert.Equal(t, AuthBearer, users.Auth.Method)
	assert.Equal(t, StylePageNumber, users.Pagination.RequestStyle)
	assert.Equal(t, "resttap-test", users.UserAgent)
	assert.Equal(t, 3, users.Backoff.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, users.Backoff.Jitter.Std())
	assert.Equal(t, 2*time.Second, users.Backoff.Extension.Std())
	assert.Equal(t, 30*time.Second, users.HTTP.RequestTimeout.Std())

	orders := streams[1]
	assert.Equal(t, 10, orders.Params["per_page"])
	assert.Equal(t, StyleOffset, orders.Pagination.RequestStyle)
	assert.True(t, orders.UseRequestBodyNotParams)
	assert.False(t, users.UseRequestBodyNotParams)
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "tap.json", `{
		"api_url": "https://api.example.com",
		"name": "things",
		"path": "/things",
		"primary_keys": ["id"],
		"backoff": {"max_delay": "10s"},
		"auth_method": "api_key",
		"api_keys": {"X-API-Key": "${RESTTAP_MISSING:-fallback}"}
	}`)

	var cfg TapConfig
	require.NoError(t, Load(path, &cfg))

	sc, err := cfg.Resolve("things")
	require.NoError(t, err)
	require.NoError(t, sc.Validate())
	assert.Equal(t, "fallback", sc.Auth.APIKeys["X-API-Key"])
	assert.Equal(t, 10*time.Second, sc.Backoff.MaxDelay.Std())
	assert.Equal(t, DefaultAPIKeyLocation, sc.Auth.APIKeyLocation)
}

func TestLoadMissingFile(t *testing.T) {
	var cfg TapConfig
	assert.Error(t, Load(filepath.Join(t.TempDir(), "nope.yaml"), &cfg))
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	top := &TapConfig{
		APIURL: "https://api.example.com",
		StreamSettings: StreamSettings{
			Headers: map[string]string{"A": "1"},
			Params:  map[string]any{"p": "top"},
		},
		AuthConfig: AuthConfig{Method: "api_key", APIKeys: map[string]string{"k": "v"}},
	}
	def := StreamDefinition{Name: "s", StreamSettings: StreamSettings{Params: map[string]any{"p": "stream"}}}

	sc := Merge(top, def)
	sc.Headers["A"] = "changed"
	sc.Params["p"] = "changed"
	sc.Auth.APIKeys["k"] = "changed"

	assert.Equal(t, "1", top.Headers["A"])
	assert.Equal(t, "top", top.Params["p"])
	assert.Equal(t, "stream", def.Params["p"])
	assert.Equal(t, "v", top.APIKeys["k"])
}

func TestMergeBoolOverride(t *testing.T) {
	yes, no := true, false
	top := &TapConfig{StreamSettings: StreamSettings{RawMode: &yes}}

	assert.True(t, Merge(top, StreamDefinition{Name: "a"}).RawMode)
	assert.False(t, Merge(top, StreamDefinition{Name: "b", StreamSettings: StreamSettings{RawMode: &no}}).RawMode)
}

func TestMergeRequestSettings(t *testing.T) {
	yes := true
	top := &TapConfig{
		APIURL:         "https://api.example.com",
		StreamSettings: StreamSettings{HTTPMethod: "put", ReplicationSort: &yes},
	}

	sc := Merge(top, StreamDefinition{Name: "a"})
	assert.Equal(t, "PUT", sc.HTTPMethod)
	assert.True(t, sc.ReplicationSort)
	require.NoError(t, sc.Validate())

	sc = Merge(top, StreamDefinition{Name: "b", StreamSettings: StreamSettings{HTTPMethod: "patch"}})
	assert.Equal(t, "PATCH", sc.HTTPMethod)
}

func TestAPIKeyLocationAliases(t *testing.T) {
	for loc, want := range map[string]string{
		"":        APIKeyInHeader,
		"header":  APIKeyInHeader,
		"Headers": APIKeyInHeader,
		"params":  APIKeyInParams,
		"query":   APIKeyInParams,
	} {
		assert.Equal(t, want, CanonicalAPIKeyLocation(loc), loc)

		sc := Merge(&TapConfig{
			APIURL: "https://api.example.com",
			AuthConfig: AuthConfig{
				Method:         AuthAPIKey,
				APIKeys:        map[string]string{"X-API-Key": "k"},
				APIKeyLocation: loc,
			},
		}, StreamDefinition{Name: "s"})
		assert.NoError(t, sc.Validate(), loc)
	}
}

func TestResolveErrors(t *testing.T) {
	cfg := &TapConfig{APIURL: "https://api.example.com"}
	_, err := cfg.ResolveAll()
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	cfg.Streams = []StreamDefinition{{Name: "a"}, {Name: "a"}}
	_, err = cfg.ResolveAll()
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = cfg.Resolve("b")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestValidate(t *testing.T) {
	base := func() StreamConfig {
		sc := Merge(&TapConfig{APIURL: "https://api.example.com"}, StreamDefinition{Name: "s"})
		return sc
	}

	tests := []struct {
		name   string
		mutate func(*StreamConfig)
	}{
		{"missing api url", func(sc *StreamConfig) { sc.APIURL = "" }},
		{"relative api url", func(sc *StreamConfig) { sc.APIURL = "/v1" }},
		{"malformed records path", func(sc *StreamConfig) { sc.RecordsPath = "$[?(@.a==" }},
		{"unknown request style", func(sc *StreamConfig) { sc.Pagination.RequestStyle = "nope" }},
		{"unknown response style", func(sc *StreamConfig) { sc.Pagination.ResponseStyle = "nope" }},
		{"offset without page size", func(sc *StreamConfig) { sc.Pagination.RequestStyle = StyleOffset }},
		{"simple offset without page size", func(sc *StreamConfig) { sc.Pagination.RequestStyle = StyleSimpleOffset }},
		{"unknown auth", func(sc *StreamConfig) { sc.Auth.Method = "kerberos" }},
		{"basic without username", func(sc *StreamConfig) { sc.Auth.Method = AuthBasic }},
		{"api key without keys", func(sc *StreamConfig) { sc.Auth.Method = AuthAPIKey }},
		{"bearer without token", func(sc *StreamConfig) { sc.Auth.Method = AuthBearer }},
		{"oauth without url", func(sc *StreamConfig) { sc.Auth.Method = AuthOAuth }},
		{"oauth without grant", func(sc *StreamConfig) {
			sc.Auth.Method = AuthOAuth
			sc.Auth.AccessTokenURL = "https://auth.example.com/token"
		}},
		{"client credentials without secret", func(sc *StreamConfig) {
			sc.Auth.Method = AuthOAuth
			sc.Auth.AccessTokenURL = "https://auth.example.com/token"
			sc.Auth.GrantType = "client_credentials"
			sc.Auth.ClientID = "id"
		}},
		{"aws half keys", func(sc *StreamConfig) {
			sc.Auth.Method = AuthAWS
			sc.Auth.AWS.AccessKeyID = "AKID"
		}},
		{"search query without field", func(sc *StreamConfig) { sc.SourceSearchQuery = "x" }},
		{"bad backoff source", func(sc *StreamConfig) { sc.Backoff.Source = "cookie" }},
		{"unknown http method", func(sc *StreamConfig) { sc.HTTPMethod = "TRACE" }},
		{"unknown api key location", func(sc *StreamConfig) {
			sc.Auth.Method = AuthAPIKey
			sc.Auth.APIKeys = map[string]string{"X-API-Key": "k"}
			sc.Auth.APIKeyLocation = "cookie"
		}},
	}

	ok := base()
	require.NoError(t, ok.Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := base()
			tt.mutate(&sc)
			err := sc.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), "got %v", err)
		})
	}
}

func TestStyleAliases(t *testing.T) {
	assert.Equal(t, StyleJSONPath, StyleDefault.Canonical())
	assert.Equal(t, StyleJSONPath, RequestStyle("").Canonical())
	assert.Equal(t, StyleHATEOAS, StyleHATEOASBody.Canonical())
	assert.True(t, StyleRestAPIHeaderLink.Known())
	assert.False(t, RequestStyle("cursor").Known())

	assert.Equal(t, ResponseDefault, ResponsePage.Canonical())
	assert.Equal(t, ResponseOffset, ResponseStyle1.Canonical())
	assert.True(t, ResponseHATEOAS.Known())

	assert.Equal(t, AuthNone, CanonicalAuthMethod("no_auth"))
	assert.Equal(t, AuthNone, CanonicalAuthMethod(""))
	assert.Equal(t, AuthBearer, CanonicalAuthMethod("bearer_token"))
}

func TestDurationParsing(t *testing.T) {
	for in, want := range map[string]time.Duration{
		"":    0,
		"90":  90 * time.Second,
		"1.5": 1500 * time.Millisecond,
		"2m":  2 * time.Minute,
	} {
		d, err := parseDuration(in)
		require.NoError(t, err)
		assert.Equal(t, want, d.Std(), in)
	}
	_, err := parseDuration("soon")
	assert.Error(t, err)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("RESTTAP_A", "alpha")
	assert.Equal(t, "x alpha y", substituteEnvVars("x ${RESTTAP_A} y"))
	assert.Equal(t, "dflt", substituteEnvVars("${RESTTAP_UNSET_VAR:-dflt}"))
	assert.Equal(t, "", substituteEnvVars("${RESTTAP_UNSET_VAR}"))
	assert.Equal(t, "no close ${", substituteEnvVars("no close ${"))
}
