// Package clients provides the HTTP boundary of a stream run: a tuned HTTP
// client that decodes compressed bodies, a backoff policy for rate-limited
// responses and a retrier that applies it.
package clients

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/resttap/pkg/config"
	"github.com/ajitpratap0/resttap/pkg/errors"
	"github.com/ajitpratap0/resttap/pkg/metrics"
	"github.com/ajitpratap0/resttap/pkg/observability"
)

// DefaultUserAgent is sent when no user_agent is configured.
const DefaultUserAgent = "resttap/1.0"

const acceptEncoding = "gzip, deflate, zstd"

// HTTPConfig configures the HTTP client
type HTTPConfig struct {
	RequestTimeout  time.Duration
	RateLimitPerSec float64
	RateLimitBurst  int
	MaxIdleConns    int
	DisableHTTP2    bool
	UserAgent       string

	// Transport replaces the tuned transport (tests, proxies).
	Transport http.RoundTripper
}

// DefaultHTTPConfig returns the configuration used when a stream sets none.
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		RequestTimeout: config.DefaultRequestTimeout,
		MaxIdleConns:   100,
		UserAgent:      DefaultUserAgent,
	}
}

// HTTPConfigFrom converts resolved stream settings.
func HTTPConfigFrom(c config.HTTPConfig, userAgent string) *HTTPConfig {
	cfg := DefaultHTTPConfig()
	if c.RequestTimeout > 0 {
		cfg.RequestTimeout = c.RequestTimeout.Std()
	}
	if c.MaxIdleConns > 0 {
		cfg.MaxIdleConns = c.MaxIdleConns
	}
	if userAgent != "" {
		cfg.UserAgent = userAgent
	}
	cfg.RateLimitPerSec = c.RateLimitPerSec
	cfg.RateLimitBurst = c.RateLimitBurst
	cfg.DisableHTTP2 = c.DisableHTTP2
	return cfg
}

// Signer adds credentials to an outbound request.
type Signer interface {
	Apply(ctx context.Context, req *http.Request) error
}

// Request is one outbound call.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
	// Stream labels metrics and logs.
	Stream string
	Signer Signer
}

// Response is a fully read, decoded response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Method     string
	URL        string
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// HTTPClient sends requests for one stream. It is safe for concurrent use.
type HTTPClient struct {
	config     *HTTPConfig
	logger     *zap.Logger
	httpClient *http.Client
	transport  *http.Transport
	limiter    *rate.Limiter
	metrics    *metrics.Metrics
}

// NewHTTPClient creates a new HTTP client
func NewHTTPClient(cfg *HTTPConfig, logger *zap.Logger, m *metrics.Metrics) *HTTPClient {
	if cfg == nil {
		cfg = DefaultHTTPConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := &HTTPClient{
		config:  cfg,
		logger:  logger.With(zap.String("component", "http_client")),
		metrics: m,
	}

	rt := cfg.Transport
	if rt == nil {
		client.transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          cfg.MaxIdleConns,
			MaxIdleConnsPerHost:   cfg.MaxIdleConns,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			// Bodies are decoded here so zstd is covered too.
			DisableCompression: true,
		}
		if !cfg.DisableHTTP2 {
			if err := http2.ConfigureTransport(client.transport); err != nil {
				client.logger.Warn("failed to configure HTTP/2", zap.Error(err))
			}
		}
		rt = client.transport
	}

	client.httpClient = &http.Client{
		Transport: rt,
		Timeout:   cfg.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	if cfg.RateLimitPerSec > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		client.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), burst)
	}

	return client
}

// Do sends req and reads the whole body. Non-2xx statuses are returned as a
// Response, not an error; only transport failures and cancellation are
// errors here.
func (c *HTTPClient) Do(ctx context.Context, req *Request) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, transportError(ctx, err, req)
		}
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "build request").WithDetail("url", req.URL)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.config.UserAgent)
	}
	if httpReq.Header.Get("Accept-Encoding") == "" {
		httpReq.Header.Set("Accept-Encoding", acceptEncoding)
	}
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	observability.InjectHeaders(ctx, propagation.HeaderCarrier(httpReq.Header))

	if req.Signer != nil {
		if err := req.Signer.Apply(ctx, httpReq); err != nil {
			return nil, err
		}
	}

	timer := metrics.NewTimer()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.HTTPRequest(req.Stream, 0, timer.Elapsed())
		return nil, transportError(ctx, err, req)
	}
	defer resp.Body.Close()

	data, err := readBody(resp)
	c.metrics.HTTPRequest(req.Stream, resp.StatusCode, timer.Elapsed())
	if err != nil {
		return nil, transportError(ctx, err, req)
	}

	c.logger.Debug("request completed",
		zap.String("stream", req.Stream),
		zap.String("method", req.Method),
		zap.String("url", req.URL),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(data)))

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		Method:     req.Method,
		URL:        req.URL,
	}, nil
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	if c.transport != nil {
		c.transport.CloseIdleConnections()
	}
	return nil
}

func transportError(ctx context.Context, err error, req *Request) error {
	if ctx.Err() != nil {
		return errors.Wrap(ctx.Err(), errors.ErrorTypeCancelled, "request cancelled").
			WithDetail("url", req.URL)
	}
	return errors.Wrap(err, errors.ErrorTypeConnection, "send request").
		WithDetail("method", req.Method).
		WithDetail("url", req.URL)
}

func readBody(resp *http.Response) ([]byte, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip body: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case "deflate":
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		// "deflate" is zlib-wrapped by the RFC, but raw streams are common.
		if zr, err := zlib.NewReader(bytes.NewReader(raw)); err == nil {
			defer zr.Close()
			return io.ReadAll(zr)
		}
		fr := flate.NewReader(bytes.NewReader(raw))
		defer fr.Close()
		return io.ReadAll(fr)
	case "zstd":
		zr, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("zstd body: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	default:
		return io.ReadAll(resp.Body)
	}
}
