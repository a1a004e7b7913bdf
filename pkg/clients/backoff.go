package clients

import (
	"math"
	"math/rand"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ajitpratap0/resttap/pkg/config"
	"github.com/ajitpratap0/resttap/pkg/errors"
	"github.com/ajitpratap0/resttap/pkg/jsonpath"
	"github.com/ajitpratap0/resttap/pkg/jsonvalue"
)

// Backoff sources.
const (
	SourceHeader = "header"
	SourceBody   = "body"
)

var firstNumber = regexp.MustCompile(`\d+(\.\d+)?`)

// Backoff computes how long to wait before retrying a rate-limited
// response. The delay comes from the response (a header, or a number in a
// body message) when it carries one, and from an exponential schedule
// otherwise. Jitter in [0, Jitter) and the fixed Extension are added to
// every delay.
type Backoff struct {
	MaxAttempts  int
	Source       string
	Header       string
	MessagePath  *jsonpath.Path
	Jitter       time.Duration
	Extension    time.Duration
	InitialDelay time.Duration
	MaxDelay     time.Duration

	statusCodes map[int]struct{}
	now         func() time.Time

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewBackoff builds the policy from resolved stream settings.
func NewBackoff(cfg config.BackoffConfig) (*Backoff, error) {
	b := &Backoff{
		MaxAttempts:  cfg.MaxAttempts,
		Source:       strings.ToLower(cfg.Source),
		Header:       cfg.Header,
		Jitter:       cfg.Jitter.Std(),
		Extension:    cfg.Extension.Std(),
		InitialDelay: cfg.InitialDelay.Std(),
		MaxDelay:     cfg.MaxDelay.Std(),
		statusCodes:  make(map[int]struct{}, len(cfg.StatusCodes)),
		now:          time.Now,
		rnd:          rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // jitter only
	}
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = config.DefaultMaxAttempts
	}
	if b.Source == "" {
		b.Source = SourceHeader
	}
	if b.Header == "" {
		b.Header = config.DefaultBackoffHeader
	}
	if b.InitialDelay <= 0 {
		b.InitialDelay = config.DefaultInitialDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = config.DefaultMaxDelay
	}

	codes := cfg.StatusCodes
	if len(codes) == 0 {
		codes = config.DefaultBackoffStatusCodes
	}
	for _, c := range codes {
		b.statusCodes[c] = struct{}{}
	}

	if cfg.MessagePath != "" {
		p, err := jsonpath.Compile(cfg.MessagePath)
		if err != nil {
			return nil, err
		}
		b.MessagePath = p
	}
	return b, nil
}

// Retryable reports whether status triggers the backoff policy.
func (b *Backoff) Retryable(status int) bool {
	_, ok := b.statusCodes[status]
	return ok
}

// Delay returns the wait before retry number attempt (0-based) of resp.
func (b *Backoff) Delay(resp *Response, attempt int) time.Duration {
	d, ok := b.fromResponse(resp)
	if !ok {
		d = b.exponential(attempt)
	}
	return d + b.jitter() + b.Extension
}

func (b *Backoff) fromResponse(resp *Response) (time.Duration, bool) {
	if resp == nil {
		return 0, false
	}
	if b.Source == SourceBody {
		return b.fromBody(resp.Body)
	}
	return b.fromHeader(resp.Header.Get(b.Header))
}

func (b *Backoff) fromHeader(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
		return time.Duration(secs * float64(time.Second)), true
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(b.now())
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

func (b *Backoff) fromBody(body []byte) (time.Duration, bool) {
	message := string(body)
	if b.MessagePath != nil {
		doc, err := jsonvalue.Decode(body)
		if err != nil {
			return 0, false
		}
		v, ok := b.MessagePath.First(doc)
		if !ok {
			return 0, false
		}
		message = jsonvalue.AsString(v)
	}

	m := firstNumber.FindString(message)
	if m == "" {
		return 0, false
	}
	secs, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

func (b *Backoff) exponential(attempt int) time.Duration {
	d := float64(b.InitialDelay) * math.Pow(2, float64(attempt))
	if d > float64(b.MaxDelay) {
		d = float64(b.MaxDelay)
	}
	return time.Duration(d)
}

func (b *Backoff) jitter() time.Duration {
	if b.Jitter <= 0 {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Duration(b.rnd.Int63n(int64(b.Jitter)))
}

// Classify maps a completed response onto the error taxonomy: nil for 2xx,
// transient for statuses in the backoff policy, permanent otherwise.
func (b *Backoff) Classify(resp *Response) error {
	if resp.OK() {
		return nil
	}
	cause := errors.NewHTTPError(resp.StatusCode, resp.Method, resp.URL, resp.Body)
	if b.Retryable(resp.StatusCode) {
		return errors.Wrap(cause, errors.ErrorTypeTransientHTTP, "rate limited").
			WithDetail("status", resp.StatusCode)
	}
	return errors.Wrap(cause, errors.ErrorTypePermanentHTTP, "request failed").
		WithDetail("status", resp.StatusCode)
}
