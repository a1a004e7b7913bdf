package clients

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/resttap/pkg/errors"
	"github.com/ajitpratap0/resttap/pkg/metrics"
)

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retrier applies a Backoff to a request function. Only the calling
// stream's loop blocks while it waits.
type Retrier struct {
	backoff *Backoff
	sleep   Sleeper
	logger  *zap.Logger
	metrics *metrics.Metrics
	stream  string
}

// NewRetrier creates a retrier for one stream. A nil sleeper uses Sleep.
func NewRetrier(b *Backoff, stream string, sleep Sleeper, logger *zap.Logger, m *metrics.Metrics) *Retrier {
	if sleep == nil {
		sleep = Sleep
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrier{
		backoff: b,
		sleep:   sleep,
		logger:  logger.With(zap.String("component", "retrier")),
		metrics: m,
		stream:  stream,
	}
}

// Do calls fn until it yields a 2xx response, a permanent failure, or the
// attempt budget is spent. Rate-limited responses wait for the delay the
// policy computes from them; connection failures wait on the exponential
// schedule. The last failure is returned once attempts run out.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) (*Response, error)) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt < r.backoff.MaxAttempts; attempt++ {
		resp, err := fn(ctx)

		var delay time.Duration
		switch {
		case err != nil:
			if !errors.IsType(err, errors.ErrorTypeConnection) {
				return nil, err
			}
			lastErr = err
			delay = r.backoff.Delay(nil, attempt)
		default:
			classified := r.backoff.Classify(resp)
			if classified == nil {
				return resp, nil
			}
			if !errors.IsRetryable(classified) {
				return resp, classified
			}
			lastErr = classified
			delay = r.backoff.Delay(resp, attempt)
		}

		if attempt == r.backoff.MaxAttempts-1 {
			break
		}

		r.metrics.Retry(r.stream)
		r.logger.Warn("retrying request",
			zap.String("stream", r.stream),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(lastErr))

		if err := r.sleep(ctx, delay); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeCancelled, "retry cancelled")
		}
	}

	return nil, errors.Wrap(lastErr, errors.TypeOf(lastErr), "retry budget exhausted").
		WithDetail("attempts", r.backoff.MaxAttempts)
}
