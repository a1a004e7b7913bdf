// Package runner runs the configured streams of a tap concurrently, each
// with its own executor, and merges their replication state.
package runner

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/resttap/pkg/config"
	"github.com/ajitpratap0/resttap/pkg/flatten"
	"github.com/ajitpratap0/resttap/pkg/logger"
	"github.com/ajitpratap0/resttap/pkg/metrics"
	"github.com/ajitpratap0/resttap/pkg/schema"
	"github.com/ajitpratap0/resttap/pkg/stream"
)

// Runner orchestrates the streams of one tap configuration.
type Runner struct {
	cfg         *config.TapConfig
	logger      *zap.Logger
	metrics     *metrics.Metrics
	concurrency int
	streamOpts  []stream.Option
	only        map[string]struct{}
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithMetrics sets the metrics sink shared by all streams.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithConcurrency overrides max_concurrency.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithStreamOptions passes options to every executor.
func WithStreamOptions(opts ...stream.Option) Option {
	return func(r *Runner) { r.streamOpts = append(r.streamOpts, opts...) }
}

// WithStreams restricts the run to the named streams.
func WithStreams(names ...string) Option {
	return func(r *Runner) {
		if len(names) == 0 {
			return
		}
		r.only = make(map[string]struct{}, len(names))
		for _, n := range names {
			r.only[n] = struct{}{}
		}
	}
}

// New creates a runner for cfg.
func New(cfg *config.TapConfig, opts ...Option) *Runner {
	r := &Runner{
		cfg:         cfg,
		logger:      zap.NewNop(),
		concurrency: cfg.Concurrency(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "runner"))
	return r
}

// StreamResult is the outcome of one stream.
type StreamResult struct {
	Stream   string
	Result   *stream.Result
	Err      error
	Duration time.Duration
}

// Summary is the outcome of a run, in configuration order.
type Summary struct {
	Streams []StreamResult
	State   *State
}

// Failed returns the streams that ended with an error.
func (s *Summary) Failed() []StreamResult {
	var out []StreamResult
	for _, r := range s.Streams {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

func (r *Runner) streams() ([]config.StreamConfig, error) {
	all, err := r.cfg.ResolveAll()
	if err != nil {
		return nil, err
	}
	if r.only == nil {
		return all, nil
	}
	out := all[:0]
	for _, sc := range all {
		if _, ok := r.only[sc.Name]; ok {
			out = append(out, sc)
		}
	}
	return out, nil
}

func (r *Runner) executorOpts() []stream.Option {
	opts := []stream.Option{stream.WithLogger(r.logger), stream.WithMetrics(r.metrics)}
	return append(opts, r.streamOpts...)
}

// Run extracts every stream, writing records to sink. Streams run up to the
// configured concurrency; a failed stream does not stop the others, and the
// state of each stream is updated from what that stream committed. The
// returned error joins the per-stream errors; configuration errors are
// returned before any stream starts.
func (r *Runner) Run(ctx context.Context, state *State, sink Sink) (*Summary, error) {
	streams, err := r.streams()
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = NewState()
	}

	results := make([]StreamResult, len(streams))
	var g errgroup.Group
	g.SetLimit(r.concurrency)

	for i, sc := range streams {
		i, sc := i, sc
		g.Go(func() error {
			results[i] = r.runStream(ctx, sc, state, sink)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, res := range results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return &Summary{Streams: results, State: state}, stderrors.Join(errs...)
}

func (r *Runner) runStream(ctx context.Context, sc config.StreamConfig, state *State, sink Sink) StreamResult {
	start := time.Now()
	out := StreamResult{Stream: sc.Name}
	log := r.logger.With(zap.String("stream", sc.Name))

	exec, err := stream.New(ctx, sc, r.executorOpts()...)
	if err != nil {
		out.Err = err
		return out
	}
	defer exec.Close()

	ctx = logger.ContextWithStream(ctx, sc.Name)
	prior := state.Value(sc.Name, sc.ReplicationKey)
	log.Info("starting stream", zap.Any("prior_state", prior))

	res, err := exec.Run(ctx, prior, func(rec flatten.Record) error {
		return sink.WriteRecord(ctx, sc.Name, rec)
	})
	out.Result, out.Err, out.Duration = res, err, time.Since(start)

	if res != nil && res.StateChanged && sc.ReplicationKey != "" {
		state.Set(sc.Name, sc.ReplicationKey, res.State)
	}
	return out
}

// Discover returns the schema of every stream: the supplied one, or one
// inferred from a sample of live records. Any failure fails discovery.
func (r *Runner) Discover(ctx context.Context) (*schema.Registry, error) {
	streams, err := r.streams()
	if err != nil {
		return nil, err
	}

	reg := schema.NewRegistry(r.logger)
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, sc := range streams {
		sc := sc
		g.Go(func() error {
			exec, err := stream.New(ctx, sc, r.executorOpts()...)
			if err != nil {
				return err
			}
			defer exec.Close()

			s, err := exec.DiscoverSchema(ctx)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			_, err = reg.Register(sc.Name, s)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reg, nil
}
