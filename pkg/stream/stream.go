// Package stream drives the extraction run of one stream: it builds each
// request from the stream config and the paginator state, sends it through
// the authenticator and the retrying HTTP client, flattens the records found
// at records_path and tracks the replication key.
//
// A run is strictly sequential. Replication state advances only after every
// record of a page has been emitted, so an interrupted page never moves it.
package stream

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/resttap/pkg/auth"
	"github.com/ajitpratap0/resttap/pkg/clients"
	"github.com/ajitpratap0/resttap/pkg/config"
	"github.com/ajitpratap0/resttap/pkg/errors"
	"github.com/ajitpratap0/resttap/pkg/flatten"
	"github.com/ajitpratap0/resttap/pkg/jsonpath"
	"github.com/ajitpratap0/resttap/pkg/logger"
	"github.com/ajitpratap0/resttap/pkg/metrics"
	"github.com/ajitpratap0/resttap/pkg/observability"
	"github.com/ajitpratap0/resttap/pkg/pagination"
)

// StopReason says why a run ended without error.
type StopReason string

const (
	// StopDone means the paginator ran out of pages.
	StopDone StopReason = "done"
	// StopResultsLimit means pagination_results_limit ended a style for
	// which that is expected.
	StopResultsLimit StopReason = "results_limit"
	// StopSampleFull means schema discovery collected enough records.
	StopSampleFull StopReason = "sample_full"
)

// Result summarizes a run. State is the replication value to persist; it
// is the prior value when nothing newer was seen.
type Result struct {
	State        any
	StateChanged bool
	Records      int
	Pages        int
	Stop         StopReason
}

// EmitFunc receives each record in order. Returning an error stops the run
// before the current page's state is committed.
type EmitFunc func(rec flatten.Record) error

type options struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
	client  *clients.HTTPClient
	auth    auth.Authenticator
	sleep   clients.Sleeper
	now     func() time.Time
}

// Option configures an Executor.
type Option func(*options)

// WithLogger sets the base logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithHTTPClient replaces the client built from the stream's http settings.
func WithHTTPClient(c *clients.HTTPClient) Option {
	return func(o *options) { o.client = c }
}

// WithAuthenticator replaces the authenticator built from the auth config.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(o *options) { o.auth = a }
}

// WithSleeper replaces the backoff sleeper.
func WithSleeper(s clients.Sleeper) Option {
	return func(o *options) { o.sleep = s }
}

// WithClock replaces the clock used for token expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Executor runs one stream. An Executor holds per-stream auth and
// pagination state and must not be shared between streams; it may be run
// again once a previous run has returned.
type Executor struct {
	cfg     config.StreamConfig
	auth    auth.Authenticator
	pager   *pagination.Pager
	client  *clients.HTTPClient
	retrier *clients.Retrier
	records *jsonpath.Path
	except  flatten.ExceptSet
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New builds the executor for a resolved stream config. Every config
// problem is reported here, before any request is sent. ctx bounds the
// ambient AWS credential lookup.
func New(ctx context.Context, cfg config.StreamConfig, opts ...Option) (*Executor, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	backoff, err := clients.NewBackoff(cfg.Backoff)
	if err != nil {
		return nil, err
	}

	log := o.logger.With(zap.String("component", "stream"))

	client := o.client
	if client == nil {
		client = clients.NewHTTPClient(clients.HTTPConfigFrom(cfg.HTTP, cfg.UserAgent), o.logger, o.metrics)
	}

	authenticator := o.auth
	if authenticator == nil {
		authOpts := []auth.Option{
			auth.WithLogger(o.logger),
			auth.WithMetrics(o.metrics),
			auth.WithHTTPClient(client),
			auth.WithBackoff(backoff),
			auth.WithTokenHeaders(cfg.Headers),
		}
		if o.sleep != nil {
			authOpts = append(authOpts, auth.WithSleeper(o.sleep))
		}
		if o.now != nil {
			authOpts = append(authOpts, auth.WithClock(o.now))
		}
		authenticator, err = auth.New(ctx, cfg.Auth, authOpts...)
		if err != nil {
			return nil, annotate(err, cfg.Name)
		}
	}

	pager, err := pagination.New(cfg.Pagination)
	if err != nil {
		return nil, annotate(err, cfg.Name)
	}

	records, err := jsonpath.Compile(cfg.RecordsPath)
	if err != nil {
		return nil, annotate(err, cfg.Name)
	}

	return &Executor{
		cfg:     cfg,
		auth:    authenticator,
		pager:   pager,
		client:  client,
		retrier: clients.NewRetrier(backoff, cfg.Name, o.sleep, o.logger, o.metrics),
		records: records,
		except:  flatten.NewExceptSet(cfg.ExceptKeys),
		logger:  log,
		metrics: o.metrics,
	}, nil
}

// Name returns the stream name.
func (e *Executor) Name() string {
	return e.cfg.Name
}

// Config returns the resolved stream config.
func (e *Executor) Config() config.StreamConfig {
	return e.cfg
}

// Close releases the executor's idle connections.
func (e *Executor) Close() error {
	return e.client.Close()
}

// Run extracts the stream, handing every record to emit, and returns the
// replication value to persist. prior is the value persisted by the last
// run (nil when there is none).
//
// On error the returned Result still holds the state committed by the pages
// that were fully emitted.
func (e *Executor) Run(ctx context.Context, prior any, emit EmitFunc) (res *Result, err error) {
	ctx = logger.ContextWithStream(ctx, e.cfg.Name)
	ctx, span := observability.StartSpan(ctx, e.cfg.Name, "stream.run",
		attribute.String("resttap.pagination_style", string(e.pager.Style())))
	defer func() { observability.EndSpan(span, err) }()

	log := logger.FromContext(ctx, e.logger)
	tracker := newTracker(e.cfg.ReplicationKey, prior)

	res, err = e.loop(ctx, prior, tracker, emit)

	outcome := "success"
	if err != nil {
		outcome = string(errors.TypeOf(err))
		if outcome == "" {
			outcome = "failure"
		}
		log.Error("stream run failed",
			zap.Int("records", res.Records),
			zap.Int("pages", res.Pages),
			zap.Error(err))
	} else {
		log.Info("stream run completed",
			zap.Int("records", res.Records),
			zap.Int("pages", res.Pages),
			zap.String("stop", string(res.Stop)),
			zap.Bool("state_changed", res.StateChanged))
	}
	e.metrics.StreamRun(e.cfg.Name, outcome)
	return res, err
}

// loop is the page loop shared by Run and DiscoverSchema.
func (e *Executor) loop(ctx context.Context, prior any, tracker *tracker, emit EmitFunc) (*Result, error) {
	res := &Result{State: prior}
	base := e.baseParams(prior)
	state := e.pager.Start()

	for {
		if err := ctx.Err(); err != nil {
			return res, cancelled(err, e.cfg.Name)
		}

		pg, err := e.fetch(ctx, base, state)
		if err != nil {
			return res, annotate(err, e.cfg.Name)
		}

		docs := e.records.All(pg.doc)
		for _, doc := range docs {
			rec, err := e.record(doc)
			if err != nil {
				return res, annotate(err, e.cfg.Name)
			}
			if err := ctx.Err(); err != nil {
				return res, cancelled(err, e.cfg.Name)
			}
			if err := emit(rec); err != nil {
				if errors.Is(err, errSampleFull) {
					res.Records++
					res.Pages++
					res.Stop = StopSampleFull
					return res, nil
				}
				if ctx.Err() != nil {
					return res, cancelled(ctx.Err(), e.cfg.Name)
				}
				return res, err
			}
			res.Records++
			tracker.observe(rec)
		}

		res.Pages++
		res.State, res.StateChanged = tracker.commit()
		e.metrics.PageFetched(e.cfg.Name)
		e.metrics.RecordsEmitted(e.cfg.Name, len(docs))

		next, err := e.pager.Next(&pagination.Response{
			Header:  pg.header,
			Body:    pg.doc,
			Records: len(docs),
		}, state)
		switch {
		case errors.Is(err, pagination.ErrResultsLimit):
			res.Stop = StopResultsLimit
			return res, nil
		case err != nil:
			return res, annotate(err, e.cfg.Name)
		case next == nil:
			res.Stop = StopDone
			return res, nil
		}
		state = *next
	}
}

// record turns one document found at records_path into the emitted record.
func (e *Executor) record(doc any) (flatten.Record, error) {
	flat, err := flatten.Flatten(doc, e.except)
	if err != nil {
		return nil, err
	}
	if !e.cfg.RawMode {
		return flat, nil
	}

	rec := flatten.Record{e.cfg.RawKey: doc}
	for _, k := range e.keyFields() {
		if v, ok := flat[flatten.Key(k)]; ok {
			rec[k] = v
		}
	}
	return rec, nil
}

// keyFields are the primary keys plus the replication key.
func (e *Executor) keyFields() []string {
	keys := append([]string(nil), e.cfg.PrimaryKeys...)
	if e.cfg.ReplicationKey != "" {
		keys = append(keys, e.cfg.ReplicationKey)
	}
	return keys
}

func annotate(err error, stream string) error {
	var e *errors.Error
	if errors.As(err, &e) {
		if _, ok := e.Detail("stream"); !ok {
			e.WithDetail("stream", stream)
		}
	}
	return err
}

func cancelled(err error, stream string) error {
	return errors.Wrap(err, errors.ErrorTypeCancelled, "stream run interrupted").
		WithDetail("stream", stream)
}
