package stream

import (
	"context"
	stderrors "errors"

	"go.uber.org/zap"

	"github.com/ajitpratap0/resttap/pkg/flatten"
	"github.com/ajitpratap0/resttap/pkg/logger"
	"github.com/ajitpratap0/resttap/pkg/observability"
	"github.com/ajitpratap0/resttap/pkg/schema"
)

// errSampleFull stops the page loop once discovery has its sample.
var errSampleFull = stderrors.New("inference sample full")

// RecordStream is the channel form of a run. Records is closed when the
// run ends; Errors then yields at most one error and is closed too.
type RecordStream struct {
	Records <-chan flatten.Record
	Errors  <-chan error
}

// Read starts a run in the background and streams its records. The
// returned function blocks until the run has ended and returns its result.
// Consumers must drain Records or cancel ctx.
func (e *Executor) Read(ctx context.Context, prior any) (*RecordStream, func() *Result) {
	recordsChan := make(chan flatten.Record, 100)
	errorsChan := make(chan error, 1)
	done := make(chan struct{})

	var res *Result
	go func() {
		defer close(done)
		defer close(errorsChan)
		defer close(recordsChan)

		r, err := e.Run(ctx, prior, func(rec flatten.Record) error {
			select {
			case recordsChan <- rec:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		res = r
		if err != nil {
			errorsChan <- err
		}
	}()

	return &RecordStream{Records: recordsChan, Errors: errorsChan}, func() *Result {
		<-done
		return res
	}
}

// DiscoverSchema returns the supplied schema when one is configured, the
// raw passthrough schema in raw mode, and otherwise infers one from the
// first num_inference_records records of a live run. Discovery never
// changes replication state.
func (e *Executor) DiscoverSchema(ctx context.Context) (s *schema.Schema, err error) {
	if e.cfg.Schema != nil {
		supplied, err := schema.Load(e.cfg.Schema)
		if err != nil {
			return nil, annotate(err, e.cfg.Name)
		}
		return supplied, nil
	}
	if e.cfg.RawMode {
		return schema.Raw(e.cfg.RawKey, e.keyFields()), nil
	}

	ctx = logger.ContextWithStream(ctx, e.cfg.Name)
	ctx, span := observability.StartSpan(ctx, e.cfg.Name, "stream.discover")
	defer func() { observability.EndSpan(span, err) }()

	limit := e.cfg.NumInferenceRecords
	sample := make([]flatten.Record, 0, limit)
	res, err := e.loop(ctx, nil, newTracker("", nil), func(rec flatten.Record) error {
		sample = append(sample, rec)
		if len(sample) >= limit {
			return errSampleFull
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx, e.logger).Info("schema inferred",
		zap.Int("sample", len(sample)),
		zap.Int("pages", res.Pages))
	return schema.Infer(sample), nil
}
