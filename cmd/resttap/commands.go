package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/resttap/internal/runner"
	"github.com/ajitpratap0/resttap/pkg/config"
	"github.com/ajitpratap0/resttap/pkg/jsonvalue"
	"github.com/ajitpratap0/resttap/pkg/logger"
	"github.com/ajitpratap0/resttap/pkg/metrics"
	"github.com/ajitpratap0/resttap/pkg/observability"
)

// session holds what every command sets up: config, logger, metrics and
// tracing.
type session struct {
	cfg      *config.TapConfig
	log      *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	cleanup  []func()
}

func newSession(ctx context.Context, v *viper.Viper, errOut io.Writer) (context.Context, *session, error) {
	path := v.GetString("config")
	if path == "" {
		return ctx, nil, fmt.Errorf("--config is required")
	}

	cfg := &config.TapConfig{}
	if err := config.Load(path, cfg); err != nil {
		return ctx, nil, fmt.Errorf("configuration error: %w", err)
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = v.GetString("log-level")
	logCfg.Encoding = v.GetString("log-format")
	logCfg.FilePath = v.GetString("log-file")
	log, closeLog, err := logger.New(logCfg)
	if err != nil {
		return ctx, nil, fmt.Errorf("logger: %w", err)
	}

	s := &session{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	s.metrics = metrics.New(s.registry)
	s.cleanup = append(s.cleanup, func() {
		_ = log.Sync()
		_ = closeLog()
	})

	if exporter := v.GetString("trace"); exporter != "" && exporter != "none" {
		shutdown, err := observability.InitTracing(observability.TracingConfig{
			ServiceName:    "resttap",
			ServiceVersion: version,
			SamplingRate:   1,
			Exporter:       exporter,
			Writer:         errOut,
		})
		if err != nil {
			s.close()
			return ctx, nil, fmt.Errorf("tracing: %w", err)
		}
		s.cleanup = append(s.cleanup, func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		})
	}

	if addr := v.GetString("metrics-addr"); addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		s.cleanup = append(s.cleanup, func() { _ = srv.Close() })
	}

	runID := uuid.NewString()
	ctx = logger.ContextWithRunID(ctx, runID)
	s.log = logger.FromContext(ctx, log).With(zap.String("component", "resttap-cli"))
	return ctx, s, nil
}

func (s *session) close() {
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
}

func (s *session) runner(v *viper.Viper) *runner.Runner {
	return runner.New(s.cfg,
		runner.WithLogger(s.log),
		runner.WithMetrics(s.metrics),
		runner.WithConcurrency(v.GetInt("max-concurrency")),
		runner.WithStreams(v.GetStringSlice("streams")...),
	)
}

func runTap(ctx context.Context, v *viper.Viper, out, errOut io.Writer) error {
	ctx, s, err := newSession(ctx, v, errOut)
	if err != nil {
		return err
	}
	defer s.close()

	if timeout := v.GetDuration("timeout"); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	state := runner.NewState()
	if path := v.GetString("state"); path != "" {
		if state, err = runner.LoadState(path); err != nil {
			return err
		}
	}

	sink := runner.NewJSONLinesSink(out)
	start := time.Now()
	summary, runErr := s.runner(v).Run(ctx, state, sink)
	if summary == nil {
		return runErr
	}

	for _, r := range summary.Streams {
		fields := []zap.Field{zap.String("stream", r.Stream), zap.Duration("duration", r.Duration)}
		if r.Result != nil {
			fields = append(fields,
				zap.Int("records", r.Result.Records),
				zap.Int("pages", r.Result.Pages),
				zap.Any("state", r.Result.State))
		}
		if r.Err != nil {
			s.log.Error("stream failed", append(fields, zap.Error(r.Err))...)
			continue
		}
		s.log.Info("stream completed", fields...)
	}

	if path := v.GetString("state-out"); path != "" {
		if err := summary.State.Save(path); err != nil {
			return err
		}
	} else if err := sink.WriteState(summary.State); err != nil {
		return err
	}
	if err := sink.Flush(); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	s.log.Info("run finished",
		zap.Duration("duration", time.Since(start)),
		zap.Int("streams", len(summary.Streams)),
		zap.Int("failed", len(summary.Failed())))
	return runErr
}

func discover(ctx context.Context, v *viper.Viper, out, errOut io.Writer) error {
	ctx, s, err := newSession(ctx, v, errOut)
	if err != nil {
		return err
	}
	defer s.close()

	reg, err := s.runner(v).Discover(ctx)
	if err != nil {
		return err
	}
	data, err := reg.Export()
	if err != nil {
		return err
	}

	switch v.GetString("format") {
	case "yaml", "yml":
		doc, err := jsonvalue.Decode(data)
		if err != nil {
			return err
		}
		if data, err = yaml.Marshal(doc); err != nil {
			return fmt.Errorf("encode catalog: %w", err)
		}
	case "json", "":
		data = append(data, '\n')
	default:
		return fmt.Errorf("unknown format %q, use json or yaml", v.GetString("format"))
	}

	_, err = out.Write(data)
	return err
}
