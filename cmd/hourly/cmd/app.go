package cmd

import (
	"context"
	"fmt"

	"github.com/dm-alt/USM-scripts/internal/config"
	"github.com/dm-alt/USM-scripts/pkg/frontapi"
	"github.com/dm-alt/USM-scripts/pkg/logging"
	"github.com/dm-alt/USM-scripts/pkg/metrics"
	"github.com/dm-alt/USM-scripts/pkg/models"
	"github.com/dm-alt/USM-scripts/pkg/observe"
	"github.com/dm-alt/USM-scripts/pkg/pipeline"
	"github.com/dm-alt/USM-scripts/pkg/retry"
	"github.com/dm-alt/USM-scripts/pkg/store"
	"github.com/dm-alt/USM-scripts/pkg/tracing"
)

// version is set at build time with -ldflags "-X .../cmd.version=..."
var version = "dev"

// app holds everything a command needs, built once per invocation
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	store    store.Store
	observer *observe.Observer
	client   *frontapi.Client
	metrics  *metrics.Collector
	tracer   *tracing.Provider
	pipeline *pipeline.Pipeline
}

// newApp wires the pipeline. extra history sources (a HAR file, URLs given
// on the command line) are consulted after the persisted last match.
func newApp(cfg *config.Config, extra ...observe.History) (*app, error) {
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		logger.Warn("Last-match store unavailable, using memory", logging.Fields{"path": cfg.Store.Path, "error": err})
		st = store.NewMemoryStore()
	}

	tracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:    "usm-hourly",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		Enabled:        cfg.Tracing.Enabled,
	}, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	collector := metrics.NewCollector()
	observer := observe.NewObserver(observe.Matcher{TargetCollection: cfg.Backend.TargetCollection})

	// Persist whatever becomes the freshest match
	observer.OnMatch(func(req *models.ObservedRequest) {
		if observer.Latest() != req {
			return
		}
		if err := st.SaveLastMatch(context.Background(), req); err != nil {
			logger.Warn("Failed to persist last match", logging.Fields{"error": err})
		}
	})

	client, err := frontapi.NewClient(frontapi.Config{
		Origin:        cfg.Backend.Origin,
		SessionCookie: cfg.Backend.SessionCookie,
		CSRFCookie:    cfg.Backend.CSRFCookie,
		CSRFHeader:    cfg.Backend.CSRFHeader,
		Timeout:       cfg.Backend.Timeout,
		RateLimit:     cfg.Backend.RateLimit,
		Burst:         cfg.Backend.Burst,
		Transport:     observe.NewTransport(nil, observer),
		Tracer:        tracer,
		Logger:        logger.WithField("component", "frontapi"),
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	history := observe.MultiHistory{observe.StoreHistory{Source: st}}
	history = append(history, extra...)

	latch := observe.NewLatch(observer, history, logger.WithField("component", "latch"))
	latch.PollInterval = cfg.Correlation.PollInterval

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = cfg.Poll.MaxAttempts
	policy.Interval = cfg.Poll.Interval

	p, err := pipeline.New(pipeline.Config{
		Observer:           observer,
		Latch:              latch,
		Client:             client,
		Store:              st,
		Metrics:            collector,
		Tracer:             tracer,
		Logger:             logger,
		CorrelationTimeout: cfg.Correlation.Timeout,
		PollPolicy:         policy,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		observer: observer,
		client:   client,
		metrics:  collector,
		tracer:   tracer,
		pipeline: p,
	}, nil
}

// Close flushes traces and closes the store and log file
func (a *app) Close() error {
	if err := a.tracer.Shutdown(context.Background()); err != nil {
		a.logger.Warn("Failed to flush traces", logging.Fields{"error": err})
	}
	err := a.store.Close()
	a.logger.Close()
	return err
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	level := logging.ParseLevel(cfg.Log.Level)
	if cfg.Log.File == "" {
		return logging.NewLogger(level, cfg.Log.JSON), nil
	}
	logger, err := logging.NewFileLogger("hourly", cfg.Log.File, level, cfg.Log.JSON)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return logger, nil
}
