// Package pipeline wires correlation, submission, polling and normalization
// into a single run producing three hourly series.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dm-alt/USM-scripts/pkg/errs"
	"github.com/dm-alt/USM-scripts/pkg/frontapi"
	"github.com/dm-alt/USM-scripts/pkg/logging"
	"github.com/dm-alt/USM-scripts/pkg/metrics"
	"github.com/dm-alt/USM-scripts/pkg/models"
	"github.com/dm-alt/USM-scripts/pkg/observe"
	"github.com/dm-alt/USM-scripts/pkg/retry"
	"github.com/dm-alt/USM-scripts/pkg/series"
	"github.com/dm-alt/USM-scripts/pkg/store"
	"github.com/dm-alt/USM-scripts/pkg/tracing"
)

// ErrBusy is returned by Run while another run is in flight.
var ErrBusy = errors.New("a report run is already in progress")

// Stage names, used for spans, metrics and logs.
const (
	StageCorrelate     = "correlate"
	StageFetchObserved = "fetch_observed"
	StageCreate        = "create"
	StagePoll          = "poll"
	StageNormalize     = "normalize"
)

// JobClient is the subset of the backend client a run needs.
type JobClient interface {
	FetchJob(ctx context.Context, endpoint, id string) (*models.Job, error)
	CreateJob(ctx context.Context, endpoint string, payload *models.JobRequest) (string, error)
}

// Config holds the collaborators of a Pipeline. Latch and Client are required.
type Config struct {
	Observer           *observe.Observer
	Latch              *observe.Latch
	Client             JobClient
	Store              store.Store
	Metrics            *metrics.Collector
	Tracer             *tracing.Provider
	Logger             *logging.Logger
	CorrelationTimeout time.Duration
	PollPolicy         retry.Policy
	MetricNames        []string // defaults to frontapi.HourlyMetrics
}

// Options tune a single run.
type Options struct {
	// Fresh ignores the match known when the run starts and waits for a new one.
	Fresh              bool
	CorrelationTimeout time.Duration
	Poll               *retry.Policy
}

// Result is the output of a successful run.
type Result struct {
	RunID           string                       `json:"run_id" yaml:"run_id"`
	Observed        *models.ObservedRequest      `json:"observed" yaml:"observed"`
	DerivedJobID    string                       `json:"derived_job_id" yaml:"derived_job_id"`
	Period          models.Period                `json:"period" yaml:"period"`
	SeriesByMetric  map[string]series.TimeSeries `json:"series" yaml:"series"`
	ReturnedMetrics []string                     `json:"returned_metrics" yaml:"returned_metrics"`
	StartedAt       time.Time                    `json:"started_at" yaml:"started_at"`
	FinishedAt      time.Time                    `json:"finished_at" yaml:"finished_at"`
}

// Pipeline runs the correlate, create, poll and normalize stages in order.
// At most one run is in flight at a time.
type Pipeline struct {
	cfg     Config
	running sync.Mutex
}

// New creates a pipeline
func New(cfg Config) (*Pipeline, error) {
	if cfg.Latch == nil {
		return nil, fmt.Errorf("pipeline requires a correlation latch")
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("pipeline requires a job client")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = tracing.Noop()
	}
	if cfg.CorrelationTimeout <= 0 {
		cfg.CorrelationTimeout = observe.DefaultCorrelationTimeout
	}
	if cfg.PollPolicy.MaxAttempts <= 0 {
		cfg.PollPolicy = retry.DefaultPolicy()
	}
	if len(cfg.MetricNames) == 0 {
		cfg.MetricNames = frontapi.HourlyMetrics
	}
	return &Pipeline{cfg: cfg}, nil
}

// Run executes one pipeline run. Every failure is terminal for the run and
// carries an errs.Kind; the run is never retried automatically.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Result, error) {
	if !p.running.TryLock() {
		return nil, ErrBusy
	}
	defer p.running.Unlock()

	runID := uuid.New().String()
	logger := p.cfg.Logger.WithField("run_id", runID)
	started := time.Now()

	ctx, span := p.cfg.Tracer.StartSpan(ctx, "pipeline.run",
		attribute.String("run.id", runID),
		attribute.Bool("run.fresh", opts.Fresh),
	)
	defer span.End()

	logger.Info("Report run started", logging.Fields{"fresh": opts.Fresh})

	result, err := p.run(ctx, logger, runID, opts)
	if err != nil {
		tracing.SetError(ctx, err)
		p.cfg.Metrics.RecordRun(errs.KindOf(err).String(), time.Now())
		logger.Error("Report run failed", logging.Fields{
			"error":    err,
			"kind":     errs.KindOf(err).String(),
			"duration": time.Since(started).String(),
		})
		return nil, err
	}

	result.StartedAt = started
	result.FinishedAt = time.Now()
	p.cfg.Metrics.RecordRun("ok", result.FinishedAt)
	logger.Info("Report run completed", logging.Fields{
		"derived_job_id": result.DerivedJobID,
		"metrics":        len(result.ReturnedMetrics),
		"duration":       result.FinishedAt.Sub(started).String(),
	})
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, logger *logging.Logger, runID string, opts Options) (*Result, error) {
	timeout := opts.CorrelationTimeout
	if timeout <= 0 {
		timeout = p.cfg.CorrelationTimeout
	}
	policy := p.cfg.PollPolicy
	if opts.Poll != nil {
		policy = *opts.Poll
	}

	var afterID string
	if opts.Fresh && p.cfg.Observer != nil {
		if known := p.cfg.Observer.Latest(); known != nil {
			afterID = known.CorrelationID
		}
	}
	if opts.Fresh && afterID == "" && p.cfg.Store != nil {
		if known, err := p.cfg.Store.LastMatch(ctx); err == nil && known != nil {
			afterID = known.CorrelationID
		}
	}

	// 1. Correlate
	var observed *models.ObservedRequest
	err := p.stage(ctx, logger, StageCorrelate, func(ctx context.Context) error {
		var err error
		if opts.Fresh {
			observed, err = p.cfg.Latch.AwaitFresh(ctx, timeout, afterID)
		} else {
			observed, err = p.cfg.Latch.AwaitMatch(ctx, timeout)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	logger = logger.WithField("correlation_id", observed.CorrelationID)
	p.remember(ctx, logger, observed)

	// 2. Read the observed job's parameters, waiting for it if still running
	var params models.JobParameters
	err = p.stage(ctx, logger, StageFetchObserved, func(ctx context.Context) error {
		obsPolicy := policy
		obsPolicy.Done = func(job *models.Job) bool {
			return retry.JobDone(job) || (job != nil && job.Parameters != nil)
		}
		job, err := retry.PollUntilDone(ctx, func(ctx context.Context) (*models.Job, error) {
			return p.cfg.Client.FetchJob(ctx, observed.BaseEndpoint, observed.CorrelationID)
		}, obsPolicy)
		if err != nil {
			return err
		}
		if job.Parameters == nil {
			return errs.New(errs.KindJobIncomplete, "fetch_observed",
				fmt.Sprintf("observed job %s carries no parameters", observed.CorrelationID), nil)
		}
		params = *job.Parameters
		return nil
	})
	if err != nil {
		return nil, err
	}

	period, err := params.DecodePeriod()
	if err != nil {
		logger.Warn("Unreadable period, using UTC", logging.Fields{"error": err})
	}

	// 3. Create the derived job
	var derivedID string
	err = p.stage(ctx, logger, StageCreate, func(ctx context.Context) error {
		var err error
		payload := frontapi.NewWorkloadPayload(params, p.cfg.MetricNames)
		derivedID, err = p.cfg.Client.CreateJob(ctx, observed.SubmissionEndpoint, payload)
		return err
	})
	if err != nil {
		return nil, err
	}
	logger = logger.WithField("derived_job_id", derivedID)

	// 4. Poll it to completion
	var derived *models.Job
	err = p.stage(ctx, logger, StagePoll, func(ctx context.Context) error {
		attempts := 0
		pollPolicy := policy
		onAttempt := policy.OnAttempt
		pollPolicy.OnAttempt = func(n int, job *models.Job) {
			attempts = n
			if onAttempt != nil {
				onAttempt(n, job)
			}
		}
		var err error
		derived, err = retry.PollUntilDone(ctx, func(ctx context.Context) (*models.Job, error) {
			return p.cfg.Client.FetchJob(ctx, observed.SubmissionEndpoint, derivedID)
		}, pollPolicy)
		if err == nil {
			p.cfg.Metrics.ObservePollAttempts(attempts)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	// 5. Normalize
	result := &Result{
		RunID:          runID,
		Observed:       observed,
		DerivedJobID:   derivedID,
		Period:         period,
		SeriesByMetric: make(map[string]series.TimeSeries, len(p.cfg.MetricNames)),
	}
	p.normalize(ctx, logger, derived, period, result)

	return result, nil
}

// normalize decodes every requested metric into result. It cannot fail:
// absent or unrecognized payloads become empty series.
func (p *Pipeline) normalize(ctx context.Context, logger *logging.Logger, derived *models.Job, period models.Period, result *Result) {
	_, span := p.cfg.Tracer.StartSpan(ctx, "pipeline."+StageNormalize)
	defer span.End()
	start := time.Now()

	n := series.NewNormalizer(period.Location())
	for _, name := range p.cfg.MetricNames {
		raw, ok := derived.Metrics[name]
		if ok {
			result.ReturnedMetrics = append(result.ReturnedMetrics, name)
		}
		ts, shape := n.Decode(raw)
		result.SeriesByMetric[name] = ts
		p.cfg.Metrics.SetSeriesPoints(name, ts.Count())
		logger.Debug("Normalized metric", logging.Fields{
			"metric": name,
			"shape":  string(shape),
			"points": ts.Count(),
		})
	}

	p.cfg.Metrics.ObserveStage(StageNormalize, time.Since(start))
}

// stage runs fn inside a span and records its duration.
func (p *Pipeline) stage(ctx context.Context, logger *logging.Logger, name string, fn func(context.Context) error) error {
	ctx, span := p.cfg.Tracer.StartSpan(ctx, "pipeline."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	p.cfg.Metrics.ObserveStage(name, elapsed)

	if err != nil {
		tracing.SetError(ctx, err)
		return err
	}
	logger.Debug("Stage completed", logging.Fields{"stage": name, "duration": elapsed.String()})
	return nil
}

// remember persists the resolved match for later invocations. Failure is
// logged, not fatal.
func (p *Pipeline) remember(ctx context.Context, logger *logging.Logger, req *models.ObservedRequest) {
	if p.cfg.Store == nil {
		return
	}
	if err := p.cfg.Store.SaveLastMatch(ctx, req); err != nil {
		logger.Warn("Failed to persist last match", logging.Fields{"error": err})
	}
}
