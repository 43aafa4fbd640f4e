package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

const namespace = "hourly"

// Collector holds the pipeline's Prometheus metrics on a private registry
type Collector struct {
	registry *prometheus.Registry

	runsTotal        *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	observedTotal    *prometheus.CounterVec
	pollAttempts     prometheus.Histogram
	seriesPoints     *prometheus.GaugeVec
	lastRunTimestamp prometheus.Gauge
}

// NewCollector creates and registers the pipeline metrics
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Pipeline runs by outcome (ok or error kind)",
			},
			[]string{"outcome"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of each pipeline stage",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"stage"},
		),
		observedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "observed_requests_total",
				Help:      "Metrics requests matched by the observer, by traffic source",
			},
			[]string{"source"},
		),
		pollAttempts: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "poll_attempts",
				Help:      "Fetches needed for a job to reach done",
				Buckets:   []float64{1, 2, 3, 5, 10, 20, 40, 60},
			},
		),
		seriesPoints: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "series_points",
				Help:      "Non-empty hourly slots in the last normalized series",
			},
			[]string{"metric"},
		),
		lastRunTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time of the last completed pipeline run",
			},
		),
	}

	c.registry.MustRegister(
		c.runsTotal,
		c.stageDuration,
		c.observedTotal,
		c.pollAttempts,
		c.seriesPoints,
		c.lastRunTimestamp,
	)
	return c
}

// RecordRun counts a finished run
func (c *Collector) RecordRun(outcome string, at time.Time) {
	if c == nil {
		return
	}
	c.runsTotal.WithLabelValues(outcome).Inc()
	c.lastRunTimestamp.Set(float64(at.Unix()))
}

// ObserveStage records how long a stage took
func (c *Collector) ObserveStage(stage string, d time.Duration) {
	if c == nil {
		return
	}
	c.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordObserved counts a matched request from source
func (c *Collector) RecordObserved(source string) {
	if c == nil {
		return
	}
	c.observedTotal.WithLabelValues(source).Inc()
}

// ObservePollAttempts records the fetch count of a finished poll
func (c *Collector) ObservePollAttempts(n int) {
	if c == nil {
		return
	}
	c.pollAttempts.Observe(float64(n))
}

// SetSeriesPoints records how many slots of a metric carried data
func (c *Collector) SetSeriesPoints(metric string, n int) {
	if c == nil {
		return
	}
	c.seriesPoints.WithLabelValues(metric).Set(float64(n))
}

// Registry exposes the underlying registry, e.g. for tests
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the metrics in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the metrics in text format to path, for node_exporter's
// textfile collector. The file is replaced atomically.
func (c *Collector) WriteTextfile(path string) error {
	families, err := c.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := encoder.Encode(mf); err != nil {
			return fmt.Errorf("failed to encode metric %s: %w", mf.GetName(), err)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create textfile directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".hourly-*.prom")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("failed to chmod metrics file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move metrics file into place: %w", err)
	}
	return nil
}
