package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/dm-alt/USM-scripts/internal/report"
	"github.com/dm-alt/USM-scripts/pkg/errs"
	"github.com/dm-alt/USM-scripts/pkg/logging"
	"github.com/dm-alt/USM-scripts/pkg/metrics"
	"github.com/dm-alt/USM-scripts/pkg/models"
	"github.com/dm-alt/USM-scripts/pkg/observe"
	"github.com/dm-alt/USM-scripts/pkg/pipeline"
	"github.com/dm-alt/USM-scripts/pkg/store"
)

// Runner runs the report pipeline
type Runner interface {
	Run(ctx context.Context, opts pipeline.Options) (*pipeline.Result, error)
}

// Handler serves the daemon's HTTP API
type Handler struct {
	Observer     *observe.Observer
	Runner       Runner
	Store        store.Store
	Metrics      *metrics.Collector
	Logger       *logging.Logger
	DefaultRange report.Range
	now          func() time.Time
}

// NewHandler creates a handler
func NewHandler(o *observe.Observer, runner Runner, st store.Store, m *metrics.Collector, logger *logging.Logger, defaultRange report.Range) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{
		Observer:     o,
		Runner:       runner,
		Store:        st,
		Metrics:      m,
		Logger:       logger,
		DefaultRange: defaultRange,
		now:          time.Now,
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/observed", h.IngestObserved).Methods("POST")
	r.HandleFunc("/correlation", h.GetCorrelation).Methods("GET")
	r.HandleFunc("/correlation", h.ClearCorrelation).Methods("DELETE")
	r.HandleFunc("/report", h.RunReport).Methods("GET")
	r.HandleFunc("/health", h.Health).Methods("GET")
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics.Handler()).Methods("GET")
	}
}

// ObservedRequestBody is the ingest payload. Either field may be used.
type ObservedRequestBody struct {
	URL  string   `json:"url,omitempty"`
	URLs []string `json:"urls,omitempty"`
}

// ObservedResponse reports what an ingest call matched
type ObservedResponse struct {
	Received int                     `json:"received"`
	Matched  int                     `json:"matched"`
	Latest   *models.ObservedRequest `json:"latest,omitempty"`
}

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Hint  string `json:"hint,omitempty"`
}

// IngestObserved offers URLs seen by the browser to the observer
func (h *Handler) IngestObserved(w http.ResponseWriter, r *http.Request) {
	var body ObservedRequestBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("Invalid request body: %v", err)})
		return
	}

	urls := body.URLs
	if body.URL != "" {
		urls = append(urls, body.URL)
	}
	if len(urls) == 0 {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: "url or urls is required"})
		return
	}

	resp := ObservedResponse{Received: len(urls)}
	for _, u := range urls {
		if _, ok := h.Observer.Observe(u); ok {
			resp.Matched++
			h.Metrics.RecordObserved("ingest")
		}
	}
	resp.Latest = h.Observer.Latest()

	if resp.Matched > 0 {
		h.Logger.Debug("Ingested observed requests", logging.Fields{"received": resp.Received, "matched": resp.Matched})
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// GetCorrelation returns the latest observed request, falling back to the
// persisted one
func (h *Handler) GetCorrelation(w http.ResponseWriter, r *http.Request) {
	latest := h.Observer.Latest()
	if latest == nil && h.Store != nil {
		stored, err := h.Store.LastMatch(r.Context())
		if err != nil {
			h.Logger.Warn("Failed to read last match", logging.Fields{"error": err})
		}
		latest = stored
	}
	if latest == nil {
		writeError(w, http.StatusNotFound, ErrorResponse{Error: "no metrics request observed yet"})
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

// ClearCorrelation forgets the latest and persisted matches
func (h *Handler) ClearCorrelation(w http.ResponseWriter, r *http.Request) {
	h.Observer.Reset()
	if h.Store != nil {
		if err := h.Store.ClearLastMatch(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// RunReport runs the pipeline and renders the report
func (h *Handler) RunReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	rng := h.DefaultRange
	var err error
	if v := q.Get("start"); v != "" {
		if rng.Start, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, ErrorResponse{Error: "start must be an hour"})
			return
		}
	}
	if v := q.Get("end"); v != "" {
		if rng.End, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, ErrorResponse{Error: "end must be an hour"})
			return
		}
	}
	if err := rng.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	format := q.Get("format")
	if format == "" {
		format = report.FormatJSON
	}
	switch format {
	case report.FormatJSON, report.FormatCSV, report.FormatYAML, report.FormatTable:
	default:
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("unknown format %q", format)})
		return
	}

	opts := pipeline.Options{Fresh: q.Get("fresh") == "true" || q.Get("fresh") == "1"}
	if v := q.Get("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, ErrorResponse{Error: "timeout must be a positive duration"})
			return
		}
		opts.CorrelationTimeout = d
	}

	result, err := h.Runner.Run(r.Context(), opts)
	if err != nil {
		status, body := errorReply(err)
		writeError(w, status, body)
		return
	}

	rep, err := report.Build(result, rng, h.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	switch format {
	case report.FormatCSV:
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rep.Filename()))
	case report.FormatYAML:
		w.Header().Set("Content-Type", "application/yaml")
	case report.FormatTable:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	default:
		w.Header().Set("Content-Type", "application/json")
	}
	if err := report.Write(w, rep, format); err != nil {
		h.Logger.Error("Failed to write report", logging.Fields{"error": err})
	}
}

// Health reports liveness and whether a correlation is available
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"correlated":  h.Observer.Latest() != nil,
		"subscribed":  h.Observer.Subscribed(),
		"server_time": h.now().UTC().Format(time.RFC3339),
	})
}

// errorReply maps a run failure to a status code and body
func errorReply(err error) (int, ErrorResponse) {
	if errors.Is(err, pipeline.ErrBusy) {
		return http.StatusConflict, ErrorResponse{Error: err.Error(), Kind: "busy"}
	}

	body := ErrorResponse{Error: err.Error(), Kind: errs.KindOf(err).String()}
	var e *errs.Error
	if errors.As(err, &e) {
		body.Hint = e.Hint()
	}

	switch errs.KindOf(err) {
	case errs.KindCorrelationTimeout, errs.KindJobIncomplete:
		return http.StatusGatewayTimeout, body
	case errs.KindNetwork, errs.KindJobCreation:
		return http.StatusBadGateway, body
	default:
		return http.StatusInternalServerError, body
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, body ErrorResponse) {
	writeJSON(w, status, body)
}
