package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dm-alt/USM-scripts/internal/report"
	"github.com/dm-alt/USM-scripts/pkg/errs"
	"github.com/dm-alt/USM-scripts/pkg/metrics"
	"github.com/dm-alt/USM-scripts/pkg/models"
	"github.com/dm-alt/USM-scripts/pkg/observe"
	"github.com/dm-alt/USM-scripts/pkg/pipeline"
	"github.com/dm-alt/USM-scripts/pkg/ratelimit"
	"github.com/dm-alt/USM-scripts/pkg/series"
	"github.com/dm-alt/USM-scripts/pkg/store"
)

var testID = strings.Repeat("f", 64)

type fakeRunner struct {
	result *pipeline.Result
	err    error
	opts   pipeline.Options
}

func (f *fakeRunner) Run(ctx context.Context, opts pipeline.Options) (*pipeline.Result, error) {
	f.opts = opts
	return f.result, f.err
}

func okResult() *pipeline.Result {
	values := make([]*float64, 24)
	for h := range values {
		v := float64(h * 60)
		values[h] = &v
	}
	ts := series.FromValues(values)
	return &pipeline.Result{
		RunID:        "run-1",
		DerivedJobID: "derived-1",
		Period:       models.Period{Start: "2024-01-01T00:00:00Z", TZ: "UTC"},
		SeriesByMetric: map[string]series.TimeSeries{
			report.MetricResolution: ts,
			report.MetricReply:      ts,
			report.MetricFirstReply: ts,
		},
	}
}

func newTestRouter(runner Runner) (*Handler, http.Handler, *store.MemoryStore) {
	st := store.NewMemoryStore()
	h := NewHandler(observe.NewObserver(observe.Matcher{}), runner, st, metrics.NewCollector(), nil, report.DefaultRange)
	return h, NewRouter(h, nil, nil), st
}

func do(t *testing.T, router http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(method, target, bytes.NewReader(body)))
	return rr
}

func TestIngestObserved(t *testing.T) {
	h, router, _ := newTestRouter(&fakeRunner{})

	body, _ := json.Marshal(ObservedRequestBody{URLs: []string{
		"https://app.example.com/api/metrics/foo/" + testID,
		"https://app.example.com/inbox",
	}})
	rr := do(t, router, http.MethodPost, "/observed", body)
	require.Equal(t, http.StatusAccepted, rr.Code)

	var resp ObservedResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Received)
	assert.Equal(t, 1, resp.Matched)
	require.NotNil(t, h.Observer.Latest())
	assert.Equal(t, testID, h.Observer.Latest().CorrelationID)
}

func TestIngestObserved_BadRequests(t *testing.T) {
	_, router, _ := newTestRouter(&fakeRunner{})

	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/observed", []byte("{")).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/observed", []byte("{}")).Code)
}

func TestCorrelation_GetAndClear(t *testing.T) {
	h, router, st := newTestRouter(&fakeRunner{})

	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/correlation", nil).Code)

	require.NoError(t, st.SaveLastMatch(context.Background(), &models.ObservedRequest{CorrelationID: testID, ObservedAt: time.Now()}))
	rr := do(t, router, http.MethodGet, "/correlation", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), testID)

	h.Observer.Observe("https://app.example.com/api/metrics/foo/" + testID)
	assert.Equal(t, http.StatusNoContent, do(t, router, http.MethodDelete, "/correlation", nil).Code)
	assert.Nil(t, h.Observer.Latest())
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/correlation", nil).Code)
}

func TestRunReport_JSON(t *testing.T) {
	runner := &fakeRunner{result: okResult()}
	_, router, _ := newTestRouter(runner)

	rr := do(t, router, http.MethodGet, "/report?start=9&end=10&fresh=true", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, runner.opts.Fresh)

	var rep report.Report
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rep))
	assert.Equal(t, "2024-01-01", rep.Day)
	require.Len(t, rep.Rows, 2)
	assert.Equal(t, "9 AM", rep.Rows[0].Label)
	assert.Equal(t, "9m 0s", rep.Rows[0].Reply.Formatted)
	assert.Equal(t, "9m 30s", rep.Average.Reply.Formatted)
}

func TestRunReport_CSV(t *testing.T) {
	_, router, _ := newTestRouter(&fakeRunner{result: okResult()})

	rr := do(t, router, http.MethodGet, "/report?format=csv", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "front-hourly_2024-01-01_10AM-6PM.csv")
	assert.True(t, strings.HasPrefix(rr.Body.String(), "Date,2024-01-01,UTC\n\nHour,"))
}

func TestRunReport_Errors(t *testing.T) {
	tests := []struct {
		name   string
		target string
		err    error
		want   int
		kind   string
	}{
		{"bad range", "/report?start=12&end=3", nil, http.StatusBadRequest, ""},
		{"bad format", "/report?format=xml", nil, http.StatusBadRequest, ""},
		{"busy", "/report", pipeline.ErrBusy, http.StatusConflict, "busy"},
		{"timeout", "/report", errs.New(errs.KindCorrelationTimeout, "correlate", "nothing", nil), http.StatusGatewayTimeout, "correlation_timeout"},
		{"creation", "/report", errs.New(errs.KindJobCreation, "create_job", "no", nil), http.StatusBadGateway, "job_creation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, router, _ := newTestRouter(&fakeRunner{err: tt.err})
			rr := do(t, router, http.MethodGet, tt.target, nil)
			assert.Equal(t, tt.want, rr.Code)

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tt.kind, body.Kind)
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	_, router, _ := newTestRouter(&fakeRunner{})

	rr := do(t, router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"healthy"`)

	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/metrics", nil).Code)
}

func TestRouter_RateLimited(t *testing.T) {
	h := NewHandler(observe.NewObserver(observe.Matcher{}), &fakeRunner{}, nil, nil, nil, report.DefaultRange)
	router := NewRouter(h, ratelimit.NewLimiter(1, 1), nil)

	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, router, http.MethodGet, "/health", nil).Code)
}
