package observe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dm-alt/USM-scripts/pkg/errs"
	"github.com/dm-alt/USM-scripts/pkg/models"
)

var (
	idA = strings.Repeat("a", 64)
	idB = strings.Repeat("b", 64)
)

func jobURL(collection, id string) string {
	return "https://app.example.com/api/1/companies/acme/analytics/metrics/" + collection + "/" + id
}

func TestMatcher_Match(t *testing.T) {
	m := Matcher{}
	req, ok := m.Match(jobURL("foo", idA) + "?x=1#frag")
	require.True(t, ok)

	assert.Equal(t, idA, req.CorrelationID)
	assert.Equal(t, "foo", req.Collection)
	assert.Equal(t, "https://app.example.com/api/1/companies/acme/analytics/metrics/foo", req.BaseEndpoint)
	assert.Equal(t, "https://app.example.com/api/1/companies/acme/analytics/metrics/workload", req.SubmissionEndpoint)
}

func TestMatcher_CustomTarget(t *testing.T) {
	req, ok := Matcher{TargetCollection: "team"}.Match(jobURL("foo", idA))
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(req.SubmissionEndpoint, "/metrics/team"))
}

func TestMatcher_Rejects(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"short id", jobURL("foo", "abc123")},
		{"uppercase hex", jobURL("foo", strings.ToUpper(idA))},
		{"no metrics segment", "https://app.example.com/api/foo/" + idA},
		{"trailing segment", jobURL("foo", idA) + "/extra"},
		{"missing collection", "https://app.example.com/metrics/" + idA},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := (Matcher{}).Match(tt.url); ok {
				t.Errorf("Expected %q not to match", tt.url)
			}
		})
	}
}

func TestMatcher_RelativeURL(t *testing.T) {
	req, ok := Matcher{}.Match("/api/metrics/foo/" + idA)
	require.True(t, ok)
	assert.Equal(t, "/api/metrics/foo", req.BaseEndpoint)
	assert.Equal(t, "/api/metrics/workload", req.SubmissionEndpoint)
}

func TestObserver_FreshestWins(t *testing.T) {
	o := NewObserver(Matcher{})
	now := time.Now()

	o.ObserveAt(jobURL("foo", idA), now)
	o.ObserveAt(jobURL("foo", idB), now.Add(-time.Minute))

	require.NotNil(t, o.Latest())
	assert.Equal(t, idA, o.Latest().CorrelationID)

	o.ObserveAt(jobURL("foo", idB), now.Add(time.Minute))
	assert.Equal(t, idB, o.Latest().CorrelationID)
}

func TestObserver_IgnoresNonMatching(t *testing.T) {
	o := NewObserver(Matcher{})
	_, ok := o.Observe("https://app.example.com/inbox")
	assert.False(t, ok)
	assert.Nil(t, o.Latest())
}

func TestObserver_SingleSubscriber(t *testing.T) {
	o := NewObserver(Matcher{})

	_, cancel, ok := o.Subscribe()
	require.True(t, ok)

	_, _, ok2 := o.Subscribe()
	assert.False(t, ok2, "second subscriber must be refused")

	cancel()
	cancel()
	assert.False(t, o.Subscribed())

	_, cancel3, ok3 := o.Subscribe()
	assert.True(t, ok3)
	cancel3()
}

func TestObserver_SubscriberGetsFreshestUndelivered(t *testing.T) {
	o := NewObserver(Matcher{})
	ch, cancel, ok := o.Subscribe()
	require.True(t, ok)
	defer cancel()

	o.Observe(jobURL("foo", idA))
	o.Observe(jobURL("foo", idB))

	select {
	case req := <-ch:
		assert.Equal(t, idB, req.CorrelationID)
	default:
		t.Fatal("Expected a pending delivery")
	}
}

func TestObserver_OnMatchHook(t *testing.T) {
	o := NewObserver(Matcher{})
	var seen []string
	o.OnMatch(func(r *models.ObservedRequest) { seen = append(seen, r.CorrelationID) })

	o.Observe(jobURL("foo", idA))
	o.Observe("https://example.com/nope")

	assert.Equal(t, []string{idA}, seen)
}

func TestTransport_ObservesOutgoingRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	o := NewObserver(Matcher{})
	client := &http.Client{Transport: NewTransport(nil, o)}

	resp, err := client.Get(server.URL + "/api/metrics/foo/" + idA)
	require.NoError(t, err)
	resp.Body.Close()

	require.NotNil(t, o.Latest())
	assert.Equal(t, server.URL+"/api/metrics/foo", o.Latest().BaseEndpoint)
}

func TestMiddleware_ObservesInboundRequests(t *testing.T) {
	o := NewObserver(Matcher{})
	h := Middleware(o)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/api/metrics/foo/"+idA, nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, o.Latest())
	assert.Equal(t, idA, o.Latest().CorrelationID)
}

func TestHARHistory_Entries(t *testing.T) {
	har := `{"log":{"entries":[
		{"startedDateTime":"2024-03-01T10:00:00.000Z","request":{"url":"` + jobURL("foo", idA) + `"}},
		{"startedDateTime":"2024-03-01T10:05:00.000Z","request":{"url":"https://app.example.com/inbox"}},
		{"startedDateTime":"bogus","request":{"url":""}}
	]}}`
	path := filepath.Join(t.TempDir(), "session.har")
	require.NoError(t, os.WriteFile(path, []byte(har), 0644))

	entries, err := HARHistory{Path: path}.Entries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), entries[0].At.UTC())
}

func TestHARHistory_Errors(t *testing.T) {
	_, err := HARHistory{Path: filepath.Join(t.TempDir(), "missing.har")}.Entries(context.Background())
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.har")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
	_, err = HARHistory{Path: path}.Entries(context.Background())
	assert.Error(t, err)
}

type fakeSource struct {
	req *models.ObservedRequest
	err error
}

func (f fakeSource) LastMatch(ctx context.Context) (*models.ObservedRequest, error) {
	return f.req, f.err
}

func TestStoreAndMultiHistory(t *testing.T) {
	at := time.Now().Add(-time.Hour)
	good := StoreHistory{Source: fakeSource{req: &models.ObservedRequest{URL: jobURL("foo", idA), ObservedAt: at}}}
	bad := StoreHistory{Source: fakeSource{err: errors.New("db locked")}}

	entries, err := MultiHistory{bad, good, StaticHistory{jobURL("foo", idB)}}.Entries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, at, entries[0].At)

	_, err = MultiHistory{bad}.Entries(context.Background())
	assert.Error(t, err)
}

func TestLatch_ResolvesFromHistoryImmediately(t *testing.T) {
	o := NewObserver(Matcher{})
	latch := NewLatch(o, StaticHistory{jobURL("foo", idA)}, nil)

	start := time.Now()
	req, err := latch.AwaitMatch(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, idA, req.CorrelationID)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.False(t, o.Subscribed(), "no subscription should remain")
}

func TestLatch_PrefersLatestOverHistory(t *testing.T) {
	o := NewObserver(Matcher{})
	o.Observe(jobURL("foo", idB))
	latch := NewLatch(o, StaticHistory{jobURL("foo", idA)}, nil)

	req, err := latch.AwaitMatch(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, idB, req.CorrelationID)
}

func TestLatch_LastHistoricalMatchWins(t *testing.T) {
	o := NewObserver(Matcher{})
	latch := NewLatch(o, StaticHistory{jobURL("foo", idA), jobURL("bar", idB)}, nil)

	req, err := latch.AwaitMatch(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, idB, req.CorrelationID)
	assert.Equal(t, "bar", req.Collection)
}

func TestLatch_ResolvesFromLiveTraffic(t *testing.T) {
	o := NewObserver(Matcher{})
	latch := NewLatch(o, nil, nil)

	go func() {
		time.Sleep(30 * time.Millisecond)
		o.Observe(jobURL("foo", idA))
	}()

	req, err := latch.AwaitMatch(context.Background(), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, idA, req.CorrelationID)
	assert.False(t, o.Subscribed())
}

func TestLatch_FallsBackToPolling(t *testing.T) {
	o := NewObserver(Matcher{})
	_, cancel, ok := o.Subscribe()
	require.True(t, ok)
	defer cancel()

	latch := NewLatch(o, nil, nil)
	latch.PollInterval = 10 * time.Millisecond

	go func() {
		time.Sleep(30 * time.Millisecond)
		o.Observe(jobURL("foo", idA))
	}()

	req, err := latch.AwaitMatch(context.Background(), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, idA, req.CorrelationID)
	assert.True(t, o.Subscribed(), "foreign subscription must be left alone")
}

func TestLatch_TimesOut(t *testing.T) {
	o := NewObserver(Matcher{})
	latch := NewLatch(o, nil, nil)

	start := time.Now()
	_, err := latch.AwaitMatch(context.Background(), 50*time.Millisecond)

	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrCorrelationTimeout))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, o.Subscribed())
}

func TestLatch_AwaitFreshSkipsKnownID(t *testing.T) {
	o := NewObserver(Matcher{})
	o.Observe(jobURL("foo", idA))
	latch := NewLatch(o, nil, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(30 * time.Millisecond)
		o.Observe(jobURL("foo", idA))
		o.Observe(jobURL("foo", idB))
	}()

	req, err := latch.AwaitFresh(context.Background(), 2*time.Second, idA)
	wg.Wait()
	require.NoError(t, err)
	assert.Equal(t, idB, req.CorrelationID)
}
