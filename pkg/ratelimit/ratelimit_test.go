package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLimiter(t *testing.T) {
	// burst 2: two immediate requests pass, the third waits for refill
	limiter := NewLimiter(10, 2)

	if !limiter.Allow("test-key") {
		t.Error("First request should be allowed")
	}
	if !limiter.Allow("test-key") {
		t.Error("Second request should be allowed")
	}
	if limiter.Allow("test-key") {
		t.Error("Third request should be rate limited")
	}

	// 10 req/s = 100ms per token
	time.Sleep(150 * time.Millisecond)

	if !limiter.Allow("test-key") {
		t.Error("Request after waiting should be allowed")
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	limiter := NewLimiter(1, 1)

	if !limiter.Allow("a") || !limiter.Allow("b") {
		t.Error("Distinct keys should have separate buckets")
	}
	if limiter.Allow("a") {
		t.Error("Second request for key a should be limited")
	}
}

func TestMiddleware(t *testing.T) {
	limiter := NewLimiter(10, 2)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	wrapped := limiter.Middleware(func(r *http.Request) string { return "test-key" })(handler)

	want := []int{http.StatusAccepted, http.StatusAccepted, http.StatusTooManyRequests}
	for i, code := range want {
		rr := httptest.NewRecorder()
		wrapped.ServeHTTP(rr, httptest.NewRequest("POST", "/observed", nil))
		if rr.Code != code {
			t.Errorf("Request %d: expected status %d, got %d", i+1, code, rr.Code)
		}
	}
}

func TestCleanupOldLimiters(t *testing.T) {
	limiter := NewLimiter(10, 2)
	now := time.Now()
	limiter.now = func() time.Time { return now }

	limiter.Allow("old")
	now = now.Add(10 * time.Minute)
	limiter.Allow("fresh")

	if removed := limiter.CleanupOldLimiters(5 * time.Minute); removed != 1 {
		t.Errorf("Expected 1 limiter removed, got %d", removed)
	}
	if limiter.Len() != 1 {
		t.Errorf("Expected 1 limiter left, got %d", limiter.Len())
	}
}

func TestIPKeyFunc(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.168.1.100:54321"
	if got := IPKeyFunc(req); got != "192.168.1.100" {
		t.Errorf("Expected host without port, got %s", got)
	}

	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	if got := IPKeyFunc(req); got != "10.0.0.1" {
		t.Errorf("Expected first forwarded hop, got %s", got)
	}
}
