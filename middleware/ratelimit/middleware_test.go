package ratelimit

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"location-api/middleware/ratelimit/domain"
	"location-api/middleware/ratelimit/infra"
	"location-api/sharedstore"
)

type downLimiter struct{}

func (downLimiter) CheckAndConsume(context.Context, domain.Key, int, time.Duration) (domain.Result, error) {
	return domain.Result{}, sharedstore.Wrap("rate_limit.check", io.ErrUnexpectedEOF)
}

func (downLimiter) Reset(context.Context, domain.Key) error { return nil }

func okHandler(calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})
}

func doRequest(h http.Handler, remote, path string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "http://example"+path, nil)
	r.RemoteAddr = remote
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestMiddleware_AllowsThenRejectsSameKey(t *testing.T) {
	calls := 0
	h := Middleware(Options{
		Limiter: infra.NewMemoryLimiter(),
		Policy:  domain.Policy{Limit: 2, Window: time.Minute},
	})(okHandler(&calls))

	w1 := doRequest(h, "10.0.0.1:1234", "/api/v1/normalize")
	if w1.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w1.Code)
	}
	if got := w1.Header().Get("X-RateLimit-Limit"); got != "2" {
		t.Fatalf("expected X-RateLimit-Limit=2, got %q", got)
	}
	if got := w1.Header().Get("X-RateLimit-Remaining"); got != "1" {
		t.Fatalf("expected X-RateLimit-Remaining=1, got %q", got)
	}

	w2 := doRequest(h, "10.0.0.1:1234", "/api/v1/normalize")
	if got := w2.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("expected X-RateLimit-Remaining=0, got %q", got)
	}

	w3 := doRequest(h, "10.0.0.1:1234", "/api/v1/normalize")
	if w3.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w3.Code)
	}
	if got := w3.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("expected Retry-After=60, got %q", got)
	}
	if got := w3.Header().Get("X-RateLimit-Reset"); got != "60" {
		t.Fatalf("expected X-RateLimit-Reset=60, got %q", got)
	}
	if got := w3.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("expected X-RateLimit-Remaining=0, got %q", got)
	}

	var body errorBody
	if err := json.NewDecoder(w3.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Success || body.Error != "rate_limited" || body.Limit != 2 || body.RetryAfterSeconds != 60 || body.WindowSeconds != 60 {
		t.Fatalf("unexpected body %+v", body)
	}

	if calls != 2 {
		t.Fatalf("expected next handler to be called twice, got %d", calls)
	}
}

func TestMiddleware_KeyIncludesPath(t *testing.T) {
	calls := 0
	h := Middleware(Options{
		Limiter: infra.NewMemoryLimiter(),
		Policy:  domain.Policy{Limit: 1, Window: time.Minute},
	})(okHandler(&calls))

	if w := doRequest(h, "10.0.0.1:1234", "/a"); w.Code != http.StatusOK {
		t.Fatalf("expected 200 on /a, got %d", w.Code)
	}
	if w := doRequest(h, "10.0.0.1:1234", "/b"); w.Code != http.StatusOK {
		t.Fatalf("expected 200 on /b (own window), got %d", w.Code)
	}
	if w := doRequest(h, "10.0.0.2:1234", "/a"); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for another client, got %d", w.Code)
	}
	if w := doRequest(h, "10.0.0.1:9999", "/a"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for same client on /a, got %d", w.Code)
	}
}

func TestMiddleware_KeyByHeader(t *testing.T) {
	h := Middleware(Options{
		Limiter:   infra.NewMemoryLimiter(),
		Policy:    domain.Policy{Limit: 1, Window: time.Minute},
		KeyHeader: "X-Api-Key",
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// duas chaves diferentes => ambas devem passar (cada chave tem sua janela)
	for _, k := range []string{"k1", "k2"} {
		r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
		r.Header.Set("X-Api-Key", k)
		r.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200 for key %s, got %d", k, w.Code)
		}
	}
}

func TestMiddleware_RetryAfterRoundsUp(t *testing.T) {
	h := Middleware(Options{
		Limiter: infra.NewMemoryLimiter(),
		Policy:  domain.Policy{Limit: 1, Window: 2500 * time.Millisecond},
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	_ = doRequest(h, "10.0.0.1:1234", "/")
	w := doRequest(h, "10.0.0.1:1234", "/")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if got := strings.TrimSpace(w.Header().Get("Retry-After")); got != "3" {
		t.Fatalf("expected Retry-After=3, got %q", got)
	}
}

func TestMiddleware_DisabledIsPassThrough(t *testing.T) {
	calls := 0
	h := Middleware(Options{
		Limiter:  infra.NewMemoryLimiter(),
		Policy:   domain.Policy{Limit: 0, Window: time.Minute},
		Disabled: true,
	})(okHandler(&calls))

	w := doRequest(h, "10.0.0.1:1234", "/")
	if w.Code != http.StatusOK || calls != 1 {
		t.Fatalf("expected pass-through, got %d calls=%d", w.Code, calls)
	}
	if w.Header().Get("X-RateLimit-Limit") != "" {
		t.Fatalf("expected no rate limit headers when disabled")
	}
}

func TestMiddleware_BackendFailureRejectsByDefault(t *testing.T) {
	var logs bytes.Buffer
	calls := 0
	h := Middleware(Options{
		Limiter: downLimiter{},
		Logger:  log.New(&logs, "", 0),
	})(okHandler(&calls))

	w := doRequest(h, "10.0.0.1:1234", "/")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if calls != 0 {
		t.Fatalf("expected next handler not to run")
	}
	if !strings.Contains(logs.String(), "rejecting request") {
		t.Fatalf("expected failure to be logged, got %q", logs.String())
	}
}

func TestMiddleware_BackendFailureFailOpenLogsOnce(t *testing.T) {
	var logs bytes.Buffer
	calls := 0
	h := Middleware(Options{
		Limiter:  downLimiter{},
		FailOpen: true,
		Logger:   log.New(&logs, "", 0),
	})(okHandler(&calls))

	for range 5 {
		if w := doRequest(h, "10.0.0.1:1234", "/"); w.Code != http.StatusOK {
			t.Fatalf("expected fail-open 200, got %d", w.Code)
		}
	}
	if calls != 5 {
		t.Fatalf("expected all requests admitted, got %d", calls)
	}
	if n := strings.Count(logs.String(), "fail-open"); n != 1 {
		t.Fatalf("expected throttled log (1 line), got %d", n)
	}
}

func TestMiddleware_RecordsStats(t *testing.T) {
	stats := infra.NewMemoryStatsStore()
	h := Middleware(Options{
		Limiter: infra.NewMemoryLimiter(),
		Stats:   stats,
		Policy:  domain.Policy{Limit: 1, Window: time.Minute},
		Route:   "normalize",
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	_ = doRequest(h, "10.0.0.1:1234", "/")
	_ = doRequest(h, "10.0.0.1:1234", "/")

	got := stats.ByRoute()["normalize"]
	if got.Allowed != 1 || got.Limited != 1 {
		t.Fatalf("unexpected route counters %+v", got)
	}
}

func TestMiddleware_DefaultPolicyWhenUnset(t *testing.T) {
	h := Middleware(Options{Limiter: infra.NewMemoryLimiter()})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	w := doRequest(h, "10.0.0.1:1234", "/")
	if got := w.Header().Get("X-RateLimit-Limit"); got != formatInt(DefaultPolicy.Limit) {
		t.Fatalf("expected default limit header, got %q", got)
	}
}
