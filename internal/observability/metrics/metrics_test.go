package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestHTTPMetricsRecordSearchAndRoutes(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	h := m.Middleware("api", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/search", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/random/123", nil))

	m.RecordSearch("api", "learned", "ltr_1", false, 42, 30*time.Millisecond)
	m.RecordSearch("api", "rule_based", "", true, 0, time.Millisecond)
	m.RecordImpression("api", "queued")
	m.RecordSelection("api", false)
	m.RecordModelReload("api", errors.New("boom"))
	m.RecordBreakerTransition("api", "qdrant.search", "open")

	out := scrape(t, m.Handler())
	for _, want := range []string{
		`lfm_http_requests_total{method="POST",path="/search",service="api",status="418"} 1`,
		`path="other"`,
		`lfm_search_requests_total{model_version="ltr_1",service="api",variant="learned"} 1`,
		`lfm_search_requests_total{model_version="none",service="api",variant="rule_based"} 1`,
		`lfm_search_legacy_fallback_total{service="api"} 1`,
		`lfm_ranking_candidate_pool_size_count{service="api"} 1`,
		`lfm_feedback_impressions_total{outcome="queued",service="api"} 1`,
		`lfm_feedback_selections_total{service="api",status="skipped"} 1`,
		`lfm_ltr_model_reloads_total{service="api",status="error"} 1`,
		`lfm_resilience_breaker_transitions_total{operation="qdrant.search",service="api",to="open"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in metrics output", want)
		}
	}
}

func TestWorkerMetrics(t *testing.T) {
	m := NewWorkerMetrics("worker")
	m.StartImpression()
	m.FinishImpression("worker", 10*time.Millisecond, nil)
	m.StartImpression()
	m.FinishImpression("worker", 10*time.Millisecond, errors.New("db down"))
	m.ObserveQueueLag("worker", -time.Second)
	m.ObserveQueueLag("worker", time.Second)

	out := scrape(t, m.Handler())
	for _, want := range []string{
		`lfm_worker_impression_persist_total{service="worker",status="success"} 1`,
		`lfm_worker_impression_persist_total{service="worker",status="error"} 1`,
		`lfm_worker_impression_persist_in_flight{service="worker"} 0`,
		`lfm_worker_queue_lag_seconds_count{service="worker"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in metrics output", want)
		}
	}
}
