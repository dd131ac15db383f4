package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Post("/createSummaryFromUrl", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	r.Options("/createSummaryFromUrl", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	for _, method := range []string{http.MethodPost, http.MethodOptions} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(method, "/createSummaryFromUrl", nil))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown route, got %d", rec.Code)
	}

	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "502")); val != 1 {
		t.Errorf("Expected one POST 502, got %f", val)
	}
	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("OPTIONS", "204")); val != 1 {
		t.Errorf("Expected one OPTIONS 204, got %f", val)
	}
	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404")); val != 1 {
		t.Errorf("Expected one GET 404, got %f", val)
	}
	if val := testutil.CollectAndCount(httpRequestDurationSeconds); val != 3 {
		t.Errorf("Expected three duration series, got %d", val)
	}
}
