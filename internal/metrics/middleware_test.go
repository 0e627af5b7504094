package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/profiles/{handle}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Delete("/profiles/{handle}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	before200 := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200"))
	before409 := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("DELETE", "409"))

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/profiles/abc", nil),
		httptest.NewRequest(http.MethodGet, "/profiles/def", nil),
		httptest.NewRequest(http.MethodDelete, "/profiles/abc", nil),
	} {
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")); val != before200+2 {
		t.Errorf("expected GET 200 count %f, got %f", before200+2, val)
	}
	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("DELETE", "409")); val != before409+1 {
		t.Errorf("expected DELETE 409 count %f, got %f", before409+1, val)
	}
	if val := testutil.CollectAndCount(httpRequestDurationSeconds); val <= 0 {
		t.Errorf("expected httpRequestDurationSeconds to be observed, got %d", val)
	}
}
