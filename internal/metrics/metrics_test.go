package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveCountsByMethodAndCode(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewHTTPMetrics(reg)
	require.NoError(t, err)

	m.Observe(http.MethodGet, "/v1/runs", http.StatusOK, 20*time.Millisecond)
	m.Observe(http.MethodGet, "/v1/runs", http.StatusOK, 5*time.Millisecond)
	m.Observe(http.MethodGet, "/v1/runs/{run_id}", http.StatusNotFound, time.Millisecond)

	require.Equal(t, float64(2), testutil.ToFloat64(
		m.requestsTotal.WithLabelValues(http.MethodGet, "200")))
	require.Equal(t, float64(1), testutil.ToFloat64(
		m.requestsTotal.WithLabelValues(http.MethodGet, "404")))
}

func TestNewHTTPMetricsRejectsDoubleRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewHTTPMetrics(reg)
	require.NoError(t, err)
	_, err = NewHTTPMetrics(reg)
	require.Error(t, err)
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := NewHTTPMetrics(reg)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/v1/runs/{run_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/runs/0d9c7b2e")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	count := testutil.CollectAndCount(m.requestDuration, "http_request_duration_seconds")
	require.Equal(t, 1, count)
}
