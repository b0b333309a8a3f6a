package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_Registers(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.FixtureReloadsTotal.WithLabelValues("success").Inc()

	families, err := registry.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "warden_fixture_reloads_total")

	// A nil registry leaves the metrics unregistered but usable
	assert.NotPanics(t, func() { NewMetrics(nil).TokenValidationsTotal.WithLabelValues("allowed").Inc() })
}

func TestMetrics_ObserveJob(t *testing.T) {
	m := NewMetrics(nil)
	m.ObserveJob("purge", time.Now(), nil)
	m.ObserveJob("purge", time.Now(), errors.New("boom"))
	m.ObserveJob("purge", time.Now(), nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.JobRunsTotal.WithLabelValues("purge", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRunsTotal.WithLabelValues("purge", "failure")))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/accounts/{accountId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	RegisterMetricsEndpoint(router, registry)

	for _, id := range []string{"acc1", "acc2"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/accounts/"+id, nil))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/accounts/{accountId}", "403")))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "warden_http_requests_total"))
}
