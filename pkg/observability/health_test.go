package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker_Check(t *testing.T) {
	ok := func(context.Context) error { return nil }
	fail := func(context.Context) error { return errors.New("down") }

	tests := []struct {
		name     string
		storage  CheckFunc
		cache    CheckFunc
		expected string
	}{
		{name: "all healthy", storage: ok, cache: ok, expected: StatusHealthy},
		{name: "optional dependency down", storage: ok, cache: fail, expected: StatusDegraded},
		{name: "critical dependency down", storage: fail, cache: ok, expected: StatusUnhealthy},
		{name: "everything down", storage: fail, cache: fail, expected: StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewHealthChecker("test")
			checker.AddCheck("storage", true, tt.storage)
			checker.AddCheck("cache", false, tt.cache)

			status := checker.Check(context.Background())
			assert.Equal(t, tt.expected, status.Status)
			assert.Equal(t, "test", status.Version)
			assert.Len(t, status.Dependencies, 2)
		})
	}
}

func TestHealthChecker_Redis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	checker := NewHealthChecker("test")
	checker.AddRedis(client)
	assert.Equal(t, StatusHealthy, checker.Check(context.Background()).Status)

	mr.Close()
	status := checker.Check(context.Background())
	assert.Equal(t, StatusDegraded, status.Status)
	assert.Equal(t, StatusUnhealthy, status.Dependencies["redis"].Status)
}

func TestHealthRoutes(t *testing.T) {
	checker := NewHealthChecker("test")
	healthy := true
	checker.AddCheck("storage", true, func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("primary unhealthy")
	})
	router := mux.NewRouter()
	RegisterHealthRoutes(router, checker)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	healthy = false
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Equal(t, "primary unhealthy", status.Dependencies["storage"].Message)
}
