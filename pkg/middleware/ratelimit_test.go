package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/warden/pkg/contextkeys"
)

func TestRateLimiter_AllowAndRefill(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute, BurstSize: 1})
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("u1"), "request %d", i)
	}
	assert.False(t, rl.Allow("u1"))
	assert.Equal(t, 0, rl.Remaining("u1"))
	assert.Equal(t, 3, rl.Remaining("u2"))

	now = now.Add(30 * time.Second)
	assert.True(t, rl.Allow("u1"))
	assert.False(t, rl.Allow("u1"))

	now = now.Add(5 * time.Minute)
	rl.Cleanup()
	assert.Equal(t, 3, rl.Remaining("u1"))
}

func TestRateLimitMiddleware(t *testing.T) {
	m := NewRateLimitMiddleware(
		&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Hour},
		&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Hour},
	)
	h := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	serve := func(userID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if userID != "" {
			req = req.WithContext(contextkeys.WithUserID(req.Context(), userID))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, serve("u1").Code)
	limited := serve("u1")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "0", limited.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "RATE_LIMITED", decodeError(t, limited).Code)

	// Users and anonymous callers have separate buckets
	assert.Equal(t, http.StatusOK, serve("u2").Code)
	assert.Equal(t, http.StatusOK, serve("").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve("").Code)
}
