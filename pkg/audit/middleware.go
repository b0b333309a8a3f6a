package audit

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/warden/pkg/contextkeys"
)

// Middleware puts the audit logger in the request context and records
// rejected requests and mutations
type Middleware struct {
	logger         Logger
	logAllRequests bool
}

// NewMiddleware creates a new audit middleware
func NewMiddleware(logger Logger, logAllRequests bool) *Middleware {
	return &Middleware{
		logger:         logger,
		logAllRequests: logAllRequests,
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Handler wraps next with audit logging
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithLogger(r.Context(), m.logger)
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r.WithContext(ctx))

		if !m.logAllRequests && !shouldLogRequest(r, wrapped.statusCode) {
			return
		}
		event := NewEvent(ctx, r, requestEventType(wrapped.statusCode), requestStatus(wrapped.statusCode))
		event.StatusCode = wrapped.statusCode
		if err := m.logger.Log(ctx, event); err != nil {
			contextkeys.Logger(ctx).WithError(err).WithFields(logrus.Fields{
				"path": r.URL.Path,
			}).Warn("Failed to write audit event")
		}
	})
}

// shouldLogRequest reports whether a request is recorded without
// logAllRequests: mutations and rejections are
func shouldLogRequest(r *http.Request, statusCode int) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return true
	}
	return statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden ||
		statusCode == http.StatusTooManyRequests
}

func requestEventType(statusCode int) EventType {
	switch statusCode {
	case http.StatusUnauthorized:
		return EventTypeAuthTokenRejected
	case http.StatusForbidden:
		return EventTypeAuthzAccessDenied
	case http.StatusTooManyRequests:
		return EventTypeAuthzRateLimited
	}
	return EventTypeHTTPRequest
}

func requestStatus(statusCode int) EventStatus {
	switch {
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden,
		statusCode == http.StatusTooManyRequests:
		return EventStatusDenied
	case statusCode >= 400:
		return EventStatusFailure
	}
	return EventStatusSuccess
}
