// Package contextkeys provides centralized context key definitions
//
// All context keys used across Warden are defined here so that producers and
// consumers agree on the key and the stored type.
//
//	ctx = contextkeys.WithRequestContext(ctx, rc)
//	rc, ok := contextkeys.GetRequestContext(ctx).(*authz.RequestContext)
package contextkeys

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestContextKey contains *authz.RequestContext
	// Set by: middleware.Auth (pkg/middleware/auth.go)
	// Required by: handlers that run authorization checks
	RequestContextKey Key = "request_context"

	// RequestIDKey contains the request id string (UUID)
	// Set by: middleware.RequestID
	// Used by: logger fields, tracing
	RequestIDKey Key = "request_id"

	// UserIDKey contains the authenticated user id string
	// Set by: middleware.Auth after token validation
	UserIDKey Key = "user_id"

	// LoggerKey contains logrus.FieldLogger
	// Set by: middleware.RequestID
	LoggerKey Key = "logger"

	// ClientIPKey contains the resolved caller address string
	// Set by: middleware.ClientIP
	// Used by: rate limiting, audit events
	ClientIPKey Key = "client_ip"
)

// WithRequestContext stores the authorization request context. The value is
// untyped to keep this package free of domain imports.
func WithRequestContext(ctx context.Context, rc interface{}) context.Context {
	return context.WithValue(ctx, RequestContextKey, rc)
}

// GetRequestContext returns the stored authorization request context, or nil
func GetRequestContext(ctx context.Context) interface{} {
	return ctx.Value(RequestContextKey)
}

// NewRequestID returns a fresh request id
func NewRequestID() string {
	return uuid.NewString()
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}

// WithClientIP adds the resolved caller address to the context
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ClientIPKey, ip)
}

// GetClientIP retrieves the resolved caller address from context
func GetClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ClientIPKey).(string); ok {
		return ip
	}
	return ""
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, log logrus.FieldLogger) context.Context {
	return context.WithValue(ctx, LoggerKey, log)
}

// Logger returns the request logger, falling back to the standard logger.
// The request and user ids, when present, are attached as fields.
func Logger(ctx context.Context) logrus.FieldLogger {
	log, ok := ctx.Value(LoggerKey).(logrus.FieldLogger)
	if !ok {
		log = logrus.StandardLogger()
	}
	if id := GetRequestID(ctx); id != "" {
		log = log.WithField("requestId", id)
	}
	if id := GetUserID(ctx); id != "" {
		log = log.WithField("userId", id)
	}
	return log
}
