package audit

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/rbac"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *Event) error

	// Close closes the logger and flushes any buffered events
	Close() error
}

type contextKey string

// LoggerKey is the context key for the audit logger
const LoggerKey contextKey = "audit_logger"

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext retrieves the audit logger from context. Without one a no-op
// logger is returned.
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(LoggerKey).(Logger); ok {
		return logger
	}
	return NopLogger{}
}

// NopLogger drops every event
type NopLogger struct{}

func (NopLogger) Log(ctx context.Context, event *Event) error { return nil }

func (NopLogger) Close() error { return nil }

// NewEvent creates an event stamped with the request id and, when r is
// given, the request details
func NewEvent(ctx context.Context, r *http.Request, eventType EventType, status EventStatus) *Event {
	event := &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		RequestID: contextkeys.GetRequestID(ctx),
		UserID:    contextkeys.GetUserID(ctx),
	}
	if r != nil {
		event.IPAddress = clientIP(r)
		event.UserAgent = r.UserAgent()
		event.Method = r.Method
		event.Path = r.URL.Path
	}
	return event
}

// Decision describes one authorization outcome
type Decision struct {
	AccountID   string
	UserID      string
	Username    string
	AppID       string
	EnvID       string
	EntityID    string
	Permissions []rbac.PermissionAttribute
}

// LogDecision records the outcome of d with the logger in ctx. A nil err is
// an allow.
func LogDecision(ctx context.Context, r *http.Request, d Decision, err error) error {
	eventType, status := EventTypeAuthzAccessCheck, EventStatusSuccess
	if err != nil {
		eventType, status = EventTypeAuthzAccessDenied, EventStatusDenied
	}
	event := NewEvent(ctx, r, eventType, status)
	event.AccountID = d.AccountID
	if d.UserID != "" {
		event.UserID = d.UserID
	}
	event.Username = d.Username
	event.AppID = d.AppID
	event.EnvID = d.EnvID
	event.EntityID = d.EntityID
	for _, p := range d.Permissions {
		event.Permissions = append(event.Permissions, string(p.PermissionType)+":"+string(p.Action))
	}
	if err != nil {
		event.Code = rbac.ErrorCode(err)
		event.Message = err.Error()
	}
	return FromContext(ctx).Log(ctx, event)
}

// LogSuccess records a successful administrative event
func LogSuccess(ctx context.Context, eventType EventType, accountID, message string, metadata map[string]any) error {
	event := NewEvent(ctx, nil, eventType, EventStatusSuccess)
	event.AccountID = accountID
	event.Message = message
	event.Metadata = metadata
	return FromContext(ctx).Log(ctx, event)
}

// LogFailure records a failed administrative event
func LogFailure(ctx context.Context, eventType EventType, accountID, message string, err error) error {
	event := NewEvent(ctx, nil, eventType, EventStatusFailure)
	event.AccountID = accountID
	event.Message = message
	if err != nil {
		event.Code = rbac.ErrorCode(err)
		event.Metadata = map[string]any{"error": err.Error()}
	}
	return FromContext(ctx).Log(ctx, event)
}

// clientIP returns the caller address resolved by the client IP middleware,
// falling back to the peer address. Forwarding headers are never read here.
func clientIP(r *http.Request) string {
	if ip := contextkeys.GetClientIP(r.Context()); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
