package audit

import (
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authentication events
	EventTypeAuthTokenRejected EventType = "auth.token_rejected"

	// Authorization events
	EventTypeAuthzAccessCheck  EventType = "authz.access_check"
	EventTypeAuthzAccessDenied EventType = "authz.access_denied"
	EventTypeAuthzRateLimited  EventType = "authz.rate_limited"

	// Recorded by the HTTP middleware for other mutations
	EventTypeHTTPRequest EventType = "http.request"

	// Cache administration
	EventTypeCacheEvict EventType = "cache.evict"

	// Restriction maintenance
	EventTypeRestrictionsPurge EventType = "restrictions.purge"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Event is a single audit log entry
type Event struct {
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor
	AccountID string `json:"account_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Username  string `json:"username,omitempty"`

	// Decision subject
	AppID       string   `json:"app_id,omitempty"`
	EnvID       string   `json:"env_id,omitempty"`
	EntityID    string   `json:"entity_id,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Code        string   `json:"code,omitempty"`

	// Request context
	IPAddress  string `json:"ip_address,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	Method     string `json:"method,omitempty"`
	Path       string `json:"path,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`

	Message  string         `json:"message,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
