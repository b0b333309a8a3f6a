package authz

import (
	"context"

	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/restrictions"
)

// RequestContext carries the caller of a request and their cached
// snapshots. A RequestContext without a user is an internal caller.
type RequestContext struct {
	User            *rbac.User
	AccountID       string
	PermissionInfo  *rbac.UserPermissionInfo
	RestrictionInfo *rbac.UserRestrictionInfo
}

// Internal returns a RequestContext for system callers of an account.
func Internal(accountID string) *RequestContext {
	return &RequestContext{AccountID: accountID}
}

// IsInternal reports whether the request was made by the system.
func (rc *RequestContext) IsInternal() bool {
	return rc != nil && rc.User == nil
}

// Principal returns the restriction principal of the caller, nil for
// internal callers.
func (rc *RequestContext) Principal() *restrictions.Principal {
	if rc == nil || rc.User == nil {
		return nil
	}
	return &restrictions.Principal{
		AccountID:      rc.AccountID,
		IsAccountAdmin: rc.User.IsAccountAdmin(rc.AccountID),
		Permissions:    rc.PermissionInfo,
		Restrictions:   rc.RestrictionInfo,
	}
}

// NewContext returns a copy of ctx carrying rc.
func NewContext(ctx context.Context, rc *RequestContext) context.Context {
	return contextkeys.WithRequestContext(ctx, rc)
}

// FromContext returns the RequestContext stored in ctx, if any.
func FromContext(ctx context.Context) (*RequestContext, bool) {
	rc, ok := contextkeys.GetRequestContext(ctx).(*RequestContext)
	return rc, ok && rc != nil
}
