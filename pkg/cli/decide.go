package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/restrictions"
)

// Mode selects which decision a Decision asks for
type Mode string

const (
	// ModeRole checks the user's roles
	ModeRole Mode = "role"
	// ModeEntity checks the cached permission summary on one entity
	ModeEntity Mode = "entity"
	// ModeRestriction checks whether a restricted entity may be used in an
	// app and environment
	ModeRestriction Mode = "restriction"
)

// Decision is one access question
type Decision struct {
	Mode        Mode                       `json:"mode"`
	AppID       string                     `json:"appId"`
	EnvID       string                     `json:"envId,omitempty"`
	EntityID    string                     `json:"entityId,omitempty"`
	Permissions []rbac.PermissionAttribute `json:"permissions,omitempty"`
	MatchAny    bool                       `json:"matchAny,omitempty"`
}

// Verdict is the answer to a Decision
type Verdict struct {
	Allowed bool   `json:"allowed"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func verdictOf(err error) Verdict {
	if err == nil {
		return Verdict{Allowed: true}
	}
	return Verdict{Code: rbac.ErrorCode(err), Message: err.Error()}
}

// parsePermission reads "TYPE:ACTION", e.g. "ENV:UPDATE"
func parsePermission(s string) (rbac.PermissionAttribute, error) {
	permType, action, ok := strings.Cut(s, ":")
	if !ok || permType == "" || action == "" {
		return rbac.PermissionAttribute{}, fmt.Errorf("%w: permission %q must look like TYPE:ACTION", rbac.ErrInvalidRequest, s)
	}
	return rbac.PermissionAttribute{
		PermissionType: rbac.PermissionType(strings.ToUpper(permType)),
		Action:         rbac.Action(strings.ToUpper(action)),
	}, nil
}

// decide answers d for the caller in rc. A nil error means allowed.
func decide(ctx context.Context, svc *authz.Service, entities restrictions.EntityStore, rc *authz.RequestContext, d Decision) error {
	if rc == nil {
		return fmt.Errorf("%w: request context is required", rbac.ErrInvalidRequest)
	}
	switch d.Mode {
	case ModeRole:
		return svc.Authorize(ctx, rc.AccountID, d.AppID, d.EnvID, rc.User, d.Permissions, nil)
	case ModeEntity, "":
		return svc.AuthorizeEntity(ctx, rc, d.AppID, d.EntityID, d.Permissions, d.MatchAny)
	case ModeRestriction:
		if d.EntityID == "" {
			return fmt.Errorf("%w: entity id is required", rbac.ErrInvalidRequest)
		}
		list, err := entities.ListRestricted(ctx, rc.AccountID)
		if err != nil {
			return err
		}
		for _, e := range list {
			if e.UUID != d.EntityID {
				continue
			}
			if svc.HasAccess(ctx, rc, d.AppID, d.EnvID, false, e.Restrictions, e.ScopedToAccount) {
				return nil
			}
			return fmt.Errorf("%w: usage restrictions of %s do not allow app %q env %q", rbac.ErrAccessDenied, e.UUID, d.AppID, d.EnvID)
		}
		return fmt.Errorf("%w: unknown restricted entity %s", rbac.ErrInvalidRequest, d.EntityID)
	default:
		return fmt.Errorf("%w: unknown mode %q", rbac.ErrInvalidRequest, d.Mode)
	}
}
