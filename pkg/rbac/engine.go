package rbac

import (
	"context"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"
)

// Engine makes access decisions from roles or from permission summaries.
// It is stateless apart from its lookups and safe for concurrent use.
type Engine struct {
	accounts AccountLookup
	apps     ApplicationLookup
	envs     EnvironmentLookup
	roles    RoleProvider
	log      *logrus.Logger
}

// NewEngine creates an access decision engine. A nil role provider reads roles
// from the user record.
func NewEngine(accounts AccountLookup, apps ApplicationLookup, envs EnvironmentLookup, roles RoleProvider, log *logrus.Logger) *Engine {
	if roles == nil {
		roles = UserRoleProvider{}
	}
	if log == nil {
		log = logrus.New()
	}
	return &Engine{accounts: accounts, apps: apps, envs: envs, roles: roles, log: log}
}

// AuthorizeRequest is a role-based access check
type AuthorizeRequest struct {
	AccountID   string
	AppID       string
	EnvID       string
	User        *User
	Required    []PermissionAttribute
	RequestInfo *UserRequestInfo
}

// EntityRequest is a summary-based access check on one entity
type EntityRequest struct {
	AccountID    string
	AppID        string
	EntityID     string
	User         *User
	Info         *UserPermissionInfo
	Required     []PermissionAttribute
	MatchAny     bool
	CheckAccount bool
}

func denied(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAccessDenied, fmt.Sprintf(format, args...))
}

func misconfigured(permissionType PermissionType, action Action) error {
	return fmt.Errorf("%w: %s with action %s", ErrMisconfiguredPermissionType, permissionType, action)
}

func (e *Engine) checkAccount(ctx context.Context, accountID string) error {
	if accountID == "" {
		e.log.Error("Auth Failure: empty accountId")
		return denied("Not authorized to access the account")
	}
	exists, err := e.accounts.AccountExists(ctx, accountID)
	if err != nil {
		e.log.WithError(err).WithField("accountId", accountID).Error("Auth Failure: account lookup failed")
		return fmt.Errorf("%w: account lookup failed: %v", ErrAccessDenied, err)
	}
	if !exists {
		e.log.WithField("accountId", accountID).Error("Auth Failure: non-existing accountId")
		return denied("Not authorized to access the account")
	}
	return nil
}

func (e *Engine) checkApp(ctx context.Context, appID string) error {
	if appID == "" {
		return nil
	}
	exists, err := e.apps.ApplicationExists(ctx, appID)
	if err != nil {
		e.log.WithError(err).WithField("appId", appID).Error("Auth Failure: app lookup failed")
		return fmt.Errorf("%w: app lookup failed: %v", ErrAccessDenied, err)
	}
	if !exists {
		e.log.WithField("appId", appID).Error("Auth Failure: non-existing appId")
		return denied("Not authorized to access the app")
	}
	return nil
}

// Authorize checks that the user's roles grant every required attribute.
// Account administrators are always allowed once the account and app exist.
func (e *Engine) Authorize(ctx context.Context, req AuthorizeRequest) error {
	if err := e.checkAccount(ctx, req.AccountID); err != nil {
		return err
	}
	return e.authorizeWithRoles(ctx, req)
}

// AuthorizeApps runs Authorize for every app, checking the account once.
func (e *Engine) AuthorizeApps(ctx context.Context, req AuthorizeRequest, appIDs []string) error {
	if err := e.checkAccount(ctx, req.AccountID); err != nil {
		return err
	}
	for _, appID := range appIDs {
		r := req
		r.AppID = appID
		if err := e.authorizeWithRoles(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) authorizeWithRoles(ctx context.Context, req AuthorizeRequest) error {
	if err := e.checkApp(ctx, req.AppID); err != nil {
		return err
	}
	if req.User == nil {
		e.log.WithField("appId", req.AppID).Error("No user context for authorization request")
		return denied("Access Denied")
	}
	if req.User.IsAccountAdmin(req.AccountID) {
		return nil
	}

	var envType EnvironmentType
	if req.EnvID != "" {
		t, err := e.envs.EnvironmentType(ctx, req.EnvID)
		if err != nil {
			e.log.WithError(err).WithField("envId", req.EnvID).Error("Auth Failure: environment lookup failed")
			return fmt.Errorf("%w: environment lookup failed: %v", ErrAccessDenied, err)
		}
		envType = t
	}

	roles, err := e.roles.RolesByAccountID(ctx, req.User, req.AccountID)
	if err != nil {
		e.log.WithError(err).WithField("userId", req.User.UUID).Error("Auth Failure: role lookup failed")
		return fmt.Errorf("%w: role lookup failed: %v", ErrAccessDenied, err)
	}

	for _, attr := range req.Required {
		matched := slices.ContainsFunc(roles, func(role Role) bool {
			return roleGrants(role, attr, req.AppID, req.EnvID, envType, req.RequestInfo)
		})
		if !matched {
			e.log.WithFields(logrus.Fields{
				"accountId": req.AccountID,
				"appId":     req.AppID,
				"envId":     req.EnvID,
				"userId":    req.User.UUID,
			}).Warnf("User %s not authorized for %s %s", req.User.Name, attr.PermissionType, attr.Action)
			return denied("Not authorized")
		}
	}
	return nil
}

// roleGrants only grants APP and ENV scoped permissions; roles carry no other
// scope.
func roleGrants(role Role, attr PermissionAttribute, appID, envID string, envType EnvironmentType, info *UserRequestInfo) bool {
	for _, p := range role.Permissions {
		if p.PermissionScope != attr.PermissionType {
			continue
		}
		if p.Action != ActionAll && p.Action != attr.Action {
			continue
		}
		switch attr.PermissionType {
		case PermissionApp:
			if info != nil && (info.AllAppsAllowed || slices.Contains(info.AllowedAppIDs, appID)) {
				return true
			}
			if p.AppID == GlobalAppID || (appID != "" && p.AppID == appID) {
				return true
			}
		case PermissionEnv:
			if info != nil && (info.AllEnvironmentsAllowed || slices.Contains(info.AllowedEnvIDs, envID)) {
				return true
			}
			if envType != "" && p.EnvironmentType == envType {
				return true
			}
			if p.EnvID == GlobalEnvID || (envID != "" && p.EnvID == envID) {
				return true
			}
		}
	}
	return false
}

// AuthorizeEntity checks the required attributes against the user's permission
// summary for one entity. With MatchAny a single granted attribute suffices.
func (e *Engine) AuthorizeEntity(ctx context.Context, req EntityRequest) error {
	if req.CheckAccount {
		if err := e.checkAccount(ctx, req.AccountID); err != nil {
			return err
		}
	}
	return e.authorizeWithSummary(ctx, req)
}

// AuthorizeEntityApps runs AuthorizeEntity for every app, checking the account once.
func (e *Engine) AuthorizeEntityApps(ctx context.Context, req EntityRequest, appIDs []string) error {
	if err := e.checkAccount(ctx, req.AccountID); err != nil {
		return err
	}
	for _, appID := range appIDs {
		r := req
		r.AppID = appID
		if err := e.authorizeWithSummary(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) authorizeWithSummary(ctx context.Context, req EntityRequest) error {
	if err := e.checkApp(ctx, req.AppID); err != nil {
		return err
	}
	if req.User == nil {
		e.log.WithField("appId", req.AppID).Error("No user context for authorization request")
		return denied("Access Denied")
	}
	if req.Info == nil {
		e.log.WithField("userId", req.User.UUID).Errorf("User permission info null for User %s", req.User.Name)
		return denied("Access Denied")
	}

	sum := req.Info.AppSummary(req.AppID)
	anyGranted := false
	for _, attr := range req.Required {
		granted, err := attributeGranted(sum, req.EntityID, attr)
		if err != nil {
			e.log.WithError(err).WithFields(logrus.Fields{
				"appId":    req.AppID,
				"entityId": req.EntityID,
			}).Error("Permission type is not handled")
			return err
		}
		if granted && req.MatchAny {
			anyGranted = true
			break
		}
		if !granted && !req.MatchAny {
			return e.entityDenied(req)
		}
	}
	if req.MatchAny && !anyGranted {
		return e.entityDenied(req)
	}
	return nil
}

func (e *Engine) entityDenied(req EntityRequest) error {
	e.log.WithFields(logrus.Fields{
		"accountId": req.AccountID,
		"appId":     req.AppID,
		"userId":    req.User.UUID,
	}).Warnf("User %s not authorized to access requested resource: %s", req.User.Name, req.EntityID)
	return denied("Not authorized")
}

// attributeGranted evaluates one attribute against an app summary. Permission
// types without a handler for the action yield ErrMisconfiguredPermissionType.
func attributeGranted(sum *AppPermissionSummary, entityID string, attr PermissionAttribute) (bool, error) {
	if attr.SkipAuth {
		return true, nil
	}
	if sum == nil {
		return false, nil
	}
	if attr.Action == ActionCreate {
		granted, ok := sum.CanCreate(attr.PermissionType)
		if !ok {
			return false, misconfigured(attr.PermissionType, attr.Action)
		}
		return granted, nil
	}
	if attr.PermissionType == PermissionEnv {
		return sum.EnvPermissions[attr.Action].Has(entityID), nil
	}
	perms, ok := sum.EntityPermissions(attr.PermissionType)
	if !ok {
		return false, misconfigured(attr.PermissionType, attr.Action)
	}
	return perms[attr.Action].Has(entityID), nil
}

// EntityIDs returns the union of entity ids the user may access with the given
// attributes across apps. It drives list filtering.
func EntityIDs(required []PermissionAttribute, info *UserPermissionInfo, appIDs []string) StringSet {
	out := make(StringSet)
	if info == nil {
		return out
	}
	for _, appID := range appIDs {
		sum := info.AppSummary(appID)
		if sum == nil {
			continue
		}
		for _, attr := range required {
			if attr.PermissionType == PermissionEnv {
				out.AddAll(sum.EnvPermissions[attr.Action].IDs())
				continue
			}
			if perms, ok := sum.EntityPermissions(attr.PermissionType); ok {
				out.AddAll(perms[attr.Action])
			}
		}
	}
	return out
}
