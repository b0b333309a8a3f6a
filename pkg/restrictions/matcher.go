package restrictions

import (
	"github.com/platinummonkey/warden/pkg/rbac"
)

// AccessRequest asks whether a restricted entity may be used by a user in the
// given app and environment. Internal marks a caller without a user.
type AccessRequest struct {
	AccountID          string
	IsAccountAdmin     bool
	AppID              string
	EnvID              string
	ForUsageInNewApp   bool
	EntityRestrictions *rbac.UsageRestrictions
	UserRestrictions   *rbac.UsageRestrictions
	UserAppEnvMap      map[string]rbac.StringSet
	AppEnvIndex        AppEnvIndex
	ScopedToAccount    bool
	Internal           bool
}

// HasAccess reports whether the entity is usable in the request scope. Within
// an app the entity restrictions must cover the app (and environment). At
// account level it is enough that the entity and the user share one
// environment. Missing or malformed data denies.
func HasAccess(req AccessRequest) bool {
	noRestrictions := req.EntityRestrictions.IsEmpty()

	switch {
	case req.AppID != "" && req.AppID != rbac.GlobalAppID:
		if noRestrictions || req.ScopedToAccount {
			return false
		}
		entityMap, err := AppEnvMap(req.EntityRestrictions, req.AppEnvIndex)
		if err != nil {
			return false
		}
		if req.EnvID != "" {
			return entityMap[req.AppID].Has(req.EnvID)
		}
		_, ok := entityMap[req.AppID]
		return ok

	case req.AppID != rbac.GlobalAppID && req.ForUsageInNewApp:
		if noRestrictions || req.ScopedToAccount {
			return false
		}
		return hasRestrictionForAllApps(req.EntityRestrictions)
	}

	if req.Internal {
		return true
	}
	if req.ScopedToAccount {
		return req.IsAccountAdmin || HasAllEnvAccess(req.UserRestrictions)
	}
	if noRestrictions {
		return req.IsAccountAdmin
	}
	if HasAllEnvAccess(req.EntityRestrictions) {
		return true
	}
	if len(req.UserAppEnvMap) == 0 || req.UserRestrictions.IsEmpty() {
		return false
	}

	entityMap, err := AppEnvMap(req.EntityRestrictions, req.AppEnvIndex)
	if err != nil {
		return false
	}
	if len(entityMap) == 0 {
		return hasAnyCommonEnv(req.EntityRestrictions, req.UserRestrictions)
	}
	for appID, entityEnvs := range entityMap {
		userEnvs, ok := req.UserAppEnvMap[appID]
		if !ok {
			continue
		}
		if entityEnvs.IsEmpty() {
			if hasAnyCommonEnvForApp(appID, req.EntityRestrictions, req.UserRestrictions) {
				return true
			}
			continue
		}
		if entityEnvs.Intersects(userEnvs) {
			return true
		}
	}
	return false
}

func hasRestrictionForAllApps(r *rbac.UsageRestrictions) bool {
	for _, restriction := range r.Restrictions() {
		if restriction.AppFilter != nil && restriction.AppFilter.FilterType == rbac.FilterAll {
			return true
		}
	}
	return false
}

// ChangeRequest asks whether a user may create, update, or delete an entity
// carrying the given restrictions.
type ChangeRequest struct {
	EntityRestrictions   *rbac.UsageRestrictions
	UserRestrictions     *rbac.UsageRestrictions
	UserAppEnvMap        map[string]rbac.StringSet
	AppEnvIndex          AppEnvIndex
	ScopedToAccount      bool
	HasAccountPermission bool
	Internal             bool
}

// UserHasPermissionsToChangeEntity reports whether every scope of the entity
// is covered by the user's update scopes. It is stricter than HasAccess,
// which needs a single common environment.
func UserHasPermissionsToChangeEntity(req ChangeRequest) bool {
	if req.Internal {
		return true
	}
	if req.ScopedToAccount {
		return req.HasAccountPermission || HasAllEnvAccess(req.UserRestrictions)
	}
	// an entity without restrictions can always be changed, so environments it
	// used to reference can still be deleted
	if req.EntityRestrictions.IsEmpty() {
		return true
	}
	if req.UserRestrictions.IsEmpty() {
		return false
	}
	entityMap, err := AppEnvMap(req.EntityRestrictions, req.AppEnvIndex)
	if err != nil {
		return false
	}
	return isSubset(req.EntityRestrictions, entityMap, req.UserRestrictions, req.UserAppEnvMap)
}

// IsUsageRestrictionsSubset reports whether restrictions cover no scope that
// parent does not cover.
func IsUsageRestrictionsSubset(idx AppEnvIndex, r, parent *rbac.UsageRestrictions) bool {
	if r.IsEmpty() {
		return true
	}
	if parent == nil {
		return false
	}
	appEnvMap, err := AppEnvMap(r, idx)
	if err != nil {
		return false
	}
	parentMap, err := AppEnvMap(parent, idx)
	if err != nil {
		return false
	}
	return isSubset(r, appEnvMap, parent, parentMap)
}

func isSubset(r *rbac.UsageRestrictions, appEnvMap map[string]rbac.StringSet, parent *rbac.UsageRestrictions, parentMap map[string]rbac.StringSet) bool {
	if len(appEnvMap) == 0 {
		return hasAllCommonEnv(
			HasAllAppsEnvAccessOfType(r, rbac.FilterProd), HasAllAppsEnvAccessOfType(parent, rbac.FilterProd),
			HasAllAppsEnvAccessOfType(r, rbac.FilterNonProd), HasAllAppsEnvAccessOfType(parent, rbac.FilterNonProd),
		)
	}
	for appID, envs := range appEnvMap {
		parentEnvs, ok := parentMap[appID]
		if !ok {
			return false
		}
		if envs.IsEmpty() {
			if !hasAllCommonEnv(
				HasAllEnvAccessOfType(r, appID, rbac.FilterProd), HasAllEnvAccessOfType(parent, appID, rbac.FilterProd),
				HasAllEnvAccessOfType(r, appID, rbac.FilterNonProd), HasAllEnvAccessOfType(parent, appID, rbac.FilterNonProd),
			) {
				return false
			}
			continue
		}
		if parentEnvs.IsEmpty() || !parentEnvs.ContainsAll(envs) {
			return false
		}
	}
	return true
}

// hasAllCommonEnv holds when every env type the entity holds in full is also
// held in full by the user, and the entity holds at least one.
func hasAllCommonEnv(entityProd, userProd, entityNonProd, userNonProd bool) bool {
	if entityProd && !userProd {
		return false
	}
	if entityNonProd && !userNonProd {
		return false
	}
	return entityProd || entityNonProd
}

func hasAnyCommonEnv(entity, user *rbac.UsageRestrictions) bool {
	return (HasAllAppsEnvAccessOfType(entity, rbac.FilterProd) && HasAllAppsEnvAccessOfType(user, rbac.FilterProd)) ||
		(HasAllAppsEnvAccessOfType(entity, rbac.FilterNonProd) && HasAllAppsEnvAccessOfType(user, rbac.FilterNonProd))
}

func hasAnyCommonEnvForApp(appID string, entity, user *rbac.UsageRestrictions) bool {
	return (HasAllEnvAccessOfType(entity, appID, rbac.FilterProd) && HasAllEnvAccessOfType(user, appID, rbac.FilterProd)) ||
		(HasAllEnvAccessOfType(entity, appID, rbac.FilterNonProd) && HasAllEnvAccessOfType(user, appID, rbac.FilterNonProd))
}

// HasAllEnvAccessOfType reports whether some restriction covers every
// environment of the given type in the app.
func HasAllEnvAccessOfType(r *rbac.UsageRestrictions, appID, envType string) bool {
	for _, restriction := range r.Restrictions() {
		app, env := restriction.AppFilter, restriction.EnvFilter
		if app == nil || app.FilterType == "" || env == nil || env.FilterTypes.IsEmpty() {
			continue
		}
		if (app.FilterType == rbac.FilterAll || app.IDs.Has(appID)) && env.HasType(envType) {
			return true
		}
	}
	return false
}

// HasAllAppsEnvAccessOfType reports whether some restriction covers every
// environment of the given type in every app.
func HasAllAppsEnvAccessOfType(r *rbac.UsageRestrictions, envType string) bool {
	for _, restriction := range r.Restrictions() {
		if restriction.AppFilter == nil || restriction.AppFilter.FilterType != rbac.FilterAll {
			continue
		}
		if restriction.EnvFilter.HasType(envType) {
			return true
		}
	}
	return false
}

// HasAllEnvAccess reports whether the restrictions cover every PROD and every
// NON_PROD environment of every app. The two types may come from different
// restrictions.
func HasAllEnvAccess(r *rbac.UsageRestrictions) bool {
	return HasAllAppsEnvAccessOfType(r, rbac.FilterProd) && HasAllAppsEnvAccessOfType(r, rbac.FilterNonProd)
}

// HasAllAppAccess reports whether some restriction covers every app.
func HasAllAppAccess(r *rbac.UsageRestrictions) bool {
	return hasRestrictionForAllApps(r)
}
