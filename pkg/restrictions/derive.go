package restrictions

import (
	"fmt"

	"github.com/platinummonkey/warden/pkg/rbac"
)

// envScopedPermission reports whether the permission type carries an env
// filter as its entity filter.
func envScopedPermission(t rbac.PermissionType) bool {
	switch t {
	case rbac.PermissionEnv, rbac.PermissionWorkflow, rbac.PermissionDeployment, rbac.PermissionPipeline:
		return true
	}
	return false
}

func allEnvTypes() *rbac.EnvFilter {
	return &rbac.EnvFilter{FilterTypes: rbac.NewStringSet(rbac.FilterProd, rbac.FilterNonProd)}
}

// envFilterOf returns the env filter a permission contributes to usage
// restrictions, or nil when it contributes none. Workflow filters lose their
// TEMPLATES type.
func envFilterOf(ap rbac.AppPermission) *rbac.EnvFilter {
	if ap.PermissionType == rbac.PermissionAllAppEntities {
		return allEnvTypes()
	}
	if !envScopedPermission(ap.PermissionType) {
		return nil
	}
	if ap.EntityFilter.GenericFilter() != nil {
		return nil
	}
	f := ap.EntityFilter.EnvFilter()
	if f == nil || f.FilterTypes.IsEmpty() {
		return allEnvTypes()
	}
	f = f.Clone()
	if ap.PermissionType == rbac.PermissionWorkflow {
		f.FilterTypes.Remove(rbac.FilterTemplates)
		if f.FilterTypes.IsEmpty() {
			return nil
		}
	}
	if !f.HasType(rbac.FilterSelected) {
		f.IDs = nil
	}
	return f
}

// appFilterOf converts a permission app filter to a restriction app filter.
// EXCLUDE_SELECTED becomes SELECTED over the remaining apps.
func appFilterOf(f *rbac.AppFilter, allAppIDs rbac.StringSet) (*rbac.GenericEntityFilter, error) {
	if f == nil || f.FilterType == "" || f.FilterType == rbac.FilterAll {
		return &rbac.GenericEntityFilter{FilterType: rbac.FilterAll}, nil
	}
	switch f.FilterType {
	case rbac.FilterSelected:
		return &rbac.GenericEntityFilter{FilterType: rbac.FilterSelected, IDs: f.IDs.Clone()}, nil
	case rbac.FilterExcludeSelected:
		return &rbac.GenericEntityFilter{FilterType: rbac.FilterSelected, IDs: allAppIDs.Difference(f.IDs)}, nil
	}
	return nil, fmt.Errorf("%w: unknown app filter type: %s", rbac.ErrInvalidRequest, f.FilterType)
}

// FromUserPermissions derives the usage restrictions a user holds for an
// action from their group permissions. It returns nil when the user holds
// none.
func FromUserPermissions(action rbac.Action, groups []rbac.UserGroup, allAppIDs rbac.StringSet) (*rbac.UsageRestrictions, error) {
	var out []rbac.AppEnvRestriction
	for _, g := range groups {
		for _, ap := range g.AppPermissions {
			if !ap.Actions.Has(action) {
				continue
			}
			appFilter, err := appFilterOf(ap.AppFilter, allAppIDs)
			if err != nil {
				return nil, err
			}
			if ap.PermissionType == rbac.PermissionAllAppEntities {
				out = append(out,
					rbac.AppEnvRestriction{AppFilter: appFilter, EnvFilter: &rbac.EnvFilter{FilterTypes: rbac.NewStringSet(rbac.FilterProd)}},
					rbac.AppEnvRestriction{AppFilter: cloneAppFilter(appFilter), EnvFilter: &rbac.EnvFilter{FilterTypes: rbac.NewStringSet(rbac.FilterNonProd)}},
				)
				continue
			}
			envFilter := envFilterOf(ap)
			if envFilter == nil {
				continue
			}
			out = append(out, rbac.AppEnvRestriction{AppFilter: appFilter, EnvFilter: envFilter})
		}
	}
	out = dedupe(out)
	if len(out) == 0 {
		return nil, nil
	}
	return &rbac.UsageRestrictions{AppEnvRestrictions: out}, nil
}

func cloneAppFilter(f *rbac.GenericEntityFilter) *rbac.GenericEntityFilter {
	if f == nil {
		return nil
	}
	return &rbac.GenericEntityFilter{FilterType: f.FilterType, IDs: f.IDs.Clone()}
}

// BuildUserRestrictionInfo derives the READ and UPDATE restriction view of a
// user from their permission snapshot and groups.
func BuildUserRestrictionInfo(info *rbac.UserPermissionInfo, groups []rbac.UserGroup, allAppIDs rbac.StringSet) (*rbac.UserRestrictionInfo, error) {
	update, err := FromUserPermissions(rbac.ActionUpdate, groups, allAppIDs)
	if err != nil {
		return nil, err
	}
	read, err := FromUserPermissions(rbac.ActionRead, groups, allAppIDs)
	if err != nil {
		return nil, err
	}
	return &rbac.UserRestrictionInfo{
		AppEnvMapForUpdateAction:         AppEnvMapFromUserPermissions(info, rbac.ActionUpdate),
		AppEnvMapForReadAction:           AppEnvMapFromUserPermissions(info, rbac.ActionRead),
		UsageRestrictionsForUpdateAction: update,
		UsageRestrictionsForReadAction:   read,
	}, nil
}

// EnvFiltersForApp returns the env filters of the UPDATE permissions that
// cover the app.
func EnvFiltersForApp(appID string, groups []rbac.UserGroup, allAppIDs rbac.StringSet) ([]*rbac.EnvFilter, error) {
	var out []*rbac.EnvFilter
	for _, g := range groups {
		for _, ap := range g.AppPermissions {
			if !ap.Actions.Has(rbac.ActionUpdate) {
				continue
			}
			apps, err := rbac.AppIDsByFilter(allAppIDs, ap.AppFilter)
			if err != nil {
				return nil, err
			}
			if !apps.Has(appID) {
				continue
			}
			if f := envFilterOf(ap); f != nil {
				out = append(out, f)
			}
		}
	}
	return out, nil
}

// DefaultUsageRestrictions proposes restrictions for a new entity. Within an
// app it scopes the entity to the given environment, or to the env filters
// the user may update in the app. Outside an app it returns the user's UPDATE
// restrictions.
func DefaultUsageRestrictions(appID, envID string, envFilters []*rbac.EnvFilter, user *rbac.UsageRestrictions) *rbac.UsageRestrictions {
	if appID == "" {
		return user
	}
	appFilter := func() *rbac.GenericEntityFilter {
		return &rbac.GenericEntityFilter{FilterType: rbac.FilterSelected, IDs: rbac.NewStringSet(appID)}
	}
	if envID != "" {
		return &rbac.UsageRestrictions{AppEnvRestrictions: []rbac.AppEnvRestriction{{
			AppFilter: appFilter(),
			EnvFilter: &rbac.EnvFilter{FilterTypes: rbac.NewStringSet(rbac.FilterSelected), IDs: rbac.NewStringSet(envID)},
		}}}
	}
	var out []rbac.AppEnvRestriction
	for _, f := range envFilters {
		out = append(out, rbac.AppEnvRestriction{AppFilter: appFilter(), EnvFilter: f.Clone()})
	}
	out = dedupe(out)
	if len(out) == 0 {
		return nil
	}
	return &rbac.UsageRestrictions{AppEnvRestrictions: out}
}
