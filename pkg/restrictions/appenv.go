package restrictions

import (
	"fmt"

	"github.com/platinummonkey/warden/pkg/rbac"
)

// AppEnvIndex maps every app id of an account to its environments. Apps
// without environments are present with an empty list.
type AppEnvIndex map[string][]rbac.Environment

// NewAppEnvIndex builds an index from the apps and environments of an account.
func NewAppEnvIndex(appIDs []string, envs []rbac.Environment) AppEnvIndex {
	idx := make(AppEnvIndex, len(appIDs))
	for _, appID := range appIDs {
		idx[appID] = nil
	}
	for _, env := range envs {
		idx[env.AppID] = append(idx[env.AppID], env)
	}
	return idx
}

// AppIDs returns the app ids in the index.
func (idx AppEnvIndex) AppIDs() rbac.StringSet {
	out := make(rbac.StringSet, len(idx))
	for appID := range idx {
		out.Add(appID)
	}
	return out
}

// EnvIDs returns every environment id in the index.
func (idx AppEnvIndex) EnvIDs() rbac.StringSet {
	out := make(rbac.StringSet)
	for _, envs := range idx {
		for _, env := range envs {
			out.Add(env.UUID)
		}
	}
	return out
}

// EnvType returns the type of an environment, or false when it is unknown.
func (idx AppEnvIndex) EnvType(envID string) (rbac.EnvironmentType, bool) {
	for _, envs := range idx {
		for _, env := range envs {
			if env.UUID == envID {
				return env.Type, true
			}
		}
	}
	return "", false
}

// AppEnvMap resolves restrictions to the concrete app id -> env ids they
// cover. An app selected by a restriction is present even when none of its
// environments match.
func AppEnvMap(r *rbac.UsageRestrictions, idx AppEnvIndex) (map[string]rbac.StringSet, error) {
	out := make(map[string]rbac.StringSet)
	for _, restriction := range r.Restrictions() {
		apps, err := appIDsByFilter(restriction.AppFilter, idx)
		if err != nil {
			return nil, err
		}
		for appID := range apps {
			envs, err := envIDsByFilter(restriction.EnvFilter, idx[appID])
			if err != nil {
				return nil, err
			}
			if out[appID] == nil {
				out[appID] = make(rbac.StringSet)
			}
			out[appID].AddAll(envs)
		}
	}
	return out, nil
}

func appIDsByFilter(f *rbac.GenericEntityFilter, idx AppEnvIndex) (rbac.StringSet, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: app filter is required", rbac.ErrInvalidUsageRestriction)
	}
	switch f.FilterType {
	case rbac.FilterAll:
		return idx.AppIDs(), nil
	case rbac.FilterSelected:
		return f.IDs, nil
	}
	return nil, fmt.Errorf("%w: unsupported app filter type %q", rbac.ErrInvalidUsageRestriction, f.FilterType)
}

func envIDsByFilter(f *rbac.EnvFilter, envs []rbac.Environment) (rbac.StringSet, error) {
	out := make(rbac.StringSet)
	if f == nil || f.FilterTypes.IsEmpty() || len(envs) == 0 {
		return out, nil
	}
	if f.HasType(rbac.FilterProd) && f.HasType(rbac.FilterNonProd) {
		for _, env := range envs {
			out.Add(env.UUID)
		}
		return out, nil
	}
	for filterType := range f.FilterTypes {
		switch filterType {
		case rbac.FilterProd, rbac.FilterNonProd:
			for _, env := range envs {
				if string(env.Type) == filterType {
					out.Add(env.UUID)
				}
			}
		case rbac.FilterSelected:
			for id := range f.IDs {
				if id != "" {
					out.Add(id)
				}
			}
		default:
			return nil, fmt.Errorf("%w: unsupported env filter type %q", rbac.ErrInvalidUsageRestriction, filterType)
		}
	}
	return out, nil
}

// AppEnvMapFromUserPermissions returns, for every app in the snapshot, the
// environments the user holds the action on.
func AppEnvMapFromUserPermissions(info *rbac.UserPermissionInfo, action rbac.Action) map[string]rbac.StringSet {
	out := make(map[string]rbac.StringSet)
	if info == nil {
		return out
	}
	for appID, sum := range info.AppPermissionMap {
		envs := make(rbac.StringSet)
		if sum != nil {
			envs.AddAll(sum.EnvPermissions[action].IDs())
		}
		out[appID] = envs
	}
	return out
}

// AppServiceMapFromUserPermissions returns, for every app in the snapshot, the
// services the user holds the action on.
func AppServiceMapFromUserPermissions(info *rbac.UserPermissionInfo, action rbac.Action) map[string]rbac.StringSet {
	out := make(map[string]rbac.StringSet)
	if info == nil {
		return out
	}
	for appID, sum := range info.AppPermissionMap {
		services := make(rbac.StringSet)
		if sum != nil {
			services.AddAll(sum.ServicePermissions[action])
		}
		out[appID] = services
	}
	return out
}
