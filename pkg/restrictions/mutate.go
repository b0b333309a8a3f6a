package restrictions

import (
	"github.com/platinummonkey/warden/pkg/rbac"
)

// RemoveAppEnvReferences drops an app, or an environment when envID is set,
// from the SELECTED filters of r. A restriction whose selected ids become
// empty is removed. It returns the updated restrictions and the number of
// references removed; r is not modified.
func RemoveAppEnvReferences(r *rbac.UsageRestrictions, appID, envID string) (*rbac.UsageRestrictions, int) {
	if r.IsEmpty() {
		return r, 0
	}
	out := r.Clone()
	kept := out.AppEnvRestrictions[:0]
	count := 0
	for _, restriction := range out.AppEnvRestrictions {
		if envID == "" {
			app := restriction.AppFilter
			if app != nil && app.FilterType == rbac.FilterSelected && app.IDs.Remove(appID) {
				count++
				if app.IDs.IsEmpty() {
					continue
				}
			}
		} else {
			env := restriction.EnvFilter
			if env.HasType(rbac.FilterSelected) && env.IDs.Remove(envID) {
				count++
				if env.IDs.IsEmpty() {
					continue
				}
			}
		}
		kept = append(kept, restriction)
	}
	out.AppEnvRestrictions = kept
	return out, count
}

// PurgeDanglingReferences drops ids of apps and environments that no longer
// exist from the SELECTED filters of r. Restrictions missing a filter, or
// left without ids, are removed. It returns the updated restrictions and the
// number of changes; r is not modified.
func PurgeDanglingReferences(r *rbac.UsageRestrictions, existingApps, existingEnvs rbac.StringSet) (*rbac.UsageRestrictions, int) {
	if r.IsEmpty() {
		return r, 0
	}
	out := r.Clone()
	kept := out.AppEnvRestrictions[:0]
	count := 0
	for _, restriction := range out.AppEnvRestrictions {
		app, env := restriction.AppFilter, restriction.EnvFilter
		if app == nil || env == nil {
			count++
			continue
		}
		if app.FilterType == rbac.FilterSelected {
			for _, id := range app.IDs.Sorted() {
				if !existingApps.Has(id) {
					app.IDs.Remove(id)
					count++
				}
			}
			if app.IDs.IsEmpty() {
				count++
				continue
			}
			if env.HasType(rbac.FilterSelected) {
				for _, id := range env.IDs.Sorted() {
					if !existingEnvs.Has(id) {
						env.IDs.Remove(id)
						count++
					}
				}
				if env.IDs.IsEmpty() {
					count++
					continue
				}
			}
		}
		kept = append(kept, restriction)
	}
	out.AppEnvRestrictions = kept
	return out, count
}

// ValidateSetupUsages checks that every app and environment still
// referencing an entity stays within its new restrictions.
func ValidateSetupUsages(setupUsages map[string]rbac.StringSet, newRestrictions *rbac.UsageRestrictions, idx AppEnvIndex) error {
	if len(setupUsages) == 0 {
		return nil
	}
	appEnvMap, err := AppEnvMap(newRestrictions, idx)
	if err != nil {
		return err
	}
	for _, appID := range sortedKeys(setupUsages) {
		envs, ok := appEnvMap[appID]
		if !ok {
			return invalid("can't update usage scope, application '%s' is still referencing this secret", appID)
		}
		for _, envID := range setupUsages[appID].Sorted() {
			if !envs.Has(envID) {
				return invalid("can't update usage scope, environment '%s' is still referencing this secret", envID)
			}
		}
	}
	return nil
}

func sortedKeys(m map[string]rbac.StringSet) []string {
	keys := make(rbac.StringSet, len(m))
	for k := range m {
		keys.Add(k)
	}
	return keys.Sorted()
}
