package restrictions

import (
	"github.com/platinummonkey/warden/pkg/rbac"
)

// CommonRestrictions returns the pairwise intersection of two restriction
// sets. Environment ids are typed through the index when intersected with an
// env type filter; environments typed ALL match either type.
func CommonRestrictions(a, b *rbac.UsageRestrictions, idx AppEnvIndex) *rbac.UsageRestrictions {
	out := &rbac.UsageRestrictions{AppEnvRestrictions: []rbac.AppEnvRestriction{}}
	seen := make(map[string]struct{})
	for _, ra := range a.Restrictions() {
		for _, rb := range b.Restrictions() {
			common, ok := commonRestriction(ra, rb, idx)
			if !ok {
				continue
			}
			key := restrictionKey(common)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out.AppEnvRestrictions = append(out.AppEnvRestrictions, common)
		}
	}
	return out
}

func commonRestriction(a, b rbac.AppEnvRestriction, idx AppEnvIndex) (rbac.AppEnvRestriction, bool) {
	if a.AppFilter == nil || b.AppFilter == nil || a.EnvFilter == nil || b.EnvFilter == nil {
		return rbac.AppEnvRestriction{}, false
	}
	app := commonAppFilter(a.AppFilter, b.AppFilter)
	env := commonEnvFilter(a.EnvFilter, b.EnvFilter, idx)
	if app == nil || env == nil {
		return rbac.AppEnvRestriction{}, false
	}
	return rbac.AppEnvRestriction{AppFilter: app, EnvFilter: env}, true
}

func commonAppFilter(a, b *rbac.GenericEntityFilter) *rbac.GenericEntityFilter {
	if a.FilterType == rbac.FilterAll {
		return &rbac.GenericEntityFilter{FilterType: b.FilterType, IDs: b.IDs.Clone()}
	}
	if b.FilterType == rbac.FilterAll {
		return &rbac.GenericEntityFilter{FilterType: a.FilterType, IDs: a.IDs.Clone()}
	}
	ids := a.IDs.Intersect(b.IDs)
	if ids.IsEmpty() {
		return nil
	}
	return &rbac.GenericEntityFilter{FilterType: rbac.FilterSelected, IDs: ids}
}

func commonEnvFilter(a, b *rbac.EnvFilter, idx AppEnvIndex) *rbac.EnvFilter {
	types := make(rbac.StringSet)
	var ids rbac.StringSet

	switch {
	case !a.IDs.IsEmpty():
		ids = commonEnvIDs(a.IDs, b, idx)
	case !b.IDs.IsEmpty():
		ids = commonEnvIDs(b.IDs, a, idx)
	default:
		types = a.FilterTypes.Intersect(b.FilterTypes)
	}

	out := &rbac.EnvFilter{}
	if !ids.IsEmpty() {
		types.Add(rbac.FilterSelected)
		out.IDs = ids
	}
	if types.IsEmpty() {
		return nil
	}
	out.FilterTypes = types
	return out
}

func commonEnvIDs(ids rbac.StringSet, f *rbac.EnvFilter, idx AppEnvIndex) rbac.StringSet {
	if !f.IDs.IsEmpty() {
		return ids.Intersect(f.IDs)
	}
	out := make(rbac.StringSet)
	for filterType := range f.FilterTypes {
		for id := range ids {
			t, ok := idx.EnvType(id)
			if !ok {
				continue
			}
			if string(t) == filterType || t == rbac.EnvironmentAll {
				out.Add(id)
			}
		}
	}
	return out
}

func restrictionKey(r rbac.AppEnvRestriction) string {
	key := ""
	if r.AppFilter != nil {
		key += r.AppFilter.FilterType + "|"
		for _, id := range r.AppFilter.IDs.Sorted() {
			key += id + ","
		}
	}
	key += "#"
	if r.EnvFilter != nil {
		for _, t := range r.EnvFilter.FilterTypes.Sorted() {
			key += t + ","
		}
		key += "|"
		for _, id := range r.EnvFilter.IDs.Sorted() {
			key += id + ","
		}
	}
	return key
}

func dedupe(rs []rbac.AppEnvRestriction) []rbac.AppEnvRestriction {
	seen := make(map[string]struct{}, len(rs))
	out := make([]rbac.AppEnvRestriction, 0, len(rs))
	for _, r := range rs {
		key := restrictionKey(r)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}
