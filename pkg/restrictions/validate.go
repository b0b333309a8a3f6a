package restrictions

import (
	"fmt"
	"strings"

	"github.com/platinummonkey/warden/pkg/rbac"
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", rbac.ErrInvalidUsageRestriction, fmt.Sprintf(format, args...))
}

func hasBlankID(ids rbac.StringSet) bool {
	for id := range ids {
		if strings.TrimSpace(id) == "" {
			return true
		}
	}
	return false
}

// Validate rejects malformed restrictions before they are saved. Empty
// restrictions are valid.
func Validate(r *rbac.UsageRestrictions) error {
	for i, restriction := range r.Restrictions() {
		app := restriction.AppFilter
		if app == nil || app.FilterType == "" {
			return invalid("restriction %d: app filter is required", i)
		}
		switch app.FilterType {
		case rbac.FilterAll:
		case rbac.FilterSelected:
			if app.IDs.IsEmpty() {
				return invalid("restriction %d: selected app filter has no ids", i)
			}
			if hasBlankID(app.IDs) {
				return invalid("restriction %d: selected app filter has a blank id", i)
			}
		default:
			return invalid("restriction %d: unknown app filter type %q", i, app.FilterType)
		}

		env := restriction.EnvFilter
		if env == nil || env.FilterTypes.IsEmpty() {
			return invalid("restriction %d: env filter types are required", i)
		}
		for filterType := range env.FilterTypes {
			switch filterType {
			case rbac.FilterProd, rbac.FilterNonProd, rbac.FilterSelected:
			default:
				return invalid("restriction %d: unknown env filter type %q", i, filterType)
			}
		}
		if env.HasType(rbac.FilterSelected) {
			if env.FilterTypes.Len() != 1 {
				return invalid("restriction %d: SELECTED env filter cannot be combined with other types", i)
			}
			if env.IDs.IsEmpty() {
				return invalid("restriction %d: selected env filter has no ids", i)
			}
			if hasBlankID(env.IDs) {
				return invalid("restriction %d: selected env filter has a blank id", i)
			}
		}
	}
	return nil
}
