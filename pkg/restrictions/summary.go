package restrictions

import (
	"sort"

	"github.com/platinummonkey/warden/pkg/rbac"
)

// EntityReference names an entity in a summary. EntityType is the
// environment type for environments and the entity kind otherwise.
type EntityReference struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name,omitempty" yaml:"name,omitempty"`
	EntityType string `json:"entity_type,omitempty" yaml:"entityType,omitempty"`
}

// AppRestrictionsSummary lists the environments a user may scope entities to
// within one app.
type AppRestrictionsSummary struct {
	AppID                  string            `json:"app_id" yaml:"appId"`
	Name                   string            `json:"name,omitempty" yaml:"name,omitempty"`
	HasAllProdEnvAccess    bool              `json:"has_all_prod_env_access" yaml:"hasAllProdEnvAccess"`
	HasAllNonProdEnvAccess bool              `json:"has_all_non_prod_env_access" yaml:"hasAllNonProdEnvAccess"`
	Environments           []EntityReference `json:"environments,omitempty" yaml:"environments,omitempty"`
}

// RestrictionsSummary lists the apps and environments a user may scope
// entities to.
type RestrictionsSummary struct {
	HasAllAppAccess        bool                     `json:"has_all_app_access" yaml:"hasAllAppAccess"`
	HasAllProdEnvAccess    bool                     `json:"has_all_prod_env_access" yaml:"hasAllProdEnvAccess"`
	HasAllNonProdEnvAccess bool                     `json:"has_all_non_prod_env_access" yaml:"hasAllNonProdEnvAccess"`
	Applications           []AppRestrictionsSummary `json:"applications,omitempty" yaml:"applications,omitempty"`
}

// BuildRestrictionsSummary summarizes the update scopes of a user. A user
// without update restrictions gets nothing; an account without apps grants
// everything.
func BuildRestrictionsSummary(user *rbac.UsageRestrictions, userAppEnvMap map[string]rbac.StringSet, apps []rbac.Application, envs []rbac.Environment) *RestrictionsSummary {
	if user == nil {
		return &RestrictionsSummary{}
	}
	if len(apps) == 0 {
		return &RestrictionsSummary{HasAllAppAccess: true, HasAllProdEnvAccess: true, HasAllNonProdEnvAccess: true}
	}

	envByID := make(map[string]rbac.Environment, len(envs))
	for _, env := range envs {
		envByID[env.UUID] = env
	}

	out := &RestrictionsSummary{
		HasAllAppAccess:        HasAllAppAccess(user),
		HasAllProdEnvAccess:    HasAllAppsEnvAccessOfType(user, rbac.FilterProd),
		HasAllNonProdEnvAccess: HasAllAppsEnvAccessOfType(user, rbac.FilterNonProd),
	}
	for _, app := range apps {
		envIDs, ok := userAppEnvMap[app.UUID]
		if !ok {
			continue
		}
		sum := AppRestrictionsSummary{
			AppID:                  app.UUID,
			Name:                   app.Name,
			HasAllProdEnvAccess:    HasAllEnvAccessOfType(user, app.UUID, rbac.FilterProd),
			HasAllNonProdEnvAccess: HasAllEnvAccessOfType(user, app.UUID, rbac.FilterNonProd),
		}
		for _, envID := range envIDs.Sorted() {
			env, ok := envByID[envID]
			if !ok {
				continue
			}
			sum.Environments = append(sum.Environments, EntityReference{ID: env.UUID, Name: env.Name, EntityType: string(env.Type)})
		}
		out.Applications = append(out.Applications, sum)
	}
	sort.Slice(out.Applications, func(i, j int) bool {
		return out.Applications[i].AppID < out.Applications[j].AppID
	})
	return out
}

// ReferenceSummary counts the restricted entities that reference an app or
// environment.
type ReferenceSummary struct {
	Total         int               `json:"total" yaml:"total"`
	NumOfSettings int               `json:"num_of_settings" yaml:"numOfSettings"`
	NumOfSecrets  int               `json:"num_of_secrets" yaml:"numOfSecrets"`
	Settings      []EntityReference `json:"settings,omitempty" yaml:"settings,omitempty"`
	Secrets       []EntityReference `json:"secrets,omitempty" yaml:"secrets,omitempty"`
}

func (s *ReferenceSummary) add(e RestrictedEntity) {
	ref := EntityReference{ID: e.UUID, Name: e.Name, EntityType: string(e.Kind)}
	switch e.Kind {
	case KindSetting:
		s.Settings = append(s.Settings, ref)
		s.NumOfSettings++
	case KindSecret:
		s.Secrets = append(s.Secrets, ref)
		s.NumOfSecrets++
	default:
		return
	}
	s.Total++
}

func referencesApp(r *rbac.UsageRestrictions, appID string) bool {
	for _, restriction := range r.Restrictions() {
		app := restriction.AppFilter
		if app != nil && app.FilterType == rbac.FilterSelected && app.IDs.Has(appID) {
			return true
		}
	}
	return false
}

func referencesEnv(r *rbac.UsageRestrictions, envID string) bool {
	for _, restriction := range r.Restrictions() {
		env := restriction.EnvFilter
		if env.HasType(rbac.FilterSelected) && env.IDs.Has(envID) {
			return true
		}
	}
	return false
}
