package restrictions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/rbac"
)

func group(perms ...rbac.AppPermission) rbac.UserGroup {
	return rbac.UserGroup{UUID: "g", AccountID: "acc1", AppPermissions: perms}
}

func TestFromUserPermissions(t *testing.T) {
	all := rbac.NewStringSet("app1", "app2")

	tests := []struct {
		name   string
		groups []rbac.UserGroup
		want   *rbac.UsageRestrictions
	}{
		{
			name: "all app entities",
			groups: []rbac.UserGroup{group(rbac.AppPermission{
				PermissionType: rbac.PermissionAllAppEntities,
				Actions:        rbac.NewActionSet(rbac.ActionUpdate),
			})},
			want: restrict(pair(allApps(), envTypes(rbac.FilterProd)), pair(allApps(), envTypes(rbac.FilterNonProd))),
		},
		{
			name: "excluded apps become selected",
			groups: []rbac.UserGroup{group(rbac.AppPermission{
				PermissionType: rbac.PermissionEnv,
				AppFilter:      &rbac.AppFilter{FilterType: rbac.FilterExcludeSelected, IDs: rbac.NewStringSet("app2")},
				EntityFilter:   &rbac.EntityFilter{Env: envs("prod1")},
				Actions:        rbac.NewActionSet(rbac.ActionUpdate),
			})},
			want: restrict(pair(apps("app1"), envs("prod1"))),
		},
		{
			name: "workflow filter drops templates",
			groups: []rbac.UserGroup{group(rbac.AppPermission{
				PermissionType: rbac.PermissionWorkflow,
				AppFilter:      apps("app1"),
				EntityFilter:   &rbac.EntityFilter{Env: envTypes(rbac.FilterProd, rbac.FilterTemplates)},
				Actions:        rbac.NewActionSet(rbac.ActionUpdate),
			})},
			want: restrict(pair(apps("app1"), envTypes(rbac.FilterProd))),
		},
		{
			name: "templates only workflow filter",
			groups: []rbac.UserGroup{group(rbac.AppPermission{
				PermissionType: rbac.PermissionWorkflow,
				EntityFilter:   &rbac.EntityFilter{Env: envTypes(rbac.FilterTemplates)},
				Actions:        rbac.NewActionSet(rbac.ActionUpdate),
			})},
			want: nil,
		},
		{
			name: "service permissions carry no env scope",
			groups: []rbac.UserGroup{group(rbac.AppPermission{
				PermissionType: rbac.PermissionService,
				Actions:        rbac.NewActionSet(rbac.ActionUpdate),
			})},
			want: nil,
		},
		{
			name: "other action",
			groups: []rbac.UserGroup{group(rbac.AppPermission{
				PermissionType: rbac.PermissionAllAppEntities,
				Actions:        rbac.NewActionSet(rbac.ActionRead),
			})},
			want: nil,
		},
		{
			name: "duplicates across groups",
			groups: []rbac.UserGroup{
				group(rbac.AppPermission{PermissionType: rbac.PermissionEnv, AppFilter: apps("app1"), Actions: rbac.NewActionSet(rbac.ActionUpdate)}),
				group(rbac.AppPermission{PermissionType: rbac.PermissionDeployment, AppFilter: apps("app1"), Actions: rbac.NewActionSet(rbac.ActionUpdate)}),
			},
			want: restrict(pair(apps("app1"), envTypes(rbac.FilterProd, rbac.FilterNonProd))),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromUserPermissions(rbac.ActionUpdate, tt.groups, all)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// A missing app filter means every app and a missing or typeless env filter
// means every env type, for all env scoped permission types.
func TestFromUserPermissions_MissingFiltersWiden(t *testing.T) {
	widest := restrict(pair(allApps(), envTypes(rbac.FilterProd, rbac.FilterNonProd)))
	filters := map[string]struct {
		app    *rbac.AppFilter
		entity *rbac.EntityFilter
	}{
		"nil filters":         {},
		"blank app filter":    {app: &rbac.AppFilter{}},
		"nil env filter":      {entity: &rbac.EntityFilter{}},
		"typeless env filter": {entity: &rbac.EntityFilter{Env: &rbac.EnvFilter{}}},
	}
	for _, permType := range []rbac.PermissionType{rbac.PermissionEnv, rbac.PermissionWorkflow, rbac.PermissionDeployment, rbac.PermissionPipeline} {
		for name, f := range filters {
			t.Run(string(permType)+"/"+name, func(t *testing.T) {
				got, err := FromUserPermissions(rbac.ActionUpdate, []rbac.UserGroup{group(rbac.AppPermission{
					PermissionType: permType,
					AppFilter:      f.app,
					EntityFilter:   f.entity,
					Actions:        rbac.NewActionSet(rbac.ActionUpdate),
				})}, rbac.NewStringSet("app1"))
				require.NoError(t, err)
				assert.Equal(t, widest, got)
			})
		}
	}
}

func TestFromUserPermissions_UnknownAppFilter(t *testing.T) {
	_, err := FromUserPermissions(rbac.ActionUpdate, []rbac.UserGroup{group(rbac.AppPermission{
		PermissionType: rbac.PermissionEnv,
		AppFilter:      &rbac.AppFilter{FilterType: "SOME"},
		Actions:        rbac.NewActionSet(rbac.ActionUpdate),
	})}, nil)
	assert.ErrorIs(t, err, rbac.ErrInvalidRequest)
}

func TestBuildUserRestrictionInfo(t *testing.T) {
	info := &rbac.UserPermissionInfo{AppPermissionMap: map[string]*rbac.AppPermissionSummary{
		"app1": {EnvPermissions: map[rbac.Action]rbac.EnvInfoSet{
			rbac.ActionRead:   {"prod1": rbac.EnvironmentProd, "qa1": rbac.EnvironmentNonProd},
			rbac.ActionUpdate: {"qa1": rbac.EnvironmentNonProd},
		}},
	}}
	groups := []rbac.UserGroup{
		group(rbac.AppPermission{
			PermissionType: rbac.PermissionEnv,
			AppFilter:      apps("app1"),
			Actions:        rbac.NewActionSet(rbac.ActionRead),
		}),
		group(rbac.AppPermission{
			PermissionType: rbac.PermissionEnv,
			AppFilter:      apps("app1"),
			EntityFilter:   &rbac.EntityFilter{Env: envTypes(rbac.FilterNonProd)},
			Actions:        rbac.NewActionSet(rbac.ActionUpdate),
		}),
	}

	got, err := BuildUserRestrictionInfo(info, groups, rbac.NewStringSet("app1"))
	require.NoError(t, err)
	assert.Equal(t, map[string]rbac.StringSet{"app1": rbac.NewStringSet("qa1")}, got.AppEnvMapForUpdateAction)
	assert.Equal(t, map[string]rbac.StringSet{"app1": rbac.NewStringSet("prod1", "qa1")}, got.AppEnvMapForReadAction)
	assert.Equal(t, restrict(pair(apps("app1"), envTypes(rbac.FilterNonProd))), got.UsageRestrictionsForUpdateAction)
	assert.Equal(t, restrict(pair(apps("app1"), envTypes(rbac.FilterProd, rbac.FilterNonProd))), got.UsageRestrictionsForReadAction)
}

func TestEnvFiltersForApp(t *testing.T) {
	groups := []rbac.UserGroup{group(
		rbac.AppPermission{
			PermissionType: rbac.PermissionEnv,
			AppFilter:      apps("app1"),
			EntityFilter:   &rbac.EntityFilter{Env: envTypes(rbac.FilterNonProd)},
			Actions:        rbac.NewActionSet(rbac.ActionUpdate),
		},
		rbac.AppPermission{
			PermissionType: rbac.PermissionAllAppEntities,
			Actions:        rbac.NewActionSet(rbac.ActionUpdate),
		},
		rbac.AppPermission{
			PermissionType: rbac.PermissionEnv,
			AppFilter:      apps("app1"),
			EntityFilter:   &rbac.EntityFilter{Env: envs("prod1")},
			Actions:        rbac.NewActionSet(rbac.ActionRead),
		},
	)}
	all := rbac.NewStringSet("app1", "app2")

	got, err := EnvFiltersForApp("app1", groups, all)
	require.NoError(t, err)
	assert.Equal(t, []*rbac.EnvFilter{envTypes(rbac.FilterNonProd), envTypes(rbac.FilterProd, rbac.FilterNonProd)}, got)

	got, err = EnvFiltersForApp("app2", groups, all)
	require.NoError(t, err)
	assert.Equal(t, []*rbac.EnvFilter{envTypes(rbac.FilterProd, rbac.FilterNonProd)}, got)
}

func TestDefaultUsageRestrictions(t *testing.T) {
	user := restrict(pair(allApps(), envTypes(rbac.FilterProd)))

	assert.Equal(t, user, DefaultUsageRestrictions("", "", nil, user))
	assert.Equal(t, restrict(pair(apps("app1"), envs("qa1"))), DefaultUsageRestrictions("app1", "qa1", nil, user))
	assert.Equal(t,
		restrict(pair(apps("app1"), envTypes(rbac.FilterNonProd))),
		DefaultUsageRestrictions("app1", "", []*rbac.EnvFilter{envTypes(rbac.FilterNonProd), envTypes(rbac.FilterNonProd)}, user),
	)
	assert.Nil(t, DefaultUsageRestrictions("app1", "", nil, user))
}
