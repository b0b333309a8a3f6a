package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildFor(t *testing.T, catalog *fakeCatalog, groups ...UserGroup) *UserPermissionInfo {
	t.Helper()
	logger, _ := test.NewNullLogger()
	info, err := NewBuilder(catalog, logger).Build(context.Background(), "acc1", groups)
	require.NoError(t, err)
	return info
}

func groupWith(perms ...AppPermission) UserGroup {
	return UserGroup{UUID: "g1", AccountID: "acc1", AppPermissions: perms}
}

func TestBuilder_AllAppEntities(t *testing.T) {
	catalog := newTestCatalog()
	info := buildFor(t, catalog, groupWith(AppPermission{
		PermissionType: PermissionAllAppEntities,
		Actions:        NewActionSet(ActionCreate, ActionRead, ActionUpdate, ActionExecutePipeline, ActionExecuteWorkflow),
	}))

	require.Len(t, info.AppPermissionMap, 2)
	assert.True(t, info.HasAllAppAccess)

	sum := info.AppSummary("app1")
	require.NotNil(t, sum)
	assert.True(t, sum.CanCreateService)
	assert.True(t, sum.CanCreateProvisioner)
	assert.True(t, sum.CanCreateEnvironment)
	assert.True(t, sum.CanCreateWorkflow)
	assert.True(t, sum.CanCreatePipeline)
	assert.True(t, sum.CanCreateTemplate)
	assert.True(t, sum.CanCreateTemplatizedWorkflow)

	assert.Equal(t, NewStringSet("svc1"), sum.ServicePermissions[ActionRead])
	assert.Equal(t, NewStringSet("prov1"), sum.ProvisionerPermissions[ActionUpdate])
	assert.Equal(t, NewStringSet("tmpl1"), sum.TemplatePermissions[ActionRead])
	assert.Equal(t, NewStringSet("prod1", "qa1"), sum.EnvPermissions[ActionRead].IDs())
	assert.Equal(t, NewStringSet("wf-prod", "wf-qa", "wf-tmpl", "wf-none"), sum.WorkflowPermissions[ActionRead])
	assert.Equal(t, NewStringSet("pl-prod", "pl-mixed", "pl-approval"), sum.PipelinePermissions[ActionUpdate])
	assert.Equal(t,
		NewStringSet("wf-prod", "wf-qa", "wf-tmpl", "wf-none", "pl-prod", "pl-mixed", "pl-approval"),
		sum.DeploymentPermissions[ActionExecuteWorkflow])
	assert.Equal(t, NewSet(EnvironmentProd, EnvironmentNonProd), sum.EnvCreatePermissionsForEnvTypes)
	assert.Equal(t, NewStringSet("prod1", "qa1"), sum.WorkflowExecutePermissionsForEnvs)
	assert.Equal(t, NewStringSet("prod1", "qa1"), sum.PipelineExecutePermissionsForEnvs)
	assert.Equal(t, NewStringSet("prod1", "qa1"), sum.DeploymentExecutePermissionsForEnvs)
	assert.Empty(t, sum.RollbackWorkflowExecutePermissionsForEnvs)
	assert.Equal(t, NewStringSet("prod1", "qa1"),
		sum.EnvExecutableElementDeployPermissions[ExecutableElementInfo{EntityType: ElementPipeline, EntityID: "pl-prod"}])
	assert.Equal(t, NewStringSet("prod1", "qa1"),
		sum.EnvExecutableElementDeployPermissions[ExecutableElementInfo{EntityType: ElementWorkflow, EntityID: "wf-qa"}])

	sum2 := info.AppSummary("app2")
	require.NotNil(t, sum2)
	assert.Equal(t, NewStringSet("svc2"), sum2.ServicePermissions[ActionRead])
	assert.Equal(t, NewStringSet("prod2"), sum2.EnvPermissions[ActionUpdate].IDs())
}

func TestBuilder_AllAppEntitiesEquivalentToEachType(t *testing.T) {
	actions := NewActionSet(ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionExecuteWorkflow, ActionExecutePipeline)

	combined := buildFor(t, newTestCatalog(), groupWith(AppPermission{
		PermissionType: PermissionAllAppEntities,
		Actions:        actions,
	}))

	var perTypes []AppPermission
	for _, pt := range []PermissionType{
		PermissionService, PermissionProvisioner, PermissionEnv, PermissionWorkflow,
		PermissionDeployment, PermissionAppTemplate, PermissionPipeline,
	} {
		perTypes = append(perTypes, AppPermission{PermissionType: pt, Actions: actions})
	}
	expanded := buildFor(t, newTestCatalog(), groupWith(perTypes...))

	assert.Equal(t, expanded.AppPermissionMap, combined.AppPermissionMap)
	assert.Equal(t, expanded.HasAllAppAccess, combined.HasAllAppAccess)
}

func TestBuilder_AppFilters(t *testing.T) {
	tests := []struct {
		name     string
		filter   *AppFilter
		wantApps []string
	}{
		{"nil filter selects all apps", nil, []string{"app1", "app2"}},
		{"all", &AppFilter{FilterType: FilterAll}, []string{"app1", "app2"}},
		{"selected intersects with existing apps", &AppFilter{FilterType: FilterSelected, IDs: NewStringSet("app2", "gone")}, []string{"app2"}},
		{"exclude selected", &AppFilter{FilterType: FilterExcludeSelected, IDs: NewStringSet("app1")}, []string{"app2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := buildFor(t, newTestCatalog(), groupWith(AppPermission{
				PermissionType: PermissionService,
				AppFilter:      tt.filter,
				Actions:        NewActionSet(ActionRead),
			}))
			var got []string
			for appID := range info.AppPermissionMap {
				got = append(got, appID)
			}
			assert.ElementsMatch(t, tt.wantApps, got)
			assert.Equal(t, len(tt.wantApps) == 2, info.HasAllAppAccess)
		})
	}
}

func TestBuilder_UnknownAppFilterFails(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := NewBuilder(newTestCatalog(), logger).Build(context.Background(), "acc1", []UserGroup{groupWith(AppPermission{
		PermissionType: PermissionService,
		AppFilter:      &AppFilter{FilterType: "SOME"},
		Actions:        NewActionSet(ActionRead),
	})})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestBuilder_SkipsPermissionsWithoutActions(t *testing.T) {
	logger, hook := test.NewNullLogger()
	info, err := NewBuilder(newTestCatalog(), logger).Build(context.Background(), "acc1", []UserGroup{
		groupWith(AppPermission{PermissionType: PermissionService}),
	})
	require.NoError(t, err)
	assert.Empty(t, info.AppPermissionMap)
	assert.False(t, info.HasAllAppAccess)
	require.NotNil(t, hook.LastEntry())
	assert.Contains(t, hook.LastEntry().Message, "Actions empty")
}

func TestBuilder_AccountPermissionsUnion(t *testing.T) {
	info := buildFor(t, newTestCatalog(),
		UserGroup{UUID: "g1", AccountPermissions: &AccountPermissions{Permissions: NewSet(PermissionManageApplications)}},
		UserGroup{UUID: "g2", AccountPermissions: &AccountPermissions{Permissions: NewSet(PermissionAuditViewer)}},
	)
	assert.True(t, info.HasAccountPermission(PermissionManageApplications))
	assert.True(t, info.HasAccountPermission(PermissionAuditViewer))
	assert.False(t, info.HasAccountPermission(PermissionManageSecrets))
}

func TestBuilder_WorkflowPermissions(t *testing.T) {
	t.Run("env filter excludes templates unless requested", func(t *testing.T) {
		info := buildFor(t, newTestCatalog(), groupWith(AppPermission{
			PermissionType: PermissionWorkflow,
			AppFilter:      &AppFilter{FilterType: FilterSelected, IDs: NewStringSet("app1")},
			EntityFilter:   &EntityFilter{Env: &EnvFilter{FilterTypes: NewStringSet(FilterProd)}},
			Actions:        NewActionSet(ActionCreate, ActionRead, ActionUpdate),
		}))
		sum := info.AppSummary("app1")
		require.NotNil(t, sum)
		assert.True(t, sum.CanCreateWorkflow)
		assert.False(t, sum.CanCreateTemplatizedWorkflow)
		assert.Equal(t, NewStringSet("prod1"), sum.WorkflowCreatePermissionsForEnvs)
		assert.Equal(t, NewStringSet("prod1"), sum.WorkflowUpdatePermissionsForEnvs)
		assert.Equal(t, NewStringSet("wf-prod", "wf-none"), sum.WorkflowPermissions[ActionRead])
	})

	t.Run("templates filter grants templatized workflows", func(t *testing.T) {
		info := buildFor(t, newTestCatalog(), groupWith(AppPermission{
			PermissionType: PermissionWorkflow,
			AppFilter:      &AppFilter{FilterType: FilterSelected, IDs: NewStringSet("app1")},
			EntityFilter:   &EntityFilter{Env: &EnvFilter{FilterTypes: NewStringSet(FilterNonProd, FilterTemplates)}},
			Actions:        NewActionSet(ActionCreate, ActionRead),
		}))
		sum := info.AppSummary("app1")
		assert.True(t, sum.CanCreateTemplatizedWorkflow)
		assert.Equal(t, NewStringSet("wf-qa", "wf-tmpl", "wf-none"), sum.WorkflowPermissions[ActionRead])
	})

	t.Run("per entity grants bypass env checks", func(t *testing.T) {
		info := buildFor(t, newTestCatalog(), groupWith(AppPermission{
			PermissionType: PermissionWorkflow,
			AppFilter:      &AppFilter{FilterType: FilterSelected, IDs: NewStringSet("app1")},
			EntityFilter:   &EntityFilter{Generic: &GenericEntityFilter{FilterType: FilterSelected, IDs: NewStringSet("wf-qa")}},
			Actions:        NewActionSet(ActionUpdate),
		}))
		sum := info.AppSummary("app1")
		assert.Equal(t, NewStringSet("wf-qa"), sum.WorkflowUpdatePermissionsByEntity)
		assert.Equal(t, NewStringSet("wf-qa"), sum.WorkflowPermissions[ActionUpdate])
		assert.Empty(t, sum.WorkflowUpdatePermissionsForEnvs)
	})
}

func TestBuilder_DeploymentPermissions(t *testing.T) {
	info := buildFor(t, newTestCatalog(), groupWith(AppPermission{
		PermissionType: PermissionDeployment,
		AppFilter:      &AppFilter{FilterType: FilterSelected, IDs: NewStringSet("app1")},
		EntityFilter: &EntityFilter{Env: &EnvFilter{
			FilterTypes: NewStringSet(FilterSelected),
			IDs:         NewStringSet("prod1"),
		}},
		Actions: NewActionSet(ActionExecuteWorkflow),
	}))

	assert.False(t, info.HasAllAppAccess)
	sum := info.AppSummary("app1")
	require.NotNil(t, sum)
	assert.Equal(t,
		NewStringSet("wf-prod", "wf-tmpl", "wf-none", "pl-prod", "pl-approval"),
		sum.DeploymentPermissions[ActionExecuteWorkflow])
	assert.Equal(t, NewStringSet("prod1"), sum.WorkflowExecutePermissionsForEnvs)
	assert.Equal(t, NewStringSet("prod1"), sum.DeploymentExecutePermissionsForEnvs)
	assert.Empty(t, sum.PipelineExecutePermissionsForEnvs)
	assert.Equal(t, NewStringSet("prod1"),
		sum.EnvExecutableElementDeployPermissions[ExecutableElementInfo{EntityType: ElementWorkflow, EntityID: "wf-qa"}])
	_, hasPipeline := sum.EnvExecutableElementDeployPermissions[ExecutableElementInfo{EntityType: ElementPipeline, EntityID: "pl-prod"}]
	assert.False(t, hasPipeline)
}

func TestBuilder_DeploymentWithoutMatchingEnvs(t *testing.T) {
	info := buildFor(t, newTestCatalog(), groupWith(AppPermission{
		PermissionType: PermissionDeployment,
		AppFilter:      &AppFilter{FilterType: FilterSelected, IDs: NewStringSet("app2")},
		EntityFilter:   &EntityFilter{Env: &EnvFilter{FilterTypes: NewStringSet(FilterNonProd)}},
		Actions:        NewActionSet(ActionRead),
	}))
	sum := info.AppSummary("app2")
	require.NotNil(t, sum)
	assert.Empty(t, sum.DeploymentPermissions)
}

func TestBuilder_PipelineActionsNarrowedByEarlierGrants(t *testing.T) {
	info := buildFor(t, newTestCatalog(),
		groupWith(AppPermission{
			PermissionType: PermissionPipeline,
			AppFilter:      &AppFilter{FilterType: FilterSelected, IDs: NewStringSet("app1")},
			EntityFilter:   &EntityFilter{Env: &EnvFilter{FilterTypes: NewStringSet(FilterProd)}},
			Actions:        NewActionSet(ActionRead, ActionUpdate),
		}),
		groupWith(AppPermission{
			PermissionType: PermissionPipeline,
			AppFilter:      &AppFilter{FilterType: FilterSelected, IDs: NewStringSet("app1")},
			EntityFilter:   &EntityFilter{Env: &EnvFilter{FilterTypes: NewStringSet(FilterNonProd)}},
			Actions:        NewActionSet(ActionRead),
		}),
	)

	sum := info.AppSummary("app1")
	require.NotNil(t, sum)
	assert.Equal(t, NewStringSet("pl-prod", "pl-mixed", "pl-approval"), sum.PipelinePermissions[ActionRead])
	assert.Equal(t, NewStringSet("pl-prod", "pl-approval"), sum.PipelinePermissions[ActionUpdate])
	assert.Equal(t, NewStringSet("prod1"), sum.PipelineUpdatePermissionsForEnvs)
}

func TestBuilder_CatalogErrorFailsBuild(t *testing.T) {
	boom := errors.New("boom")
	catalog := newTestCatalog()
	catalog.err = boom
	logger, _ := test.NewNullLogger()

	info, err := NewBuilder(catalog, logger).Build(context.Background(), "acc1", []UserGroup{groupWith(AppPermission{
		PermissionType: PermissionEnv,
		Actions:        NewActionSet(ActionRead),
	})})
	assert.Nil(t, info)
	assert.ErrorIs(t, err, boom)
}

func TestBuilder_NoGroups(t *testing.T) {
	info := buildFor(t, newTestCatalog())
	assert.Empty(t, info.AppPermissionMap)
	assert.True(t, info.IsEmpty())
}

func TestPipelineHasOnlyGivenEnvs(t *testing.T) {
	workflows := []Workflow{
		{UUID: "wf-prod", EnvID: "prod1"},
		{UUID: "wf-expr", EnvID: "${env}"},
	}
	tests := []struct {
		name    string
		stages  []PipelineStage
		allowed StringSet
		want    bool
	}{
		{"no stages", nil, nil, true},
		{"approval only", []PipelineStage{{Elements: []StageElement{{Type: StageElementApproval}}}}, nil, true},
		{"allowed env", []PipelineStage{{Elements: []StageElement{{Type: StageElementEnvState, WorkflowID: "wf-prod"}}}}, NewStringSet("prod1"), true},
		{"env not allowed", []PipelineStage{{Elements: []StageElement{{Type: StageElementEnvState, WorkflowID: "wf-prod"}}}}, NewStringSet("qa1"), false},
		{"element env overrides workflow", []PipelineStage{{Elements: []StageElement{{Type: StageElementEnvState, WorkflowID: "wf-prod", EnvID: "qa1"}}}}, NewStringSet("qa1"), true},
		{"expression env passes", []PipelineStage{{Elements: []StageElement{{Type: StageElementEnvState, WorkflowID: "wf-expr"}}}}, nil, true},
		{"missing workflow id fails", []PipelineStage{{Elements: []StageElement{{Type: StageElementEnvState}}}}, NewStringSet("prod1"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PipelineHasOnlyGivenEnvs(Pipeline{UUID: "p", Stages: tt.stages}, workflows, tt.allowed))
		})
	}
}
