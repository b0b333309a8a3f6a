package rbac

import (
	"fmt"
	"strings"
)

// EnvInfo is an environment id with its type
type EnvInfo struct {
	EnvID   string          `json:"env_id"`
	EnvType EnvironmentType `json:"env_type"`
}

// EnvInfoSet maps environment ids to their type
type EnvInfoSet map[string]EnvironmentType

// Add inserts environments into the set.
func (s EnvInfoSet) Add(envs ...EnvInfo) {
	for _, e := range envs {
		s[e.EnvID] = e.EnvType
	}
}

// Has reports whether the environment id is in the set.
func (s EnvInfoSet) Has(envID string) bool {
	_, ok := s[envID]
	return ok
}

// IDs returns the environment ids.
func (s EnvInfoSet) IDs() StringSet {
	out := make(StringSet, len(s))
	for id := range s {
		out.Add(id)
	}
	return out
}

// Executable element kinds
const (
	ElementPipeline = "PIPELINE"
	ElementWorkflow = "WORKFLOW"
)

// ExecutableElementInfo identifies a pipeline or workflow that can be deployed
type ExecutableElementInfo struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
}

// MarshalText encodes the element as TYPE/ID so it can key JSON maps.
func (e ExecutableElementInfo) MarshalText() ([]byte, error) {
	return []byte(e.EntityType + "/" + e.EntityID), nil
}

// UnmarshalText decodes a TYPE/ID key.
func (e *ExecutableElementInfo) UnmarshalText(text []byte) error {
	kind, id, ok := strings.Cut(string(text), "/")
	if !ok {
		return fmt.Errorf("invalid executable element key %q", string(text))
	}
	e.EntityType = kind
	e.EntityID = id
	return nil
}

// AppPermissionSummary is the folded view of every permission a user holds on one app
type AppPermissionSummary struct {
	CanCreateService             bool `json:"can_create_service"`
	CanCreateProvisioner         bool `json:"can_create_provisioner"`
	CanCreateEnvironment         bool `json:"can_create_environment"`
	CanCreateWorkflow            bool `json:"can_create_workflow"`
	CanCreatePipeline            bool `json:"can_create_pipeline"`
	CanCreateTemplate            bool `json:"can_create_template"`
	CanCreateTemplatizedWorkflow bool `json:"can_create_templatized_workflow"`

	EnvCreatePermissionsForEnvTypes Set[EnvironmentType] `json:"env_create_permissions_for_env_types"`

	ServicePermissions     map[Action]StringSet  `json:"service_permissions"`
	ProvisionerPermissions map[Action]StringSet  `json:"provisioner_permissions"`
	EnvPermissions         map[Action]EnvInfoSet `json:"env_permissions"`
	WorkflowPermissions    map[Action]StringSet  `json:"workflow_permissions"`
	PipelinePermissions    map[Action]StringSet  `json:"pipeline_permissions"`
	DeploymentPermissions  map[Action]StringSet  `json:"deployment_permissions"`
	TemplatePermissions    map[Action]StringSet  `json:"template_permissions"`

	DeploymentExecutePermissionsForEnvs       StringSet `json:"deployment_execute_permissions_for_envs"`
	WorkflowExecutePermissionsForEnvs         StringSet `json:"workflow_execute_permissions_for_envs"`
	PipelineExecutePermissionsForEnvs         StringSet `json:"pipeline_execute_permissions_for_envs"`
	RollbackWorkflowExecutePermissionsForEnvs StringSet `json:"rollback_workflow_execute_permissions_for_envs"`
	AbortWorkflowExecutePermissionsForEnvs    StringSet `json:"abort_workflow_execute_permissions_for_envs"`

	WorkflowCreatePermissionsForEnvs StringSet `json:"workflow_create_permissions_for_envs"`
	WorkflowUpdatePermissionsForEnvs StringSet `json:"workflow_update_permissions_for_envs"`
	PipelineCreatePermissionsForEnvs StringSet `json:"pipeline_create_permissions_for_envs"`
	PipelineUpdatePermissionsForEnvs StringSet `json:"pipeline_update_permissions_for_envs"`

	WorkflowUpdatePermissionsByEntity StringSet `json:"workflow_update_permissions_by_entity"`
	PipelineUpdatePermissionsByEntity StringSet `json:"pipeline_update_permissions_by_entity"`

	EnvExecutableElementDeployPermissions map[ExecutableElementInfo]StringSet `json:"env_executable_element_deploy_permissions"`
}

// NewAppPermissionSummary returns a summary with every collection initialized.
func NewAppPermissionSummary() *AppPermissionSummary {
	return &AppPermissionSummary{
		EnvCreatePermissionsForEnvTypes:           make(Set[EnvironmentType]),
		ServicePermissions:                        make(map[Action]StringSet),
		ProvisionerPermissions:                    make(map[Action]StringSet),
		EnvPermissions:                            make(map[Action]EnvInfoSet),
		WorkflowPermissions:                       make(map[Action]StringSet),
		PipelinePermissions:                       make(map[Action]StringSet),
		DeploymentPermissions:                     make(map[Action]StringSet),
		TemplatePermissions:                       make(map[Action]StringSet),
		DeploymentExecutePermissionsForEnvs:       make(StringSet),
		WorkflowExecutePermissionsForEnvs:         make(StringSet),
		PipelineExecutePermissionsForEnvs:         make(StringSet),
		RollbackWorkflowExecutePermissionsForEnvs: make(StringSet),
		AbortWorkflowExecutePermissionsForEnvs:    make(StringSet),
		WorkflowCreatePermissionsForEnvs:          make(StringSet),
		WorkflowUpdatePermissionsForEnvs:          make(StringSet),
		PipelineCreatePermissionsForEnvs:          make(StringSet),
		PipelineUpdatePermissionsForEnvs:          make(StringSet),
		WorkflowUpdatePermissionsByEntity:         make(StringSet),
		PipelineUpdatePermissionsByEntity:         make(StringSet),
		EnvExecutableElementDeployPermissions:     make(map[ExecutableElementInfo]StringSet),
	}
}

// EntityPermissions returns the action to entity-id map for a permission type.
// The second result is false for types that are not tracked by entity id.
func (s *AppPermissionSummary) EntityPermissions(permissionType PermissionType) (map[Action]StringSet, bool) {
	switch permissionType {
	case PermissionService:
		return s.ServicePermissions, true
	case PermissionProvisioner:
		return s.ProvisionerPermissions, true
	case PermissionWorkflow:
		return s.WorkflowPermissions, true
	case PermissionPipeline:
		return s.PipelinePermissions, true
	case PermissionDeployment:
		return s.DeploymentPermissions, true
	case PermissionAppTemplate:
		return s.TemplatePermissions, true
	}
	return nil, false
}

// CanCreate returns the create flag for a permission type. The second result
// is false for types without a create flag.
func (s *AppPermissionSummary) CanCreate(permissionType PermissionType) (bool, bool) {
	switch permissionType {
	case PermissionService:
		return s.CanCreateService, true
	case PermissionProvisioner:
		return s.CanCreateProvisioner, true
	case PermissionEnv:
		return s.CanCreateEnvironment, true
	case PermissionWorkflow:
		return s.CanCreateWorkflow, true
	case PermissionPipeline:
		return s.CanCreatePipeline, true
	case PermissionAppTemplate:
		return s.CanCreateTemplate, true
	}
	return false, false
}

// AccountPermissionSummary holds the account-level grants of a user
type AccountPermissionSummary struct {
	Permissions PermissionTypeSet `json:"permissions"`
}

// UserPermissionInfo is the complete permission snapshot of a user in one account.
// Snapshots are immutable once cached; they are replaced, never modified.
type UserPermissionInfo struct {
	AccountID                string                           `json:"account_id"`
	AppPermissionMap         map[string]*AppPermissionSummary `json:"app_permission_map"`
	AccountPermissionSummary AccountPermissionSummary         `json:"account_permission_summary"`
	HasAllAppAccess          bool                             `json:"has_all_app_access"`
}

// AppSummary returns the summary for an app, or nil.
func (u *UserPermissionInfo) AppSummary(appID string) *AppPermissionSummary {
	if u == nil {
		return nil
	}
	return u.AppPermissionMap[appID]
}

// HasAccountPermission reports whether the user holds an account permission.
func (u *UserPermissionInfo) HasAccountPermission(p PermissionType) bool {
	return u != nil && u.AccountPermissionSummary.Permissions.Has(p)
}

// IsEmpty reports whether the snapshot grants nothing.
func (u *UserPermissionInfo) IsEmpty() bool {
	return u == nil || (len(u.AppPermissionMap) == 0 && u.AccountPermissionSummary.Permissions.IsEmpty())
}

// UserRestrictionInfo is the usage-restriction view of a user's permissions for READ and UPDATE
type UserRestrictionInfo struct {
	AppEnvMapForUpdateAction         map[string]StringSet `json:"app_env_map_for_update_action"`
	AppEnvMapForReadAction           map[string]StringSet `json:"app_env_map_for_read_action"`
	UsageRestrictionsForUpdateAction *UsageRestrictions   `json:"usage_restrictions_for_update_action,omitempty"`
	UsageRestrictionsForReadAction   *UsageRestrictions   `json:"usage_restrictions_for_read_action,omitempty"`
}
