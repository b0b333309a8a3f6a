package rbac

import (
	"slices"
	"strings"
)

// Action represents an operation requested on a resource
type Action string

const (
	ActionCreate                  Action = "CREATE"
	ActionRead                    Action = "READ"
	ActionUpdate                  Action = "UPDATE"
	ActionDelete                  Action = "DELETE"
	ActionExecute                 Action = "EXECUTE"
	ActionExecuteWorkflow         Action = "EXECUTE_WORKFLOW"
	ActionExecutePipeline         Action = "EXECUTE_PIPELINE"
	ActionExecuteWorkflowRollback Action = "EXECUTE_WORKFLOW_ROLLBACK"
	ActionAbortWorkflow           Action = "ABORT_WORKFLOW"
	ActionAll                     Action = "ALL"
)

// EntityActions are the actions that are tracked per entity id in a summary.
// CREATE is tracked as a per-app flag instead.
var EntityActions = []Action{
	ActionRead,
	ActionUpdate,
	ActionDelete,
	ActionExecute,
	ActionExecutePipeline,
	ActionExecuteWorkflow,
	ActionExecuteWorkflowRollback,
	ActionAbortWorkflow,
}

// IsExecute reports whether the action is one of the execute actions.
func (a Action) IsExecute() bool {
	switch a {
	case ActionExecute, ActionExecuteWorkflow, ActionExecutePipeline, ActionExecuteWorkflowRollback, ActionAbortWorkflow:
		return true
	}
	return false
}

// PermissionType names a category of app entity, a role scope, or an account permission
type PermissionType string

// App entity categories and role scopes
const (
	PermissionService        PermissionType = "SERVICE"
	PermissionProvisioner    PermissionType = "PROVISIONER"
	PermissionEnv            PermissionType = "ENV"
	PermissionWorkflow       PermissionType = "WORKFLOW"
	PermissionPipeline       PermissionType = "PIPELINE"
	PermissionDeployment     PermissionType = "DEPLOYMENT"
	PermissionAppTemplate    PermissionType = "APP_TEMPLATE"
	PermissionAllAppEntities PermissionType = "ALL_APP_ENTITIES"
	PermissionApp            PermissionType = "APP"
	PermissionAccount        PermissionType = "ACCOUNT"
)

// EnvironmentType classifies an environment
type EnvironmentType string

const (
	EnvironmentProd    EnvironmentType = "PROD"
	EnvironmentNonProd EnvironmentType = "NON_PROD"
	EnvironmentAll     EnvironmentType = "ALL"
)

// Sentinel ids used by role permissions that apply to every app or environment
const (
	GlobalAppID = "__GLOBAL_APP_ID__"
	GlobalEnvID = "__GLOBAL_ENV_ID__"
)

// Filter type names
const (
	FilterAll             = "ALL"
	FilterSelected        = "SELECTED"
	FilterExcludeSelected = "EXCLUDE_SELECTED"
	FilterProd            = "PROD"
	FilterNonProd         = "NON_PROD"
	FilterTemplates       = "TEMPLATES"
)

// IsVariableExpression reports whether id is an unresolved ${...} expression.
func IsVariableExpression(id string) bool {
	return strings.HasPrefix(id, "${") && strings.HasSuffix(id, "}")
}

// GenericEntityFilter selects entities by id, or all of them
type GenericEntityFilter struct {
	FilterType string    `json:"filter_type" yaml:"filterType"`
	IDs        StringSet `json:"ids" yaml:"ids,omitempty"`
}

// AppFilter selects applications. Besides ALL and SELECTED it accepts EXCLUDE_SELECTED.
type AppFilter = GenericEntityFilter

// IsAll reports whether the filter selects everything.
func (f *GenericEntityFilter) IsAll() bool {
	return f == nil || f.FilterType == FilterAll
}

// EnvFilter selects environments by type (PROD, NON_PROD) or by id (SELECTED).
// In workflow context the filter types may also carry TEMPLATES.
type EnvFilter struct {
	FilterTypes StringSet `json:"filter_types" yaml:"filterTypes"`
	IDs         StringSet `json:"ids" yaml:"ids,omitempty"`
}

// HasType reports whether the filter carries the given filter type.
func (f *EnvFilter) HasType(filterType string) bool {
	return f != nil && f.FilterTypes.Has(filterType)
}

// Clone returns a deep copy.
func (f *EnvFilter) Clone() *EnvFilter {
	if f == nil {
		return nil
	}
	return &EnvFilter{FilterTypes: f.FilterTypes.Clone(), IDs: f.IDs.Clone()}
}

// EntityFilter narrows an app permission. Exactly one of Generic or Env is set;
// a nil EntityFilter means the default filter for the permission type.
type EntityFilter struct {
	Generic *GenericEntityFilter `json:"generic,omitempty" yaml:"generic,omitempty"`
	Env     *EnvFilter           `json:"env,omitempty" yaml:"env,omitempty"`
}

// GenericFilter returns the generic filter, or nil.
func (f *EntityFilter) GenericFilter() *GenericEntityFilter {
	if f == nil {
		return nil
	}
	return f.Generic
}

// EnvFilter returns the env filter, or nil.
func (f *EntityFilter) EnvFilter() *EnvFilter {
	if f == nil {
		return nil
	}
	return f.Env
}

// AppEnvRestriction is a single app + environment scope. Both filters are
// required on valid restrictions; pointers let validation detect absence.
type AppEnvRestriction struct {
	AppFilter *GenericEntityFilter `json:"app_filter" yaml:"appFilter"`
	EnvFilter *EnvFilter           `json:"env_filter" yaml:"envFilter"`
}

// UsageRestrictions scope a shared entity to a union of app/env pairs
type UsageRestrictions struct {
	AppEnvRestrictions []AppEnvRestriction `json:"app_env_restrictions" yaml:"appEnvRestrictions"`
}

// IsEmpty reports whether there are no restrictions. A nil value is empty.
func (u *UsageRestrictions) IsEmpty() bool {
	return u == nil || len(u.AppEnvRestrictions) == 0
}

// Restrictions returns the restriction list, nil-safe.
func (u *UsageRestrictions) Restrictions() []AppEnvRestriction {
	if u == nil {
		return nil
	}
	return u.AppEnvRestrictions
}

// Clone returns a deep copy.
func (u *UsageRestrictions) Clone() *UsageRestrictions {
	if u == nil {
		return nil
	}
	out := &UsageRestrictions{AppEnvRestrictions: make([]AppEnvRestriction, 0, len(u.AppEnvRestrictions))}
	for _, r := range u.AppEnvRestrictions {
		c := AppEnvRestriction{EnvFilter: r.EnvFilter.Clone()}
		if r.AppFilter != nil {
			c.AppFilter = &GenericEntityFilter{FilterType: r.AppFilter.FilterType, IDs: r.AppFilter.IDs.Clone()}
		}
		out.AppEnvRestrictions = append(out.AppEnvRestrictions, c)
	}
	return out
}

// Permission is a single grant held by a role
type Permission struct {
	PermissionScope PermissionType  `json:"permission_scope" yaml:"permissionScope"`
	Action          Action          `json:"action" yaml:"action"`
	AppID           string          `json:"app_id,omitempty" yaml:"appId,omitempty"`
	EnvID           string          `json:"env_id,omitempty" yaml:"envId,omitempty"`
	EnvironmentType EnvironmentType `json:"environment_type,omitempty" yaml:"environmentType,omitempty"`
}

// Role is a named set of permissions within an account
type Role struct {
	UUID        string       `json:"uuid" yaml:"uuid"`
	Name        string       `json:"name" yaml:"name"`
	AccountID   string       `json:"account_id" yaml:"accountId"`
	Permissions []Permission `json:"permissions" yaml:"permissions"`
}

// AppPermission grants actions on a category of app entities
type AppPermission struct {
	PermissionType PermissionType `json:"permission_type" yaml:"permissionType"`
	AppFilter      *AppFilter     `json:"app_filter,omitempty" yaml:"appFilter,omitempty"`
	EntityFilter   *EntityFilter  `json:"entity_filter,omitempty" yaml:"entityFilter,omitempty"`
	Actions        ActionSet      `json:"actions" yaml:"actions"`
}

// AccountPermissions are account-wide grants of a user group
type AccountPermissions struct {
	Permissions PermissionTypeSet `json:"permissions" yaml:"permissions"`
}

// UserGroup binds members to app and account permissions
type UserGroup struct {
	UUID               string              `json:"uuid" yaml:"uuid"`
	Name               string              `json:"name" yaml:"name"`
	AccountID          string              `json:"account_id" yaml:"accountId"`
	MemberIDs          []string            `json:"member_ids,omitempty" yaml:"memberIds,omitempty"`
	AppPermissions     []AppPermission     `json:"app_permissions,omitempty" yaml:"appPermissions,omitempty"`
	AccountPermissions *AccountPermissions `json:"account_permissions,omitempty" yaml:"accountPermissions,omitempty"`
}

// User is the principal being authorized
type User struct {
	UUID          string            `json:"uuid" yaml:"uuid"`
	Name          string            `json:"name" yaml:"name"`
	Email         string            `json:"email" yaml:"email"`
	Accounts      []string          `json:"accounts,omitempty" yaml:"accounts,omitempty"`
	AdminAccounts StringSet         `json:"admin_accounts,omitempty" yaml:"adminAccounts,omitempty"`
	Roles         map[string][]Role `json:"roles,omitempty" yaml:"roles,omitempty"`
}

// IsAccountAdmin reports whether the user administers the account.
func (u *User) IsAccountAdmin(accountID string) bool {
	return u != nil && u.AdminAccounts.Has(accountID)
}

// RolesByAccountID returns the roles the user holds in the account.
func (u *User) RolesByAccountID(accountID string) []Role {
	if u == nil {
		return nil
	}
	return u.Roles[accountID]
}

// BelongsTo reports whether the account is in the user's account list.
func (u *User) BelongsTo(accountID string) bool {
	return u != nil && slices.Contains(u.Accounts, accountID)
}

// PermissionAttribute is a single requirement of a guarded operation
type PermissionAttribute struct {
	PermissionType PermissionType `json:"permission_type" yaml:"permissionType"`
	Action         Action         `json:"action" yaml:"action"`
	SkipAuth       bool           `json:"skip_auth,omitempty" yaml:"skipAuth,omitempty"`
}

// UserRequestInfo narrows role matching to the apps and envs of the current request
type UserRequestInfo struct {
	AllAppsAllowed         bool     `json:"all_apps_allowed" yaml:"allAppsAllowed"`
	AllowedAppIDs          []string `json:"allowed_app_ids,omitempty" yaml:"allowedAppIds,omitempty"`
	AllEnvironmentsAllowed bool     `json:"all_environments_allowed" yaml:"allEnvironmentsAllowed"`
	AllowedEnvIDs          []string `json:"allowed_env_ids,omitempty" yaml:"allowedEnvIds,omitempty"`
}
