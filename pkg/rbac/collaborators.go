package rbac

import "context"

// AccountLookup checks whether an account exists
type AccountLookup interface {
	AccountExists(ctx context.Context, accountID string) (bool, error)
}

// ApplicationLookup checks whether an application exists
type ApplicationLookup interface {
	ApplicationExists(ctx context.Context, appID string) (bool, error)
}

// EnvironmentLookup resolves the type of an environment
type EnvironmentLookup interface {
	EnvironmentType(ctx context.Context, envID string) (EnvironmentType, error)
}

// RoleProvider returns the roles a user holds in an account
type RoleProvider interface {
	RolesByAccountID(ctx context.Context, user *User, accountID string) ([]Role, error)
}

// UserGroupProvider returns the groups a user is a member of in an account
type UserGroupProvider interface {
	UserGroupsByAccountID(ctx context.Context, accountID string, user *User) ([]UserGroup, error)
}

// SupportUserLookup returns the actions a support user may perform in a customer
// account. An empty set means the bypass does not apply.
type SupportUserLookup interface {
	ListAllowedActions(ctx context.Context, accountID, userID string) (ActionSet, error)
}

// MembershipLookup reports whether a user is a member of an account
type MembershipLookup interface {
	IsUserAssignedToAccount(ctx context.Context, user *User, accountID string) (bool, error)
}

// Application is the catalog view of an application
type Application struct {
	UUID      string `json:"uuid" yaml:"uuid"`
	AccountID string `json:"account_id" yaml:"accountId"`
	Name      string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Environment is the catalog view of an environment
type Environment struct {
	UUID  string          `json:"uuid" yaml:"uuid"`
	AppID string          `json:"app_id" yaml:"appId"`
	Name  string          `json:"name,omitempty" yaml:"name,omitempty"`
	Type  EnvironmentType `json:"type" yaml:"type"`
}

// Entity is the catalog view of a service, provisioner, or template
type Entity struct {
	UUID  string `json:"uuid" yaml:"uuid"`
	AppID string `json:"app_id" yaml:"appId"`
}

// Workflow is the catalog view of a workflow
type Workflow struct {
	UUID           string `json:"uuid" yaml:"uuid"`
	AppID          string `json:"app_id" yaml:"appId"`
	EnvID          string `json:"env_id,omitempty" yaml:"envId,omitempty"`
	EnvTemplatized bool   `json:"env_templatized,omitempty" yaml:"envTemplatized,omitempty"`
}

// Stage element types
const (
	StageElementEnvState = "ENV_STATE"
	StageElementApproval = "APPROVAL"
)

// StageElement is one step of a pipeline stage
type StageElement struct {
	Type       string `json:"type" yaml:"type"`
	WorkflowID string `json:"workflow_id,omitempty" yaml:"workflowId,omitempty"`
	EnvID      string `json:"env_id,omitempty" yaml:"envId,omitempty"`
}

// PipelineStage groups stage elements
type PipelineStage struct {
	Elements []StageElement `json:"elements" yaml:"elements"`
}

// Pipeline is the catalog view of a pipeline
type Pipeline struct {
	UUID   string          `json:"uuid" yaml:"uuid"`
	AppID  string          `json:"app_id" yaml:"appId"`
	Stages []PipelineStage `json:"stages,omitempty" yaml:"stages,omitempty"`
}

// HasElements reports whether any stage carries an element.
func (p *Pipeline) HasElements() bool {
	for _, s := range p.Stages {
		if len(s.Elements) > 0 {
			return true
		}
	}
	return false
}

// EntityCatalog lists the app entities of an account that permissions are folded over
type EntityCatalog interface {
	AppIDs(ctx context.Context, accountID string) ([]string, error)
	Applications(ctx context.Context, accountID string) ([]Application, error)
	Environments(ctx context.Context, accountID string, appIDs []string) ([]Environment, error)
	Services(ctx context.Context, accountID string, appIDs []string) ([]Entity, error)
	Provisioners(ctx context.Context, accountID string, appIDs []string) ([]Entity, error)
	Templates(ctx context.Context, accountID string, appIDs []string) ([]Entity, error)
	Workflows(ctx context.Context, accountID string, appIDs []string) ([]Workflow, error)
	Pipelines(ctx context.Context, accountID string, appIDs []string) ([]Pipeline, error)
}

// UserRoleProvider is a RoleProvider that reads roles from the user record.
type UserRoleProvider struct{}

// RolesByAccountID returns the roles embedded in the user.
func (UserRoleProvider) RolesByAccountID(_ context.Context, user *User, accountID string) ([]Role, error) {
	return user.RolesByAccountID(accountID), nil
}
