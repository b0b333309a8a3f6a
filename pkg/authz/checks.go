package authz

import (
	"github.com/platinummonkey/warden/pkg/rbac"
)

// The checks below evaluate the caller's cached permission snapshot. Internal
// callers carry no snapshot and pass, except for rollback and abort.

func (rc *RequestContext) info() *rbac.UserPermissionInfo {
	if rc == nil {
		return nil
	}
	return rc.PermissionInfo
}

func (s *Service) check(operation string, err error) error {
	s.metrics.record(operation, err)
	return err
}

// CheckDeployToEnv verifies the caller may deploy to the environment.
func (s *Service) CheckDeployToEnv(rc *RequestContext, appID, envID string) error {
	return s.check("deploy_to_env", rbac.CheckDeployToEnv(rc.info(), appID, envID))
}

// CheckWorkflowExecuteToEnv verifies the caller may execute workflows in the environment.
func (s *Service) CheckWorkflowExecuteToEnv(rc *RequestContext, appID, envID string) error {
	return s.check("workflow_execute_to_env", rbac.CheckWorkflowExecuteToEnv(rc.info(), appID, envID))
}

// CheckPipelineExecuteToEnv verifies the caller may execute pipelines in the environment.
func (s *Service) CheckPipelineExecuteToEnv(rc *RequestContext, appID, envID string) error {
	return s.check("pipeline_execute_to_env", rbac.CheckPipelineExecuteToEnv(rc.info(), appID, envID))
}

// CheckRollbackWorkflowToEnv verifies the caller may roll back workflows in the environment.
func (s *Service) CheckRollbackWorkflowToEnv(rc *RequestContext, appID, envID string) error {
	return s.check("rollback_workflow_to_env", rbac.CheckRollbackWorkflowToEnv(rc.info(), appID, envID))
}

// CheckAbortWorkflowToEnv verifies the caller may abort workflows in the environment.
func (s *Service) CheckAbortWorkflowToEnv(rc *RequestContext, appID, envID string) error {
	return s.check("abort_workflow_to_env", rbac.CheckAbortWorkflowToEnv(rc.info(), appID, envID))
}

// CheckCanCreateEnv verifies the caller may create an environment of the given type.
func (s *Service) CheckCanCreateEnv(rc *RequestContext, appID string, envType rbac.EnvironmentType) error {
	return s.check("create_env", rbac.CheckCanCreateEnv(rc.info(), appID, envType))
}

// CheckWorkflowPermissionsForEnv verifies the caller may create or update the workflow.
func (s *Service) CheckWorkflowPermissionsForEnv(rc *RequestContext, appID string, wf *rbac.Workflow, action rbac.Action) error {
	return s.check("workflow_env", rbac.CheckWorkflowPermissionsForEnv(rc.info(), appID, wf, action))
}

// CheckCloneWorkflowToApp verifies the caller may clone the workflow into the target app.
func (s *Service) CheckCloneWorkflowToApp(rc *RequestContext, targetAppID string, wf *rbac.Workflow) error {
	return s.check("clone_workflow", rbac.CheckCloneWorkflowToApp(rc.info(), targetAppID, wf))
}

// CheckPipelinePermissionsForEnv verifies the caller may create or update the pipeline.
func (s *Service) CheckPipelinePermissionsForEnv(rc *RequestContext, appID string, p *rbac.Pipeline, workflows []rbac.Workflow, action rbac.Action) error {
	return s.check("pipeline_env", rbac.CheckPipelinePermissionsForEnv(rc.info(), appID, p, workflows, action))
}

// AuthorizeAppAccess verifies the caller can see the app, and for UPDATE that
// they can manage applications.
func (s *Service) AuthorizeAppAccess(rc *RequestContext, appID string, action rbac.Action) error {
	var user *rbac.User
	if rc != nil {
		user = rc.User
	}
	return s.check("app_access", s.deps.Engine.AuthorizeAppAccess(rc.info(), appID, user, action))
}

// AuthorizeExecutableElement verifies the caller may deploy the pipeline or
// workflow to every environment listed.
func (s *Service) AuthorizeExecutableElement(rc *RequestContext, envIDs []string, appID string, el rbac.ExecutableElementInfo) error {
	return s.check("executable_element", s.deps.Engine.AuthorizeExecutableElement(rc.info(), envIDs, appID, el))
}
