package rbac

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// The checks below take the permission snapshot of the calling user. A nil
// snapshot marks an internal caller and passes, unless noted otherwise.

func envAllowed(allowed StringSet, envID string, message string) error {
	if allowed.IsEmpty() || !allowed.Has(envID) {
		return denied("%s", message)
	}
	return nil
}

// CheckDeployToEnv verifies the user may deploy to the environment.
func CheckDeployToEnv(info *UserPermissionInfo, appID, envID string) error {
	if envID == "" || info == nil {
		return nil
	}
	sum := info.AppSummary(appID)
	if sum == nil {
		return denied("Not authorized")
	}
	return envAllowed(sum.DeploymentExecutePermissionsForEnvs, envID, "Not authorized")
}

// CheckWorkflowExecuteToEnv verifies the user may execute workflows in the environment.
func CheckWorkflowExecuteToEnv(info *UserPermissionInfo, appID, envID string) error {
	if envID == "" || info == nil {
		return nil
	}
	sum := info.AppSummary(appID)
	if sum == nil {
		return denied("User doesn't have rights to execute Workflow in this Environment")
	}
	return envAllowed(sum.WorkflowExecutePermissionsForEnvs, envID, "User doesn't have rights to execute Workflow in this Environment")
}

// CheckPipelineExecuteToEnv verifies the user may execute pipelines in the environment.
func CheckPipelineExecuteToEnv(info *UserPermissionInfo, appID, envID string) error {
	if envID == "" || info == nil {
		return nil
	}
	sum := info.AppSummary(appID)
	if sum == nil {
		return denied("User doesn't have rights to execute Pipeline in this Environment")
	}
	return envAllowed(sum.PipelineExecutePermissionsForEnvs, envID, "User doesn't have rights to execute Pipeline in this Environment")
}

// CheckRollbackWorkflowToEnv verifies the user may roll back workflows in the
// environment. Unlike the other checks it requires a user.
func CheckRollbackWorkflowToEnv(info *UserPermissionInfo, appID, envID string) error {
	if envID == "" {
		return nil
	}
	if info == nil {
		return fmt.Errorf("%w: user not found", ErrInvalidRequest)
	}
	sum := info.AppSummary(appID)
	if sum == nil {
		return denied("User doesn't have rights to rollback Workflow in this Environment")
	}
	return envAllowed(sum.RollbackWorkflowExecutePermissionsForEnvs, envID, "User doesn't have rights to rollback Workflow in this Environment")
}

// CheckAbortWorkflowToEnv verifies the user may abort workflows in the
// environment. Unlike the other checks it requires a user.
func CheckAbortWorkflowToEnv(info *UserPermissionInfo, appID, envID string) error {
	if envID == "" {
		return nil
	}
	if info == nil {
		return fmt.Errorf("%w: user not found", ErrInvalidRequest)
	}
	sum := info.AppSummary(appID)
	if sum == nil {
		return denied("User doesn't have rights to abort Workflow in this Environment")
	}
	return envAllowed(sum.AbortWorkflowExecutePermissionsForEnvs, envID, "User doesn't have rights to abort Workflow in this Environment")
}

// CheckCanCreateEnv verifies the user may create an environment of the given type.
func CheckCanCreateEnv(info *UserPermissionInfo, appID string, envType EnvironmentType) error {
	if info == nil {
		return nil
	}
	if envType == "" {
		return fmt.Errorf("%w: no environment type specified", ErrInvalidRequest)
	}
	sum := info.AppSummary(appID)
	if sum == nil || sum.EnvCreatePermissionsForEnvTypes.IsEmpty() {
		return denied("Access Denied")
	}
	if sum.EnvCreatePermissionsForEnvTypes.Has(EnvironmentAll) {
		return nil
	}
	if !sum.EnvCreatePermissionsForEnvTypes.Has(envType) {
		return denied("Access Denied")
	}
	return nil
}

// CheckWorkflowPermissionsForEnv verifies the user may create or update a
// workflow that targets its environment. Other actions pass.
func CheckWorkflowPermissionsForEnv(info *UserPermissionInfo, appID string, wf *Workflow, action Action) error {
	if wf == nil {
		return nil
	}
	if !wf.EnvTemplatized && wf.EnvID == "" {
		return nil
	}
	if info == nil {
		return nil
	}
	sum := info.AppSummary(appID)
	if sum == nil {
		return denied("Access Denied")
	}

	// access granted on the workflow itself skips the environment check
	if action == ActionUpdate && sum.WorkflowUpdatePermissionsByEntity.Has(wf.UUID) {
		return nil
	}

	if wf.EnvTemplatized {
		if sum.CanCreateTemplatizedWorkflow {
			return nil
		}
		return denied("Access Denied")
	}

	var allowed StringSet
	switch action {
	case ActionCreate:
		allowed = sum.WorkflowCreatePermissionsForEnvs
	case ActionUpdate:
		allowed = sum.WorkflowUpdatePermissionsForEnvs
	default:
		return nil
	}
	return envAllowed(allowed, wf.EnvID, "Access Denied")
}

// CheckCloneWorkflowToApp verifies an env-templatized workflow may be cloned into the target app.
func CheckCloneWorkflowToApp(info *UserPermissionInfo, targetAppID string, wf *Workflow) error {
	if wf == nil || !wf.EnvTemplatized || info == nil {
		return nil
	}
	sum := info.AppSummary(targetAppID)
	if sum == nil || !sum.CanCreateTemplatizedWorkflow {
		return denied("Access Denied")
	}
	return nil
}

// CheckPipelinePermissionsForEnv verifies every environment the pipeline
// deploys to is allowed for the action. workflows resolves stage environments.
func CheckPipelinePermissionsForEnv(info *UserPermissionInfo, appID string, p *Pipeline, workflows []Workflow, action Action) error {
	if info == nil || p == nil {
		return nil
	}
	sum := info.AppSummary(appID)
	if sum == nil {
		return denied("Access Denied")
	}

	if action == ActionUpdate && sum.PipelineUpdatePermissionsByEntity.Has(p.UUID) {
		return nil
	}

	var allowed StringSet
	switch action {
	case ActionCreate:
		allowed = sum.PipelineCreatePermissionsForEnvs
	case ActionUpdate:
		allowed = sum.PipelineUpdatePermissionsForEnvs
	default:
		return nil
	}
	if !PipelineHasOnlyGivenEnvs(*p, workflows, allowed) {
		return denied("Access Denied")
	}
	return nil
}

// AuthorizeAppAccess verifies the user can see the app, and for UPDATE that
// they can manage applications.
func (e *Engine) AuthorizeAppAccess(info *UserPermissionInfo, appID string, user *User, action Action) error {
	if user == nil || info == nil {
		return denied("Access Denied")
	}
	if info.AppSummary(appID) == nil {
		e.log.WithField("appId", appID).Error("Auth Failure: User does not have access to app")
		return denied("Not authorized to access the app")
	}
	if action == ActionUpdate && !info.HasAccountPermission(PermissionManageApplications) {
		e.log.WithField("appId", appID).Error("Auth Failure: User does not have access to update app")
		return denied("Not authorized to update the app")
	}
	return nil
}

// AuthorizeExecutableElement verifies the user may deploy the pipeline or
// workflow to every environment listed. Unresolved ${...} ids are skipped.
func (e *Engine) AuthorizeExecutableElement(info *UserPermissionInfo, envIDs []string, appID string, el ExecutableElementInfo) error {
	sum := info.AppSummary(appID)
	if sum == nil || sum.EnvExecutableElementDeployPermissions == nil {
		return nil
	}
	allowed, ok := sum.EnvExecutableElementDeployPermissions[el]
	if !ok {
		e.log.WithFields(logrus.Fields{"entityType": el.EntityType, "entityId": el.EntityID}).
			Error("User not authorized for executable element")
		return denied("User not authorized to deploy %s : %s", el.EntityType, el.EntityID)
	}
	for _, envID := range envIDs {
		if IsVariableExpression(envID) {
			continue
		}
		if !allowed.Has(envID) {
			e.log.WithField("envId", envID).Error("User not authorized for envId")
			return denied("User not authorized to deploy %s to given environment", el.EntityType)
		}
	}
	return nil
}
