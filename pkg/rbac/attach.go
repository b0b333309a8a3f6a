package rbac

// buildState accumulates app summaries while permissions are folded in
type buildState struct {
	data      *catalogData
	summaries map[string]*AppPermissionSummary

	// environments already granted to pipelines by earlier permissions, with their actions
	envActionsPipeline map[string]ActionSet
	envActionsDeploy   map[string]ActionSet
}

var allAppEntityTypes = []PermissionType{
	PermissionService,
	PermissionProvisioner,
	PermissionEnv,
	PermissionWorkflow,
	PermissionDeployment,
	PermissionAppTemplate,
}

func (s *buildState) apply(appIDs StringSet, ap AppPermission) error {
	switch ap.PermissionType {
	case PermissionAllAppEntities:
		// the entity filter is ignored; every category gets its default filter
		for _, t := range allAppEntityTypes {
			if err := s.attach(appIDs, t, nil, ap.Actions); err != nil {
				return err
			}
		}
		if err := s.attachPipeline(s.envActionsPipeline, appIDs, PermissionPipeline, nil, ap.Actions); err != nil {
			return err
		}
		return s.attachPipeline(s.envActionsDeploy, appIDs, PermissionDeployment, nil, ap.Actions)
	case PermissionPipeline:
		return s.attachPipeline(s.envActionsPipeline, appIDs, PermissionPipeline, ap.EntityFilter, ap.Actions)
	default:
		if err := s.attach(appIDs, ap.PermissionType, ap.EntityFilter, ap.Actions); err != nil {
			return err
		}
		if ap.PermissionType == PermissionDeployment {
			return s.attachPipeline(s.envActionsDeploy, appIDs, PermissionDeployment, ap.EntityFilter, ap.Actions)
		}
	}
	return nil
}

func (s *buildState) summary(appID string) *AppPermissionSummary {
	sum, ok := s.summaries[appID]
	if !ok {
		sum = NewAppPermissionSummary()
		s.summaries[appID] = sum
	}
	return sum
}

func entityActionsOf(actions ActionSet) ActionSet {
	out := make(ActionSet)
	for _, a := range EntityActions {
		if actions.Has(a) {
			out.Add(a)
		}
	}
	return out
}

func addEntityPermissions(m map[Action]StringSet, ids StringSet, actions ActionSet) {
	if ids.IsEmpty() {
		return
	}
	for a := range actions {
		if m[a] == nil {
			m[a] = make(StringSet)
		}
		m[a].AddAll(ids)
	}
}

func (s *buildState) attach(appIDs StringSet, permissionType PermissionType, filter *EntityFilter, actions ActionSet) error {
	entityActions := entityActionsOf(actions)
	canCreate := actions.Has(ActionCreate)

	for _, appID := range appIDs.Sorted() {
		sum := s.summary(appID)
		envs := s.data.envs[appID]

		switch permissionType {
		case PermissionService, PermissionProvisioner, PermissionAppTemplate:
			var ids []string
			var target map[Action]StringSet
			switch permissionType {
			case PermissionService:
				sum.CanCreateService = sum.CanCreateService || canCreate
				ids, target = s.data.services[appID], sum.ServicePermissions
			case PermissionProvisioner:
				sum.CanCreateProvisioner = sum.CanCreateProvisioner || canCreate
				ids, target = s.data.provisioners[appID], sum.ProvisionerPermissions
			default:
				sum.CanCreateTemplate = sum.CanCreateTemplate || canCreate
				ids, target = s.data.templates[appID], sum.TemplatePermissions
			}
			if entityActions.IsEmpty() {
				continue
			}
			selected, err := idsByEntityFilter(ids, filter.GenericFilter(), string(permissionType))
			if err != nil {
				return err
			}
			addEntityPermissions(target, selected, entityActions)

		case PermissionEnv:
			envFilter := filter.EnvFilter()
			if canCreate {
				sum.CanCreateEnvironment = true
				sum.EnvCreatePermissionsForEnvTypes.Add(envTypesByFilter(envFilter)...)
			}
			if entityActions.IsEmpty() {
				continue
			}
			infos := envInfosByFilter(envs, envFilter)
			if len(infos) == 0 {
				continue
			}
			for a := range entityActions {
				if sum.EnvPermissions[a] == nil {
					sum.EnvPermissions[a] = make(EnvInfoSet)
				}
				for id, t := range infos {
					sum.EnvPermissions[a][id] = t
				}
			}

		case PermissionWorkflow:
			if err := s.attachWorkflow(appID, sum, filter, canCreate, entityActions); err != nil {
				return err
			}

		case PermissionDeployment:
			if entityActions.IsEmpty() {
				continue
			}
			envFilter := filter.EnvFilter()
			if len(envs) > 0 && envIDsByFilter(envs, envFilter).IsEmpty() {
				// no environment of the app matches, so nothing is deployable
				continue
			}
			ids := workflowIDsByFilter(s.data.workflows[appID], envs, workflowFilterFromEnvFilter(envFilter))
			if ids.IsEmpty() {
				continue
			}
			addEntityPermissions(sum.DeploymentPermissions, ids, entityActions)

			envIDs := envIDsByFilter(envs, envFilter)
			if entityActions.Has(ActionExecuteWorkflow) {
				sum.WorkflowExecutePermissionsForEnvs.AddAll(envIDs)
			}
			if entityActions.Has(ActionExecutePipeline) {
				sum.PipelineExecutePermissionsForEnvs.AddAll(envIDs)
			}
			if entityActions.Has(ActionExecuteWorkflowRollback) {
				sum.RollbackWorkflowExecutePermissionsForEnvs.AddAll(envIDs)
			}
			if entityActions.Has(ActionAbortWorkflow) {
				sum.AbortWorkflowExecutePermissionsForEnvs.AddAll(envIDs)
			}
			for a := range entityActions {
				if a.IsExecute() {
					sum.DeploymentExecutePermissionsForEnvs.AddAll(envIDs)
					break
				}
			}
		}
	}
	return nil
}

func (s *buildState) attachWorkflow(appID string, sum *AppPermissionSummary, filter *EntityFilter, canCreate bool, entityActions ActionSet) error {
	workflows := s.data.workflows[appID]
	envs := s.data.envs[appID]

	if gf := filter.GenericFilter(); gf != nil {
		// granted per workflow, so env based checks are bypassed for these ids
		if canCreate {
			sum.CanCreateWorkflow = true
		}
		if entityActions.IsEmpty() {
			return nil
		}
		ids, err := idsByEntityFilter(workflowIDs(workflows), gf, "workflow")
		if err != nil {
			return err
		}
		if entityActions.Has(ActionUpdate) {
			sum.WorkflowUpdatePermissionsByEntity.AddAll(ids)
		}
		addEntityPermissions(sum.WorkflowPermissions, ids, entityActions)
		return nil
	}

	envFilter := filter.EnvFilter()
	if canCreate {
		sum.CanCreateWorkflow = true
		sum.WorkflowCreatePermissionsForEnvs.AddAll(envIDsByFilter(envs, envFilter))
		if !sum.CanCreateTemplatizedWorkflow {
			sum.CanCreateTemplatizedWorkflow = defaultWorkflowFilter(envFilter).HasType(FilterTemplates)
		}
	}
	if entityActions.IsEmpty() {
		return nil
	}
	if entityActions.Has(ActionUpdate) {
		sum.WorkflowUpdatePermissionsForEnvs.AddAll(envIDsByFilter(envs, envFilter))
	}
	addEntityPermissions(sum.WorkflowPermissions, workflowIDsByFilter(workflows, envs, envFilter), entityActions)
	return nil
}

func workflowIDs(workflows []Workflow) []string {
	out := make([]string, 0, len(workflows))
	for _, wf := range workflows {
		out = append(out, wf.UUID)
	}
	return out
}

func pipelineIDs(pipelines []Pipeline) []string {
	out := make([]string, 0, len(pipelines))
	for _, p := range pipelines {
		out = append(out, p.UUID)
	}
	return out
}

func (s *buildState) attachPipeline(envActions map[string]ActionSet, appIDs StringSet, permissionType PermissionType, filter *EntityFilter, actions ActionSet) error {
	entityActions := entityActionsOf(actions)
	canCreate := actions.Has(ActionCreate)

	for _, appID := range appIDs.Sorted() {
		sum := s.summary(appID)
		envs := s.data.envs[appID]
		pipelines := s.data.pipelines[appID]

		switch permissionType {
		case PermissionPipeline:
			if gf := filter.GenericFilter(); gf != nil {
				if canCreate {
					sum.CanCreatePipeline = true
				}
				if entityActions.IsEmpty() {
					continue
				}
				ids, err := idsByEntityFilter(pipelineIDs(pipelines), gf, "pipeline")
				if err != nil {
					return err
				}
				if entityActions.Has(ActionUpdate) {
					sum.PipelineUpdatePermissionsByEntity.AddAll(ids)
				}
				addEntityPermissions(sum.PipelinePermissions, ids, entityActions)
				continue
			}

			envFilter := filter.EnvFilter()
			if canCreate {
				sum.CanCreatePipeline = true
				sum.PipelineCreatePermissionsForEnvs.AddAll(envIDsByFilter(envs, envFilter))
			}
			if entityActions.IsEmpty() {
				continue
			}
			if entityActions.Has(ActionUpdate) {
				sum.PipelineUpdatePermissionsForEnvs.AddAll(envIDsByFilter(envs, envFilter))
			}
			addPipelineActions(sum.PipelinePermissions, s.pipelineActionsByFilter(appID, envFilter, envActions, entityActions))

		case PermissionDeployment:
			if entityActions.IsEmpty() {
				continue
			}
			envFilter := filter.EnvFilter()
			addPipelineActions(sum.DeploymentPermissions, s.pipelineActionsByFilter(appID, envFilter, envActions, entityActions))

			envIDs := envIDsByFilter(envs, envFilter)
			if entityActions.Has(ActionExecutePipeline) {
				for _, p := range pipelines {
					addExecutableElement(sum, ExecutableElementInfo{EntityType: ElementPipeline, EntityID: p.UUID}, envIDs)
				}
			}
			if entityActions.Has(ActionExecuteWorkflow) {
				for _, wf := range s.data.workflows[appID] {
					addExecutableElement(sum, ExecutableElementInfo{EntityType: ElementWorkflow, EntityID: wf.UUID}, envIDs)
				}
			}
		}
	}
	return nil
}

func addExecutableElement(sum *AppPermissionSummary, el ExecutableElementInfo, envIDs StringSet) {
	existing, ok := sum.EnvExecutableElementDeployPermissions[el]
	if !ok {
		sum.EnvExecutableElementDeployPermissions[el] = envIDs.Clone()
		return
	}
	existing.AddAll(envIDs)
}

func addPipelineActions(m map[Action]StringSet, pipelineActions map[string]ActionSet) {
	for id, actions := range pipelineActions {
		for a := range actions {
			if m[a] == nil {
				m[a] = make(StringSet)
			}
			m[a].Add(id)
		}
	}
}

// pipelineActionsByFilter returns, per pipeline, the actions granted when every
// stage environment is covered by this filter or by an earlier permission. Stages
// covered only by an earlier permission narrow the actions to what it granted.
func (s *buildState) pipelineActionsByFilter(appID string, f *EnvFilter, envActions map[string]ActionSet, actions ActionSet) map[string]ActionSet {
	out := make(map[string]ActionSet)
	pipelines := s.data.pipelines[appID]
	if len(pipelines) == 0 {
		return out
	}

	var envIDs StringSet
	if envs := s.data.envs[appID]; len(envs) > 0 {
		envIDs = envIDsByFilter(envs, f)
		for id := range envIDs {
			if envActions[id] == nil {
				envActions[id] = make(ActionSet)
			}
			envActions[id].AddAll(actions)
		}
	}

	for _, p := range pipelines {
		granted := actions.Clone()
		match := pipelineMatches(p, s.data.workflowByID, func(envID string) bool {
			if envIDs.Has(envID) {
				return true
			}
			if other, ok := envActions[envID]; ok {
				granted = granted.Intersect(other)
				return true
			}
			return false
		})
		if match && !granted.IsEmpty() {
			out[p.UUID] = granted
		}
	}
	return out
}
