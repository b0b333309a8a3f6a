package rbac

import "fmt"

func defaultEnvFilter(f *EnvFilter) *EnvFilter {
	if f == nil || f.FilterTypes.IsEmpty() {
		return &EnvFilter{FilterTypes: NewStringSet(FilterProd, FilterNonProd)}
	}
	return f
}

func defaultWorkflowFilter(f *EnvFilter) *EnvFilter {
	if f == nil || f.FilterTypes.IsEmpty() {
		return &EnvFilter{FilterTypes: NewStringSet(FilterProd, FilterNonProd, FilterTemplates)}
	}
	return f
}

// workflowFilterFromEnvFilter widens an env filter so that deployments of
// env-templatized workflows are included.
func workflowFilterFromEnvFilter(f *EnvFilter) *EnvFilter {
	f = defaultEnvFilter(f)
	out := &EnvFilter{FilterTypes: f.FilterTypes.Clone()}
	if f.HasType(FilterSelected) {
		out.IDs = f.IDs
	}
	out.FilterTypes.Add(FilterTemplates)
	return out
}

func envsByFilter(envs []Environment, f *EnvFilter) []Environment {
	f = defaultEnvFilter(f)
	selected := f.HasType(FilterSelected)
	var out []Environment
	for _, env := range envs {
		if selected {
			if f.IDs.Has(env.UUID) {
				out = append(out, env)
			}
		} else if f.FilterTypes.Has(string(env.Type)) {
			out = append(out, env)
		}
	}
	return out
}

func envIDsByFilter(envs []Environment, f *EnvFilter) StringSet {
	out := make(StringSet)
	for _, env := range envsByFilter(envs, f) {
		out.Add(env.UUID)
	}
	return out
}

func envInfosByFilter(envs []Environment, f *EnvFilter) EnvInfoSet {
	out := make(EnvInfoSet)
	for _, env := range envsByFilter(envs, f) {
		out.Add(EnvInfo{EnvID: env.UUID, EnvType: env.Type})
	}
	return out
}

// envTypesByFilter returns the environment types an env filter grants creation for.
func envTypesByFilter(f *EnvFilter) []EnvironmentType {
	f = defaultEnvFilter(f)
	var out []EnvironmentType
	for _, t := range f.FilterTypes.Sorted() {
		switch t {
		case FilterProd:
			out = append(out, EnvironmentProd)
		case FilterNonProd:
			out = append(out, EnvironmentNonProd)
		}
	}
	return out
}

// idsByEntityFilter selects ids with a generic filter. A nil filter selects all.
func idsByEntityFilter(ids []string, f *GenericEntityFilter, kind string) (StringSet, error) {
	out := make(StringSet)
	if len(ids) == 0 {
		return out, nil
	}
	if f.IsAll() {
		out.Add(ids...)
		return out, nil
	}
	if f.FilterType != FilterSelected {
		return nil, fmt.Errorf("%w: unknown %s filter type: %s", ErrInvalidRequest, kind, f.FilterType)
	}
	for _, id := range ids {
		if f.IDs.Has(id) {
			out.Add(id)
		}
	}
	return out, nil
}

// AppIDsByFilter selects app ids with an app filter. A nil filter selects all.
func AppIDsByFilter(all StringSet, f *AppFilter) (StringSet, error) {
	if f == nil || f.FilterType == "" || f.FilterType == FilterAll {
		return all.Clone(), nil
	}
	switch f.FilterType {
	case FilterSelected:
		return all.Intersect(f.IDs), nil
	case FilterExcludeSelected:
		return all.Difference(f.IDs), nil
	}
	return nil, fmt.Errorf("%w: unknown app filter type: %s", ErrInvalidRequest, f.FilterType)
}

func workflowIDsByFilter(workflows []Workflow, envs []Environment, f *EnvFilter) StringSet {
	out := make(StringSet)
	if len(workflows) == 0 {
		return out
	}
	f = defaultWorkflowFilter(f)
	hasTemplates := f.HasType(FilterTemplates)

	envIDs := make(StringSet)
	for _, env := range envs {
		if f.IDs.Has(env.UUID) || f.FilterTypes.Has(string(env.Type)) {
			envIDs.Add(env.UUID)
		}
	}

	for _, wf := range workflows {
		switch {
		case wf.EnvTemplatized:
			if hasTemplates {
				out.Add(wf.UUID)
			}
		case wf.EnvID == "":
			out.Add(wf.UUID)
		case envIDs.Has(wf.EnvID):
			out.Add(wf.UUID)
		}
	}
	return out
}

// resolveStageEnv returns the environment a stage element deploys to. When the
// returned id is empty, ok reports whether the element passes without an
// environment check.
func resolveStageEnv(el StageElement, workflows map[string]Workflow) (envID string, ok bool) {
	if el.Type == StageElementApproval {
		return "", true
	}
	if el.WorkflowID == "" {
		return "", false
	}
	envID = el.EnvID
	if envID == "" {
		wf, found := workflows[el.WorkflowID]
		if !found {
			return "", true
		}
		envID = wf.EnvID
	}
	if envID == "" || IsVariableExpression(envID) {
		return "", true
	}
	return envID, false
}

// pipelineMatches reports whether every stage element of the pipeline resolves
// to an environment accepted by allow.
func pipelineMatches(p Pipeline, workflows map[string]Workflow, allow func(envID string) bool) bool {
	for _, stage := range p.Stages {
		for _, el := range stage.Elements {
			envID, ok := resolveStageEnv(el, workflows)
			if envID == "" {
				if !ok {
					return false
				}
				continue
			}
			if !allow(envID) {
				return false
			}
		}
	}
	return true
}

// PipelineHasOnlyGivenEnvs reports whether every environment a pipeline deploys
// to is in allowed. Workflows referenced by the pipeline resolve stage environments.
func PipelineHasOnlyGivenEnvs(p Pipeline, workflows []Workflow, allowed StringSet) bool {
	if !p.HasElements() {
		return true
	}
	byID := make(map[string]Workflow, len(workflows))
	for _, wf := range workflows {
		byID[wf.UUID] = wf
	}
	return pipelineMatches(p, byID, func(envID string) bool {
		return allowed.Has(envID)
	})
}
