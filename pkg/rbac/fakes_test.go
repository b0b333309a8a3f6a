package rbac

import "context"

type fakeCatalog struct {
	apps         []string
	envs         []Environment
	services     []Entity
	provisioners []Entity
	templates    []Entity
	workflows    []Workflow
	pipelines    []Pipeline
	err          error
}

func (f *fakeCatalog) AppIDs(ctx context.Context, accountID string) ([]string, error) {
	return f.apps, nil
}

func (f *fakeCatalog) Applications(ctx context.Context, accountID string) ([]Application, error) {
	out := make([]Application, 0, len(f.apps))
	for _, id := range f.apps {
		out = append(out, Application{UUID: id, AccountID: accountID, Name: id})
	}
	return out, nil
}

func (f *fakeCatalog) Environments(ctx context.Context, accountID string, appIDs []string) ([]Environment, error) {
	return f.envs, f.err
}

func (f *fakeCatalog) Services(ctx context.Context, accountID string, appIDs []string) ([]Entity, error) {
	return f.services, f.err
}

func (f *fakeCatalog) Provisioners(ctx context.Context, accountID string, appIDs []string) ([]Entity, error) {
	return f.provisioners, f.err
}

func (f *fakeCatalog) Templates(ctx context.Context, accountID string, appIDs []string) ([]Entity, error) {
	return f.templates, f.err
}

func (f *fakeCatalog) Workflows(ctx context.Context, accountID string, appIDs []string) ([]Workflow, error) {
	return f.workflows, f.err
}

func (f *fakeCatalog) Pipelines(ctx context.Context, accountID string, appIDs []string) ([]Pipeline, error) {
	return f.pipelines, f.err
}

// newTestCatalog returns two apps: app1 with a PROD and a NON_PROD environment,
// and app2 with a single PROD environment.
func newTestCatalog() *fakeCatalog {
	return &fakeCatalog{
		apps: []string{"app1", "app2"},
		envs: []Environment{
			{UUID: "prod1", AppID: "app1", Type: EnvironmentProd},
			{UUID: "qa1", AppID: "app1", Type: EnvironmentNonProd},
			{UUID: "prod2", AppID: "app2", Type: EnvironmentProd},
		},
		services:     []Entity{{UUID: "svc1", AppID: "app1"}, {UUID: "svc2", AppID: "app2"}},
		provisioners: []Entity{{UUID: "prov1", AppID: "app1"}},
		templates:    []Entity{{UUID: "tmpl1", AppID: "app1"}},
		workflows: []Workflow{
			{UUID: "wf-prod", AppID: "app1", EnvID: "prod1"},
			{UUID: "wf-qa", AppID: "app1", EnvID: "qa1"},
			{UUID: "wf-tmpl", AppID: "app1", EnvTemplatized: true},
			{UUID: "wf-none", AppID: "app1"},
			{UUID: "wf-prod2", AppID: "app2", EnvID: "prod2"},
		},
		pipelines: []Pipeline{
			{UUID: "pl-prod", AppID: "app1", Stages: []PipelineStage{
				{Elements: []StageElement{{Type: StageElementEnvState, WorkflowID: "wf-prod"}}},
			}},
			{UUID: "pl-mixed", AppID: "app1", Stages: []PipelineStage{
				{Elements: []StageElement{{Type: StageElementEnvState, WorkflowID: "wf-prod"}}},
				{Elements: []StageElement{{Type: StageElementEnvState, WorkflowID: "wf-qa"}}},
			}},
			{UUID: "pl-approval", AppID: "app1", Stages: []PipelineStage{
				{Elements: []StageElement{{Type: StageElementApproval}}},
			}},
		},
	}
}

type fakeLookups struct {
	accounts StringSet
	apps     StringSet
	envTypes map[string]EnvironmentType
	err      error
}

func newTestLookups() *fakeLookups {
	return &fakeLookups{
		accounts: NewStringSet("acc1"),
		apps:     NewStringSet("app1", "app2"),
		envTypes: map[string]EnvironmentType{
			"prod1": EnvironmentProd,
			"qa1":   EnvironmentNonProd,
			"prod2": EnvironmentProd,
		},
	}
}

func (f *fakeLookups) AccountExists(ctx context.Context, accountID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.accounts.Has(accountID), nil
}

func (f *fakeLookups) ApplicationExists(ctx context.Context, appID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.apps.Has(appID), nil
}

func (f *fakeLookups) EnvironmentType(ctx context.Context, envID string) (EnvironmentType, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.envTypes[envID], nil
}
