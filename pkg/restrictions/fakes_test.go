package restrictions

import (
	"context"
	"sync"

	"github.com/platinummonkey/warden/pkg/rbac"
)

func allApps() *rbac.GenericEntityFilter {
	return &rbac.GenericEntityFilter{FilterType: rbac.FilterAll}
}

func apps(ids ...string) *rbac.GenericEntityFilter {
	return &rbac.GenericEntityFilter{FilterType: rbac.FilterSelected, IDs: rbac.NewStringSet(ids...)}
}

func envTypes(types ...string) *rbac.EnvFilter {
	return &rbac.EnvFilter{FilterTypes: rbac.NewStringSet(types...)}
}

func envs(ids ...string) *rbac.EnvFilter {
	return &rbac.EnvFilter{FilterTypes: rbac.NewStringSet(rbac.FilterSelected), IDs: rbac.NewStringSet(ids...)}
}

func restrict(pairs ...rbac.AppEnvRestriction) *rbac.UsageRestrictions {
	return &rbac.UsageRestrictions{AppEnvRestrictions: pairs}
}

func pair(app *rbac.GenericEntityFilter, env *rbac.EnvFilter) rbac.AppEnvRestriction {
	return rbac.AppEnvRestriction{AppFilter: app, EnvFilter: env}
}

var testEnvs = []rbac.Environment{
	{UUID: "prod1", AppID: "app1", Name: "Production", Type: rbac.EnvironmentProd},
	{UUID: "qa1", AppID: "app1", Name: "QA", Type: rbac.EnvironmentNonProd},
	{UUID: "prod2", AppID: "app2", Name: "Production", Type: rbac.EnvironmentProd},
}

// testIndex returns app1 with prod1 and qa1, app2 with prod2, and app3
// without environments.
func testIndex() AppEnvIndex {
	return NewAppEnvIndex([]string{"app1", "app2", "app3"}, testEnvs)
}

type fakeCatalog struct {
	apps []string
	envs []rbac.Environment
	err  error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{apps: []string{"app1", "app2", "app3"}, envs: testEnvs}
}

func (f *fakeCatalog) AppIDs(ctx context.Context, accountID string) ([]string, error) {
	return f.apps, f.err
}

func (f *fakeCatalog) Applications(ctx context.Context, accountID string) ([]rbac.Application, error) {
	out := make([]rbac.Application, 0, len(f.apps))
	for _, id := range f.apps {
		out = append(out, rbac.Application{UUID: id, AccountID: accountID, Name: id})
	}
	return out, f.err
}

func (f *fakeCatalog) Environments(ctx context.Context, accountID string, appIDs []string) ([]rbac.Environment, error) {
	return f.envs, f.err
}

func (f *fakeCatalog) Services(ctx context.Context, accountID string, appIDs []string) ([]rbac.Entity, error) {
	return nil, f.err
}

func (f *fakeCatalog) Provisioners(ctx context.Context, accountID string, appIDs []string) ([]rbac.Entity, error) {
	return nil, f.err
}

func (f *fakeCatalog) Templates(ctx context.Context, accountID string, appIDs []string) ([]rbac.Entity, error) {
	return nil, f.err
}

func (f *fakeCatalog) Workflows(ctx context.Context, accountID string, appIDs []string) ([]rbac.Workflow, error) {
	return nil, f.err
}

func (f *fakeCatalog) Pipelines(ctx context.Context, accountID string, appIDs []string) ([]rbac.Pipeline, error) {
	return nil, f.err
}

type fakeStore struct {
	mu       sync.Mutex
	entities []RestrictedEntity
	updates  map[string]*rbac.UsageRestrictions
}

func newFakeStore(entities ...RestrictedEntity) *fakeStore {
	return &fakeStore{entities: entities, updates: make(map[string]*rbac.UsageRestrictions)}
}

func (f *fakeStore) ListRestricted(ctx context.Context, accountID string, kinds ...EntityKind) ([]RestrictedEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []RestrictedEntity
	for _, e := range f.entities {
		if e.AccountID != accountID {
			continue
		}
		for _, k := range kinds {
			if e.Kind == k {
				out = append(out, e)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateRestrictions(ctx context.Context, accountID, uuid string, kind EntityKind, r *rbac.UsageRestrictions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[uuid] = r
	return nil
}
