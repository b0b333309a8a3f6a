package authz

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/platinummonkey/warden/pkg/permcache"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/restrictions"
)

// world is an account acc1 with app1 (prod1, qa1) and app2 (prod2).
type world struct {
	mu         sync.Mutex
	groups     map[string][]rbac.UserGroup
	members    rbac.StringSet
	support    map[string]rbac.ActionSet
	groupCalls int
	catalogErr error
}

func newWorld() *world {
	return &world{
		groups:  make(map[string][]rbac.UserGroup),
		members: rbac.NewStringSet("u1"),
		support: make(map[string]rbac.ActionSet),
	}
}

var worldEnvs = []rbac.Environment{
	{UUID: "prod1", AppID: "app1", Name: "Production", Type: rbac.EnvironmentProd},
	{UUID: "qa1", AppID: "app1", Name: "QA", Type: rbac.EnvironmentNonProd},
	{UUID: "prod2", AppID: "app2", Name: "Production", Type: rbac.EnvironmentProd},
}

func (w *world) AccountExists(ctx context.Context, accountID string) (bool, error) {
	return accountID == "acc1", nil
}

func (w *world) ApplicationExists(ctx context.Context, appID string) (bool, error) {
	return appID == "app1" || appID == "app2", nil
}

func (w *world) EnvironmentType(ctx context.Context, envID string) (rbac.EnvironmentType, error) {
	for _, env := range worldEnvs {
		if env.UUID == envID {
			return env.Type, nil
		}
	}
	return "", nil
}

func (w *world) UserGroupsByAccountID(ctx context.Context, accountID string, user *rbac.User) ([]rbac.UserGroup, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.groupCalls++
	return w.groups[user.UUID], nil
}

func (w *world) calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.groupCalls
}

func (w *world) ListAllowedActions(ctx context.Context, accountID, userID string) (rbac.ActionSet, error) {
	return w.support[userID], nil
}

func (w *world) IsUserAssignedToAccount(ctx context.Context, user *rbac.User, accountID string) (bool, error) {
	return w.members.Has(user.UUID), nil
}

func (w *world) AppIDs(ctx context.Context, accountID string) ([]string, error) {
	return []string{"app1", "app2"}, w.catalogErr
}

func (w *world) Applications(ctx context.Context, accountID string) ([]rbac.Application, error) {
	return []rbac.Application{
		{UUID: "app1", AccountID: accountID, Name: "One"},
		{UUID: "app2", AccountID: accountID, Name: "Two"},
	}, w.catalogErr
}

func (w *world) Environments(ctx context.Context, accountID string, appIDs []string) ([]rbac.Environment, error) {
	return worldEnvs, w.catalogErr
}

func (w *world) Services(ctx context.Context, accountID string, appIDs []string) ([]rbac.Entity, error) {
	return nil, w.catalogErr
}

func (w *world) Provisioners(ctx context.Context, accountID string, appIDs []string) ([]rbac.Entity, error) {
	return nil, w.catalogErr
}

func (w *world) Templates(ctx context.Context, accountID string, appIDs []string) ([]rbac.Entity, error) {
	return nil, w.catalogErr
}

func (w *world) Workflows(ctx context.Context, accountID string, appIDs []string) ([]rbac.Workflow, error) {
	return nil, w.catalogErr
}

func (w *world) Pipelines(ctx context.Context, accountID string, appIDs []string) ([]rbac.Pipeline, error) {
	return nil, w.catalogErr
}

type noEntities struct{}

func (noEntities) ListRestricted(ctx context.Context, accountID string, kinds ...restrictions.EntityKind) ([]restrictions.RestrictedEntity, error) {
	return nil, nil
}

func (noEntities) UpdateRestrictions(ctx context.Context, accountID, uuid string, kind restrictions.EntityKind, r *rbac.UsageRestrictions) error {
	return errors.New("read only")
}

func newTestService(w *world, opts ...Option) (*Service, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	deps := Dependencies{
		Engine:       rbac.NewEngine(w, w, w, nil, log),
		Builder:      rbac.NewBuilder(w, log),
		Groups:       w,
		Support:      w,
		Membership:   w,
		Catalog:      w,
		Restrictions: restrictions.NewService(noEntities{}, w, log),
	}
	store, err := permcache.NewMemoryStore(100, 0)
	if err != nil {
		panic(err)
	}
	svc, err := NewService(deps, store, log, opts...)
	if err != nil {
		panic(err)
	}
	return svc, hook
}

var alice = &rbac.User{UUID: "u1", Name: "alice"}

func prodEnvGroup(actions ...rbac.Action) rbac.UserGroup {
	return rbac.UserGroup{
		UUID:      "g1",
		AccountID: "acc1",
		MemberIDs: []string{"u1"},
		AppPermissions: []rbac.AppPermission{{
			PermissionType: rbac.PermissionEnv,
			AppFilter:      &rbac.AppFilter{FilterType: rbac.FilterSelected, IDs: rbac.NewStringSet("app1")},
			EntityFilter:   &rbac.EntityFilter{Env: &rbac.EnvFilter{FilterTypes: rbac.NewStringSet(rbac.FilterProd)}},
			Actions:        rbac.NewActionSet(actions...),
		}},
	}
}
