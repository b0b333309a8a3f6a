package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/restrictions"
)

// fixtureIndex is an immutable lookup view of a Fixture
type fixtureIndex struct {
	accounts rbac.StringSet
	apps     map[string]rbac.Application
	envs     map[string]rbac.Environment
	users    map[string]*rbac.User
	groups   map[string][]rbac.UserGroup
	support  map[string]SupportGrant
	fixture  *Fixture
}

func newFixtureIndex(f *Fixture) *fixtureIndex {
	idx := &fixtureIndex{
		accounts: make(rbac.StringSet),
		apps:     make(map[string]rbac.Application, len(f.Applications)),
		envs:     make(map[string]rbac.Environment, len(f.Environments)),
		users:    make(map[string]*rbac.User, len(f.Users)),
		groups:   make(map[string][]rbac.UserGroup),
		support:  make(map[string]SupportGrant, len(f.Support)),
		fixture:  f,
	}
	for _, a := range f.Accounts {
		idx.accounts.Add(a.UUID)
	}
	for _, app := range f.Applications {
		idx.apps[app.UUID] = app
	}
	for _, env := range f.Environments {
		idx.envs[env.UUID] = env
	}
	for i := range f.Users {
		idx.users[f.Users[i].UUID] = &f.Users[i]
	}
	for _, g := range f.UserGroups {
		idx.groups[g.AccountID] = append(idx.groups[g.AccountID], g)
	}
	for _, s := range f.Support {
		idx.support[s.UserID] = s
	}
	return idx
}

// inAccount returns the given app ids that belong to the account.
func (idx *fixtureIndex) inAccount(accountID string, appIDs []string) rbac.StringSet {
	set := make(rbac.StringSet, len(appIDs))
	for _, id := range appIDs {
		if app, ok := idx.apps[id]; ok && app.AccountID == accountID {
			set.Add(id)
		}
	}
	return set
}

// FixtureStore serves a YAML fixture from memory. Restriction updates and
// tokens are kept in memory only.
type FixtureStore struct {
	path string
	log  *logrus.Logger

	mu     sync.RWMutex
	idx    *fixtureIndex
	tokens map[string]auth.AuthToken
}

// OpenFixtureStore loads the fixture at path.
func OpenFixtureStore(path string, log *logrus.Logger) (*FixtureStore, error) {
	f, err := LoadFixture(path)
	if err != nil {
		return nil, err
	}
	s := NewFixtureStore(f, log)
	s.path = path
	return s, nil
}

// NewFixtureStore serves an already decoded fixture.
func NewFixtureStore(f *Fixture, log *logrus.Logger) *FixtureStore {
	if log == nil {
		log = logrus.New()
	}
	s := &FixtureStore{log: log, tokens: make(map[string]auth.AuthToken)}
	s.replace(f)
	return s
}

func (s *FixtureStore) replace(f *Fixture) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idx = newFixtureIndex(f)
	for _, t := range f.Tokens {
		s.tokens[t.UUID] = t
	}
}

func (s *FixtureStore) view() *fixtureIndex {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx
}

// Reload rereads the fixture file and returns every account present before
// or after the reload. On error the previous fixture stays in place.
func (s *FixtureStore) Reload() ([]string, error) {
	if s.path == "" {
		return nil, fmt.Errorf("%w: fixture store has no file", rbac.ErrInvalidRequest)
	}
	f, err := LoadFixture(s.path)
	if err != nil {
		return nil, err
	}
	affected := s.view().accounts.Clone()
	s.replace(f)
	affected.AddAll(s.view().accounts)
	s.log.WithFields(logrus.Fields{"path": s.path, "accounts": affected.Len()}).Info("Reloaded fixture")
	return affected.Sorted(), nil
}

// Path returns the fixture file, or "" for an in-memory fixture.
func (s *FixtureStore) Path() string {
	return s.path
}

// AccountIDs lists every account.
func (s *FixtureStore) AccountIDs(ctx context.Context) ([]string, error) {
	return s.view().accounts.Sorted(), nil
}

// AccountExists implements rbac.AccountLookup
func (s *FixtureStore) AccountExists(ctx context.Context, accountID string) (bool, error) {
	return s.view().accounts.Has(accountID), nil
}

// ApplicationExists implements rbac.ApplicationLookup
func (s *FixtureStore) ApplicationExists(ctx context.Context, appID string) (bool, error) {
	_, ok := s.view().apps[appID]
	return ok, nil
}

// EnvironmentType implements rbac.EnvironmentLookup. An unknown environment
// has no type.
func (s *FixtureStore) EnvironmentType(ctx context.Context, envID string) (rbac.EnvironmentType, error) {
	return s.view().envs[envID].Type, nil
}

// UserByID returns a copy of the user, or nil.
func (s *FixtureStore) UserByID(ctx context.Context, userID string) (*rbac.User, error) {
	u, ok := s.view().users[userID]
	if !ok {
		return nil, nil
	}
	user := *u
	return &user, nil
}

// UserGroupsByAccountID implements rbac.UserGroupProvider
func (s *FixtureStore) UserGroupsByAccountID(ctx context.Context, accountID string, user *rbac.User) ([]rbac.UserGroup, error) {
	if user == nil {
		return nil, nil
	}
	var groups []rbac.UserGroup
	for _, g := range s.view().groups[accountID] {
		if slices.Contains(g.MemberIDs, user.UUID) {
			groups = append(groups, g)
		}
	}
	return groups, nil
}

// ListAllowedActions implements rbac.SupportUserLookup
func (s *FixtureStore) ListAllowedActions(ctx context.Context, accountID, userID string) (rbac.ActionSet, error) {
	grant, ok := s.view().support[userID]
	if !ok {
		return nil, nil
	}
	return grant.AllowedActions(accountID), nil
}

// IsUserAssignedToAccount implements rbac.MembershipLookup. The stored user
// record wins over the one passed in.
func (s *FixtureStore) IsUserAssignedToAccount(ctx context.Context, user *rbac.User, accountID string) (bool, error) {
	if user == nil {
		return false, nil
	}
	if stored, ok := s.view().users[user.UUID]; ok {
		return stored.BelongsTo(accountID), nil
	}
	return user.BelongsTo(accountID), nil
}

// AppIDs implements rbac.EntityCatalog
func (s *FixtureStore) AppIDs(ctx context.Context, accountID string) ([]string, error) {
	var ids []string
	for _, app := range s.view().fixture.Applications {
		if app.AccountID == accountID {
			ids = append(ids, app.UUID)
		}
	}
	return ids, nil
}

// Applications implements rbac.EntityCatalog
func (s *FixtureStore) Applications(ctx context.Context, accountID string) ([]rbac.Application, error) {
	var apps []rbac.Application
	for _, app := range s.view().fixture.Applications {
		if app.AccountID == accountID {
			apps = append(apps, app)
		}
	}
	return apps, nil
}

// Environments implements rbac.EntityCatalog
func (s *FixtureStore) Environments(ctx context.Context, accountID string, appIDs []string) ([]rbac.Environment, error) {
	idx := s.view()
	return filterByApp(idx.fixture.Environments, idx.inAccount(accountID, appIDs), func(e rbac.Environment) string { return e.AppID }), nil
}

// Services implements rbac.EntityCatalog
func (s *FixtureStore) Services(ctx context.Context, accountID string, appIDs []string) ([]rbac.Entity, error) {
	idx := s.view()
	return filterByApp(idx.fixture.Services, idx.inAccount(accountID, appIDs), entityApp), nil
}

// Provisioners implements rbac.EntityCatalog
func (s *FixtureStore) Provisioners(ctx context.Context, accountID string, appIDs []string) ([]rbac.Entity, error) {
	idx := s.view()
	return filterByApp(idx.fixture.Provisioners, idx.inAccount(accountID, appIDs), entityApp), nil
}

// Templates implements rbac.EntityCatalog
func (s *FixtureStore) Templates(ctx context.Context, accountID string, appIDs []string) ([]rbac.Entity, error) {
	idx := s.view()
	return filterByApp(idx.fixture.Templates, idx.inAccount(accountID, appIDs), entityApp), nil
}

// Workflows implements rbac.EntityCatalog
func (s *FixtureStore) Workflows(ctx context.Context, accountID string, appIDs []string) ([]rbac.Workflow, error) {
	idx := s.view()
	return filterByApp(idx.fixture.Workflows, idx.inAccount(accountID, appIDs), func(w rbac.Workflow) string { return w.AppID }), nil
}

// Pipelines implements rbac.EntityCatalog
func (s *FixtureStore) Pipelines(ctx context.Context, accountID string, appIDs []string) ([]rbac.Pipeline, error) {
	idx := s.view()
	return filterByApp(idx.fixture.Pipelines, idx.inAccount(accountID, appIDs), func(p rbac.Pipeline) string { return p.AppID }), nil
}

func entityApp(e rbac.Entity) string { return e.AppID }

func filterByApp[T any](items []T, apps rbac.StringSet, appOf func(T) string) []T {
	var out []T
	for _, item := range items {
		if apps.Has(appOf(item)) {
			out = append(out, item)
		}
	}
	return out
}

// ListRestricted implements restrictions.EntityStore
func (s *FixtureStore) ListRestricted(ctx context.Context, accountID string, kinds ...restrictions.EntityKind) ([]restrictions.RestrictedEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []restrictions.RestrictedEntity
	for _, e := range s.idx.fixture.Entities {
		if e.AccountID == accountID && (len(kinds) == 0 || slices.Contains(kinds, e.Kind)) {
			out = append(out, e)
		}
	}
	return out, nil
}

// UpdateRestrictions implements restrictions.EntityStore
func (s *FixtureStore) UpdateRestrictions(ctx context.Context, accountID, uuid string, kind restrictions.EntityKind, r *rbac.UsageRestrictions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entities := s.idx.fixture.Entities
	for i := range entities {
		if entities[i].UUID == uuid && entities[i].AccountID == accountID && entities[i].Kind == kind {
			entities[i].Restrictions = r
			return nil
		}
	}
	return fmt.Errorf("%w: %s %s not found in account %s", rbac.ErrInvalidRequest, kind, uuid, accountID)
}

// Get implements auth.TokenStore
func (s *FixtureStore) Get(ctx context.Context, id string) (*auth.AuthToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

// Save implements auth.TokenStore
func (s *FixtureStore) Save(ctx context.Context, token *auth.AuthToken) error {
	if token == nil || token.UUID == "" {
		return fmt.Errorf("%w: token id is required", rbac.ErrInvalidRequest)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := *token
	t.User = nil
	s.tokens[t.UUID] = t
	return nil
}

// Delete implements auth.TokenStore
func (s *FixtureStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, id)
	return nil
}

// MarkRefreshed implements auth.TokenStore
func (s *FixtureStore) MarkRefreshed(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[id]
	if !ok || t.Refreshed {
		return false, nil
	}
	t.Refreshed = true
	s.tokens[id] = t
	return true, nil
}

// ListByUser implements auth.TokenStore
func (s *FixtureStore) ListByUser(ctx context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, t := range s.tokens {
		if t.UserID == userID {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// HealthCheck always succeeds once the fixture is loaded.
func (s *FixtureStore) HealthCheck(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (s *FixtureStore) Close() error {
	return nil
}

var _ Store = (*FixtureStore)(nil)
