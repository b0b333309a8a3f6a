package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/restrictions"
)

const fixturePath = "testdata/fixture.yaml"

func openTestStore(t *testing.T) *FixtureStore {
	t.Helper()
	log, _ := test.NewNullLogger()
	s, err := OpenFixtureStore(fixturePath, log)
	require.NoError(t, err)
	return s
}

func TestParseFixture(t *testing.T) {
	f, err := LoadFixture(fixturePath)
	require.NoError(t, err)
	assert.Len(t, f.Accounts, 2)
	assert.Len(t, f.Environments, 4)
	assert.True(t, f.Workflows[1].EnvTemplatized)
	assert.Equal(t, rbac.NewActionSet(rbac.ActionRead, rbac.ActionUpdate), f.UserGroups[0].AppPermissions[0].Actions)
	assert.Equal(t, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), f.Tokens[0].ExpireAt.UTC())

	tests := []struct {
		name string
		doc  string
	}{
		{name: "empty", doc: ""},
		{name: "unknown field", doc: "accounts: []\nrobots: []\n"},
		{name: "app of unknown account", doc: "applications:\n  - uuid: a\n    accountId: nope\n"},
		{name: "bad env type", doc: "accounts: [{uuid: acc}]\napplications: [{uuid: a, accountId: acc}]\nenvironments: [{uuid: e, appId: a, type: STAGING}]\n"},
		{name: "support for unknown user", doc: "support: [{userId: ghost}]\n"},
		{name: "entity kind", doc: "accounts: [{uuid: acc}]\nentities: [{uuid: x, accountId: acc, kind: WIDGET}]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFixture([]byte(tt.doc))
			assert.ErrorIs(t, err, ErrInvalidFixture)
		})
	}
}

func TestFixtureStore_Catalog(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	ids, err := s.AppIDs(ctx, "acc1")
	require.NoError(t, err)
	assert.Equal(t, []string{"app1", "app2"}, ids)

	envs, err := s.Environments(ctx, "acc1", []string{"app1", "app9"})
	require.NoError(t, err)
	require.Len(t, envs, 2)
	assert.Equal(t, "prod1", envs[0].UUID)
	assert.Equal(t, "qa1", envs[1].UUID)

	services, err := s.Services(ctx, "acc1", ids)
	require.NoError(t, err)
	assert.Equal(t, []rbac.Entity{{UUID: "svc1", AppID: "app1"}, {UUID: "svc2", AppID: "app2"}}, services)

	services, err = s.Services(ctx, "acc1", nil)
	require.NoError(t, err)
	assert.Empty(t, services)

	pipelines, err := s.Pipelines(ctx, "acc1", ids)
	require.NoError(t, err)
	require.Len(t, pipelines, 1)
	assert.True(t, pipelines[0].HasElements())

	envType, err := s.EnvironmentType(ctx, "qa1")
	require.NoError(t, err)
	assert.Equal(t, rbac.EnvironmentNonProd, envType)
	envType, err = s.EnvironmentType(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, envType)

	ok, err := s.AccountExists(ctx, "acc2")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.ApplicationExists(ctx, "app3")
	require.NoError(t, err)
	assert.False(t, ok)

	accounts, err := s.AccountIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"acc1", "acc2"}, accounts)
}

func TestFixtureStore_Principals(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	alice, err := s.UserByID(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, alice)
	alice.Name = "changed"
	again, _ := s.UserByID(ctx, "u1")
	assert.Equal(t, "Alice", again.Name, "users are returned as copies")

	missing, err := s.UserByID(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)

	groups, err := s.UserGroupsByAccountID(ctx, "acc1", &rbac.User{UUID: "u1"})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "g-prod", groups[0].UUID)

	groups, err = s.UserGroupsByAccountID(ctx, "acc2", &rbac.User{UUID: "u1"})
	require.NoError(t, err)
	assert.Empty(t, groups)

	actions, err := s.ListAllowedActions(ctx, "acc1", "s1")
	require.NoError(t, err)
	assert.Equal(t, authz.DefaultSupportActions(), actions)
	actions, err = s.ListAllowedActions(ctx, "acc2", "s1")
	require.NoError(t, err)
	assert.Empty(t, actions)
	actions, err = s.ListAllowedActions(ctx, "acc1", "u1")
	require.NoError(t, err)
	assert.Empty(t, actions)

	member, err := s.IsUserAssignedToAccount(ctx, &rbac.User{UUID: "u1"}, "acc1")
	require.NoError(t, err)
	assert.True(t, member)
	member, err = s.IsUserAssignedToAccount(ctx, &rbac.User{UUID: "s1", Accounts: []string{"acc1"}}, "acc1")
	require.NoError(t, err)
	assert.False(t, member, "the stored record wins")
}

func TestFixtureStore_RestrictedEntities(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	secrets, err := s.ListRestricted(ctx, "acc1", restrictions.KindSecret)
	require.NoError(t, err)
	require.Len(t, secrets, 2)
	assert.Equal(t, "sec1", secrets[0].UUID)
	assert.True(t, secrets[1].ScopedToAccount)

	all, err := s.ListRestricted(ctx, "acc1")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, s.UpdateRestrictions(ctx, "acc1", "sec1", restrictions.KindSecret, nil))
	secrets, _ = s.ListRestricted(ctx, "acc1", restrictions.KindSecret)
	assert.Nil(t, secrets[0].Restrictions)

	err = s.UpdateRestrictions(ctx, "acc2", "sec1", restrictions.KindSecret, nil)
	assert.ErrorIs(t, err, rbac.ErrInvalidRequest)
}

func TestFixtureStore_Tokens(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	tok, err := s.Get(ctx, "tok1")
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "u1", tok.UserID)

	marked, err := s.MarkRefreshed(ctx, "tok1")
	require.NoError(t, err)
	assert.True(t, marked)
	marked, err = s.MarkRefreshed(ctx, "tok1")
	require.NoError(t, err)
	assert.False(t, marked, "a token is refreshed once")
	marked, err = s.MarkRefreshed(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, marked)

	require.NoError(t, s.Save(ctx, &auth.AuthToken{UUID: "tok2", UserID: "u1", User: &rbac.User{UUID: "u1"}}))
	stored, err := s.Get(ctx, "tok2")
	require.NoError(t, err)
	assert.Nil(t, stored.User)

	ids, err := s.ListByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"tok1", "tok2"}, ids)

	require.NoError(t, s.Delete(ctx, "tok1"))
	missing, err := s.Get(ctx, "tok1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.ErrorIs(t, s.Save(ctx, &auth.AuthToken{}), rbac.ErrInvalidRequest)
}

func copyFixture(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(fixturePath)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "warden.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// withAccount renders the fixture at path with one more account.
func withAccount(t *testing.T, path, accountID string) []byte {
	t.Helper()
	f, err := LoadFixture(path)
	require.NoError(t, err)
	f.Accounts = append(f.Accounts, Account{UUID: accountID})
	data, err := yaml.Marshal(f)
	require.NoError(t, err)
	return data
}

func TestFixtureStore_Reload(t *testing.T) {
	path := copyFixture(t)
	log, _ := test.NewNullLogger()
	s, err := OpenFixtureStore(path, log)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), &auth.AuthToken{UUID: "live", UserID: "u1"}))

	require.NoError(t, os.WriteFile(path, withAccount(t, path, "acc3"), 0o644))
	accounts, err := s.Reload()
	require.NoError(t, err)
	assert.Equal(t, []string{"acc1", "acc2", "acc3"}, accounts)

	ok, _ := s.AccountExists(context.Background(), "acc3")
	assert.True(t, ok)
	live, _ := s.Get(context.Background(), "live")
	assert.NotNil(t, live, "issued tokens survive a reload")

	require.NoError(t, os.WriteFile(path, []byte("accounts: [oops"), 0o644))
	_, err = s.Reload()
	assert.Error(t, err)
	ok, _ = s.AccountExists(context.Background(), "acc3")
	assert.True(t, ok, "a broken file keeps the previous fixture")

	_, err = NewFixtureStore(&Fixture{}, log).Reload()
	assert.ErrorIs(t, err, rbac.ErrInvalidRequest)
}

func TestFixtureStore_Watch(t *testing.T) {
	path := copyFixture(t)
	log, _ := test.NewNullLogger()
	s, err := OpenFixtureStore(path, log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updated := withAccount(t, path, "acc3")
	reloaded := make(chan []string, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, 10*time.Millisecond, func(_ context.Context, accounts []string) {
			select {
			case reloaded <- accounts:
			default:
			}
		})
	}()

	// The watcher starts asynchronously; keep touching the file until a
	// reload is observed.
	var got []string
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, updated, 0o644)
		select {
		case got = <-reloaded:
			return true
		default:
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)
	assert.Contains(t, got, "acc3")

	cancel()
	require.NoError(t, <-done)
}
