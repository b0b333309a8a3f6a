package storage

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/permcache"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/restrictions"
)

func TestFixtureStore_BacksAuthorizationService(t *testing.T) {
	ctx := context.Background()
	log, _ := test.NewNullLogger()
	s := openTestStore(t)
	cache, err := permcache.NewMemoryStore(100, 0)
	require.NoError(t, err)

	svc, err := authz.NewService(authz.Dependencies{
		Engine:       rbac.NewEngine(s, s, s, rbac.UserRoleProvider{}, log),
		Builder:      rbac.NewBuilder(s, log),
		Groups:       s,
		Support:      s,
		Membership:   s,
		Catalog:      s,
		Restrictions: restrictions.NewService(s, s, log),
	}, cache, log)
	require.NoError(t, err)

	envUpdate := []rbac.PermissionAttribute{{PermissionType: rbac.PermissionEnv, Action: rbac.ActionUpdate}}

	alice, err := s.UserByID(ctx, "u1")
	require.NoError(t, err)
	rc, err := svc.NewRequestContext(ctx, "acc1", alice)
	require.NoError(t, err)
	assert.NoError(t, svc.AuthorizeEntity(ctx, rc, "app1", "prod1", envUpdate, false))
	assert.ErrorIs(t, svc.AuthorizeEntity(ctx, rc, "app1", "qa1", envUpdate, false), rbac.ErrAccessDenied)

	sam, err := s.UserByID(ctx, "s1")
	require.NoError(t, err)
	rc, err = svc.NewRequestContext(ctx, "acc1", sam)
	require.NoError(t, err)
	assert.True(t, rc.PermissionInfo.HasAllAppAccess)
	assert.NoError(t, svc.AuthorizeEntity(ctx, rc, "app2", "prod2", envUpdate, false))
}
