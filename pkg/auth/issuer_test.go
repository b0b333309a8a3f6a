package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/rbac"
)

func TestIssuer_GenerateBearerToken(t *testing.T) {
	ctx := context.Background()
	v, tokens, hook := newTestValidator(t)

	bearer, session, err := v.Issuer().GenerateBearerToken(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "acc1", session.AccountID)
	assert.Equal(t, "u1", session.UserID)
	assert.Equal(t, testNow.Add(time.Hour), session.ExpireAt)
	assert.False(t, session.Refreshed)
	assert.NotEmpty(t, session.JWTToken)
	assert.Equal(t, "Generating bearer token", hook.LastEntry().Message)

	stored, err := tokens.Get(ctx, session.UUID)
	require.NoError(t, err)
	assert.Equal(t, session.UserID, stored.UserID)

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(bearer, claims, func(*jwt.Token) (any, error) { return testSecret, nil },
		jwt.WithTimeFunc(func() time.Time { return testNow }))
	require.NoError(t, err)
	assert.Equal(t, DefaultIssuer, claims["iss"])
	assert.Equal(t, session.UUID, claims["authToken"])
	assert.Equal(t, "u1", claims["usrId"])
	assert.Equal(t, "alice@example.com", claims["email"])
	assert.Equal(t, "Alice", claims["name"])
	assert.Equal(t, "acc1", claims["accountId"])
	assert.Equal(t, "test", claims["env"])
	assert.Equal(t, float64(testNow.Unix()), claims["iat"])
	assert.Equal(t, float64(testNow.Add(time.Hour).Unix()), claims["exp"])
}

func TestIssuer_RequiresUser(t *testing.T) {
	v, _, _ := newTestValidator(t)
	_, _, err := v.Issuer().GenerateBearerToken(context.Background(), nil)
	assert.ErrorIs(t, err, rbac.ErrInvalidRequest)
	_, _, err = v.Issuer().GenerateBearerToken(context.Background(), &rbac.User{})
	assert.ErrorIs(t, err, rbac.ErrInvalidRequest)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultIssuer, cfg.Issuer)
	assert.Equal(t, 24*time.Hour, cfg.TokenExpiry)
	assert.Equal(t, cfg.TokenExpiry, cfg.JWTValidity)
	assert.Positive(t, cfg.CacheSize)
}
