package auth

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/warden/pkg/rbac"
)

// MaxTokenIDLength is the longest bearer value treated as a token id rather
// than a JWT
const MaxTokenIDLength = 32

// DefaultIssuer is the issuer claim of user JWTs
const DefaultIssuer = "Harness Inc"

// AuthToken is a stored login session
type AuthToken struct {
	UUID      string    `json:"uuid" yaml:"uuid"`
	AccountID string    `json:"account_id" yaml:"accountId"`
	UserID    string    `json:"user_id" yaml:"userId"`
	ExpireAt  time.Time `json:"expire_at" yaml:"expireAt"`
	Refreshed bool      `json:"refreshed" yaml:"refreshed"`
	JWTToken  string    `json:"jwt_token,omitempty" yaml:"jwtToken,omitempty"`

	// User is resolved on validation and never persisted
	User *rbac.User `json:"-" yaml:"-"`
}

// Expired reports whether the token has expired at now.
func (t *AuthToken) Expired(now time.Time) bool {
	return !t.ExpireAt.After(now)
}

// NewTokenID returns a random token id that fits MaxTokenIDLength.
func NewTokenID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// TokenStore persists auth tokens. Get returns nil without an error when the
// token does not exist.
type TokenStore interface {
	Get(ctx context.Context, id string) (*AuthToken, error)
	Save(ctx context.Context, token *AuthToken) error
	Delete(ctx context.Context, id string) error
	ListByUser(ctx context.Context, userID string) ([]string, error)
	// MarkRefreshed flags a stored token as refreshed. It reports false when
	// the token is missing or was already refreshed.
	MarkRefreshed(ctx context.Context, id string) (bool, error)
}

// UserLookup resolves the user a token belongs to. It returns nil without an
// error for an unknown user.
type UserLookup interface {
	UserByID(ctx context.Context, userID string) (*rbac.User, error)
}

// Config controls token validation and issuing
type Config struct {
	// Secret signs and verifies user JWTs
	Secret []byte
	// Issuer is the required iss claim, DefaultIssuer when empty
	Issuer string
	// TokenExpiry is the lifetime of a stored token
	TokenExpiry time.Duration
	// JWTValidity is the lifetime of a signed JWT, TokenExpiry when zero
	JWTValidity time.Duration
	// CacheSize bounds the token cache
	CacheSize int
	// CacheTTL bounds how long a token stays cached
	CacheTTL time.Duration
	// Env is copied into the env claim
	Env string
}

func (c Config) withDefaults() Config {
	if c.Issuer == "" {
		c.Issuer = DefaultIssuer
	}
	if c.TokenExpiry <= 0 {
		c.TokenExpiry = 24 * time.Hour
	}
	if c.JWTValidity <= 0 {
		c.JWTValidity = c.TokenExpiry
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 10000
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 10 * time.Minute
	}
	return c
}
