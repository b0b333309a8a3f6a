package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/warden/pkg/rbac"
)

// Issuer creates login sessions and signs their bearer JWTs
type Issuer struct {
	cfg   Config
	store TokenStore
	log   *logrus.Logger
	now   func() time.Time
}

// NewIssuer creates an issuer that saves sessions to store.
func NewIssuer(cfg Config, store TokenStore, log *logrus.Logger) *Issuer {
	if log == nil {
		log = logrus.New()
	}
	return &Issuer{cfg: cfg.withDefaults(), store: store, log: log, now: time.Now}
}

// GenerateBearerToken saves a new session for user and returns its signed JWT.
func (i *Issuer) GenerateBearerToken(ctx context.Context, user *rbac.User) (string, *AuthToken, error) {
	if user == nil || user.UUID == "" {
		return "", nil, fmt.Errorf("%w: user is required", rbac.ErrInvalidRequest)
	}
	now := i.now()
	token := &AuthToken{
		UUID:      NewTokenID(),
		AccountID: defaultAccountID(user),
		UserID:    user.UUID,
		ExpireAt:  now.Add(i.cfg.TokenExpiry),
		JWTToken:  uuid.NewString(),
	}
	log := i.log.WithFields(logrus.Fields{"userId": user.UUID, "accountId": token.AccountID})
	log.Info("Generating bearer token")

	if err := i.store.Save(ctx, token); err != nil {
		return "", nil, fmt.Errorf("failed to save auth token: %w", err)
	}
	signed, err := i.sign(token, user, now)
	if err != nil {
		log.WithError(err).Error("Failed to sign bearer token")
		return "", nil, err
	}
	return signed, token, nil
}

func (i *Issuer) sign(token *AuthToken, user *rbac.User, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss":       i.cfg.Issuer,
		"iat":       now.Unix(),
		"exp":       now.Add(i.cfg.JWTValidity).Unix(),
		"authToken": token.UUID,
		"usrId":     token.UserID,
		"env":       i.cfg.Env,
		"email":     user.Email,
		"name":      user.Name,
		"accountId": token.AccountID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func defaultAccountID(user *rbac.User) string {
	if len(user.Accounts) == 0 {
		return ""
	}
	return user.Accounts[0]
}
