package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/warden/pkg/rbac"
)

// Validator resolves bearer tokens to sessions and users
type Validator struct {
	cfg    Config
	store  TokenStore
	users  UserLookup
	issuer *Issuer
	cache  *lru.LRU[string, AuthToken]
	log    *logrus.Logger
	now    func() time.Time
}

// NewValidator creates a validator over store. Refreshed sessions are signed
// with the same configuration.
func NewValidator(cfg Config, store TokenStore, users UserLookup, log *logrus.Logger) *Validator {
	if log == nil {
		log = logrus.New()
	}
	cfg = cfg.withDefaults()
	return &Validator{
		cfg:    cfg,
		store:  store,
		users:  users,
		issuer: NewIssuer(cfg, store, log),
		cache:  lru.NewLRU[string, AuthToken](cfg.CacheSize, nil, cfg.CacheTTL),
		log:    log,
		now:    time.Now,
	}
}

// Issuer returns the issuer sharing this validator's store and secret.
func (v *Validator) Issuer() *Issuer {
	return v.issuer
}

// Validate resolves bearer to its session with the user attached.
func (v *Validator) Validate(ctx context.Context, bearer string) (*AuthToken, error) {
	if bearer == "" {
		return nil, ErrInvalidToken
	}

	var token *AuthToken
	if len(bearer) <= MaxTokenIDLength {
		found, err := v.lookup(ctx, bearer)
		if err != nil {
			return nil, err
		}
		if found == nil {
			return nil, ErrInvalidToken
		}
		if found.Expired(v.now()) {
			return nil, ErrExpiredToken
		}
		token = found
	} else {
		verified, err := v.verify(ctx, bearer)
		if err != nil {
			return nil, err
		}
		token = verified
	}

	user, err := v.user(ctx, token.UserID)
	if err != nil {
		return nil, err
	}
	token.User = user
	return token, nil
}

// Refresh exchanges a JWT for a new one. A JWT may be refreshed once; the store
// decides which of concurrent refreshes wins. A token id is not reissued; its
// id and user are returned as they are while it is unexpired.
func (v *Validator) Refresh(ctx context.Context, bearer string) (string, *rbac.User, error) {
	if len(bearer) <= MaxTokenIDLength {
		token, err := v.lookup(ctx, bearer)
		if err != nil {
			return "", nil, err
		}
		if token == nil || token.Expired(v.now()) {
			return "", nil, ErrExpiredToken
		}
		user, err := v.user(ctx, token.UserID)
		if err != nil {
			return "", nil, err
		}
		return token.UUID, user, nil
	}

	token, err := v.verify(ctx, bearer)
	if err != nil {
		return "", nil, err
	}
	if token.Refreshed {
		return "", nil, ErrTokenAlreadyRefreshed
	}
	user, err := v.user(ctx, token.UserID)
	if err != nil {
		return "", nil, err
	}

	marked, err := v.store.MarkRefreshed(ctx, token.UUID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to mark auth token refreshed: %w", err)
	}
	token.Refreshed = true
	v.cache.Add(token.UUID, *token)
	if !marked {
		return "", nil, ErrTokenAlreadyRefreshed
	}

	signed, _, err := v.issuer.GenerateBearerToken(ctx, user)
	if err != nil {
		return "", nil, err
	}
	return signed, user, nil
}

// InvalidateToken deletes the session behind bearer. Expired sessions are
// deleted too.
func (v *Validator) InvalidateToken(ctx context.Context, bearer string) error {
	id := bearer
	if len(bearer) > MaxTokenIDLength {
		claimed, err := v.tokenID(bearer)
		if err != nil {
			return err
		}
		id = claimed
	}
	return v.remove(ctx, id)
}

// InvalidateAllTokensForUser deletes every session of a user.
func (v *Validator) InvalidateAllTokensForUser(ctx context.Context, userID string) error {
	ids, err := v.store.ListByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list tokens of user %s: %w", userID, err)
	}
	var errs []error
	for _, id := range ids {
		if err := v.remove(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	if len(ids) > 0 {
		v.log.WithFields(logrus.Fields{"userId": userID, "tokens": len(ids)}).Info("Invalidated user tokens")
	}
	return errors.Join(errs...)
}

// ValidateServiceToken verifies a service-to-service JWT signed with secret.
// The token must carry an expiry and the configured issuer.
func (v *Validator) ValidateServiceToken(secret []byte, token string) error {
	_, err := v.parse(token, secret, jwt.WithExpirationRequired())
	return err
}

func (v *Validator) remove(ctx context.Context, id string) error {
	if err := v.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete auth token: %w", err)
	}
	v.cache.Remove(id)
	return nil
}

// lookup reads a session from the cache, then the store.
func (v *Validator) lookup(ctx context.Context, id string) (*AuthToken, error) {
	if cached, ok := v.cache.Get(id); ok {
		return &cached, nil
	}
	v.log.WithField("tokenPrefix", prefix(id)).Debug("Token not found in cache, fetching from store")
	token, err := v.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load auth token: %w", err)
	}
	if token == nil {
		return nil, nil
	}
	v.cache.Add(token.UUID, *token)
	loaded := *token
	return &loaded, nil
}

func (v *Validator) verify(ctx context.Context, bearer string) (*AuthToken, error) {
	id, err := v.tokenID(bearer)
	if err != nil {
		return nil, err
	}
	token, err := v.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, fmt.Errorf("%w: invalid auth token", ErrUnauthorized)
	}
	return token, nil
}

func (v *Validator) tokenID(bearer string) (string, error) {
	claims, err := v.parse(bearer, v.cfg.Secret)
	if err != nil {
		return "", err
	}
	id, _ := claims["authToken"].(string)
	if id == "" {
		return "", fmt.Errorf("%w: missing authToken claim", ErrInvalidCredential)
	}
	return id, nil
}

func (v *Validator) parse(token string, secret []byte, opts ...jwt.ParserOption) (jwt.MapClaims, error) {
	opts = append(opts,
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	)
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	return claims, nil
}

func (v *Validator) user(ctx context.Context, userID string) (*rbac.User, error) {
	user, err := v.users.UserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user not found", ErrUnauthorized)
	}
	return user, nil
}

func prefix(id string) string {
	if len(id) > 5 {
		return id[:5]
	}
	return id
}
