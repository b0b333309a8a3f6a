package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/rbac"
)

// Route variables read by the middleware
const (
	AccountVar = "accountId"
	AppVar     = "appId"
	EnvVar     = "envId"
	EntityVar  = "entityId"
)

// TokenValidator resolves a bearer token to its session
type TokenValidator interface {
	Validate(ctx context.Context, bearer string) (*auth.AuthToken, error)
}

// RequestContexts builds the authorization context of a caller
type RequestContexts interface {
	NewRequestContext(ctx context.Context, accountID string, user *rbac.User) (*authz.RequestContext, error)
}

// AuthMiddleware authenticates bearer tokens and attaches the caller's
// authorization context to the request
type AuthMiddleware struct {
	validator TokenValidator
	contexts  RequestContexts
	metrics   *observability.Metrics
}

// NewAuthMiddleware creates a new authentication middleware. metrics may be nil.
func NewAuthMiddleware(validator TokenValidator, contexts RequestContexts, metrics *observability.Metrics) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		contexts:  contexts,
		metrics:   metrics,
	}
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" header
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("%w: %w", auth.ErrInvalidToken, errMissingCredentials)
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", fmt.Errorf("%w: invalid authorization header format", auth.ErrInvalidToken)
	}
	return strings.TrimSpace(parts[1]), nil
}

func (m *AuthMiddleware) observe(err error) {
	if m.metrics == nil {
		return
	}
	outcome := "valid"
	if err != nil {
		outcome = strings.ToLower(rbac.ErrorCode(err))
	}
	m.metrics.TokenValidationsTotal.WithLabelValues(outcome).Inc()
}

// Handler wraps an HTTP handler with authentication. The account comes from
// the accountId route variable, or from the token when the route has none.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log := contextkeys.Logger(ctx)

		bearer, err := BearerToken(r)
		if err != nil {
			m.observe(err)
			WriteError(w, err)
			return
		}
		token, err := m.validator.Validate(ctx, bearer)
		m.observe(err)
		if err != nil {
			log.WithError(err).Info("Rejected bearer token")
			WriteError(w, err)
			return
		}

		accountID := mux.Vars(r)[AccountVar]
		if accountID == "" {
			accountID = token.AccountID
		}
		rc, err := m.contexts.NewRequestContext(ctx, accountID, token.User)
		if err != nil {
			log.WithError(err).WithField("accountId", accountID).Error("Failed to build request context")
			WriteError(w, err)
			return
		}

		ctx = contextkeys.WithUserID(ctx, token.User.UUID)
		ctx = authz.NewContext(ctx, rc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// EntityAuthorizer checks a caller's permission on an entity
type EntityAuthorizer interface {
	AuthorizeEntity(ctx context.Context, rc *authz.RequestContext, appID, entityID string, required []rbac.PermissionAttribute, matchAny bool) error
}

// RequirePermission rejects requests whose caller lacks the required
// attributes on the entity named by the appId and entityId route variables
func RequirePermission(authorizer EntityAuthorizer, matchAny bool, required ...rbac.PermissionAttribute) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc, ok := authz.FromContext(r.Context())
			if !ok {
				WriteError(w, fmt.Errorf("%w: authentication required", rbac.ErrAccessDenied))
				return
			}
			vars := mux.Vars(r)
			if err := authorizer.AuthorizeEntity(r.Context(), rc, vars[AppVar], vars[EntityVar], required, matchAny); err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAccountPermission rejects callers who are neither account admins
// nor hold the account permission
func RequireAccountPermission(permType rbac.PermissionType) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc, ok := authz.FromContext(r.Context())
			if !ok || rc.User == nil {
				WriteError(w, fmt.Errorf("%w: authentication required", rbac.ErrAccessDenied))
				return
			}
			if rc.User.IsAccountAdmin(rc.AccountID) || rc.PermissionInfo.HasAccountPermission(permType) {
				next.ServeHTTP(w, r)
				return
			}
			contextkeys.Logger(r.Context()).WithFields(logrus.Fields{
				"accountId":  rc.AccountID,
				"permission": permType,
			}).Warn("Missing account permission")
			WriteError(w, fmt.Errorf("%w: missing account permission %s", rbac.ErrAccessDenied, permType))
		})
	}
}
