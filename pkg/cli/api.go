package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/restrictions"
)

// EnvironmentAccess lists what the caller may do in one environment
type EnvironmentAccess struct {
	AppID              string `json:"appId"`
	EnvID              string `json:"envId"`
	CanDeploy          bool   `json:"canDeploy"`
	CanExecuteWorkflow bool   `json:"canExecuteWorkflow"`
	CanExecutePipeline bool   `json:"canExecutePipeline"`
	CanRollback        bool   `json:"canRollback"`
	CanAbort           bool   `json:"canAbort"`
}

// Session is the reply of a token refresh
type Session struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
}

type handlers struct {
	authz      *authz.Service
	entities   restrictions.EntityStore
	references *restrictions.Service
	tokens     *auth.Validator
}

// newRouter builds the HTTP API: health and metrics endpoints, and the
// authenticated account routes
func newRouter(ctx context.Context, a *app, health *observability.HealthChecker) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.RequestID(a.log))
	r.Use(middleware.ClientIP(a.proxies))
	r.Use(observability.HTTPMetricsMiddleware(a.metrics))

	if a.cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(r, a.registry)
	}
	observability.RegisterHealthRoutes(r, health)

	h := &handlers{authz: a.authz, entities: a.store, references: a.restrictions, tokens: a.validator}
	audited := audit.NewMiddleware(a.audit, a.cfg.Audit.LogAllRequests)
	authn := middleware.NewAuthMiddleware(a.validator, a.authz, a.metrics)
	limits := middleware.NewRateLimitMiddleware(nil, nil)
	limits.StartCleanup(ctx)

	sessions := r.PathPrefix("/api/v1/auth").Subrouter()
	sessions.Use(audited.Handler, limits.Handler)
	sessions.HandleFunc("/refresh", h.refresh).Methods(http.MethodPost)
	sessions.HandleFunc("/session", h.logout).Methods(http.MethodDelete)
	sessions.HandleFunc("/sessions", h.logoutAll).Methods(http.MethodDelete)

	accounts := r.PathPrefix("/api/v1/accounts/{" + middleware.AccountVar + "}").Subrouter()
	accounts.Use(audited.Handler, authn.Handler, limits.Handler)
	accounts.HandleFunc("/access-checks", h.accessCheck).Methods(http.MethodPost)
	accounts.HandleFunc("/restrictions/summary", h.restrictionSummary).Methods(http.MethodGet)
	envRead := middleware.RequirePermission(a.authz, false, rbac.PermissionAttribute{
		PermissionType: rbac.PermissionEnv,
		Action:         rbac.ActionRead,
	})
	accounts.HandleFunc("/apps/{"+middleware.AppVar+"}/references", h.appReferences).Methods(http.MethodGet)
	accounts.Handle("/apps/{"+middleware.AppVar+"}/environments/{"+middleware.EntityVar+"}",
		envRead(http.HandlerFunc(h.environment))).Methods(http.MethodGet)
	accounts.Handle("/apps/{"+middleware.AppVar+"}/environments/{"+middleware.EntityVar+"}/references",
		envRead(http.HandlerFunc(h.envReferences))).Methods(http.MethodGet)
	accounts.Handle("/permission-cache",
		middleware.RequireAccountPermission(rbac.PermissionUserPermissionManagement)(http.HandlerFunc(h.evictCache))).Methods(http.MethodDelete)

	return otelhttp.NewHandler(r, "warden")
}

// requestContext returns the caller set by the auth middleware
func requestContext(w http.ResponseWriter, r *http.Request) (*authz.RequestContext, bool) {
	rc, ok := authz.FromContext(r.Context())
	if !ok {
		middleware.WriteError(w, fmt.Errorf("%w: authentication required", rbac.ErrAccessDenied))
	}
	return rc, ok
}

func userID(rc *authz.RequestContext) string {
	if rc.User == nil {
		return ""
	}
	return rc.User.UUID
}

// accessCheck answers a Decision for the caller. Denials are reported in the
// body with status 200.
func (h *handlers) accessCheck(w http.ResponseWriter, r *http.Request) {
	rc, ok := requestContext(w, r)
	if !ok {
		return
	}
	var d Decision
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		middleware.WriteError(w, fmt.Errorf("%w: invalid request body: %v", rbac.ErrInvalidRequest, err))
		return
	}

	err := decide(r.Context(), h.authz, h.entities, rc, d)
	audit.LogDecision(r.Context(), r, audit.Decision{
		AccountID:   rc.AccountID,
		UserID:      userID(rc),
		AppID:       d.AppID,
		EnvID:       d.EnvID,
		EntityID:    d.EntityID,
		Permissions: d.Permissions,
	}, err)
	switch rbac.ErrorCode(err) {
	case rbac.CodeInvalidRequest, rbac.CodeMisconfiguredPermissionType, rbac.CodeUnknown:
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, verdictOf(err))
}

func (h *handlers) restrictionSummary(w http.ResponseWriter, r *http.Request) {
	rc, ok := requestContext(w, r)
	if !ok {
		return
	}
	summary, err := h.authz.ListAppsWithEnvUpdatePermissions(r.Context(), rc)
	if err != nil {
		contextkeys.Logger(r.Context()).WithError(err).Error("Failed to summarize restrictions")
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, summary)
}

func (h *handlers) environment(w http.ResponseWriter, r *http.Request) {
	rc, ok := requestContext(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	appID, envID := vars[middleware.AppVar], vars[middleware.EntityVar]
	middleware.WriteJSON(w, http.StatusOK, EnvironmentAccess{
		AppID:              appID,
		EnvID:              envID,
		CanDeploy:          h.authz.CheckDeployToEnv(rc, appID, envID) == nil,
		CanExecuteWorkflow: h.authz.CheckWorkflowExecuteToEnv(rc, appID, envID) == nil,
		CanExecutePipeline: h.authz.CheckPipelineExecuteToEnv(rc, appID, envID) == nil,
		CanRollback:        h.authz.CheckRollbackWorkflowToEnv(rc, appID, envID) == nil,
		CanAbort:           h.authz.CheckAbortWorkflowToEnv(rc, appID, envID) == nil,
	})
}

// evictCache clears the permission cache of the account. With rebuild=true
// the evicted users are recomputed in the background.
func (h *handlers) evictCache(w http.ResponseWriter, r *http.Request) {
	rc, ok := requestContext(w, r)
	if !ok {
		return
	}
	rebuild, _ := strconv.ParseBool(r.URL.Query().Get("rebuild"))
	if err := h.authz.EvictUserPermissionAndRestrictionCacheForAccount(r.Context(), rc.AccountID, rebuild, rebuild); err != nil {
		contextkeys.Logger(r.Context()).WithError(err).Error("Failed to evict permission cache")
		middleware.WriteError(w, err)
		return
	}
	contextkeys.Logger(r.Context()).WithField("accountId", rc.AccountID).Info("Evicted permission cache")
	audit.LogSuccess(r.Context(), audit.EventTypeCacheEvict, rc.AccountID, "Evicted permission cache",
		map[string]any{"rebuild": rebuild})
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) appReferences(w http.ResponseWriter, r *http.Request) {
	rc, ok := requestContext(w, r)
	if !ok {
		return
	}
	summary, err := h.references.ReferenceSummaryForApp(r.Context(), rc.AccountID, mux.Vars(r)[middleware.AppVar])
	h.writeReferences(w, r, summary, err)
}

func (h *handlers) envReferences(w http.ResponseWriter, r *http.Request) {
	rc, ok := requestContext(w, r)
	if !ok {
		return
	}
	summary, err := h.references.ReferenceSummaryForEnv(r.Context(), rc.AccountID, mux.Vars(r)[middleware.EntityVar])
	h.writeReferences(w, r, summary, err)
}

func (h *handlers) writeReferences(w http.ResponseWriter, r *http.Request, summary *restrictions.ReferenceSummary, err error) {
	if err != nil {
		contextkeys.Logger(r.Context()).WithError(err).Error("Failed to summarize references")
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, summary)
}

// refresh exchanges the caller's bearer for a new session token
func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	bearer, err := middleware.BearerToken(r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	token, user, err := h.tokens.Refresh(r.Context(), bearer)
	if err != nil {
		contextkeys.Logger(r.Context()).WithError(err).Info("Token refresh rejected")
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, Session{Token: token, UserID: user.UUID})
}

// logout invalidates the caller's session
func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	bearer, err := middleware.BearerToken(r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	if err := h.tokens.InvalidateToken(r.Context(), bearer); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// logoutAll invalidates every session of the caller
func (h *handlers) logoutAll(w http.ResponseWriter, r *http.Request) {
	bearer, err := middleware.BearerToken(r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	token, err := h.tokens.Validate(r.Context(), bearer)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	if err := h.tokens.InvalidateAllTokensForUser(r.Context(), token.UserID); err != nil {
		contextkeys.Logger(r.Context()).WithError(err).Error("Failed to invalidate sessions")
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
