package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/rbac"
)

var alice = &rbac.User{UUID: "u1", Name: "Alice", Accounts: []string{"acc1"}}

type fakeValidator map[string]*auth.AuthToken

func (f fakeValidator) Validate(_ context.Context, bearer string) (*auth.AuthToken, error) {
	if bearer == "expired" {
		return nil, auth.ErrExpiredToken
	}
	t, ok := f[bearer]
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	return t, nil
}

type fakeContexts struct{ err error }

func (f fakeContexts) NewRequestContext(_ context.Context, accountID string, user *rbac.User) (*authz.RequestContext, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &authz.RequestContext{User: user, AccountID: accountID, PermissionInfo: &rbac.UserPermissionInfo{AccountID: accountID}}, nil
}

type fakeAuthorizer struct{ allowed map[string]bool }

func (f fakeAuthorizer) AuthorizeEntity(_ context.Context, rc *authz.RequestContext, appID, entityID string, _ []rbac.PermissionAttribute, _ bool) error {
	if f.allowed[appID+"/"+entityID] {
		return nil
	}
	return fmt.Errorf("%w: Not authorized", rbac.ErrAccessDenied)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func newAuthRouter(t *testing.T, contexts RequestContexts, metrics *observability.Metrics) *mux.Router {
	t.Helper()
	log, _ := test.NewNullLogger()
	validator := fakeValidator{"good": {UUID: "tok1", AccountID: "acc1", UserID: "u1", User: alice}}

	router := mux.NewRouter()
	router.Use(RequestID(log))
	echo := func(w http.ResponseWriter, r *http.Request) {
		rc, ok := authz.FromContext(r.Context())
		require.True(t, ok)
		WriteJSON(w, http.StatusOK, map[string]string{
			"account": rc.AccountID,
			"user":    contextkeys.GetUserID(r.Context()),
		})
	}
	mw := NewAuthMiddleware(validator, contexts, metrics)
	router.Handle("/accounts/{accountId}/whoami", mw.Handler(http.HandlerFunc(echo)))
	router.Handle("/whoami", mw.Handler(http.HandlerFunc(echo)))
	return router
}

func TestAuthMiddleware(t *testing.T) {
	metrics := observability.NewMetrics(nil)
	router := newAuthRouter(t, fakeContexts{}, metrics)

	tests := []struct {
		name       string
		path       string
		header     string
		wantStatus int
		wantCode   string
		wantAcct   string
	}{
		{name: "missing header", path: "/whoami", wantStatus: http.StatusUnauthorized, wantCode: auth.CodeInvalidToken},
		{name: "wrong scheme", path: "/whoami", header: "Basic abc", wantStatus: http.StatusUnauthorized, wantCode: auth.CodeInvalidToken},
		{name: "empty token", path: "/whoami", header: "Bearer ", wantStatus: http.StatusUnauthorized, wantCode: auth.CodeInvalidToken},
		{name: "unknown token", path: "/whoami", header: "Bearer nope", wantStatus: http.StatusUnauthorized, wantCode: auth.CodeInvalidToken},
		{name: "expired token", path: "/whoami", header: "Bearer expired", wantStatus: http.StatusUnauthorized, wantCode: auth.CodeExpiredToken},
		{name: "account from route", path: "/accounts/acc2/whoami", header: "Bearer good", wantStatus: http.StatusOK, wantAcct: "acc2"},
		{name: "account from token", path: "/whoami", header: "bearer good", wantStatus: http.StatusOK, wantAcct: "acc1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)
				return
			}
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantAcct, body["account"])
			assert.Equal(t, "u1", body["user"])
		})
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.TokenValidationsTotal.WithLabelValues("valid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TokenValidationsTotal.WithLabelValues("expired_token")))
}

func TestAuthMiddleware_ContextFailure(t *testing.T) {
	router := newAuthRouter(t, fakeContexts{err: errors.New("store down")}, nil)
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, rbac.CodeUnknown, body.Code)
	assert.Equal(t, "Internal Server Error", body.Message)
}

func serveWithContext(rc *authz.RequestContext, h http.Handler, path string) *httptest.ResponseRecorder {
	router := mux.NewRouter()
	router.Handle("/apps/{appId}/entities/{entityId}", h)
	router.Handle("/settings", h)
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if rc != nil {
		req = req.WithContext(authz.NewContext(req.Context(), rc))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRequirePermission(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	authorizer := fakeAuthorizer{allowed: map[string]bool{"app1/prod1": true}}
	h := RequirePermission(authorizer, false, rbac.PermissionAttribute{PermissionType: rbac.PermissionType("ENV"), Action: rbac.Action("UPDATE")})(ok)
	rc := &authz.RequestContext{User: alice, AccountID: "acc1"}

	assert.Equal(t, http.StatusNoContent, serveWithContext(rc, h, "/apps/app1/entities/prod1").Code)

	rec := serveWithContext(rc, h, "/apps/app1/entities/qa1")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, rbac.CodeAccessDenied, decodeError(t, rec).Code)

	assert.Equal(t, http.StatusForbidden, serveWithContext(nil, h, "/apps/app1/entities/prod1").Code)
}

func TestRequireAccountPermission(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	manageSecrets := rbac.PermissionType("MANAGE_SECRETS")
	h := RequireAccountPermission(manageSecrets)(ok)

	admin := &rbac.User{UUID: "u2", AdminAccounts: rbac.NewStringSet("acc1")}
	granted := &authz.RequestContext{User: alice, AccountID: "acc1", PermissionInfo: &rbac.UserPermissionInfo{
		AccountPermissionSummary: rbac.AccountPermissionSummary{Permissions: rbac.NewSet(manageSecrets)},
	}}

	assert.Equal(t, http.StatusNoContent, serveWithContext(&authz.RequestContext{User: admin, AccountID: "acc1"}, h, "/settings").Code)
	assert.Equal(t, http.StatusNoContent, serveWithContext(granted, h, "/settings").Code)
	assert.Equal(t, http.StatusForbidden, serveWithContext(&authz.RequestContext{User: alice, AccountID: "acc1"}, h, "/settings").Code)
	assert.Equal(t, http.StatusForbidden, serveWithContext(authz.Internal("acc1"), h, "/settings").Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{auth.ErrInvalidCredential, http.StatusUnauthorized},
		{auth.ErrTokenAlreadyRefreshed, http.StatusUnauthorized},
		{fmt.Errorf("wrapped: %w", rbac.ErrAccessDenied), http.StatusForbidden},
		{rbac.ErrNotAuthorizedDueToUsageRestrictions, http.StatusForbidden},
		{rbac.ErrNotAccountMgrNorHasAllAppAccess, http.StatusForbidden},
		{rbac.ErrInvalidUsageRestriction, http.StatusBadRequest},
		{rbac.ErrInvalidRequest, http.StatusBadRequest},
		{rbac.ErrMisconfiguredPermissionType, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.err), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}

func TestRequestID(t *testing.T) {
	log, hook := test.NewNullLogger()
	var seen string
	h := RequestID(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = contextkeys.GetRequestID(r.Context())
		contextkeys.Logger(r.Context()).Info("handled")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", seen)
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
	assert.Equal(t, "req-42", hook.LastEntry().Data["requestId"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, seen, 36)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
}
