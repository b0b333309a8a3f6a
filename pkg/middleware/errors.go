package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/rbac"
)

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StatusFor maps an error to its HTTP status by its stable code
func StatusFor(err error) int {
	switch rbac.ErrorCode(err) {
	case "":
		return http.StatusOK
	case auth.CodeInvalidToken, auth.CodeExpiredToken, auth.CodeInvalidCredential,
		auth.CodeUnauthorized, auth.CodeTokenAlreadyRefreshed:
		return http.StatusUnauthorized
	case rbac.CodeAccessDenied, rbac.CodeUserNotAuthorizedDueToRestrictions, rbac.CodeNotAccountMgrNorHasAllAppAccess:
		return http.StatusForbidden
	case rbac.CodeInvalidRequest, rbac.CodeInvalidUsageRestriction:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// WriteError replies with the status and stable code of err. Internal
// failures do not leak their message.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	WriteJSON(w, status, ErrorResponse{Code: rbac.ErrorCode(err), Message: message})
}

// WriteJSON writes v with the given status
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errMissingCredentials is reported for requests without a bearer token
var errMissingCredentials = errors.New("missing authorization header")
