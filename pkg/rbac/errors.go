package rbac

import "errors"

var (
	// ErrAccessDenied is returned when a principal lacks the required permission
	ErrAccessDenied = errors.New("access denied")

	// ErrMisconfiguredPermissionType is returned when a permission type has no
	// handler for the requested action. It is an internal error, not a denial.
	ErrMisconfiguredPermissionType = errors.New("misconfigured permission type")

	// ErrInvalidRequest is returned when a check is called with missing arguments
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidUsageRestriction is returned when usage restrictions are malformed
	ErrInvalidUsageRestriction = errors.New("invalid usage restriction")

	// ErrNotAuthorizedDueToUsageRestrictions is returned when a user cannot set or change restrictions
	ErrNotAuthorizedDueToUsageRestrictions = errors.New("user not authorized due to usage restrictions")

	// ErrNotAccountMgrNorHasAllAppAccess is returned when an account-scoped entity is saved by a user without full scope
	ErrNotAccountMgrNorHasAllAppAccess = errors.New("user is neither account manager nor has access to all apps and environments")
)

// Stable error codes reported to callers
const (
	CodeAccessDenied                       = "ACCESS_DENIED"
	CodeMisconfiguredPermissionType        = "MISCONFIGURED_PERMISSION_TYPE"
	CodeInvalidRequest                     = "INVALID_REQUEST"
	CodeInvalidUsageRestriction            = "INVALID_USAGE_RESTRICTION"
	CodeUserNotAuthorizedDueToRestrictions = "USER_NOT_AUTHORIZED_DUE_TO_USAGE_RESTRICTIONS"
	CodeNotAccountMgrNorHasAllAppAccess    = "NOT_ACCOUNT_MGR_NOR_HAS_ALL_APP_ACCESS"
	CodeUnknown                            = "UNKNOWN_ERROR"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrAccessDenied, CodeAccessDenied},
	{ErrMisconfiguredPermissionType, CodeMisconfiguredPermissionType},
	{ErrInvalidRequest, CodeInvalidRequest},
	{ErrInvalidUsageRestriction, CodeInvalidUsageRestriction},
	{ErrNotAuthorizedDueToUsageRestrictions, CodeUserNotAuthorizedDueToRestrictions},
	{ErrNotAccountMgrNorHasAllAppAccess, CodeNotAccountMgrNorHasAllAppAccess},
}

// RegisterErrorCode maps an error from another package to a stable code.
// It must be called during package initialization.
func RegisterErrorCode(err error, code string) {
	errorCodes = append(errorCodes, struct {
		err  error
		code string
	}{err, code})
}

// ErrorCode returns the stable code for err, or "" when err is nil.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeUnknown
}
