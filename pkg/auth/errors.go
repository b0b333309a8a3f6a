package auth

import (
	"errors"

	"github.com/platinummonkey/warden/pkg/rbac"
)

var (
	// ErrInvalidToken is returned for an unknown token id
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken is returned for a token past its expiry
	ErrExpiredToken = errors.New("token expired")

	// ErrInvalidCredential is returned when a JWT fails verification
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrUnauthorized is returned when a verified token names no session or user
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTokenAlreadyRefreshed is returned when a JWT is refreshed twice
	ErrTokenAlreadyRefreshed = errors.New("token already refreshed once")
)

// Stable error codes for token failures
const (
	CodeInvalidToken          = "INVALID_TOKEN"
	CodeExpiredToken          = "EXPIRED_TOKEN"
	CodeInvalidCredential     = "INVALID_CREDENTIAL"
	CodeUnauthorized          = "USER_NOT_AUTHORIZED"
	CodeTokenAlreadyRefreshed = "TOKEN_ALREADY_REFRESHED_ONCE"
)

func init() {
	rbac.RegisterErrorCode(ErrInvalidToken, CodeInvalidToken)
	rbac.RegisterErrorCode(ErrExpiredToken, CodeExpiredToken)
	rbac.RegisterErrorCode(ErrInvalidCredential, CodeInvalidCredential)
	rbac.RegisterErrorCode(ErrUnauthorized, CodeUnauthorized)
	rbac.RegisterErrorCode(ErrTokenAlreadyRefreshed, CodeTokenAlreadyRefreshed)
}
