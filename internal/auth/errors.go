package auth

import (
	"errors"
	"net/http"
	"time"

	"moto-store/internal/verification"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidSignature   = errors.New("could not validate user")
	ErrMissingClaims      = errors.New("token is missing subject or id")
	ErrMissingExpiry      = errors.New("no access token expiry supplied")
	ErrExpired            = errors.New("token expired")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrPermissionDenied   = errors.New("you must be admin user for this")

	ErrUnknownPrincipal = verification.ErrUnknownPrincipal
	ErrCodeMismatch     = verification.ErrCodeMismatch
	ErrTooManyCodes     = verification.ErrTooManyMismatches

	ErrUserNotFound       = errors.New("user not found")
	ErrAlreadyRegistered  = errors.New("user already registered")
	ErrNoDeliveryChannel  = errors.New("user has no messaging channel")
	ErrDeliveryFailed     = errors.New("failed to deliver verification code")
	ErrEmptyPassword      = errors.New("password must not be empty")
	ErrUnsupportedSigning = errors.New("unsupported signing algorithm")
)

type ErrLoginLocked struct {
	Until time.Time
}

func (e ErrLoginLocked) Error() string {
	return "login temporarily locked"
}

// FailureKind names a token validation failure for logs.
func FailureKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrMissingClaims):
		return "missing_claims"
	case errors.Is(err, ErrMissingExpiry):
		return "missing_expiry"
	case errors.Is(err, ErrExpired):
		return "expired"
	default:
		return "unknown"
	}
}

// tokenFailureStatus keeps the status codes clients of the old API already rely on.
func tokenFailureStatus(err error) int {
	switch {
	case errors.Is(err, ErrMissingExpiry):
		return http.StatusBadRequest
	case errors.Is(err, ErrExpired):
		return http.StatusForbidden
	default:
		return http.StatusUnauthorized
	}
}
