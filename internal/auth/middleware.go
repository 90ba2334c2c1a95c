package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"moto-store/internal/observability"
)

type contextKey int

const (
	identityKey contextKey = iota
	failureKey
)

type TokenValidator interface {
	Validate(token string) (Identity, error)
}

// Authenticate resolves the caller from a bearer token or the access cookie.
// A bad token never rejects the request: it proceeds anonymously and the
// failure is logged and kept for RequireUser/RequireAdmin.
func Authenticate(tokens TokenValidator, cookieName string, logger *observability.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr, err := tokenFromRequest(r, cookieName)
		if tokenStr == "" && err == nil {
			next.ServeHTTP(w, r)
			return
		}

		var identity Identity
		if err == nil {
			identity, err = tokens.Validate(tokenStr)
		}
		if err != nil {
			observability.AnnotateRequest(r.Context(), "auth_failure", FailureKind(err))
			logger.Warn("auth_token_rejected", map[string]any{
				"reason": FailureKind(err),
				"path":   r.URL.Path,
				"ip":     observability.ClientIP(r),
			})
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), failureKey, err)))
			return
		}

		observability.AnnotateRequest(r.Context(), "user_id", identity.ID)
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

func tokenFromRequest(r *http.Request, cookieName string) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", errors.Join(ErrInvalidSignature, errors.New("invalid authorization format"))
		}
		return strings.TrimSpace(parts[1]), nil
	}

	if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}

	return "", nil
}

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok
}

func failureFromContext(ctx context.Context) error {
	err, _ := ctx.Value(failureKey).(error)
	return err
}

func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := rejectAnonymous(w, r); !ok {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin answers 403 for non-admin callers before next runs.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := rejectAnonymous(w, r)
		if !ok {
			return
		}
		if !identity.IsAdmin {
			writeError(w, http.StatusForbidden, ErrPermissionDenied.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func rejectAnonymous(w http.ResponseWriter, r *http.Request) (Identity, bool) {
	if identity, ok := IdentityFromContext(r.Context()); ok {
		return identity, true
	}

	if err := failureFromContext(r.Context()); err != nil {
		status := tokenFailureStatus(err)
		if status == http.StatusUnauthorized {
			w.Header().Set("WWW-Authenticate", "Bearer")
		}
		writeError(w, status, publicFailureMessage(err))
		return Identity{}, false
	}

	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, ErrNotAuthenticated.Error())
	return Identity{}, false
}

func publicFailureMessage(err error) string {
	switch {
	case errors.Is(err, ErrExpired):
		return "Token expired!"
	case errors.Is(err, ErrMissingExpiry):
		return "No access token supplied"
	default:
		return "Could not validate user"
	}
}
