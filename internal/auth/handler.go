package auth

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"moto-store/internal/observability"
)

var (
	usernameRegex = regexp.MustCompile(`^[a-z0-9_.-]{3,32}$`)
	codeRegex     = regexp.MustCompile(`^[0-9]{6}$`)
)

const (
	maxJSONBodyBytes  = 1 << 20
	minPasswordLength = 8
	// bcrypt ignores everything past 72 bytes.
	maxPasswordLength = 72
)

type Handler struct {
	service      *Service
	cookieName   string
	cookieSecure bool
}

func NewHandler(service *Service, cookieName string, cookieSecure bool) *Handler {
	return &Handler{service: service, cookieName: cookieName, cookieSecure: cookieSecure}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type confirmRequest struct {
	Username string `json:"username"`
	Code     string `json:"code"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

type codeRequest struct {
	Code string `json:"code"`
}

// Login accepts the OAuth2 password form as well as a JSON body.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body credentialsRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if !decodeJSON(w, r, &body) {
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid form body")
			return
		}
		body.Username = r.PostForm.Get("username")
		body.Password = r.PostForm.Get("password")
	}

	tokens, err := h.service.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		h.writeServiceError(w, r, err, "failed to login")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    tokens.AccessToken,
		Path:     "/",
		MaxAge:   int(tokens.ExpiresIn),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, tokens)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ReadCurrentUser(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, ErrNotAuthenticated.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]Identity{"user": identity})
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body credentialsRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Username = normalizeUsername(body.Username)
	if !usernameRegex.MatchString(body.Username) {
		writeError(w, http.StatusBadRequest, "username format is invalid")
		return
	}
	if !validPassword(body.Password) {
		writeError(w, http.StatusBadRequest, "password format is invalid")
		return
	}

	if err := h.service.Register(r.Context(), body.Username, body.Password); err != nil {
		h.writeServiceError(w, r, err, "failed to register")
		return
	}

	h.writeCodeSent(w)
}

func (h *Handler) ConfirmRegistration(w http.ResponseWriter, r *http.Request) {
	var body confirmRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Username = normalizeUsername(body.Username)
	body.Code = strings.TrimSpace(body.Code)
	if !usernameRegex.MatchString(body.Username) {
		writeError(w, http.StatusBadRequest, "username format is invalid")
		return
	}
	if !codeRegex.MatchString(body.Code) {
		writeError(w, http.StatusBadRequest, "code format is invalid")
		return
	}

	if err := h.service.ConfirmRegistration(r.Context(), body.Username, body.Code); err != nil {
		h.writeServiceError(w, r, err, "failed to confirm registration")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"detail": "registration confirmed"})
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, ErrNotAuthenticated.Error())
		return
	}

	var body passwordRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if !validPassword(body.Password) {
		writeError(w, http.StatusBadRequest, "password format is invalid")
		return
	}

	if err := h.service.RequestPasswordChange(r.Context(), identity, body.Password); err != nil {
		h.writeServiceError(w, r, err, "failed to change password")
		return
	}

	h.writeCodeSent(w)
}

func (h *Handler) ConfirmPasswordChange(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, ErrNotAuthenticated.Error())
		return
	}

	var body codeRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	body.Code = strings.TrimSpace(body.Code)
	if !codeRegex.MatchString(body.Code) {
		writeError(w, http.StatusBadRequest, "code format is invalid")
		return
	}

	if err := h.service.ConfirmPasswordChange(r.Context(), identity, body.Code); err != nil {
		h.writeServiceError(w, r, err, "failed to confirm password change")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"detail": "password changed"})
}

func (h *Handler) writeCodeSent(w http.ResponseWriter) {
	writeJSON(w, http.StatusAccepted, map[string]any{
		"detail":     "verification code sent",
		"expires_in": int64(h.service.VerificationTTL().Seconds()),
	})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var lockedErr ErrLoginLocked
	switch {
	case errors.As(err, &lockedErr):
		retryAfter := int(time.Until(lockedErr.Until).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusTooManyRequests, "login temporarily locked")
	case errors.Is(err, ErrInvalidCredentials):
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, http.StatusUnauthorized, "invalid authentication credentials")
	case errors.Is(err, ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, ErrAlreadyRegistered):
		writeError(w, http.StatusConflict, "user already registered")
	case errors.Is(err, ErrNoDeliveryChannel):
		writeError(w, http.StatusConflict, "start the telegram bot before registering")
	case errors.Is(err, ErrUnknownPrincipal):
		writeError(w, http.StatusNotFound, "no pending verification, request a new code")
	case errors.Is(err, ErrTooManyCodes):
		writeError(w, http.StatusTooManyRequests, "too many wrong codes, request a new code")
	case errors.Is(err, ErrCodeMismatch):
		writeError(w, http.StatusBadRequest, "verification code mismatch")
	case errors.Is(err, ErrDeliveryFailed):
		observability.CaptureRequestError(r, err)
		writeError(w, http.StatusBadGateway, "failed to deliver verification code")
	default:
		observability.CaptureRequestError(r, err)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func validPassword(password string) bool {
	return len(password) >= minPasswordLength && len(password) <= maxPasswordLength &&
		strings.TrimSpace(password) != ""
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
