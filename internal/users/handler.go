package users

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"moto-store/internal/auth"
	"moto-store/internal/observability"
)

type Store interface {
	Lookup
	AdjustBalance(ctx context.Context, username string, amount float64) (Profile, error)
	ToggleActive(ctx context.Context, username string) (Profile, error)
}

type Handler struct {
	store  Store
	logger *observability.Logger
}

func NewHandler(store Store, logger *observability.Logger) *Handler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Handler{store: store, logger: logger}
}

func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	profile, err := h.store.GetByID(r.Context(), identity.ID)
	if err != nil {
		h.writeStoreError(w, r, err, "failed to load profile")
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	username, ok := usernameParam(w, r)
	if !ok {
		return
	}

	profile, err := h.store.GetByUsername(r.Context(), username)
	if err != nil {
		h.writeStoreError(w, r, err, "failed to load user")
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

func (h *Handler) UpdateBalance(w http.ResponseWriter, r *http.Request) {
	username, ok := usernameParam(w, r)
	if !ok {
		return
	}

	amount, err := strconv.ParseFloat(strings.TrimSpace(r.URL.Query().Get("amount")), 64)
	if err != nil || math.IsNaN(amount) || math.IsInf(amount, 0) {
		writeError(w, http.StatusBadRequest, "amount must be a number")
		return
	}

	profile, err := h.store.AdjustBalance(r.Context(), username, amount)
	if err != nil {
		h.writeStoreError(w, r, err, "failed to update balance")
		return
	}

	h.logger.Info("user_balance_updated", map[string]any{
		"username": username,
		"amount":   amount,
		"balance":  profile.Balance,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"detail": "User's balance has been updated",
		"user":   profile,
	})
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	username, ok := usernameParam(w, r)
	if !ok {
		return
	}

	profile, err := h.store.ToggleActive(r.Context(), username)
	if err != nil {
		h.writeStoreError(w, r, err, "failed to update status")
		return
	}

	h.logger.Info("user_status_updated", map[string]any{"username": username, "active": profile.Active})
	writeJSON(w, http.StatusOK, map[string]any{
		"detail": "User's status has been updated",
		"user":   profile,
	})
}

func (h *Handler) writeStoreError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		writeError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, ErrNegativeBalance):
		writeError(w, http.StatusUnprocessableEntity, ErrNegativeBalance.Error())
	default:
		observability.CaptureRequestError(r, err)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func usernameParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	username := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("username")))
	if username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return "", false
	}
	return username, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
