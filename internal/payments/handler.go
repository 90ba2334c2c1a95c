package payments

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"moto-store/internal/auth"
	"moto-store/internal/observability"
	"moto-store/internal/users"
)

const maxJSONBodyBytes = 1 << 20

type Store interface {
	ListConfirmed(ctx context.Context, tgID int64) ([]Payment, error)
	Create(ctx context.Context, tgID int64, amount float64) (Payment, error)
	Confirm(ctx context.Context, paymentUUID string) (Payment, error)
}

type Handler struct {
	store  Store
	users  users.Lookup
	logger *observability.Logger
}

func NewHandler(store Store, lookup users.Lookup, logger *observability.Logger) *Handler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Handler{store: store, users: lookup, logger: logger}
}

type createRequest struct {
	Username string  `json:"username"`
	Amount   float64 `json:"amount"`
}

// MyPayments lists the caller's confirmed payments.
func (h *Handler) MyPayments(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	profile, err := h.users.GetByID(r.Context(), identity.ID)
	if err != nil {
		writeLookupError(w, r, err)
		return
	}
	if profile.TgID == nil {
		writeJSON(w, http.StatusOK, []Payment{})
		return
	}

	payments, err := h.store.ListConfirmed(r.Context(), *profile.TgID)
	if err != nil {
		observability.CaptureRequestError(r, err)
		writeError(w, http.StatusInternalServerError, "failed to list payments")
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body createRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	body.Username = strings.ToLower(strings.TrimSpace(body.Username))
	if body.Username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}
	if body.Amount <= 0 || math.IsNaN(body.Amount) || math.IsInf(body.Amount, 0) {
		writeError(w, http.StatusBadRequest, "amount must be > 0")
		return
	}

	profile, err := h.users.GetByUsername(r.Context(), body.Username)
	if err != nil {
		writeLookupError(w, r, err)
		return
	}
	if profile.TgID == nil {
		writeError(w, http.StatusConflict, "user has no messaging account")
		return
	}

	payment, err := h.store.Create(r.Context(), *profile.TgID, body.Amount)
	if err != nil {
		observability.CaptureRequestError(r, err)
		writeError(w, http.StatusInternalServerError, "failed to create payment")
		return
	}

	h.logger.Info("payment_created", map[string]any{"uuid": payment.UUID, "user_id": profile.ID, "amount": payment.Amount})
	writeJSON(w, http.StatusCreated, payment)
}

func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	paymentUUID := r.PathValue("uuid")
	if _, err := uuid.Parse(paymentUUID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payment uuid")
		return
	}

	payment, err := h.store.Confirm(r.Context(), paymentUUID)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			writeError(w, http.StatusNotFound, "payment not found")
		case errors.Is(err, ErrAlreadyConfirmed):
			writeError(w, http.StatusConflict, ErrAlreadyConfirmed.Error())
		default:
			observability.CaptureRequestError(r, err)
			writeError(w, http.StatusInternalServerError, "failed to confirm payment")
		}
		return
	}

	h.logger.Info("payment_confirmed", map[string]any{"uuid": payment.UUID, "amount": payment.Amount})
	writeJSON(w, http.StatusOK, payment)
}

func writeLookupError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	observability.CaptureRequestError(r, err)
	writeError(w, http.StatusInternalServerError, "failed to load user")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
