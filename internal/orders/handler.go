package orders

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
	"moto-store/internal/media"
	"moto-store/internal/observability"
	"moto-store/internal/users"
)

const maxJSONBodyBytes = 1 << 20

type Store interface {
	Get(ctx context.Context, id int64) (Order, error)
	ListPaid(ctx context.Context, tgID int64) ([]Order, error)
	Create(ctx context.Context, tgID int64, input CreateInput) (Order, error)
	MarkPaid(ctx context.Context, id int64) (Order, error)
}

type PhotoLister interface {
	List(ctx context.Context, prefix string) ([]media.Photo, error)
}

type Handler struct {
	store  Store
	users  users.Lookup
	photos PhotoLister
	logger *observability.Logger
}

// NewHandler builds the orders handler. photos may be nil when object
// storage is not configured; orders are then served without photos.
func NewHandler(store Store, lookup users.Lookup, photos PhotoLister, logger *observability.Logger) *Handler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Handler{store: store, users: lookup, photos: photos, logger: logger}
}

func (h *Handler) Detail(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	order, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err, "failed to load order")
		return
	}

	profile, err := h.users.GetByID(r.Context(), identity.ID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		observability.CaptureRequestError(r, err)
		writeError(w, http.StatusInternalServerError, "failed to load order")
		return
	}
	if err != nil || !sameAccount(profile.TgID, order.TgID) {
		writeError(w, http.StatusForbidden, "This is not your order!")
		return
	}

	if h.photos != nil && order.OrderArchive != nil && *order.OrderArchive != "" {
		photos, err := h.photos.List(r.Context(), *order.OrderArchive)
		if err != nil {
			observability.CaptureRequestError(r, err)
			h.logger.Warn("order_photos_unavailable", map[string]any{"order_id": order.ID, "error": err})
		} else {
			order.Photos = photos
		}
	}

	writeJSON(w, http.StatusOK, order)
}

// MyOrders lists the caller's paid orders.
func (h *Handler) MyOrders(w http.ResponseWriter, r *http.Request) {
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
	h.writePaidOrders(w, r, profile)
}

func (h *Handler) UserOrders(w http.ResponseWriter, r *http.Request) {
	username := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("username")))
	if username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}

	profile, err := h.users.GetByUsername(r.Context(), username)
	if err != nil {
		writeLookupError(w, r, err)
		return
	}
	h.writePaidOrders(w, r, profile)
}

func (h *Handler) writePaidOrders(w http.ResponseWriter, r *http.Request, profile users.Profile) {
	if profile.TgID == nil {
		writeJSON(w, http.StatusOK, []Order{})
		return
	}

	orders, err := h.store.ListPaid(r.Context(), *profile.TgID)
	if err != nil {
		observability.CaptureRequestError(r, err)
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var input CreateInput
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	input.Username = strings.ToLower(strings.TrimSpace(input.Username))
	input.Model = strings.TrimSpace(input.Model)
	switch {
	case input.Username == "":
		writeError(w, http.StatusBadRequest, "username is required")
		return
	case input.Model == "":
		writeError(w, http.StatusBadRequest, "model is required")
		return
	case input.Quantity < 0:
		writeError(w, http.StatusBadRequest, "quantity must be >= 0")
		return
	case input.Purchase < 0 || math.IsNaN(input.Purchase):
		writeError(w, http.StatusBadRequest, "purchase must be >= 0")
		return
	case (input.CC != nil && *input.CC < 0) || (input.Horsepower != nil && *input.Horsepower < 0):
		writeError(w, http.StatusBadRequest, "cc and horsepower must be >= 0")
		return
	}

	profile, err := h.users.GetByUsername(r.Context(), input.Username)
	if err != nil {
		writeLookupError(w, r, err)
		return
	}
	if profile.TgID == nil {
		writeError(w, http.StatusConflict, "user has no messaging account")
		return
	}

	order, err := h.store.Create(r.Context(), *profile.TgID, input)
	if err != nil {
		writeStoreError(w, r, err, "failed to create order")
		return
	}

	h.logger.Info("order_created", map[string]any{"order_id": order.ID, "user_id": profile.ID, "model": order.Model})
	writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	order, err := h.store.MarkPaid(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err, "failed to update order")
		return
	}

	h.logger.Info("order_paid", map[string]any{"order_id": order.ID})
	writeJSON(w, http.StatusOK, order)
}

func sameAccount(a, b *int64) bool {
	return a != nil && b != nil && *a == *b
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return 0, false
	}
	return id, true
}

func writeStoreError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, ErrUnknownReference):
		writeError(w, http.StatusUnprocessableEntity, ErrUnknownReference.Error())
	default:
		observability.CaptureRequestError(r, err)
		writeError(w, http.StatusInternalServerError, fallback)
	}
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
