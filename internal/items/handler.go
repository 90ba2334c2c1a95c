package items

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"moto-store/internal/catalog"
	"moto-store/internal/observability"
)

const maxJSONBodyBytes = 1 << 20

type Store interface {
	List(ctx context.Context, model string) ([]Item, error)
	Get(ctx context.Context, id int64) (Item, error)
	Create(ctx context.Context, input Input) (Item, error)
	Update(ctx context.Context, id int64, input Input) (Item, error)
	Delete(ctx context.Context, id int64) error
}

type ModelLookup interface {
	GetModel(ctx context.Context, model string) (catalog.Model, error)
}

type Handler struct {
	store  Store
	models ModelLookup
}

func NewHandler(store Store, models ModelLookup) *Handler {
	return &Handler{store: store, models: models}
}

func (h *Handler) ListAll(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.List(r.Context(), "")
	if err != nil {
		observability.CaptureRequestError(r, err)
		writeError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) ListByModel(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("model")
	if !h.modelExists(w, r, model) {
		return
	}

	items, err := h.store.List(r.Context(), model)
	if err != nil {
		observability.CaptureRequestError(r, err)
		writeError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) Detail(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	item, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err, "failed to load item")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	input, ok := parseInput(w, r)
	if !ok {
		return
	}
	if !h.modelExists(w, r, input.Model) {
		return
	}

	item, err := h.store.Create(r.Context(), input)
	if err != nil {
		writeStoreError(w, r, err, "failed to create item")
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	input, ok := parseInput(w, r)
	if !ok {
		return
	}
	if !h.modelExists(w, r, input.Model) {
		return
	}

	item, err := h.store.Update(r.Context(), id, input)
	if err != nil {
		writeStoreError(w, r, err, "failed to update item")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		writeStoreError(w, r, err, "failed to delete item")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) modelExists(w http.ResponseWriter, r *http.Request, model string) bool {
	if _, err := h.models.GetModel(r.Context(), model); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "Model not found")
			return false
		}
		observability.CaptureRequestError(r, err)
		writeError(w, http.StatusInternalServerError, "failed to load model")
		return false
	}
	return true
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return 0, false
	}
	return id, true
}

func parseInput(w http.ResponseWriter, r *http.Request) (Input, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var input Input
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return Input{}, false
	}

	input.Model = strings.TrimSpace(input.Model)
	if input.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return Input{}, false
	}
	if input.CC < 0 {
		writeError(w, http.StatusBadRequest, "cc must be >= 0")
		return Input{}, false
	}
	if input.Horsepower < 0 {
		writeError(w, http.StatusBadRequest, "horsepower must be >= 0")
		return Input{}, false
	}
	if input.Price < 0 || math.IsNaN(input.Price) {
		writeError(w, http.StatusBadRequest, "price must be >= 0")
		return Input{}, false
	}

	return input, true
}

func writeStoreError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		writeError(w, http.StatusNotFound, "Motorbike not found")
	case errors.Is(err, ErrDuplicateRow):
		writeError(w, http.StatusUnprocessableEntity, ErrDuplicateRow.Error())
	default:
		observability.CaptureRequestError(r, err)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
