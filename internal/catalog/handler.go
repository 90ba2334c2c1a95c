package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"moto-store/internal/observability"
)

const (
	maxJSONBodyBytes = 1 << 20
	maxNameLength    = 100
)

type Store interface {
	ListManufacturers(ctx context.Context) ([]Manufacturer, error)
	GetManufacturer(ctx context.Context, name string) (Manufacturer, error)
	CreateManufacturer(ctx context.Context, input ManufacturerInput) (Manufacturer, error)
	UpdateManufacturer(ctx context.Context, name string, input ManufacturerInput) (Manufacturer, error)
	DeleteManufacturer(ctx context.Context, name string) error
	ListModels(ctx context.Context, manufacturer string, inStock bool) ([]Model, error)
	GetModel(ctx context.Context, model string) (Model, error)
	CreateModel(ctx context.Context, input ModelInput) (Model, error)
	UpdateModel(ctx context.Context, model string, input ModelInput) (Model, error)
	DeleteModel(ctx context.Context, model string) error
}

type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) ListManufacturers(w http.ResponseWriter, r *http.Request) {
	marks, err := h.store.ListManufacturers(r.Context())
	if err != nil {
		observability.CaptureRequestError(r, err)
		writeError(w, http.StatusInternalServerError, "failed to list manufacturers")
		return
	}
	writeJSON(w, http.StatusOK, marks)
}

func (h *Handler) GetManufacturer(w http.ResponseWriter, r *http.Request) {
	mark, err := h.store.GetManufacturer(r.Context(), r.PathValue("mark"))
	if err != nil {
		writeStoreError(w, r, err, "Category", "failed to load manufacturer")
		return
	}
	writeJSON(w, http.StatusOK, mark)
}

func (h *Handler) CreateManufacturer(w http.ResponseWriter, r *http.Request) {
	input, ok := parseManufacturer(w, r)
	if !ok {
		return
	}

	if _, err := h.store.GetManufacturer(r.Context(), input.Name); err == nil {
		writeError(w, http.StatusUnprocessableEntity, "Category already exists.")
		return
	} else if !errors.Is(err, sql.ErrNoRows) {
		writeStoreError(w, r, err, "Category", "failed to create manufacturer")
		return
	}

	mark, err := h.store.CreateManufacturer(r.Context(), input)
	if err != nil {
		writeStoreError(w, r, err, "Category", "failed to create manufacturer")
		return
	}
	writeJSON(w, http.StatusCreated, mark)
}

func (h *Handler) UpdateManufacturer(w http.ResponseWriter, r *http.Request) {
	name, ok := queryParam(w, r, "mark")
	if !ok {
		return
	}
	input, ok := parseManufacturer(w, r)
	if !ok {
		return
	}

	mark, err := h.store.UpdateManufacturer(r.Context(), name, input)
	if err != nil {
		writeStoreError(w, r, err, "Category", "failed to update manufacturer")
		return
	}
	writeJSON(w, http.StatusOK, mark)
}

func (h *Handler) DeleteManufacturer(w http.ResponseWriter, r *http.Request) {
	name, ok := queryParam(w, r, "mark")
	if !ok {
		return
	}

	if err := h.store.DeleteManufacturer(r.Context(), name); err != nil {
		writeStoreError(w, r, err, "Category", "failed to delete manufacturer")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	h.listModels(w, r, "", false)
}

func (h *Handler) ListModelsInStock(w http.ResponseWriter, r *http.Request) {
	h.listModels(w, r, "", true)
}

func (h *Handler) ManufacturerModels(w http.ResponseWriter, r *http.Request) {
	h.listManufacturerModels(w, r, false)
}

func (h *Handler) ManufacturerModelsInStock(w http.ResponseWriter, r *http.Request) {
	h.listManufacturerModels(w, r, true)
}

func (h *Handler) listManufacturerModels(w http.ResponseWriter, r *http.Request, inStock bool) {
	mark := r.PathValue("mark")
	if _, err := h.store.GetManufacturer(r.Context(), mark); err != nil {
		writeStoreError(w, r, err, "Category", "failed to list models")
		return
	}
	h.listModels(w, r, mark, inStock)
}

func (h *Handler) listModels(w http.ResponseWriter, r *http.Request, manufacturer string, inStock bool) {
	models, err := h.store.ListModels(r.Context(), manufacturer, inStock)
	if err != nil {
		observability.CaptureRequestError(r, err)
		writeError(w, http.StatusInternalServerError, "failed to list models")
		return
	}
	writeJSON(w, http.StatusOK, models)
}

func (h *Handler) ModelDetail(w http.ResponseWriter, r *http.Request) {
	model, err := h.store.GetModel(r.Context(), r.PathValue("model"))
	if err != nil {
		writeStoreError(w, r, err, "Model", "failed to load model")
		return
	}
	writeJSON(w, http.StatusOK, model)
}

func (h *Handler) CreateModel(w http.ResponseWriter, r *http.Request) {
	input, ok := parseModel(w, r)
	if !ok {
		return
	}

	if _, err := h.store.GetManufacturer(r.Context(), input.Manufacturer); err != nil {
		writeStoreError(w, r, err, "Category", "failed to create model")
		return
	}

	model, err := h.store.CreateModel(r.Context(), input)
	if err != nil {
		writeStoreError(w, r, err, "Model", "failed to create model")
		return
	}
	writeJSON(w, http.StatusCreated, model)
}

func (h *Handler) UpdateModel(w http.ResponseWriter, r *http.Request) {
	input, ok := parseModel(w, r)
	if !ok {
		return
	}

	if _, err := h.store.GetManufacturer(r.Context(), input.Manufacturer); err != nil {
		writeStoreError(w, r, err, "Category", "failed to update model")
		return
	}

	model, err := h.store.UpdateModel(r.Context(), r.PathValue("model"), input)
	if err != nil {
		writeStoreError(w, r, err, "Model", "failed to update model")
		return
	}
	writeJSON(w, http.StatusOK, model)
}

func (h *Handler) DeleteModel(w http.ResponseWriter, r *http.Request) {
	name, ok := queryParam(w, r, "model")
	if !ok {
		return
	}

	if err := h.store.DeleteModel(r.Context(), name); err != nil {
		writeStoreError(w, r, err, "Model", "failed to delete model")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseManufacturer(w http.ResponseWriter, r *http.Request) (ManufacturerInput, bool) {
	var input ManufacturerInput
	if !decodeJSON(w, r, &input) {
		return ManufacturerInput{}, false
	}

	input.Name = strings.TrimSpace(input.Name)
	if !validName(input.Name) {
		writeError(w, http.StatusBadRequest, "name is invalid")
		return ManufacturerInput{}, false
	}
	input.Country = trimOptional(input.Country)

	return input, true
}

func parseModel(w http.ResponseWriter, r *http.Request) (ModelInput, bool) {
	var input ModelInput
	if !decodeJSON(w, r, &input) {
		return ModelInput{}, false
	}

	input.Manufacturer = strings.TrimSpace(input.Manufacturer)
	input.Model = strings.TrimSpace(input.Model)
	if !validName(input.Manufacturer) {
		writeError(w, http.StatusBadRequest, "manufacturer is invalid")
		return ModelInput{}, false
	}
	if !validName(input.Model) {
		writeError(w, http.StatusBadRequest, "model is invalid")
		return ModelInput{}, false
	}
	if input.Quantity < 0 {
		writeError(w, http.StatusBadRequest, "quantity must be >= 0")
		return ModelInput{}, false
	}
	input.Type = trimOptional(input.Type)
	input.SortType = trimOptional(input.SortType)

	return input, true
}

func validName(value string) bool {
	return value != "" && utf8.ValidString(value) && len(value) <= maxNameLength && !strings.Contains(value, "/")
}

func trimOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func queryParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	value := strings.TrimSpace(r.URL.Query().Get(name))
	if value == "" {
		writeError(w, http.StatusBadRequest, name+" is required")
		return "", false
	}
	return value, true
}

func writeStoreError(w http.ResponseWriter, r *http.Request, err error, entity, fallback string) {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		writeError(w, http.StatusNotFound, entity+" not found")
	case errors.Is(err, ErrManufacturerNotFound):
		writeError(w, http.StatusNotFound, "Category not found")
	case errors.Is(err, ErrDuplicate):
		writeError(w, http.StatusUnprocessableEntity, entity+" already exists.")
	default:
		observability.CaptureRequestError(r, err)
		writeError(w, http.StatusInternalServerError, fallback)
	}
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
