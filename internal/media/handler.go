package media

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"moto-store/internal/observability"
)

const (
	maxUploadSizeBytes = 10 << 20
)

type PhotoUploader interface {
	Upload(ctx context.Context, prefix, contentType string, data []byte) (Photo, error)
}

// ArchiveResolver maps an order to the key prefix holding its photos.
type ArchiveResolver interface {
	ArchivePrefix(ctx context.Context, orderID int64) (string, error)
}

type UploadHandler struct {
	uploader PhotoUploader
	archives ArchiveResolver
	logger   *observability.Logger
}

func NewUploadHandler(uploader PhotoUploader, archives ArchiveResolver, logger *observability.Logger) *UploadHandler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &UploadHandler{uploader: uploader, archives: archives, logger: logger}
}

// Upload adds one image to an order's photo archive.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.uploader == nil {
		writeError(w, http.StatusServiceUnavailable, "photo storage is not configured")
		return
	}

	orderID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || orderID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	prefix, err := h.archives.ArchivePrefix(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		observability.CaptureRequestError(r, err)
		writeError(w, http.StatusInternalServerError, "failed to load order")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSizeBytes+(1<<20))
	if err := r.ParseMultipartForm(maxUploadSizeBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSizeBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "file is empty")
		return
	}
	if len(data) > maxUploadSizeBytes {
		writeError(w, http.StatusBadRequest, "file is too large")
		return
	}

	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		writeError(w, http.StatusBadRequest, "file must be an image")
		return
	}

	photo, err := h.uploader.Upload(r.Context(), prefix, contentType, data)
	if err != nil {
		observability.CaptureRequestError(r, err)
		writeError(w, http.StatusBadGateway, "failed to upload photo")
		return
	}

	h.logger.Info("order_photo_uploaded", map[string]any{"order_id": orderID, "key": photo.Key, "size": len(data)})
	writeJSON(w, http.StatusCreated, photo)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
