package maintenance

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"moto-store/internal/observability"
)

// AttemptPruner deletes login attempt rows that are no longer locked.
type AttemptPruner interface {
	DeleteStaleLoginAttempts(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

// CodeCounter reports how many verification codes are waiting to be confirmed.
type CodeCounter interface {
	Pending() int
}

type CleanupHandler struct {
	attempts              AttemptPruner
	codes                 CodeCounter
	logger                *observability.Logger
	cronSecret            string
	loginAttemptRetention time.Duration
	batchSize             int
	now                   func() time.Time
}

func NewCleanupHandler(
	attempts AttemptPruner,
	codes CodeCounter,
	logger *observability.Logger,
	cronSecret string,
	loginAttemptRetention time.Duration,
	batchSize int,
) *CleanupHandler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	return &CleanupHandler{
		attempts:              attempts,
		codes:                 codes,
		logger:                logger,
		cronSecret:            strings.TrimSpace(cronSecret),
		loginAttemptRetention: loginAttemptRetention,
		batchSize:             batchSize,
		now:                   time.Now,
	}
}

type cleanupResult struct {
	DeletedLoginAttempts int64 `json:"deleted_login_attempts"`
	PendingCodes         int   `json:"pending_codes"`
}

// Handle is hidden (404) until CRON_SECRET is configured.
func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") ||
		subtle.ConstantTimeCompare([]byte(strings.TrimSpace(parts[1])), []byte(h.cronSecret)) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	cutoff := h.now().UTC().Add(-h.loginAttemptRetention)
	deleted, err := h.attempts.DeleteStaleLoginAttempts(r.Context(), cutoff, h.batchSize)
	if err != nil {
		observability.CaptureRequestError(r, err)
		h.logger.Error("auth_cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	result := cleanupResult{DeletedLoginAttempts: deleted}
	if h.codes != nil {
		result.PendingCodes = h.codes.Pending()
	}

	h.logger.Info("auth_cleanup_completed", map[string]any{
		"deleted_login_attempts": result.DeletedLoginAttempts,
		"pending_codes":          result.PendingCodes,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
