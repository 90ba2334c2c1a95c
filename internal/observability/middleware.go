package observability

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-ID"

type requestFieldsKey struct{}

// requestFields collects values set further down the handler chain, such as
// the authenticated user, so the access log line can carry them.
type requestFields struct {
	mu     sync.Mutex
	values map[string]any
}

// AnnotateRequest adds a field to the access log entry of the request that
// owns ctx. It is a no-op outside RequestLoggingMiddleware.
func AnnotateRequest(ctx context.Context, key string, value any) {
	fields, ok := ctx.Value(requestFieldsKey{}).(*requestFields)
	if !ok {
		return
	}
	fields.mu.Lock()
	fields.values[key] = value
	fields.mu.Unlock()
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// RequestLoggingMiddleware writes one http_request entry per request and
// echoes a request id, reusing the caller's X-Request-ID when it sends one.
func RequestLoggingMiddleware(logger *Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		fields := &requestFields{values: map[string]any{}}
		ctx := context.WithValue(r.Context(), requestFieldsKey{}, fields)

		recorder := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r.WithContext(ctx))

		fields.mu.Lock()
		entry := make(map[string]any, len(fields.values)+7)
		for k, v := range fields.values {
			entry[k] = v
		}
		fields.mu.Unlock()

		entry["request_id"] = requestID
		entry["method"] = r.Method
		entry["path"] = r.URL.Path
		entry["status"] = recorder.status
		entry["bytes"] = recorder.bytes
		entry["duration_ms"] = time.Since(start).Milliseconds()
		entry["ip"] = ClientIP(r)

		switch {
		case recorder.status >= http.StatusInternalServerError:
			logger.Error("http_request", entry)
		default:
			logger.Info("http_request", entry)
		}
	})
}

func RecoverMiddleware(logger *Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			requestID := w.Header().Get(RequestIDHeader)
			sentry.WithScope(func(scope *sentry.Scope) {
				scope.SetTag("request_id", requestID)
				scope.SetExtra("panic", rec)
				scope.SetExtra("stack", string(debug.Stack()))
				sentry.CaptureMessage("panic in " + r.Method + " " + r.URL.Path)
			})

			logger.Error("panic_recovered", map[string]any{
				"request_id": requestID,
				"path":       r.URL.Path,
				"method":     r.Method,
				"panic":      rec,
			})

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
		}()

		next.ServeHTTP(w, r)
	})
}

// ClientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// socket address without its port.
func ClientIP(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}

	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
