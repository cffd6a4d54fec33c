package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"time"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/port/cache"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	maxIdempotencyBody   = 1 << 20 // 1 MB
	idempotencyPrefix    = "idem:"
)

// perRequestHeaders are never replayed from a stored response.
var perRequestHeaders = map[string]struct{}{
	headerRequestID:         {},
	"X-Ratelimit-Remaining": {},
	"X-Ratelimit-Reset":     {},
}

// idempotencyEntry stores a cached HTTP response.
type idempotencyEntry struct {
	StatusCode int                 `json:"status_code"`
	Headers    map[string][]string `json:"headers"`
	Body       []byte              `json:"body"`
}

// Idempotency returns middleware that replays the stored response of a
// mutating request carrying an Idempotency-Key header already seen for the
// same organization. Server errors are not stored so clients can retry.
func Idempotency(c cache.Cache, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(headerIdempotencyKey)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			key = idempotencyPrefix + OrganizationIDFromContext(r.Context()) + ":" + r.Method + ":" + r.URL.Path + ":" + key

			var cached idempotencyEntry
			ok, err := cache.GetJSON(r.Context(), c, key, &cached)
			switch {
			case err != nil:
				slog.WarnContext(r.Context(), "idempotency: cache read failed", "key", key, "error", err)
			case ok:
				for k, vals := range cached.Headers {
					if _, skip := perRequestHeaders[k]; skip {
						continue
					}
					w.Header()[k] = vals
				}
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(cached.StatusCode)
				_, _ = w.Write(cached.Body)
				return
			}

			rec := &responseRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
				body:           &bytes.Buffer{},
			}
			next.ServeHTTP(rec, r)

			if rec.statusCode >= http.StatusInternalServerError || rec.body.Len() > maxIdempotencyBody {
				return
			}
			entry := idempotencyEntry{
				StatusCode: rec.statusCode,
				Headers:    w.Header().Clone(),
				Body:       rec.body.Bytes(),
			}
			if err := cache.SetJSON(r.Context(), c, key, entry, ttl); err != nil {
				slog.WarnContext(r.Context(), "idempotency: failed to store response", "key", key, "error", err)
			}
		})
	}
}

// responseRecorder wraps http.ResponseWriter to capture the response.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
