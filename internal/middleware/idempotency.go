// Package middleware provides shared HTTP middleware utilities.
package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	kyderrors "sadaqah/pkg/errors"
	"sadaqah/pkg/logger"
)

// IdempotencyMiddleware replays the stored response for a repeated
// Idempotency-Key. Requests without the header pass through untouched.
type IdempotencyMiddleware struct {
	cache  *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

// NewIdempotencyMiddleware constructs an IdempotencyMiddleware with a TTL.
func NewIdempotencyMiddleware(cache *redis.Client, ttl time.Duration, log logger.Logger) *IdempotencyMiddleware {
	return &IdempotencyMiddleware{
		cache:  cache,
		ttl:    ttl,
		logger: log,
	}
}

// Replay serves a cached response for a POST carrying an Idempotency-Key the
// same path has already answered. Only 2xx responses are stored so a failed
// attempt can be retried under the same key. A key reused with a different
// body is answered 422 instead of replaying another request's response.
func (m *IdempotencyMiddleware) Replay(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if r.Method != http.MethodPost || key == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > 255 {
			jsonError(w, http.StatusBadRequest, "Idempotency-Key too long")
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxFingerprintBody))
		if err != nil {
			jsonError(w, http.StatusBadRequest, "Failed to read request body")
			return
		}
		r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))
		sum := sha256.Sum256(body)
		fingerprint := hex.EncodeToString(sum[:])

		dataKey := fmt.Sprintf("idempotency:data:%s:%s", r.URL.Path, key)
		lockKey := fmt.Sprintf("idempotency:lock:%s:%s", r.URL.Path, key)

		if m.replayCached(w, r, dataKey, fingerprint) {
			return
		}

		requestID := RequestIDFromContext(r.Context())
		if requestID == "" {
			requestID = "unknown"
		}

		ok, err := m.cache.SetNX(r.Context(), lockKey, requestID, m.ttl).Result()
		if err != nil {
			// The provider-side idempotency key still protects the charge.
			m.logger.Warn("Idempotency store unavailable", map[string]interface{}{"error": err.Error()})
			next.ServeHTTP(w, r)
			return
		}

		if !ok {
			// Another request with this key is in flight; wait for its answer (up to 5s).
			for i := 0; i < 50; i++ {
				select {
				case <-r.Context().Done():
					return
				case <-time.After(100 * time.Millisecond):
				}
				if m.replayCached(w, r, dataKey, fingerprint) {
					return
				}
			}
			jsonError(w, http.StatusConflict, kyderrors.ErrDuplicateRequest.Error())
			return
		}
		defer m.cache.Del(r.Context(), lockKey)

		cw := newCaptureWriter(w, 1<<20)
		next.ServeHTTP(cw, r)

		if err := m.cacheResponse(r, dataKey, fingerprint, cw); err != nil {
			m.logger.Warn("Failed to store idempotent response", map[string]interface{}{"error": err.Error()})
		}
	})
}

// maxFingerprintBody covers every JSON body the replayed routes accept.
const maxFingerprintBody = 1 << 20

type capturedResponse struct {
	Status      int               `json:"status"`
	Body        []byte            `json:"body"`
	Headers     map[string]string `json:"headers"`
	Fingerprint string            `json:"fingerprint"`
}

func (m *IdempotencyMiddleware) replayCached(w http.ResponseWriter, r *http.Request, dataKey, fingerprint string) bool {
	payload, err := m.cache.Get(r.Context(), dataKey).Bytes()
	if err != nil {
		return false
	}

	var cr capturedResponse
	if err := json.Unmarshal(payload, &cr); err != nil {
		return false
	}

	if cr.Fingerprint != fingerprint {
		m.logger.Warn("Idempotency-Key reused with a different body", map[string]interface{}{
			"path":       r.URL.Path,
			"request_id": RequestIDFromContext(r.Context()),
		})
		jsonError(w, http.StatusUnprocessableEntity, "Idempotency-Key was already used with a different request body")
		return true
	}

	for k, v := range cr.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(cr.Status)
	_, _ = w.Write(cr.Body)
	return true
}

func (m *IdempotencyMiddleware) cacheResponse(r *http.Request, dataKey, fingerprint string, cw *captureWriter) error {
	if cw.status < 200 || cw.status >= 300 || len(cw.buf) == 0 || cw.truncated {
		return nil
	}

	payload, err := json.Marshal(capturedResponse{
		Status:      cw.status,
		Body:        cw.buf,
		Headers:     cw.headers,
		Fingerprint: fingerprint,
	})
	if err != nil {
		return err
	}
	return m.cache.Set(r.Context(), dataKey, payload, m.ttl).Err()
}

type captureWriter struct {
	http.ResponseWriter
	buf       []byte
	limit     int
	status    int
	truncated bool
	headers   map[string]string
}

func newCaptureWriter(w http.ResponseWriter, limit int) *captureWriter {
	return &captureWriter{
		ResponseWriter: w,
		buf:            make([]byte, 0, 1024),
		limit:          limit,
		headers:        make(map[string]string),
	}
}

func (w *captureWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	for k, v := range w.ResponseWriter.Header() {
		if len(v) > 0 {
			w.headers[k] = v[0]
		}
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *captureWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	space := w.limit - len(w.buf)
	if len(p) > space {
		w.truncated = true
		if space > 0 {
			w.buf = append(w.buf, p[:space]...)
		}
	} else {
		w.buf = append(w.buf, p...)
	}
	return w.ResponseWriter.Write(p)
}
