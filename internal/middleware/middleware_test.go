package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sadaqah/pkg/logger"
)

const secret = "test-admin-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

type staticBlacklist map[string]bool

func (b staticBlacklist) IsBlacklisted(_ context.Context, token string) (bool, error) {
	return b[token], nil
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	subject, _ := SubjectFromContext(r.Context())
	w.Header().Set("X-Subject", subject)
	w.WriteHeader(http.StatusOK)
})

func TestRequireAdmin(t *testing.T) {
	admin := signToken(t, jwt.MapClaims{"sub": "admin-1", "user_type": "admin", "exp": time.Now().Add(time.Hour).Unix()})
	donor := signToken(t, jwt.MapClaims{"sub": "user-1", "user_type": "donor", "exp": time.Now().Add(time.Hour).Unix()})
	expired := signToken(t, jwt.MapClaims{"sub": "admin-1", "user_type": "admin", "exp": time.Now().Add(-time.Hour).Unix()})
	revoked := signToken(t, jwt.MapClaims{"user_id": "admin-2", "user_type": "admin", "exp": time.Now().Add(time.Hour).Unix()})

	mw := NewAuthMiddleware(secret, staticBlacklist{revoked: true})
	handler := mw.RequireAdmin(okHandler)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"admin", "Bearer " + admin, http.StatusOK},
		{"donor", "Bearer " + donor, http.StatusForbidden},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"revoked", "Bearer " + revoked, http.StatusUnauthorized},
		{"missing", "", http.StatusUnauthorized},
		{"malformed", "Token " + admin, http.StatusUnauthorized},
		{"garbage", "Bearer abc.def.ghi", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/stripe/create-connected-account", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAuthenticate_SubjectFallsBackToUserID(t *testing.T) {
	token := signToken(t, jwt.MapClaims{"user_id": "admin-9", "user_type": "admin"})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	NewAuthMiddleware(secret, nil).Authenticate(okHandler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin-9", rec.Header().Get("X-Subject"))
}

type memCounter struct {
	counts map[string]int64
	err    error
}

func (c *memCounter) Incr(_ context.Context, key string) *redis.IntCmd {
	if c.err != nil {
		return redis.NewIntResult(0, c.err)
	}
	c.counts[key]++
	return redis.NewIntResult(c.counts[key], nil)
}

func (c *memCounter) Expire(_ context.Context, _ string, _ time.Duration) *redis.BoolCmd {
	return redis.NewBoolResult(true, nil)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(&memCounter{counts: map[string]int64{}}, 2, time.Minute, logger.NewNop(), "/api/stripe/webhook")
	handler := rl.Limit(okHandler)

	send := func(path string) int {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = "203.0.113.7:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("/api/create-payment-intent"))
	assert.Equal(t, http.StatusOK, send("/api/create-payment-intent"))
	assert.Equal(t, http.StatusTooManyRequests, send("/api/create-payment-intent"))
	// Webhooks are never limited.
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, send("/api/stripe/webhook"))
	}
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	rl := NewRateLimiter(&memCounter{err: errors.New("connection refused")}, 1, time.Minute, logger.NewNop())
	rec := httptest.NewRecorder()

	rl.Limit(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS_ConfiguredOrigins(t *testing.T) {
	handler := CORS([]string{"https://sadaqah.example"})(okHandler)

	req := httptest.NewRequest(http.MethodOptions, "/api/checkout", nil)
	req.Header.Set("Origin", "https://sadaqah.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://sadaqah.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodPost, "/api/checkout", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecovery(t *testing.T) {
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { panic("boom") })
	rec := httptest.NewRecorder()

	Recovery(logger.NewNop())(panicking).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, rec.Body.String())
}

func TestCorrelationID(t *testing.T) {
	var seen string
	handler := CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", seen)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestCorrelationID_ReplacesUnsafeID(t *testing.T) {
	var seen string
	handler := CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "bad id\twith spaces")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.NotEqual(t, "bad id\twith spaces", seen)
	assert.Len(t, seen, 36)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))
}
