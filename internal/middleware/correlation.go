// Package middleware holds the HTTP middleware shared by the donation API routes.
package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type correlationKey struct{}

const (
	headerRequestID   = "X-Request-ID"
	maxRequestIDBytes = 128
)

// CorrelationID tags the request with the caller's X-Request-ID when it is
// usable, or a new UUID, and echoes it on the response.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), correlationKey{}, id)))
	})
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// validRequestID accepts short printable ASCII so the id is safe to log and echo.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDBytes {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
