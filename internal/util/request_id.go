package util

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// RequestIDHeader carries the request id on both requests and responses.
const RequestIDHeader = "X-Request-Id"

type requestIDKey struct{}

// WithRequestID assigns each request an id, reusing the caller's when one is
// supplied. The id is echoed on the response and a slog.Logger tagged with it
// is placed in the request context for LoggerFromContext.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" {
			id = NewID()
		}
		w.Header().Set(RequestIDHeader, id)

		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		ctx = ContextWithLogger(ctx, slog.Default().With("request_id", id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the id assigned by WithRequestID, empty when absent.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
