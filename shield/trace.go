package shield

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/omnifetch/kit"
)

// TraceID is TraceIDWith(slog.Default()).
func TraceID(next http.Handler) http.Handler {
	return TraceIDWith(nil)(next)
}

// TraceIDWith generates a random trace ID for each request and injects it
// into the context, the X-Trace-ID response header, and a per-request
// logger derived from base. An incoming X-Trace-ID is kept.
func TraceIDWith(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := r.Header.Get("X-Trace-ID")
			if !validTraceID(traceID) {
				id := make([]byte, 8)
				rand.Read(id)
				traceID = hex.EncodeToString(id)
			}

			ctx := kit.WithTraceID(r.Context(), traceID)
			w.Header().Set("X-Trace-ID", traceID)

			l := base
			if l == nil {
				l = slog.Default()
			}
			logger := l.With(
				"trace_id", traceID,
				"method", r.Method,
				"path", r.URL.Path,
			)
			ctx = context.WithValue(ctx, LoggerKey, logger)
			logger.Debug("request", "remote_addr", r.RemoteAddr)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validTraceID(s string) bool {
	if s == "" || len(s) > 64 {
		return false
	}
	for _, c := range s {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-') {
			return false
		}
	}
	return true
}
