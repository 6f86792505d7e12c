package middleware

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/gally-search/pkg/logger"
)

// RequestLogger stores a request-scoped logger in the context. The logger
// carries the correlation id, the API client and the trace ids, so it must
// run after RequestLogging, Tracing and APIKeyAuth.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if client := ClientFromContext(ctx); client != "" {
				ctx = logger.WithClientID(ctx, client)
			}

			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
