package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKeyType string

const clientKey contextKeyType = "client"

// APIKeys maps a bearer token to the name of the client presenting it.
type APIKeys map[string]string

// lookup compares the token against every key in constant time.
func (k APIKeys) lookup(token string) (string, bool) {
	client, found := "", false
	for key, name := range k {
		if subtle.ConstantTimeCompare([]byte(key), []byte(token)) == 1 {
			client, found = name, true
		}
	}
	return client, found
}

// APIKeyAuth protects admin endpoints with static bearer tokens. The client
// name bound to the token is stored in the request context. An empty key set
// disables the check.
func APIKeyAuth(keys APIKeys) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(keys) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeAuthError(w, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeAuthError(w, "invalid authorization header format")
				return
			}

			client, ok := keys.lookup(strings.TrimSpace(parts[1]))
			if !ok {
				writeAuthError(w, "invalid api key")
				return
			}

			ctx := context.WithValue(r.Context(), clientKey, client)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientFromContext returns the client authenticated by APIKeyAuth.
func ClientFromContext(ctx context.Context) string {
	if c, ok := ctx.Value(clientKey).(string); ok {
		return c
	}
	return ""
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    "UNAUTHORIZED",
			"message": message,
		},
	})
}
