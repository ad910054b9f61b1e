// Package auth validates the X-API-Key header against the key store and
// tags each request with its owner identity.
package auth

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/codevat/runbox/internal/store"
)

type contextKey struct{}

var ownerKey contextKey

const headerName = "X-API-Key"

// maxKeyLen bounds the lookup input; real keys are UUID-sized.
const maxKeyLen = 256

// Middleware rejects requests without a known API key. The key itself is
// the tenant token attached to every job the caller submits.
func Middleware(st store.Store, logger *zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(headerName)
			if key == "" || len(key) > maxKeyLen {
				http.Error(w, "missing or invalid API key", http.StatusUnauthorized)
				return
			}

			ok, err := st.KeyExists(r.Context(), key)
			if err != nil {
				logger.Error().Err(err).Msg("api key lookup failed")
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			if !ok {
				http.Error(w, "missing or invalid API key", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ownerKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Owner returns the tenant token the middleware attached, or "" if the
// request never passed through it.
func Owner(r *http.Request) string {
	owner, _ := r.Context().Value(ownerKey).(string)
	return owner
}
