package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Auth guards the control API with a static key. Clients present it either
// as "Authorization: Bearer <key>" or in the X-API-Key header. An empty
// configured key disables the check entirely, which is the expected setup
// for a localhost-only engine.
func Auth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get("X-API-Key")
			if presented == "" {
				scheme, rest, ok := strings.Cut(r.Header.Get("Authorization"), " ")
				if ok && strings.EqualFold(scheme, "Bearer") {
					presented = strings.TrimSpace(rest)
				}
			}

			// Constant-time compare; a missing key fails the same way as a
			// wrong one.
			if subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1 {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
