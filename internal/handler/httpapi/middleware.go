package httpapi

import (
	"crypto/subtle"
	"net/http"
)

// SecretHeader authenticates the privileged control plane.
const SecretHeader = "X-Channelstream-Secret"

// RequireSecret rejects requests whose shared-secret header does not
// match the configured value.
func RequireSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(SecretHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid secret"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireBasicAuth guards the admin endpoint with HTTP basic auth.
func RequireBasicAuth(username, password string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(user), []byte(username)) != 1 ||
				subtle.ConstantTimeCompare([]byte(pass), []byte(password)) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="channelstream admin"`)
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
