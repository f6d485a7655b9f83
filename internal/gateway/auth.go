package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/flemzord/taleturn/internal/security"
)

// authMiddleware validates Bearer token or Basic auth credentials using
// constant-time comparison. With allowQuery, the bearer token may also
// be passed as the access_token query parameter.
func authMiddleware(cfg AuthConfig, audit *security.AuditLogger, allowQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.BearerToken != "" {
				if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && constantTimeEqual(token, cfg.BearerToken) {
					next.ServeHTTP(w, r)
					return
				}
				if allowQuery {
					if token := r.URL.Query().Get("access_token"); token != "" && constantTimeEqual(token, cfg.BearerToken) {
						next.ServeHTTP(w, r)
						return
					}
				}
			}

			if cfg.BasicUser != "" && cfg.BasicPass != "" {
				user, pass, ok := r.BasicAuth()
				if ok && constantTimeEqual(user, cfg.BasicUser) && constantTimeEqual(pass, cfg.BasicPass) {
					next.ServeHTTP(w, r)
					return
				}
			}

			audit.Log(security.AuditEvent{
				Type:       security.EventAuthFailure,
				RemoteAddr: r.RemoteAddr,
				Detail:     "invalid or missing credentials",
				Metadata:   map[string]string{"method": r.Method, "path": r.URL.Path},
			})
			writeError(w, http.StatusUnauthorized, "unauthorized")
		})
	}
}

// constantTimeEqual compares two strings in constant time.
func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
