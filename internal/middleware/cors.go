// Package middleware provides HTTP middleware for the support desk API.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

var (
	allowMethods  = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	allowHeaders  = []string{"Content-Type", "X-Session-Id"}
	exposeHeaders = []string{"X-Session-Id", "X-Agent-Name", "X-Session-Stage"}
)

const preflightMaxAge = 600

// CORS returns middleware that answers cross-origin requests from
// allowedOrigins. "*" admits any origin but never with credentials, since the
// visitor cookie must only travel to explicitly trusted frontends.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	explicit := make(map[string]bool, len(allowedOrigins))
	wildcard := false
	for _, o := range allowedOrigins {
		if o == "*" {
			wildcard = true
			continue
		}
		explicit[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()
			h.Add("Vary", "Origin")

			if origin != "" && (wildcard || explicit[origin]) {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", strings.Join(allowMethods, ", "))
				h.Set("Access-Control-Allow-Headers", strings.Join(allowHeaders, ", "))
				h.Set("Access-Control-Expose-Headers", strings.Join(exposeHeaders, ", "))
				if explicit[origin] {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Max-Age", strconv.Itoa(preflightMaxAge))
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
