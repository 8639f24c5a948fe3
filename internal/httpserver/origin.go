package httpserver

import (
	"net/http"
	"strings"

	"github.com/wilsonzlin/aero/proxy/rtc-datagram-bridge/internal/origin"
)

// OriginPolicy rejects browser requests whose Origin is not allowed and adds
// CORS headers for the ones that are. Requests without an Origin header
// (CLI and server-to-server callers) pass through untouched.
func OriginPolicy(allowed []string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			originHeader := strings.TrimSpace(r.Header.Get("Origin"))
			if originHeader == "" {
				next.ServeHTTP(w, r)
				return
			}

			normalized, originHost, ok := origin.Normalize(originHeader)
			if !ok || !origin.Allowed(normalized, originHost, r.Host, allowed) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", normalized)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
			w.Header().Add("Vary", "Origin")

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
				if requestHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers")); requestHeaders != "" {
					w.Header().Set("Access-Control-Allow-Headers", requestHeaders)
				}
				w.Header().Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// WithOriginPolicy wraps h with OriginPolicy using the configured allowlist.
func (s *Server) WithOriginPolicy(h http.Handler) http.Handler {
	return OriginPolicy(s.cfg.AllowedOrigins)(h)
}
