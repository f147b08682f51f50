package mw

import (
	"net/http"
	"strings"

	"github.com/vango-go/terranogyneco/pkg/core"
	"github.com/vango-go/terranogyneco/pkg/gateway/config"
)

const (
	corsMethods = "GET, POST, PATCH, DELETE, OPTIONS"
	corsHeaders = "Authorization, Content-Type, X-Request-ID"
	corsExposed = "X-Request-ID, Retry-After"
	corsMaxAge  = "600"
)

// CORS lets the browser client on an allowlisted origin call the REST
// routes. Nothing is added for unknown origins, so without an allowlist the
// gateway behaves as same-origin only. The websocket route checks origins
// itself on upgrade.
func CORS(cfg config.Config, next http.Handler) http.Handler {
	enabled := len(cfg.CORSAllowedOrigins) > 0
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		trusted := enabled && origin != "" && cfg.OriginAllowed(origin)

		if isPreflight(r) {
			if !trusted {
				reqID, _ := RequestIDFrom(r.Context())
				writeJSONError(w, http.StatusForbidden, &core.Error{
					Type:      core.ErrPermission,
					Message:   "origin not allowed",
					Code:      "cors_origin",
					RequestID: reqID,
				})
				return
			}
			allowOrigin(w.Header(), origin)
			w.Header().Set("Access-Control-Allow-Methods", corsMethods)
			w.Header().Set("Access-Control-Allow-Headers", corsHeaders)
			w.Header().Set("Access-Control-Max-Age", corsMaxAge)
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if trusted {
			allowOrigin(w.Header(), origin)
			w.Header().Set("Access-Control-Expose-Headers", corsExposed)
		}
		next.ServeHTTP(w, r)
	})
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
}

// allowOrigin echoes origin back rather than "*" so credentials work.
func allowOrigin(h http.Header, origin string) {
	h.Set("Access-Control-Allow-Origin", origin)
	h.Add("Vary", "Origin")
}
