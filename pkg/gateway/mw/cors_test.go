package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vango-go/terranogyneco/pkg/gateway/config"
)

func TestCORS(t *testing.T) {
	const app = "https://cabinet.example.fr"

	tests := []struct {
		name      string
		origins   []string
		method    string
		path      string
		origin    string
		preflight string

		status      int
		allowOrigin string
		reachesNext bool
	}{
		{name: "no allowlist", method: http.MethodGet, path: "/v1/conversations", origin: app, status: http.StatusOK, reachesNext: true},
		{name: "listed origin", origins: []string{app}, method: http.MethodGet, path: "/v1/conversations", origin: app, status: http.StatusOK, allowOrigin: app, reachesNext: true},
		{name: "origin case", origins: []string{app}, method: http.MethodGet, path: "/v1/library", origin: "https://Cabinet.example.fr", status: http.StatusOK, allowOrigin: "https://Cabinet.example.fr", reachesNext: true},
		{name: "wildcard", origins: []string{"*"}, method: http.MethodPost, path: "/v1/conversations", origin: "http://localhost:5173", status: http.StatusOK, allowOrigin: "http://localhost:5173", reachesNext: true},
		{name: "unlisted origin passes without headers", origins: []string{app}, method: http.MethodGet, path: "/v1/conversations", origin: "https://evil.example.com", status: http.StatusOK, reachesNext: true},
		{name: "no origin header", origins: []string{app}, method: http.MethodDelete, path: "/v1/conversations/abc", status: http.StatusOK, reachesNext: true},
		{name: "preflight allowed", origins: []string{app}, method: http.MethodOptions, path: "/v1/conversations/abc", origin: app, preflight: "PATCH", status: http.StatusNoContent, allowOrigin: app},
		{name: "preflight refused", origins: []string{app}, method: http.MethodOptions, path: "/v1/conversations", origin: "https://evil.example.com", preflight: "POST", status: http.StatusForbidden},
		{name: "preflight without allowlist", method: http.MethodOptions, path: "/v1/conversations", origin: app, preflight: "POST", status: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reached := false
			h := CORS(config.Config{CORSAllowedOrigins: tt.origins}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				reached = true
			}))

			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight != "" {
				req.Header.Set("Access-Control-Request-Method", tt.preflight)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, tt.reachesNext, reached)
			assert.Equal(t, tt.allowOrigin, rr.Header().Get("Access-Control-Allow-Origin"))
			if tt.allowOrigin != "" {
				assert.Equal(t, "Origin", rr.Header().Get("Vary"))
			}
		})
	}
}

func TestCORS_PreflightAdvertisesRoutesMethods(t *testing.T) {
	h := CORS(config.Config{CORSAllowedOrigins: []string{"https://cabinet.example.fr"}}, http.NotFoundHandler())
	req := httptest.NewRequest(http.MethodOptions, "/v1/conversations/abc", nil)
	req.Header.Set("Origin", "https://cabinet.example.fr")
	req.Header.Set("Access-Control-Request-Method", "PATCH")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	for _, m := range []string{"GET", "POST", "PATCH", "DELETE"} {
		assert.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), m)
	}
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), "Authorization")
	assert.Equal(t, "600", rr.Header().Get("Access-Control-Max-Age"))
}

func TestCORS_RefusedPreflightIsJSON(t *testing.T) {
	h := CORS(config.Config{CORSAllowedOrigins: []string{"https://cabinet.example.fr"}}, http.NotFoundHandler())
	req := httptest.NewRequest(http.MethodOptions, "/v1/conversations", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), `"code":"cors_origin"`)
}
