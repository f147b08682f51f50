package mw

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/terranogyneco/pkg/auth"
	"github.com/vango-go/terranogyneco/pkg/core/types"
	"github.com/vango-go/terranogyneco/pkg/gateway/config"
)

type fakeDirectory struct {
	users map[string]*types.User
	err   error
}

func (d fakeDirectory) UserByToken(_ context.Context, token string) (*types.User, error) {
	if d.err != nil {
		return nil, d.err
	}
	u, ok := d.users[token]
	if !ok {
		return nil, auth.ErrUnauthenticated
	}
	return u, nil
}

func (d fakeDirectory) ListPending(context.Context) ([]types.User, error) { return nil, nil }
func (d fakeDirectory) Approve(context.Context, string) error { return nil }

func testDirectory() fakeDirectory {
	return fakeDirectory{users: map[string]*types.User{
		"tok_ok":      {ID: "u1", Status: types.UserApproved},
		"tok_pending": {ID: "u2", Status: types.UserPending},
		"tok_admin":   {ID: "u3", Status: types.UserApproved, IsAdmin: true},
	}}
}

func requiredConfig() config.Config {
	return config.Config{AuthMode: config.AuthModeRequired}
}

func TestAuth_RequiredRejectsMissingBearer(t *testing.T) {
	h := Auth(requiredConfig(), testDirectory(), nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/conversations", nil)
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code, rr.Body.String())
}

func TestAuth_Statuses(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		dir    auth.Directory
		status int
	}{
		{"approved", "tok_ok", testDirectory(), http.StatusNoContent},
		{"pending", "tok_pending", testDirectory(), http.StatusForbidden},
		{"unknown", "tok_nope", testDirectory(), http.StatusUnauthorized},
		{"directory down", "tok_ok", fakeDirectory{err: errors.New("connection refused")}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen *types.User
			h := Auth(requiredConfig(), tt.dir, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = auth.CurrentUser(r.Context())
				w.WriteHeader(http.StatusNoContent)
			}))
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/v1/conversations", nil)
			req.Header.Set("Authorization", "Bearer "+tt.token)
			h.ServeHTTP(rr, req)
			require.Equal(t, tt.status, rr.Code, rr.Body.String())
			if tt.status == http.StatusNoContent {
				require.NotNil(t, seen)
				assert.Equal(t, "u1", seen.ID)
			}
		})
	}
}

func TestAuth_WebSocketQueryToken(t *testing.T) {
	h := Auth(requiredConfig(), testDirectory(), nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/live?access_token=tok_ok", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

	// The query token is ignored outside websocket upgrades.
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/conversations?access_token=tok_ok", nil)
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code, rr.Body.String())
}

func TestAuth_PublicPathsAndDisabledMode(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u := auth.CurrentUser(r.Context()); u != nil {
			w.Header().Set("X-User", u.ID)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	h := Auth(requiredConfig(), testDirectory(), nil, next)
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNoContent, rr.Code, path)
	}

	h = Auth(config.Config{AuthMode: config.AuthModeDisabled}, nil, nil, next)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/conversations", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, LocalUser.ID, rr.Header().Get("X-User"))
}

func TestRequireAdmin(t *testing.T) {
	h := Auth(requiredConfig(), testDirectory(), nil, RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	for token, want := range map[string]int{"tok_ok": http.StatusForbidden, "tok_admin": http.StatusNoContent} {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/admin/users/pending", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		h.ServeHTTP(rr, req)
		assert.Equal(t, want, rr.Code, token)
	}
}
