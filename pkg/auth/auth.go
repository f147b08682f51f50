// Package auth resolves the signed-in user and enforces account approval.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/vango-go/terranogyneco/pkg/core/types"
)

var (
	ErrUnauthenticated = errors.New("auth: not signed in")
	ErrNotApproved     = errors.New("auth: account pending approval")
	ErrNotAdmin        = errors.New("auth: administrator required")
	ErrUserNotFound    = errors.New("auth: user not found")
)

// Directory looks up and administers users.
type Directory interface {
	// UserByToken resolves an API token. Unknown tokens yield
	// ErrUnauthenticated.
	UserByToken(ctx context.Context, token string) (*types.User, error)
	ListPending(ctx context.Context) ([]types.User, error)
	// Approve marks a pending user approved. Unknown ids yield
	// ErrUserNotFound.
	Approve(ctx context.Context, id string) error
}

// HashToken returns the stored form of an API token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// CheckApproved returns nil for an approved user.
func CheckApproved(u *types.User) error {
	if u == nil {
		return ErrUnauthenticated
	}
	if !u.IsApproved() {
		return ErrNotApproved
	}
	return nil
}

// CheckAdmin returns nil for an approved administrator.
func CheckAdmin(u *types.User) error {
	if err := CheckApproved(u); err != nil {
		return err
	}
	if !u.IsAdmin {
		return ErrNotAdmin
	}
	return nil
}

type ctxKey struct{}

func WithUser(ctx context.Context, u *types.User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// CurrentUser returns the user attached to ctx, or nil when signed out.
func CurrentUser(ctx context.Context) *types.User {
	u, _ := ctx.Value(ctxKey{}).(*types.User)
	return u
}

func ParseBearer(r *http.Request) (string, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}
