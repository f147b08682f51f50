package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/vango-go/terranogyneco/pkg/core/types"
)

func TestParseBearer(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{header: "Bearer abc", want: "abc", ok: true},
		{header: "  Bearer   abc  ", want: "abc", ok: true},
		{header: "Bearer ", ok: false},
		{header: "Basic abc", ok: false},
		{header: "", ok: false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		got, ok := ParseBearer(r)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseBearer(%q) = (%q, %v), want (%q, %v)", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}

func TestHashToken(t *testing.T) {
	h := HashToken("secret")
	if len(h) != 64 || h != HashToken("secret") || h == HashToken("other") {
		t.Fatalf("HashToken = %q", h)
	}
}

func TestCheckApprovedAndAdmin(t *testing.T) {
	pending := &types.User{ID: "u1", Status: types.UserPending}
	approved := &types.User{ID: "u2", Status: types.UserApproved}
	admin := &types.User{ID: "u3", Status: types.UserApproved, IsAdmin: true}

	if err := CheckApproved(nil); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("nil user: %v", err)
	}
	if err := CheckApproved(pending); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("pending: %v", err)
	}
	if err := CheckApproved(approved); err != nil {
		t.Fatalf("approved: %v", err)
	}
	if err := CheckAdmin(approved); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("non-admin: %v", err)
	}
	if err := CheckAdmin(admin); err != nil {
		t.Fatalf("admin: %v", err)
	}
}

func TestCurrentUser(t *testing.T) {
	if CurrentUser(context.Background()) != nil {
		t.Fatal("expected no user")
	}
	u := &types.User{ID: "u1"}
	if got := CurrentUser(WithUser(context.Background(), u)); got != u {
		t.Fatalf("CurrentUser = %+v", got)
	}
}
