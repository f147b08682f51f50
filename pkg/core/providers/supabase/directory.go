package supabase

import (
	"context"
	"fmt"

	"github.com/vango-go/terranogyneco/pkg/auth"
	"github.com/vango-go/terranogyneco/pkg/core/types"
)

const userColumns = "id,email,full_name,status,is_admin"

type userRow struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Status   string `json:"status"`
	IsAdmin  bool   `json:"is_admin"`
}

func (r userRow) user() types.User {
	return types.User{
		ID:       r.ID,
		Email:    r.Email,
		FullName: r.FullName,
		Status:   types.UserStatus(r.Status),
		IsAdmin:  r.IsAdmin,
	}
}

// Directory implements auth.Directory over the users table.
type Directory struct {
	c *Client
}

func (c *Client) Directory() *Directory {
	return &Directory{c: c}
}

var _ auth.Directory = (*Directory)(nil)

func (d *Directory) UserByToken(_ context.Context, token string) (*types.User, error) {
	if token == "" {
		return nil, auth.ErrUnauthenticated
	}
	var rows []userRow
	_, err := d.c.client.From("users").
		Select(userColumns, "", false).
		Eq("token_hash", auth.HashToken(token)).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if len(rows) == 0 {
		return nil, auth.ErrUnauthenticated
	}
	u := rows[0].user()
	return &u, nil
}

func (d *Directory) ListPending(context.Context) ([]types.User, error) {
	var rows []userRow
	_, err := d.c.client.From("users").
		Select(userColumns, "", false).
		Eq("status", string(types.UserPending)).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("list pending users: %w", err)
	}
	out := make([]types.User, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.user())
	}
	return out, nil
}

func (d *Directory) Approve(_ context.Context, id string) error {
	var rows []userRow
	_, err := d.c.client.From("users").
		Update(map[string]any{"status": string(types.UserApproved)}, "representation", "").
		Eq("id", id).
		ExecuteTo(&rows)
	if err != nil {
		return fmt.Errorf("approve user: %w", err)
	}
	if len(rows) == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}
