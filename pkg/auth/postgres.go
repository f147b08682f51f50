package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vango-go/terranogyneco/pkg/core/types"
)

// PostgresDirectory reads the users table.
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{pool: pool}
}

const userColumns = `id, email, full_name, status, is_admin`

func scanUser(row pgx.Row) (types.User, error) {
	var u types.User
	var status string
	if err := row.Scan(&u.ID, &u.Email, &u.FullName, &status, &u.IsAdmin); err != nil {
		return types.User{}, err
	}
	u.Status = types.UserStatus(status)
	return u, nil
}

func (d *PostgresDirectory) UserByToken(ctx context.Context, token string) (*types.User, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	row := d.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE token_hash = $1`, HashToken(token))
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return &u, nil
}

func (d *PostgresDirectory) ListPending(ctx context.Context) ([]types.User, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users WHERE status = $1 ORDER BY created_at`, string(types.UserPending))
	if err != nil {
		return nil, fmt.Errorf("list pending users: %w", err)
	}
	defer rows.Close()

	var out []types.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (d *PostgresDirectory) Approve(ctx context.Context, id string) error {
	tag, err := d.pool.Exec(ctx, `UPDATE users SET status = $1 WHERE id = $2`, string(types.UserApproved), id)
	if err != nil {
		return fmt.Errorf("approve user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}
