package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vango-go/terranogyneco/pkg/core/types"
)

// PostgresStore keeps conversations in the conversations table with the
// transcript as JSONB. The schema comes from internal/migrations.
type PostgresStore struct {
	pool *pgxpool.Pool
	opts Options
}

func NewPostgresStore(pool *pgxpool.Pool, opts Options) *PostgresStore {
	return &PostgresStore{pool: pool, opts: opts.withDefaults()}
}

func scanConversation(row pgx.Row) (types.Conversation, error) {
	var conv types.Conversation
	var raw []byte
	if err := row.Scan(&conv.ID, &conv.Title, &conv.CreatedAt, &raw); err != nil {
		return types.Conversation{}, err
	}
	if err := json.Unmarshal(raw, &conv.Messages); err != nil {
		return types.Conversation{}, fmt.Errorf("decode messages of %s: %w", conv.ID, err)
	}
	if conv.Messages == nil {
		conv.Messages = []types.Message{}
	}
	return conv, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]types.Conversation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, created_at, messages FROM conversations ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	out := []types.Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Load(ctx context.Context, id string) (types.Conversation, error) {
	if err := validateID(id); err != nil {
		return types.Conversation{}, err
	}
	conv, err := scanConversation(s.pool.QueryRow(ctx,
		`SELECT id, title, created_at, messages FROM conversations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Conversation{}, ErrNotFound
	}
	if err != nil {
		return types.Conversation{}, fmt.Errorf("load conversation: %w", err)
	}
	return conv, nil
}

func (s *PostgresStore) Save(ctx context.Context, id string, messages []types.Message, title string) error {
	if err := validateID(id); err != nil {
		return err
	}
	conv := applySave(s.opts, nil, id, messages, title)
	raw, err := json.Marshal(conv.Messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	// An empty $3 keeps the stored title on conflict.
	_, err = s.pool.Exec(ctx, `
INSERT INTO conversations (id, title, created_at, updated_at, messages)
VALUES ($1, COALESCE(NULLIF($3, ''), $5), $2, now(), $4)
ON CONFLICT (id) DO UPDATE SET
    messages   = EXCLUDED.messages,
    title      = COALESCE(NULLIF($3, ''), conversations.title),
    updated_at = now()`,
		id, conv.CreatedAt, normalizeTitle(title), raw, types.DefaultConversationTitle)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) Rename(ctx context.Context, id, title string) error {
	if err := validateID(id); err != nil {
		return err
	}
	title = normalizeTitle(title)
	if title == "" {
		return errors.New("history: title is required")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET title = $2, updated_at = now() WHERE id = $1`, id, title)
	if err != nil {
		return fmt.Errorf("rename conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context) (types.Conversation, error) {
	conv := s.opts.newConversation()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (id, title, created_at, updated_at, messages) VALUES ($1, $2, $3, $3, '[]'::jsonb)`,
		conv.ID, conv.Title, conv.CreatedAt)
	if err != nil {
		return types.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}
