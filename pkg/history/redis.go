package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vango-go/terranogyneco/pkg/core/types"
)

const defaultRedisPrefix = "terranogyneco:"

// RedisStore keeps each conversation as a JSON string and indexes ids in a
// sorted set scored by creation time.
type RedisStore struct {
	client *redis.Client
	prefix string
	opts   Options
}

// NewRedisStore connects to url (redis://...) and pings it. Keys are
// namespaced under prefix.
func NewRedisStore(ctx context.Context, url, prefix string, opts Options) (*RedisStore, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisStoreFromClient(client, prefix, opts), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string, opts Options) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, opts: opts.withDefaults()}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) convKey(id string) string {
	return s.prefix + "conversation:" + id
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "conversations"
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) get(ctx context.Context, g stringGetter, id string) (types.Conversation, error) {
	data, err := g.Get(ctx, s.convKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.Conversation{}, ErrNotFound
	}
	if err != nil {
		return types.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	var conv types.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return types.Conversation{}, fmt.Errorf("unmarshal conversation: %w", err)
	}
	return conv, nil
}

func (s *RedisStore) queuePut(ctx context.Context, pipe redis.Pipeliner, conv types.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	pipe.Set(ctx, s.convKey(conv.ID), data, 0)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(conv.CreatedAt.UnixMilli()), Member: conv.ID})
	return nil
}

// update runs fn on the stored conversation under WATCH and writes the
// result, retrying when another writer got there first.
func (s *RedisStore) update(ctx context.Context, id string, fn func(tx *redis.Tx) (types.Conversation, error)) error {
	const maxRetries = 3
	for range maxRetries {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			conv, err := fn(tx)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				return s.queuePut(ctx, pipe, conv)
			})
			return err
		}, s.convKey(id))
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrInvalidID) {
			return fmt.Errorf("save conversation: %w", err)
		}
		return err
	}
	return fmt.Errorf("save conversation %s: too much contention", id)
}

func (s *RedisStore) List(ctx context.Context) ([]types.Conversation, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	if len(ids) == 0 {
		return []types.Conversation{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.convKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}
	out := make([]types.Conversation, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			// Index entry without a document.
			continue
		}
		var conv types.Conversation
		if err := json.Unmarshal([]byte(str), &conv); err != nil {
			return nil, fmt.Errorf("unmarshal conversation %s: %w", ids[i], err)
		}
		out = append(out, conv)
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (types.Conversation, error) {
	if err := validateID(id); err != nil {
		return types.Conversation{}, err
	}
	return s.get(ctx, s.client, id)
}

func (s *RedisStore) Save(ctx context.Context, id string, messages []types.Message, title string) error {
	if err := validateID(id); err != nil {
		return err
	}
	return s.update(ctx, id, func(tx *redis.Tx) (types.Conversation, error) {
		var existing *types.Conversation
		conv, err := s.get(ctx, tx, id)
		switch {
		case err == nil:
			existing = &conv
		case !errors.Is(err, ErrNotFound):
			return types.Conversation{}, err
		}
		return applySave(s.opts, existing, id, messages, title), nil
	})
}

func (s *RedisStore) Rename(ctx context.Context, id, title string) error {
	if err := validateID(id); err != nil {
		return err
	}
	title = normalizeTitle(title)
	if title == "" {
		return errors.New("history: title is required")
	}
	return s.update(ctx, id, func(tx *redis.Tx) (types.Conversation, error) {
		conv, err := s.get(ctx, tx, id)
		if err != nil {
			return types.Conversation{}, err
		}
		conv.Title = title
		return conv, nil
	})
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, s.convKey(id))
	pipe.ZRem(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Create(ctx context.Context) (types.Conversation, error) {
	conv := s.opts.newConversation()
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		return s.queuePut(ctx, pipe, conv)
	})
	if err != nil {
		return types.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}
