package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/vango-go/terranogyneco/pkg/core/types"
)

// FileStore keeps one JSON document per conversation in a directory.
type FileStore struct {
	dir  string
	opts Options
	mu   sync.Mutex
}

func NewFileStore(dir string, opts Options) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("history: directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &FileStore{dir: dir, opts: opts.withDefaults()}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *FileStore) read(id string) (types.Conversation, error) {
	b, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return types.Conversation{}, ErrNotFound
	}
	if err != nil {
		return types.Conversation{}, fmt.Errorf("read conversation: %w", err)
	}
	var conv types.Conversation
	if err := json.Unmarshal(b, &conv); err != nil {
		return types.Conversation{}, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	return conv, nil
}

// write replaces the document atomically.
func (s *FileStore) write(conv types.Conversation) error {
	b, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, conv.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write conversation: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(conv.ID)); err != nil {
		return fmt.Errorf("replace conversation: %w", err)
	}
	return nil
}

func (s *FileStore) List(ctx context.Context) ([]types.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list history dir: %w", err)
	}
	out := make([]types.Conversation, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		conv, err := s.read(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *FileStore) Load(_ context.Context, id string) (types.Conversation, error) {
	if err := validateID(id); err != nil {
		return types.Conversation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(id)
}

func (s *FileStore) Save(_ context.Context, id string, messages []types.Message, title string) error {
	if err := validateID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing *types.Conversation
	conv, err := s.read(id)
	switch {
	case err == nil:
		existing = &conv
	case !errors.Is(err, ErrNotFound):
		return err
	}
	return s.write(applySave(s.opts, existing, id, messages, title))
}

func (s *FileStore) Rename(_ context.Context, id, title string) error {
	if err := validateID(id); err != nil {
		return err
	}
	title = normalizeTitle(title)
	if title == "" {
		return errors.New("history: title is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, err := s.read(id)
	if err != nil {
		return err
	}
	conv.Title = title
	return s.write(conv)
}

func (s *FileStore) Delete(_ context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

func (s *FileStore) Create(context.Context) (types.Conversation, error) {
	conv := s.opts.newConversation()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(conv); err != nil {
		return types.Conversation{}, err
	}
	return conv, nil
}
