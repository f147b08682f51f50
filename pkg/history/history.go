// Package history persists conversations. Backends share the Store
// contract: List is newest first, Save upserts, and an empty title on Save
// keeps the stored one.
package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/terranogyneco/pkg/core/types"
)

var (
	ErrNotFound  = errors.New("history: conversation not found")
	ErrInvalidID = errors.New("history: invalid conversation id")
)

// Store is a conversation repository.
type Store interface {
	List(ctx context.Context) ([]types.Conversation, error)
	Load(ctx context.Context, id string) (types.Conversation, error)
	Save(ctx context.Context, id string, messages []types.Message, title string) error
	Rename(ctx context.Context, id, title string) error
	Delete(ctx context.Context, id string) error
	Create(ctx context.Context) (types.Conversation, error)
}

// Options are shared by every backend.
type Options struct {
	Now   func() time.Time
	NewID func() string
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	return o
}

func (o Options) newConversation() types.Conversation {
	return types.Conversation{
		ID:        o.NewID(),
		Title:     types.DefaultConversationTitle,
		CreatedAt: o.Now().UTC(),
		Messages:  []types.Message{},
	}
}

// validateID rejects ids that could escape a key namespace or directory.
func validateID(id string) error {
	if id == "" || len(id) > 128 || strings.ContainsAny(id, `/\:`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

func normalizeTitle(title string) string {
	return strings.Join(strings.Fields(title), " ")
}

// applySave merges a save into an existing conversation, or a fresh one
// when existing is nil.
func applySave(opts Options, existing *types.Conversation, id string, messages []types.Message, title string) types.Conversation {
	var conv types.Conversation
	if existing != nil {
		conv = *existing
	} else {
		conv = types.Conversation{ID: id, Title: types.DefaultConversationTitle, CreatedAt: opts.Now().UTC()}
	}
	conv.Messages = types.CloneMessages(messages)
	if conv.Messages == nil {
		conv.Messages = []types.Message{}
	}
	if t := normalizeTitle(title); t != "" {
		conv.Title = t
	}
	return conv
}

func sortNewestFirst(convs []types.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		if convs[i].CreatedAt.Equal(convs[j].CreatedAt) {
			return convs[i].ID > convs[j].ID
		}
		return convs[i].CreatedAt.After(convs[j].CreatedAt)
	})
}
