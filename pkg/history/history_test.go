package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/terranogyneco/pkg/core/types"
)

func testOptions() Options {
	var tick int
	var seq int
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return Options{
		Now: func() time.Time {
			tick++
			return base.Add(time.Duration(tick) * time.Minute)
		},
		NewID: func() string {
			seq++
			return fmt.Sprintf("conv-%02d", seq)
		},
	}
}

func backends(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFileStore(t.TempDir(), testOptions())
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rs := NewRedisStoreFromClient(client, "test:", testOptions())
	t.Cleanup(func() { _ = rs.Close() })

	return map[string]Store{"file": fs, "redis": rs}
}

func TestStoreContract(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first, err := store.Create(ctx)
			require.NoError(t, err)
			assert.Equal(t, types.DefaultConversationTitle, first.Title)
			assert.Empty(t, first.Messages)

			second, err := store.Create(ctx)
			require.NoError(t, err)

			list, err := store.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, second.ID, list[0].ID, "newest first")

			msgs := []types.Message{
				{ID: "user-1", Sender: types.SenderUser, Text: "Bonjour"},
				{ID: "ai-2", Sender: types.SenderAI, Text: "Bonjour docteur", Sources: []types.Source{{URI: "https://has.fr", Title: "HAS"}}},
			}
			require.NoError(t, store.Save(ctx, first.ID, msgs, "Premier échange"))
			require.NoError(t, store.Save(ctx, first.ID, msgs[:1], ""))

			got, err := store.Load(ctx, first.ID)
			require.NoError(t, err)
			assert.Equal(t, "Premier échange", got.Title, "empty title keeps the stored one")
			assert.Len(t, got.Messages, 1)
			assert.True(t, got.CreatedAt.Equal(first.CreatedAt))

			require.NoError(t, store.Rename(ctx, first.ID, "  Suivi   SOPK "))
			got, err = store.Load(ctx, first.ID)
			require.NoError(t, err)
			assert.Equal(t, "Suivi SOPK", got.Title)

			require.NoError(t, store.Save(ctx, "external-id", msgs, ""))
			got, err = store.Load(ctx, "external-id")
			require.NoError(t, err)
			assert.Equal(t, types.DefaultConversationTitle, got.Title)
			assert.Equal(t, "https://has.fr", got.Messages[1].Sources[0].URI)

			require.NoError(t, store.Delete(ctx, second.ID))
			assert.ErrorIs(t, store.Delete(ctx, second.ID), ErrNotFound)
			_, err = store.Load(ctx, second.ID)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, store.Rename(ctx, second.ID, "x"), ErrNotFound)

			assert.ErrorIs(t, store.Save(ctx, "../escape", msgs, ""), ErrInvalidID)
			assert.Error(t, store.Rename(ctx, first.ID, "   "))
		})
	}
}

func TestSources(t *testing.T) {
	convs := []types.Conversation{
		{ID: "a", Title: "Endométriose", Messages: []types.Message{
			{ID: "ai-1", Sources: []types.Source{
				{URI: "https://has-sante.fr/endometriose", Title: "Prise en charge de l'endométriose"},
				{URI: "https://pubmed.ncbi.nlm.nih.gov/1", Title: "Dienogest trial", Snippet: "Endometriosis pain"},
			}},
		}},
		{ID: "b", Title: "Sans sources", Messages: []types.Message{{ID: "ai-2", Text: "ok"}}},
		{ID: "c", Title: "SOPK", Messages: []types.Message{
			{ID: "ai-3", Sources: []types.Source{{URI: "https://cngof.fr/sopk", Title: "Recommandations SOPK"}}},
		}},
	}

	lib := Sources(convs, "")
	assert.Equal(t, 3, lib.Total)
	assert.Equal(t, 2, lib.WithSources)
	require.Len(t, lib.Conversations, 2)
	assert.Equal(t, "a", lib.Conversations[0].ConversationID)

	lib = Sources(convs, "ENDOMETRIOS")
	require.Len(t, lib.Conversations, 1)
	assert.Len(t, lib.Conversations[0].Sources, 2)

	lib = Sources(convs, "cngof")
	require.Len(t, lib.Conversations, 1)
	assert.Equal(t, "c", lib.Conversations[0].ConversationID)

	assert.Empty(t, Sources(convs, "introuvable").Conversations)
	assert.Equal(t, 3, Sources(convs, "introuvable").Total)
}
