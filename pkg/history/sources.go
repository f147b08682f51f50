package history

import (
	"strings"

	"github.com/vango-go/terranogyneco/pkg/core/types"
)

// ConversationSources groups the sources cited in one conversation.
type ConversationSources struct {
	ConversationID string         `json:"conversationId"`
	Title          string         `json:"title"`
	Sources        []types.Source `json:"sources"`
}

// Library is the cross-conversation source index.
type Library struct {
	Conversations []ConversationSources `json:"conversations"`
	// Total counts every source across conversations before filtering.
	Total int `json:"total"`
	// WithSources counts conversations citing at least one source.
	WithSources int `json:"conversationsWithSources"`
}

// Sources indexes the sources of convs, keeping conversation order. A
// non-empty term keeps sources whose title, uri or snippet contains it,
// ignoring case.
func Sources(convs []types.Conversation, term string) Library {
	term = strings.ToLower(strings.TrimSpace(term))
	lib := Library{Conversations: []ConversationSources{}}
	for _, conv := range convs {
		var matched []types.Source
		cited := 0
		for _, m := range conv.Messages {
			cited += len(m.Sources)
			for _, src := range m.Sources {
				if term == "" || matchesSource(src, term) {
					matched = append(matched, src)
				}
			}
		}
		lib.Total += cited
		if cited > 0 {
			lib.WithSources++
		}
		if len(matched) > 0 {
			lib.Conversations = append(lib.Conversations, ConversationSources{
				ConversationID: conv.ID,
				Title:          conv.Title,
				Sources:        matched,
			})
		}
	}
	return lib
}

func matchesSource(src types.Source, term string) bool {
	return strings.Contains(strings.ToLower(src.Title), term) ||
		strings.Contains(strings.ToLower(src.URI), term) ||
		strings.Contains(strings.ToLower(src.Snippet), term)
}
