package types

import (
	"strings"
	"time"
)

// DefaultConversationTitle is the title of a conversation that has not
// been named yet.
const DefaultConversationTitle = "Nouvelle Conversation"

// autoTitleWords is how many leading words of the first user message make
// up an automatic title.
const autoTitleWords = 5

// Conversation is a persisted transcript.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	Messages  []Message `json:"messages"`
}

// HasDefaultTitle reports whether the conversation still carries the
// placeholder title.
func (c Conversation) HasDefaultTitle() bool {
	return c.Title == "" || c.Title == DefaultConversationTitle
}

// HasUserMessage reports whether any message was authored by the user.
func (c Conversation) HasUserMessage() bool {
	for _, m := range c.Messages {
		if m.Sender == SenderUser {
			return true
		}
	}
	return false
}

// TitleFromText derives a conversation title from the first words of text.
// An ellipsis is appended when words were dropped.
func TitleFromText(text string) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return DefaultConversationTitle
	}
	if len(words) <= autoTitleWords {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:autoTitleWords], " ") + "…"
}
