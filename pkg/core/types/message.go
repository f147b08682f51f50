package types

import "slices"

// Sender identifies who authored a transcript message.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderAI     Sender = "ai"
	SenderSystem Sender = "system"
)

// Valid reports whether s is one of the known senders.
func (s Sender) Valid() bool {
	switch s {
	case SenderUser, SenderAI, SenderSystem:
		return true
	default:
		return false
	}
}

// Source is a single citation attached to an AI message.
type Source struct {
	URI     string `json:"uri"`
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
}

// Message is one transcript entry. Its ID is stable once created; tool
// results mutate the message in place.
type Message struct {
	ID       string   `json:"id"`
	Sender   Sender   `json:"sender"`
	Text     string   `json:"text"`
	ImageURL string   `json:"imageUrl,omitempty"`
	Sources  []Source `json:"sources,omitempty"`
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	m.Sources = slices.Clone(m.Sources)
	return m
}

// CloneMessages deep-copies a message slice.
func CloneMessages(in []Message) []Message {
	if in == nil {
		return nil
	}
	out := make([]Message, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}
