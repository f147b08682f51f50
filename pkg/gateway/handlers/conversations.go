package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/vango-go/terranogyneco/pkg/core/types"
	"github.com/vango-go/terranogyneco/pkg/history"
)

// ConversationsHandler serves the stored conversation history.
type ConversationsHandler struct {
	Store        history.Store
	Logger       *slog.Logger
	MaxBodyBytes int64
}

type conversationSummary struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	CreatedAt    string `json:"createdAt"`
	MessageCount int    `json:"messageCount"`
}

type conversationList struct {
	Conversations []conversationSummary `json:"conversations"`
}

type patchConversationRequest struct {
	Title    *string          `json:"title"`
	Messages *[]types.Message `json:"messages"`
}

// List handles GET /v1/conversations, newest first.
func (h ConversationsHandler) List(w http.ResponseWriter, r *http.Request) {
	convs, err := h.Store.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := conversationList{Conversations: make([]conversationSummary, 0, len(convs))}
	for _, c := range convs {
		out.Conversations = append(out.Conversations, conversationSummary{
			ID:           c.ID,
			Title:        c.Title,
			CreatedAt:    c.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			MessageCount: len(c.Messages),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// Create handles POST /v1/conversations.
func (h ConversationsHandler) Create(w http.ResponseWriter, r *http.Request) {
	conv, err := h.Store.Create(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.logger().Info("conversation created", "conversation_id", conv.ID)
	writeJSON(w, http.StatusCreated, conv)
}

// Get handles GET /v1/conversations/{id}.
func (h ConversationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	conv, err := h.Store.Load(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// Patch handles PATCH /v1/conversations/{id}. A title renames; messages
// replace the stored transcript.
func (h ConversationsHandler) Patch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req patchConversationRequest
	if err := decodeJSONBody(w, r, h.MaxBodyBytes, &req); err != nil {
		writeInvalidRequest(w, r, err.Error(), "")
		return
	}
	if req.Title == nil && req.Messages == nil {
		writeInvalidRequest(w, r, "title or messages is required", "title")
		return
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		writeInvalidRequest(w, r, "title must not be empty", "title")
		return
	}
	if req.Messages != nil {
		for _, m := range *req.Messages {
			if strings.TrimSpace(m.ID) == "" || !m.Sender.Valid() {
				writeInvalidRequest(w, r, "each message needs an id and a sender of user|ai|system", "messages")
				return
			}
		}
	}

	ctx := r.Context()
	conv, err := h.Store.Load(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	switch {
	case req.Messages != nil:
		title := conv.Title
		if req.Title != nil {
			title = strings.TrimSpace(*req.Title)
		}
		err = h.Store.Save(ctx, id, *req.Messages, title)
	default:
		err = h.Store.Rename(ctx, id, strings.TrimSpace(*req.Title))
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	conv, err = h.Store.Load(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// Delete handles DELETE /v1/conversations/{id}.
func (h ConversationsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.Store.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	h.logger().Info("conversation deleted", "conversation_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// Sources handles GET /v1/sources?q=.
func (h ConversationsHandler) Sources(w http.ResponseWriter, r *http.Request) {
	convs, err := h.Store.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history.Sources(convs, r.URL.Query().Get("q")))
}

func (h ConversationsHandler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}
