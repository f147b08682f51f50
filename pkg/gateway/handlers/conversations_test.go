package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/terranogyneco/pkg/core/types"
	"github.com/vango-go/terranogyneco/pkg/history"
)

func newConversationsMux(t *testing.T) (*http.ServeMux, history.Store) {
	t.Helper()
	store, err := history.NewFileStore(t.TempDir(), history.Options{})
	require.NoError(t, err)

	h := ConversationsHandler{Store: store, MaxBodyBytes: 1 << 20}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/conversations", h.List)
	mux.HandleFunc("POST /v1/conversations", h.Create)
	mux.HandleFunc("GET /v1/conversations/{id}", h.Get)
	mux.HandleFunc("PATCH /v1/conversations/{id}", h.Patch)
	mux.HandleFunc("DELETE /v1/conversations/{id}", h.Delete)
	mux.HandleFunc("GET /v1/sources", h.Sources)
	return mux, store
}

func serve(mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func TestConversations_CreateGetList(t *testing.T) {
	mux, _ := newConversationsMux(t)

	rr := serve(mux, http.MethodPost, "/v1/conversations", "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created types.Conversation
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, types.DefaultConversationTitle, created.Title)

	rr = serve(mux, http.MethodGet, "/v1/conversations/"+created.ID, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = serve(mux, http.MethodGet, "/v1/conversations", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list conversationList
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Conversations, 1)
	assert.Equal(t, created.ID, list.Conversations[0].ID)
	assert.Zero(t, list.Conversations[0].MessageCount)
}

func TestConversations_GetUnknownIs404(t *testing.T) {
	mux, _ := newConversationsMux(t)

	rr := serve(mux, http.MethodGet, "/v1/conversations/nope", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), `"not_found_error"`)
}

func TestConversations_PatchRenameAndMessages(t *testing.T) {
	mux, store := newConversationsMux(t)
	conv, err := store.Create(context.Background())
	require.NoError(t, err)

	rr := serve(mux, http.MethodPatch, "/v1/conversations/"+conv.ID, `{"title":"  Suivi   grossesse "}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var got types.Conversation
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "Suivi grossesse", got.Title)

	rr = serve(mux, http.MethodPatch, "/v1/conversations/"+conv.ID,
		`{"messages":[{"id":"m1","sender":"user","text":"Bonjour"}]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "Suivi grossesse", got.Title)
}

func TestConversations_PatchRejectsBadBodies(t *testing.T) {
	mux, store := newConversationsMux(t)
	conv, err := store.Create(context.Background())
	require.NoError(t, err)

	for name, body := range map[string]string{
		"empty object":  `{}`,
		"blank title":   `{"title":"   "}`,
		"unknown field": `{"name":"x"}`,
		"bad sender":    `{"messages":[{"id":"m1","sender":"bot","text":"x"}]}`,
		"missing id":    `{"messages":[{"sender":"user","text":"x"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			rr := serve(mux, http.MethodPatch, "/v1/conversations/"+conv.ID, body)
			assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
		})
	}
}

func TestConversations_Delete(t *testing.T) {
	mux, store := newConversationsMux(t)
	conv, err := store.Create(context.Background())
	require.NoError(t, err)

	rr := serve(mux, http.MethodDelete, "/v1/conversations/"+conv.ID, "")
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = serve(mux, http.MethodDelete, "/v1/conversations/"+conv.ID, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestConversations_SourcesFiltersByTerm(t *testing.T) {
	mux, store := newConversationsMux(t)
	ctx := context.Background()
	conv, err := store.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, conv.ID, []types.Message{
		{ID: "m1", Sender: types.SenderUser, Text: "HPP ?"},
		{ID: "m2", Sender: types.SenderAI, Text: "...", Sources: []types.Source{
			{URI: "https://www.cngof.fr/hpp", Title: "CNGOF - Hémorragie du post-partum"},
			{URI: "https://www.has-sante.fr/diabete", Title: "HAS - Diabète gestationnel"},
		}},
	}, ""))

	rr := serve(mux, http.MethodGet, "/v1/sources?q=cngof", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var lib history.Library
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &lib))
	assert.Equal(t, 2, lib.Total)
	assert.Equal(t, 1, lib.WithSources)
	require.Len(t, lib.Conversations, 1)
	require.Len(t, lib.Conversations[0].Sources, 1)
	assert.Equal(t, "https://www.cngof.fr/hpp", lib.Conversations[0].Sources[0].URI)
}
