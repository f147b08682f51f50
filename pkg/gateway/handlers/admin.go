package handlers

import (
	"log/slog"
	"net/http"

	"github.com/vango-go/terranogyneco/pkg/auth"
	"github.com/vango-go/terranogyneco/pkg/core/types"
)

// AdminHandler serves account approval. Routes are expected behind an
// administrator check.
type AdminHandler struct {
	Directory auth.Directory
	Logger    *slog.Logger
}

type pendingUsers struct {
	Users []types.User `json:"users"`
}

// Pending handles GET /v1/admin/users/pending.
func (h AdminHandler) Pending(w http.ResponseWriter, r *http.Request) {
	users, err := h.Directory.ListPending(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if users == nil {
		users = []types.User{}
	}
	writeJSON(w, http.StatusOK, pendingUsers{Users: users})
}

// Approve handles POST /v1/admin/users/{id}/approve.
func (h AdminHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeInvalidRequest(w, r, "user id is required", "id")
		return
	}
	if err := h.Directory.Approve(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var approver string
	if u := auth.CurrentUser(r.Context()); u != nil {
		approver = u.ID
	}
	logger.Info("user approved", "user_id", id, "approved_by", approver)
	w.WriteHeader(http.StatusNoContent)
}
