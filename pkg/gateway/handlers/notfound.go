package handlers

import (
	"net/http"

	"github.com/vango-go/terranogyneco/pkg/core"
	"github.com/vango-go/terranogyneco/pkg/gateway/mw"
)

// NotFoundHandler answers every path the mux does not know.
type NotFoundHandler struct{}

func (NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	writeCoreErrorJSON(w, reqID, &core.Error{
		Type:    core.ErrNotFound,
		Message: "no route for " + r.Method + " " + r.URL.Path,
		Code:    "unknown_route",
	}, http.StatusNotFound)
}
