// Package apierror turns errors from the stores, the auth layer and the
// model provider into the gateway's JSON error body and HTTP status.
package apierror

import (
	"context"
	"errors"
	"net/http"

	"github.com/vango-go/terranogyneco/pkg/auth"
	"github.com/vango-go/terranogyneco/pkg/core"
	"github.com/vango-go/terranogyneco/pkg/core/live"
	"github.com/vango-go/terranogyneco/pkg/core/providers/gemini"
	"github.com/vango-go/terranogyneco/pkg/core/voice"
	"github.com/vango-go/terranogyneco/pkg/history"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

type rule struct {
	target error
	status int
	body   core.Error
	// echo copies err.Error() into the message.
	echo bool
}

var rules = []rule{
	{target: context.DeadlineExceeded, status: http.StatusGatewayTimeout, body: core.Error{Type: core.ErrAPI, Message: "request timeout", Code: "timeout"}},
	{target: context.Canceled, status: http.StatusRequestTimeout, body: core.Error{Type: core.ErrAPI, Message: "request cancelled", Code: "cancelled"}},
	{target: history.ErrNotFound, status: http.StatusNotFound, body: core.Error{Type: core.ErrNotFound, Message: "conversation not found"}},
	{target: history.ErrInvalidID, status: http.StatusBadRequest, body: core.Error{Type: core.ErrInvalidRequest, Message: "invalid conversation id", Param: "id"}},
	{target: auth.ErrUnauthenticated, status: http.StatusUnauthorized, body: core.Error{Type: core.ErrAuthentication, Message: "invalid or missing token"}},
	{target: auth.ErrNotApproved, status: http.StatusForbidden, body: core.Error{Type: core.ErrPermission, Message: "account pending approval", Code: "not_approved"}},
	{target: auth.ErrNotAdmin, status: http.StatusForbidden, body: core.Error{Type: core.ErrPermission, Message: "administrator required", Code: "not_admin"}},
	{target: auth.ErrUserNotFound, status: http.StatusNotFound, body: core.Error{Type: core.ErrNotFound, Message: "user not found"}},
	{target: voice.ErrGainOutOfRange, status: http.StatusBadRequest, body: core.Error{Type: core.ErrInvalidRequest, Param: "mic_gain"}, echo: true},
	{target: live.ErrAlreadyActive, status: http.StatusConflict, body: core.Error{Type: core.ErrInvalidRequest, Message: "session already active", Code: "session_active"}},
}

// FromError returns the body and status for err, stamped with requestID.
// Errors it does not recognize become a bare "internal error" so driver
// or network details never reach the client.
func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	var (
		out    core.Error
		status int
	)
	var coreErr *core.Error
	var gemErr *gemini.Error
	switch {
	case errors.As(err, &coreErr) && coreErr != nil:
		out, status = *coreErr, coreErr.Type.HTTPStatus()
	case errors.As(err, &gemErr) && gemErr != nil:
		out, status = *gemErr.Core(), gemErr.Kind.HTTPStatus()
	default:
		out, status = core.Error{Type: core.ErrAPI, Message: "internal error"}, http.StatusInternalServerError
		for _, r := range rules {
			if errors.Is(err, r.target) {
				out, status = r.body, r.status
				if r.echo {
					out.Message = err.Error()
				}
				break
			}
		}
	}
	out.RequestID = requestID
	return &out, status
}
