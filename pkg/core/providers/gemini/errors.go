package gemini

import (
	"context"
	"errors"
	"net/http"
	"time"

	"google.golang.org/genai"

	"github.com/vango-go/terranogyneco/pkg/core"
)

// Error is a failed Gemini call, classified into the gateway's error
// types so handlers can answer with the matching status.
type Error struct {
	Op     string
	Kind   core.ErrorType
	Status string // Google RPC status, e.g. RESOURCE_EXHAUSTED
	Detail string
	Err    error
}

func (e *Error) Error() string {
	s := "gemini " + e.Op + ": " + e.Detail
	if e.Status != "" {
		s += " [" + e.Status + "]"
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether retrying later may succeed.
func (e *Error) Transient() bool {
	return e.Kind == core.ErrRateLimit || e.Kind == core.ErrOverloaded
}

// Core converts e to the public error body.
func (e *Error) Core() *core.Error {
	return &core.Error{Type: e.Kind, Message: e.Detail, Code: e.Status}
}

var rpcKinds = map[string]core.ErrorType{
	"INVALID_ARGUMENT":    core.ErrInvalidRequest,
	"FAILED_PRECONDITION": core.ErrInvalidRequest,
	"UNAUTHENTICATED":     core.ErrAuthentication,
	"PERMISSION_DENIED":   core.ErrPermission,
	"NOT_FOUND":           core.ErrNotFound,
	"RESOURCE_EXHAUSTED":  core.ErrRateLimit,
	"UNAVAILABLE":         core.ErrOverloaded,
	"INTERNAL":            core.ErrAPI,
}

// wrapError tags err with op. Cancellation is returned untouched so
// callers can still tell a stop from a failure.
func wrapError(op string, err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return &Error{Op: op, Kind: core.ErrProvider, Detail: err.Error(), Err: err}
	}
	return &Error{Op: op, Kind: classify(apiErr), Status: apiErr.Status, Detail: apiErr.Message, Err: err}
}

// classify trusts the HTTP code over the RPC status when they disagree.
func classify(apiErr genai.APIError) core.ErrorType {
	switch apiErr.Code {
	case http.StatusTooManyRequests:
		return core.ErrRateLimit
	case http.StatusServiceUnavailable:
		return core.ErrOverloaded
	case http.StatusUnauthorized, http.StatusForbidden:
		return core.ErrAuthentication
	}
	if kind, ok := rpcKinds[apiErr.Status]; ok {
		return kind
	}
	return core.ErrProvider
}

// transientRetryDelay is how long generate waits before its single retry.
var transientRetryDelay = 750 * time.Millisecond

// generate runs a GenerateContent call, retrying once when Gemini reports
// a transient failure.
func (p *Provider) generate(ctx context.Context, op, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	resp, err := p.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err == nil {
		return resp, nil
	}
	err = wrapError(op, err)
	var gerr *Error
	if !errors.As(err, &gerr) || !gerr.Transient() {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, err
	case <-time.After(transientRetryDelay):
	}
	resp, err = p.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, wrapError(op, err)
	}
	return resp, nil
}
