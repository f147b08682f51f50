package core

import (
	"fmt"
	"net/http"
)

// Error is the body of every failed gateway response, wrapped as
// {"error": {...}}. Live sessions reuse it for their error frames.
type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Param     string    `json:"param,omitempty"`
	Code      string    `json:"code,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

func (e *Error) Error() string {
	msg := string(e.Type) + ": " + e.Message
	if e.Code != "" {
		msg = fmt.Sprintf("%s (code: %s)", msg, e.Code)
	}
	return msg
}

// ErrorType is the coarse class of an Error. Clients branch on it.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrPermission     ErrorType = "permission_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrAPI            ErrorType = "api_error"
	ErrOverloaded     ErrorType = "overloaded_error"
	ErrProvider       ErrorType = "provider_error"
)

// StatusOverloaded is sent while the gateway drains or an upstream model
// is saturated.
const StatusOverloaded = 529

// HTTPStatus is the response status for an error of type t.
func (t ErrorType) HTTPStatus() int {
	switch t {
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrAuthentication:
		return http.StatusUnauthorized
	case ErrPermission:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrRateLimit:
		return http.StatusTooManyRequests
	case ErrOverloaded:
		return StatusOverloaded
	case ErrProvider, ErrAPI:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
