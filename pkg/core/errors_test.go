package core

import (
	"encoding/json"
	"net/http"
	"testing"
)

func TestError_Message(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{&Error{Type: ErrInvalidRequest, Message: "unknown voice"}, "invalid_request_error: unknown voice"},
		{&Error{Type: ErrPermission, Message: "account pending approval", Code: "not_approved"}, "permission_error: account pending approval (code: not_approved)"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestError_JSONOmitsEmptyFields(t *testing.T) {
	b, err := json.Marshal(&Error{Type: ErrNotFound, Message: "conversation not found"})
	if err != nil {
		t.Fatal(err)
	}
	if got := string(b); got != `{"type":"not_found_error","message":"conversation not found"}` {
		t.Fatalf("json = %s", got)
	}
}

func TestErrorType_HTTPStatus(t *testing.T) {
	tests := map[ErrorType]int{
		ErrInvalidRequest:   http.StatusBadRequest,
		ErrAuthentication:   http.StatusUnauthorized,
		ErrPermission:       http.StatusForbidden,
		ErrNotFound:         http.StatusNotFound,
		ErrRateLimit:        http.StatusTooManyRequests,
		ErrOverloaded:       StatusOverloaded,
		ErrProvider:         http.StatusBadGateway,
		ErrAPI:              http.StatusBadGateway,
		ErrorType("bogus"):  http.StatusInternalServerError,
	}
	for typ, want := range tests {
		if got := typ.HTTPStatus(); got != want {
			t.Errorf("%s.HTTPStatus() = %d, want %d", typ, got, want)
		}
	}
}
