package apperr

import (
	"errors"
	"net/http"
)

// Error kinds shared by the engine, the socket gateway and the HTTP handlers.
var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrInvalidState    = errors.New("invalid state")
	ErrInternal        = errors.New("internal error")
)

// Error carries a kind, a caller-facing message and an optional cause.
type Error struct {
	Kind  error
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Kind.Error()
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func Unauthorized(msg string) error    { return &Error{Kind: ErrUnauthorized, Msg: msg} }
func InvalidArgument(msg string) error { return &Error{Kind: ErrInvalidArgument, Msg: msg} }
func NotFound(msg string) error        { return &Error{Kind: ErrNotFound, Msg: msg} }
func InvalidState(msg string) error    { return &Error{Kind: ErrInvalidState, Msg: msg} }

// Internal wraps a storage or infrastructure failure. The cause is kept for
// logging and never shown to clients.
func Internal(cause error) error {
	return &Error{Kind: ErrInternal, Cause: cause}
}

// PublicMessage returns the message safe to send to a client.
func PublicMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && !errors.Is(appErr.Kind, ErrInternal) {
		return appErr.Error()
	}
	switch {
	case errors.Is(err, ErrUnauthorized):
		return ErrUnauthorized.Error()
	case errors.Is(err, ErrInvalidArgument):
		return ErrInvalidArgument.Error()
	case errors.Is(err, ErrNotFound):
		return ErrNotFound.Error()
	case errors.Is(err, ErrInvalidState):
		return ErrInvalidState.Error()
	}
	return ErrInternal.Error()
}

// HTTPStatus maps an error kind to a response status.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
