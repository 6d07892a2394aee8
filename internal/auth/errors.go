package auth

import (
	"context"
	"errors"
	"net"
)

// Store-level sentinels. They never cross the HTTP boundary unmapped.
var (
	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: already exists")
	ErrInvalidInput = errors.New("auth: invalid input")
)

// Kind classifies authentication failures for translation at the HTTP boundary.
type Kind int

const (
	KindUnauthorized Kind = iota + 1
	KindBadRequest
	KindUpstreamUnavailable
	KindUpstreamTimeout
	KindRegistrationRequired
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindBadRequest:
		return "bad_request"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindUpstreamTimeout:
		return "upstream_timeout"
	case KindRegistrationRequired:
		return "registration_required"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Message is safe to show to clients; Err holds
// the underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return "auth: " + e.Message + ": " + e.Err.Error()
	}
	return "auth: " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrUnauthorized)
// holds for every unauthorized failure regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrUnauthorized         = &Error{Kind: KindUnauthorized, Message: "unauthorized"}
	ErrBadRequest           = &Error{Kind: KindBadRequest, Message: "bad request"}
	ErrUpstreamUnavailable  = &Error{Kind: KindUpstreamUnavailable, Message: "upstream unavailable"}
	ErrUpstreamTimeout      = &Error{Kind: KindUpstreamTimeout, Message: "upstream timeout"}
	ErrRegistrationRequired = &Error{Kind: KindRegistrationRequired, Message: "registration required"}
	ErrInternal             = &Error{Kind: KindInternal, Message: "internal error"}
)

// ErrInvalidToken is returned by TokenCodec.Verify for every rejected token.
var ErrInvalidToken = &Error{Kind: KindUnauthorized, Message: "invalid token"}

// Unauthorized builds a KindUnauthorized error with a client-facing message.
func Unauthorized(msg string, cause error) *Error {
	return &Error{Kind: KindUnauthorized, Message: msg, Err: cause}
}

// BadRequest builds a KindBadRequest error.
func BadRequest(msg string, cause error) *Error {
	return &Error{Kind: KindBadRequest, Message: msg, Err: cause}
}

// UpstreamUnavailable builds a KindUpstreamUnavailable error.
func UpstreamUnavailable(msg string, cause error) *Error {
	return &Error{Kind: KindUpstreamUnavailable, Message: msg, Err: cause}
}

// UpstreamTimeout builds a KindUpstreamTimeout error.
func UpstreamTimeout(msg string, cause error) *Error {
	return &Error{Kind: KindUpstreamTimeout, Message: msg, Err: cause}
}

// RegistrationRequired builds a KindRegistrationRequired error.
func RegistrationRequired(msg string) *Error {
	return &Error{Kind: KindRegistrationRequired, Message: msg}
}

// Internal builds a KindInternal error.
func Internal(msg string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: cause}
}

// KindOf returns the classification of err, or 0 when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// PublicMessage returns the client-facing message of a classified error.
func PublicMessage(err error) (string, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Message, true
	}
	return "", false
}

// UpstreamFailure classifies a failed outbound call: deadline and network
// timeouts become KindUpstreamTimeout, everything else KindUpstreamUnavailable.
func UpstreamFailure(msg string, err error) *Error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return UpstreamTimeout(msg, err)
	}
	return UpstreamUnavailable(msg, err)
}
