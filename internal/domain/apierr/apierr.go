// Package apierr defines the typed error taxonomy returned by the auth and
// leaderboard clients. Every error carries one of the sentinel kinds below so
// callers can branch with errors.Is.
package apierr

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel kinds.
var (
	ErrNetwork         = errors.New("network error")
	ErrAuthFailed      = errors.New("authentication failed")
	ErrRegisterFailed  = errors.New("registration failed")
	ErrTokenExpired    = errors.New("token expired")
	ErrParse           = errors.New("malformed response")
	ErrUnauthenticated = errors.New("not authenticated")
	ErrValidation      = errors.New("validation failed")
	ErrFetch           = errors.New("leaderboard fetch failed")
	ErrSubmit          = errors.New("score submission failed")
)

// Error is a classified failure. Status is the HTTP status when a response
// was received, Message the server-provided text when present.
type Error struct {
	Op      string
	Kind    error
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New returns a classified error without a cause.
func New(op string, kind error) *Error {
	return &Error{Op: op, Kind: kind}
}

// Wrap classifies cause under kind.
func Wrap(op string, kind, cause error) *Error {
	return &Error{Op: op, Kind: kind, Err: cause}
}

// Status returns a classified HTTP failure.
func Status(op string, kind error, status int, message string) *Error {
	return &Error{Op: op, Kind: kind, Status: status, Message: message}
}

// Message returns the first server message found in err's chain.
func Message(err error) string {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return ""
		}
		if e.Message != "" {
			return e.Message
		}
		err = e.Err
	}
	return ""
}

// StatusOf returns the first HTTP status found in err's chain, or 0.
func StatusOf(err error) int {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return 0
		}
		if e.Status != 0 {
			return e.Status
		}
		err = e.Err
	}
	return 0
}

// KindName returns a short label for metrics.
func KindName(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrAuthFailed):
		return "auth_failed"
	case errors.Is(err, ErrRegisterFailed):
		return "register_failed"
	case errors.Is(err, ErrFetch):
		return "fetch"
	case errors.Is(err, ErrSubmit):
		return "submit"
	default:
		return "unknown"
	}
}
