package adherence

import (
	"errors"
	"fmt"
)

// Kind classifies an error so callers can decide how to react (re-login,
// offer a retry, show a validation message).
type Kind string

const (
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindNetwork    Kind = "network"
	KindNotFound   Kind = "not_found"
	KindUpstream   Kind = "upstream"
)

// Sentinel errors, one per kind. An *Error matches the sentinel of its kind
// under errors.Is.
var (
	ErrValidation = errors.New("validation error")
	ErrAuth       = errors.New("authentication required")
	ErrNetwork    = errors.New("network error")
	ErrNotFound   = errors.New("not found")
	ErrUpstream   = errors.New("upstream error")
)

var kindSentinels = map[Kind]error{
	KindValidation: ErrValidation,
	KindAuth:       ErrAuth,
	KindNetwork:    ErrNetwork,
	KindNotFound:   ErrNotFound,
	KindUpstream:   ErrUpstream,
}

// Error is the typed error returned by every adherence operation.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

// NewError builds an *Error of the given kind.
func NewError(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

func validationError(op, message string) *Error {
	return NewError(KindValidation, op, message, nil)
}

func notFoundError(op, message string) *Error {
	return NewError(KindNotFound, op, message, nil)
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether the user should be offered a manual retry.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}
