package types

import (
	"errors"
	"fmt"
)

// Kind classifies failures so callers can decide whether to retry.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindConfiguration    Kind = "configuration"
	KindTransport        Kind = "transport"
	KindMalformedMessage Kind = "malformed_message"
	KindUnknownRoute     Kind = "unknown_route"
)

var (
	// ErrValidation matches bad or missing input. Never touches the network.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration matches a missing bus endpoint or credential.
	ErrConfiguration = errors.New("configuration error")
	// ErrTransport matches a failed publish or receive attempt.
	ErrTransport = errors.New("transport error")
	// ErrMalformedMessage matches a received payload that could not be parsed.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrUnknownRoute matches an unrecognized routing key or tool name.
	ErrUnknownRoute = errors.New("unknown route")
)

var kindSentinels = map[Kind]error{
	KindValidation:       ErrValidation,
	KindConfiguration:    ErrConfiguration,
	KindTransport:        ErrTransport,
	KindMalformedMessage: ErrMalformedMessage,
	KindUnknownRoute:     ErrUnknownRoute,
}

// Error carries a Kind alongside the operation that failed and its cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

// NewError builds an Error. err may be nil.
func NewError(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind as well as the wrapped chain.
func (e *Error) Is(target error) bool {
	if s, ok := kindSentinels[e.Kind]; ok && s == target {
		return true
	}
	return false
}

// KindOf reports the Kind of err, or "" if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for k, s := range kindSentinels {
		if errors.Is(err, s) {
			return k
		}
	}
	return ""
}

// Validationf is shorthand for a validation Error with a formatted message.
func Validationf(op, format string, args ...any) *Error {
	return NewError(KindValidation, op, fmt.Sprintf(format, args...), nil)
}
