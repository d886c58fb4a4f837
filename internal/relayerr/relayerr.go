// Package relayerr defines the typed error kinds surfaced on both the
// Control and Signal planes.
package relayerr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error kinds the relay can return. GraphQL
// resolvers map a Kind to its wire-visible error code; nothing outside
// this package should construct ad hoc error strings for these cases.
type Kind string

const (
	// Auth / admission
	InvalidToken    Kind = "INVALID_TOKEN"
	AlreadyConnected Kind = "ALREADY_CONNECTED"
	Unauthorized    Kind = "UNAUTHORIZED"

	// Registry
	RoomAlreadyExists         Kind = "ROOM_ALREADY_EXISTS"
	NoSuchRoom                Kind = "NO_SUCH_ROOM"
	SessionAlreadyExists      Kind = "SESSION_ALREADY_EXISTS"
	NoSuchSession             Kind = "NO_SUCH_SESSION"
	VulcastSessionAlreadyBound Kind = "VULCAST_SESSION_ALREADY_BOUND"

	// Resource
	NoSuchTransport          Kind = "NO_SUCH_TRANSPORT"
	NoSuchProducer           Kind = "NO_SUCH_PRODUCER"
	NoSuchConsumer           Kind = "NO_SUCH_CONSUMER"
	TransportAlreadyConnected Kind = "TRANSPORT_ALREADY_CONNECTED"

	// Capability
	CannotConsume     Kind = "CANNOT_CONSUME"
	InvalidParameters Kind = "INVALID_PARAMETERS"

	// Infrastructure
	WorkerCrashed Kind = "WORKER_CRASHED"
	Internal      Kind = "INTERNAL"
)

// Error is a typed, wrappable error carrying a Kind for GraphQL error
// mapping and an optional underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given Kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given Kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to Internal when err is
// not a *Error.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return Internal
}

// Fatal reports whether the error kind cascades into a connection close
// on the Signal plane: an invalid token or a crashed media worker both
// force the connection closed rather than leaving it in a half-bound
// state.
func Fatal(err error) bool {
	k := KindOf(err)
	return k == InvalidToken || k == WorkerCrashed
}
