package voice

import (
	"errors"
	"fmt"
)

// Error is a categorized engine error.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes engine errors.
type ErrorType string

const (
	// ErrDeviceUnavailable means a microphone or speaker could not be
	// acquired. Fatal to Connect; the engine does not retry.
	ErrDeviceUnavailable ErrorType = "device_unavailable"

	// ErrBackpressureExceeded means capture produced frames faster than
	// the consumer drained them and the bounded queue filled up.
	ErrBackpressureExceeded ErrorType = "backpressure_exceeded"

	// ErrDecode means an audio payload was malformed.
	ErrDecode ErrorType = "decode_error"

	// ErrTransport wraps a remote service error event. Non-fatal: the
	// session stays connected until the caller disconnects.
	ErrTransport ErrorType = "transport_error"

	// ErrInvalidState means an operation was attempted from a session
	// state that does not allow it.
	ErrInvalidState ErrorType = "invalid_state"
)

// NewDeviceUnavailableError creates a device acquisition error.
func NewDeviceUnavailableError(message string) *Error {
	return &Error{Type: ErrDeviceUnavailable, Message: message}
}

// NewBackpressureError creates a capture backpressure error.
func NewBackpressureError(message string) *Error {
	return &Error{Type: ErrBackpressureExceeded, Message: message}
}

// NewDecodeError creates a malformed audio error.
func NewDecodeError(message string) *Error {
	return &Error{Type: ErrDecode, Message: message}
}

// NewTransportError creates a remote transport error.
func NewTransportError(message string) *Error {
	return &Error{Type: ErrTransport, Message: message}
}

// NewInvalidStateError creates an invalid state transition error.
func NewInvalidStateError(message string) *Error {
	return &Error{Type: ErrInvalidState, Message: message}
}

// IsType reports whether err is (or wraps) an engine error of the given type.
func IsType(err error, t ErrorType) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == t
	}
	return false
}
