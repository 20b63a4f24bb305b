package domain

import "errors"

// Relay error taxonomy. Callers wrap these with %w and branch with
// errors.Is; the handler boundary maps them to HTTP statuses and wire
// error codes.
var (
	// ErrNotFound means the connection or room is unknown.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState means the operation is illegal for the connection's
	// current lifecycle state.
	ErrInvalidState = errors.New("invalid connection state")

	// ErrForbidden means the claimed sender identity does not match an open
	// connection in the target room.
	ErrForbidden = errors.New("forbidden")

	// ErrBridgeUnavailable means cross-process fan-out is degraded; local
	// delivery has still been performed.
	ErrBridgeUnavailable = errors.New("pubsub bridge unavailable")
)

// Wire-level error codes.
const (
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeInvalidState      = "INVALID_STATE"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeBadRequest        = "BAD_REQUEST"
	ErrCodeBridgeUnavailable = "BRIDGE_UNAVAILABLE"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// CodeFor maps a relay error to its wire-level code.
func CodeFor(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, ErrInvalidState):
		return ErrCodeInvalidState
	case errors.Is(err, ErrForbidden):
		return ErrCodeForbidden
	case errors.Is(err, ErrBridgeUnavailable):
		return ErrCodeBridgeUnavailable
	default:
		return ErrCodeInternalError
	}
}
