package room

import (
	"errors"
	"fmt"
)

// Sentinel errors for admission and room lifecycle conditions.
var (
	// ErrCapacityExceeded is returned when a room is at its session cap.
	ErrCapacityExceeded = errors.New("room: capacity exceeded")

	// ErrMissingIdentity is returned when admission is attempted without
	// an authenticated identity.
	ErrMissingIdentity = errors.New("room: missing identity")

	// ErrRoomClosed is returned when an operation targets a room that has
	// been evicted or shut down.
	ErrRoomClosed = errors.New("room: closed")

	// ErrManagerClosed is returned when admission is attempted after the
	// manager has shut down.
	ErrManagerClosed = errors.New("room: manager shut down")

	// ErrRestoreFailed is returned when a room cannot load its persisted
	// snapshot during activation. The connection may retry.
	ErrRestoreFailed = errors.New("room: restore failed")
)

// RejectionReason maps an admission error to the reason string exposed to
// the connecting client. Unknown errors map to "internal_error".
func RejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ErrMissingIdentity):
		return "missing_identity"
	default:
		return "internal_error"
	}
}

// DeliveryError wraps a failed send to one session with its context.
// Delivery errors remove that session only; broadcasting continues.
type DeliveryError struct {
	SessionID string
	Err       error
}

// Error returns the error message with session context.
func (e *DeliveryError) Error() string {
	return fmt.Sprintf("room: deliver to session %s: %v", e.SessionID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *DeliveryError) Unwrap() error {
	return e.Err
}
