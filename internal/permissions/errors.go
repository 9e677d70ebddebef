package permissions

import (
	"errors"
	"fmt"
)

var (
	// ErrRequestNotFound is returned when a request does not exist or its TTL expired.
	ErrRequestNotFound = errors.New("permission request not found")

	// ErrForbidden is returned when a chat asks about another chat's request.
	ErrForbidden = errors.New("request belongs to a different chat")

	// ErrAwaitTimeout is returned when no response arrived in time.
	ErrAwaitTimeout = errors.New("timed out waiting for permission response")
)

// ProtocolError marks a malformed payload on the response channel.
type ProtocolError struct {
	Cause error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed permission response: %v", e.Cause)
}

func (e *ProtocolError) Unwrap() error {
	return e.Cause
}
