package domain

import "errors"

var (
	// ErrAuthFailure handshake credential invalid or expired
	ErrAuthFailure = errors.New("authentication failed")
	// ErrNotFound conversation or message not found
	ErrNotFound = errors.New("not found")
	// ErrAccessDenied identity is not a participant
	ErrAccessDenied = errors.New("access denied")
	// ErrPersistence durable read or write failed
	ErrPersistence = errors.New("persistence failure")
	// ErrChannelSend a single outbound send failed
	ErrChannelSend = errors.New("channel send failure")
	// ErrChannelClosed channel already deregistered
	ErrChannelClosed = errors.New("channel closed")
)

// ClientError is the text shown to the client. NotFound and AccessDenied
// share one text so a caller can not probe for conversation ids.
func ClientError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAccessDenied):
		return "not found"
	case errors.Is(err, ErrAuthFailure):
		return "unauthorized"
	case errors.Is(err, ErrPersistence):
		return "temporarily unavailable, retry"
	}
	return err.Error()
}
