package errors

import "fmt"

// Errors returned synchronously to a requesting client. They never close or
// corrupt the session they were raised against.
var (
	ErrValidation      = fmt.Errorf("invalid input")
	ErrSessionNotFound = fmt.Errorf("session not found")
	ErrSessionFull     = fmt.Errorf("session is at capacity")
	ErrUnauthorized    = fmt.Errorf("unauthorized")
	ErrSessionClosed   = fmt.Errorf("session is closed")
)

// Internal conditions. Sequence conflicts are resolved by the
// last-writer-by-sequence rule and never reach a client.
var (
	ErrWorkerPanic     = fmt.Errorf("worker panic")
	ErrMailboxFull     = fmt.Errorf("session mailbox full")
	ErrAlreadyJoined   = fmt.Errorf("participant already joined")
	ErrCodeExhausted   = fmt.Errorf("room code space exhausted")
	ErrEmptyWords      = fmt.Errorf("no words have been found")
	ErrTokenGeneration = fmt.Errorf("token generation failed")
)
