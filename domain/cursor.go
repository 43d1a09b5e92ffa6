package domain

import "time"

// CursorPosition is the latest known pointer position of one participant.
// Ephemeral: never persisted, never sequenced, dropped on leave or TTL.
// Cursor records are owned by the cursor table, not embedded in Session or
// Participant, so the ownership graph stays acyclic.
type CursorPosition struct {
	UserID       string    `json:"user_id"`
	X            float64   `json:"x"`
	Y            float64   `json:"y"`
	LastUpdateAt time.Time `json:"last_update_at"`
}
