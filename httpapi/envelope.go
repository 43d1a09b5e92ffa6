package httpapi

import (
	"encoding/json"
	"time"

	"seance/domain"
	"seance/domain/event"
)

// Envelope is the uniform wire frame of the session channel, both
// directions. Type selects the payload shape; SessionID scopes the frame to
// one session. Unknown types are rejected, not ignored, so protocol drift
// between client and server surfaces immediately.
type Envelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Client to server frame types. Joining is not a frame: it is the control
// operation POST /v1/sessions/{id}/join, which also hands back the snapshot
// the stream assumes.
const (
	TypeStateUpdate  = "state_update"
	TypeDomainEvent  = "domain_event"
	TypeHeartbeat    = "heartbeat"
	TypeCursorUpdate = "cursor_update"
	TypeLeave        = "leave"
)

// Server to client frame types.
const (
	TypeAck                  = "ack"
	TypeError                = "error"
	TypeParticipantJoined    = "participant_joined"
	TypeParticipantLeft      = "participant_left"
	TypeStatePatch           = "state_patch"
	TypeDomainEventBroadcast = "domain_event_broadcast"
	TypeCursorBroadcast      = "cursor_broadcast"
	TypeSessionClosed        = "session_closed"
)

type StateUpdatePayload struct {
	Updates []domain.StateUpdate `json:"updates"`
}

type DomainEventPayload struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

type CursorPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type AckPayload struct {
	// Assigned maps state keys to authoritative sequence numbers for
	// state_update acks; Seq carries the single assignment of a
	// domain_event ack.
	Assigned map[string]uint64 `json:"assigned,omitempty"`
	Seq      uint64            `json:"seq,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type participantJoinedPayload struct {
	Participant domain.Participant `json:"participant"`
	At          time.Time          `json:"at"`
}

type participantLeftPayload struct {
	UserID    string    `json:"user_id"`
	Reason    string    `json:"reason"`
	NewHostID string    `json:"new_host_id,omitempty"`
	At        time.Time `json:"at"`
}

type statePatchPayload struct {
	Entries []domain.StateEntry `json:"entries"`
	At      time.Time           `json:"at"`
}

type domainEventBroadcastPayload struct {
	Seq       uint64    `json:"seq"`
	UserID    string    `json:"user_id"`
	EventType string    `json:"event_type"`
	Payload   any       `json:"payload"`
	At        time.Time `json:"at"`
}

type sessionClosedPayload struct {
	Reason     string          `json:"reason"`
	FinalState domain.Snapshot `json:"final_state"`
	At         time.Time       `json:"at"`
}

// fromEvent converts one fanned-out session event into its wire frame.
// Events without a wire representation report ok=false and are skipped.
func fromEvent(e event.Event) (Envelope, bool) {
	var (
		frameType string
		payload   any
	)

	switch evt := e.(type) {
	case event.ParticipantJoined:
		frameType = TypeParticipantJoined
		payload = participantJoinedPayload{Participant: evt.Participant, At: evt.At}
	case event.ParticipantLeft:
		frameType = TypeParticipantLeft
		payload = participantLeftPayload{
			UserID: evt.UserID, Reason: evt.Reason, NewHostID: evt.NewHostID, At: evt.At,
		}
	case event.StatePatched:
		frameType = TypeStatePatch
		payload = statePatchPayload{Entries: evt.Entries, At: evt.At}
	case event.Collab:
		frameType = TypeDomainEventBroadcast
		payload = domainEventBroadcastPayload{
			Seq: evt.Seq, UserID: evt.UserID, EventType: evt.EventType,
			Payload: evt.Payload, At: evt.At,
		}
	case event.CursorMoved:
		frameType = TypeCursorBroadcast
		payload = evt.Cursor
	case event.SessionClosed:
		frameType = TypeSessionClosed
		payload = sessionClosedPayload{Reason: evt.Reason, FinalState: evt.FinalState, At: evt.At}
	default:
		return Envelope{}, false
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, false
	}
	return Envelope{Type: frameType, SessionID: string(e.Session()), Payload: raw}, true
}
