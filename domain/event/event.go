// Package event defines the closed set of events fanned out to session
// members, plus the tagged domain-event payload variants and their
// validation. Everything here is immutable once emitted.
package event

import (
	"time"

	"seance/domain"
)

// Event is anything the fanout delivers to session sinks.
type Event interface {
	Session() domain.SessionID
}

// Origin is implemented by events that should not be echoed back to the
// participant that caused them.
type Origin interface {
	OriginID() string
}

// ParticipantJoined is broadcast to the existing members when someone joins.
type ParticipantJoined struct {
	SessionID   domain.SessionID
	Participant domain.Participant
	At          time.Time
}

func (e ParticipantJoined) Session() domain.SessionID { return e.SessionID }
func (e ParticipantJoined) OriginID() string          { return e.Participant.UserID }

// ParticipantLeft is broadcast when a member leaves, times out, or is
// removed. NewHostID is set when the departure triggered host reassignment.
type ParticipantLeft struct {
	SessionID domain.SessionID
	UserID    string
	Reason    string
	NewHostID string
	At        time.Time
}

func (e ParticipantLeft) Session() domain.SessionID { return e.SessionID }
func (e ParticipantLeft) OriginID() string          { return e.UserID }

// StatePatched carries the diff of an accepted state update: only the
// changed keys, never the full map.
type StatePatched struct {
	SessionID domain.SessionID
	UserID    string
	Entries   []domain.StateEntry
	At        time.Time
}

func (e StatePatched) Session() domain.SessionID { return e.SessionID }
func (e StatePatched) OriginID() string          { return e.UserID }

// Collab is an accepted domain event: sequenced, folded into shared state,
// and delivered as a discrete notification so clients can drive presentation
// (a card flip, a stroke) without diffing generic state patches. Delivered
// to every participant, origin included.
type Collab struct {
	SessionID domain.SessionID
	Seq       uint64
	UserID    string
	EventType string
	Payload   any
	At        time.Time
}

func (e Collab) Session() domain.SessionID { return e.SessionID }

// CursorMoved relays an accepted (rate-limited) pointer position. Not
// sequenced; staleness is tolerated by design.
type CursorMoved struct {
	SessionID domain.SessionID
	Cursor    domain.CursorPosition
}

func (e CursorMoved) Session() domain.SessionID { return e.SessionID }
func (e CursorMoved) OriginID() string          { return e.Cursor.UserID }

// SessionClosed is the final event of a session. FinalState carries the last
// snapshot so the persistence sink can store it without reaching back into a
// worker that no longer exists.
type SessionClosed struct {
	SessionID  domain.SessionID
	Reason     string
	FinalState domain.Snapshot
	At         time.Time
}

func (e SessionClosed) Session() domain.SessionID { return e.SessionID }
