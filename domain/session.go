// Package domain contains core concepts of the collaborative session system.
// This file defines the Session record, its lifecycle and its invariants.
// No runtime, network, or UI logic should be added here.
package domain

import (
	"time"

	seanceerrors "seance/errors"
)

type SessionID string

// SessionType is the closed set of collaborative experiences a session can host.
type SessionType string

const (
	SessionTypeTarot      SessionType = "tarot"
	SessionTypeNumerology SessionType = "numerology"
	SessionTypeCanvas     SessionType = "canvas"
)

// KnownSessionTypes lists every accepted session type.
var KnownSessionTypes = []SessionType{SessionTypeTarot, SessionTypeNumerology, SessionTypeCanvas}

type SessionStatus int

const (
	StatusCreated SessionStatus = iota
	StatusActive
	StatusClosed
)

func (s SessionStatus) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusActive:
		return "active"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	MinParticipants = 2
	MaxParticipants = 20
)

// Session is a bounded collaborative context: a host, a participant set and
// a shared key/value state totally ordered by a single sequence counter.
//
// A Session is owned exclusively by its session worker. Nothing outside the
// worker may hold a mutable reference; every other component addresses the
// session by ID through the coordinator.
type Session struct {
	ID              SessionID
	Title           string
	Type            SessionType
	HostID          string
	Participants    map[string]*Participant
	MaxParticipants int
	IsPrivate       bool
	PasswordHash    string
	RoomCode        string
	Status          SessionStatus
	SharedState     map[string]StateEntry
	Seq             uint64
	CreatedAt       time.Time
}

// NewSession builds a session in the Created state with the creator as host.
// The creator is not a participant yet; it becomes one on its first join,
// which also flips the session to Active.
func NewSession(id SessionID, title string, kind SessionType, hostID, roomCode string,
	maxParticipants int, isPrivate bool, passwordHash string, now time.Time) *Session {
	return &Session{
		ID:              id,
		Title:           title,
		Type:            kind,
		HostID:          hostID,
		Participants:    make(map[string]*Participant),
		MaxParticipants: maxParticipants,
		IsPrivate:       isPrivate,
		PasswordHash:    passwordHash,
		RoomCode:        roomCode,
		Status:          StatusCreated,
		SharedState:     make(map[string]StateEntry),
		CreatedAt:       now.UTC(),
	}
}

// NextSeq hands out the next sequence number. There is exactly one authority
// per session: state updates and domain events share this counter, which is
// what gives the session a single total order of mutations.
func (s *Session) NextSeq() uint64 {
	s.Seq++
	return s.Seq
}

// Join adds a participant. The first successful join activates the session.
// Rejoining with a known user ID refreshes the heartbeat instead of growing
// the participant set, so reconnects are not counted against capacity.
func (s *Session) Join(userID, displayName string, now time.Time) (*Participant, error) {
	if s.Status == StatusClosed {
		return nil, seanceerrors.ErrSessionNotFound
	}
	if existing, ok := s.Participants[userID]; ok {
		existing.Presence = PresenceOnline
		existing.LastHeartbeatAt = now.UTC()
		return existing, seanceerrors.ErrAlreadyJoined
	}
	if len(s.Participants) >= s.MaxParticipants {
		return nil, seanceerrors.ErrSessionFull
	}

	role := RoleGuest
	if userID == s.HostID {
		role = RoleHost
	}
	p := &Participant{
		UserID:          userID,
		DisplayName:     displayName,
		Role:            role,
		JoinedAt:        now.UTC(),
		LastHeartbeatAt: now.UTC(),
		Presence:        PresenceOnline,
	}
	s.Participants[userID] = p

	if s.Status == StatusCreated {
		s.Status = StatusActive
	}
	return p, nil
}

// Leave removes a participant. When the departing user was host and others
// remain, the participant with the earliest JoinedAt becomes the new host
// (user ID breaks ties so the choice is deterministic). An empty participant
// set closes the session immediately.
func (s *Session) Leave(userID string) (newHostID string, empty bool) {
	p, ok := s.Participants[userID]
	if !ok {
		return "", false
	}
	delete(s.Participants, userID)

	if len(s.Participants) == 0 {
		s.Status = StatusClosed
		return "", true
	}

	if p.Role == RoleHost {
		var next *Participant
		for _, candidate := range s.Participants {
			if next == nil {
				next = candidate
				continue
			}
			if candidate.JoinedAt.Before(next.JoinedAt) ||
				(candidate.JoinedAt.Equal(next.JoinedAt) && candidate.UserID < next.UserID) {
				next = candidate
			}
		}
		next.Role = RoleHost
		s.HostID = next.UserID
		return next.UserID, false
	}
	return "", false
}

// Close marks the session closed. Idempotent.
func (s *Session) Close() {
	s.Status = StatusClosed
}

// Heartbeat refreshes a participant's liveness timestamp. Idempotent; unknown
// users are ignored rather than treated as an error.
func (s *Session) Heartbeat(userID string, now time.Time) {
	if p, ok := s.Participants[userID]; ok {
		p.LastHeartbeatAt = now.UTC()
		p.Presence = PresenceOnline
	}
}

// StaleParticipants returns the IDs of participants whose last heartbeat is
// older than the deadline. Used by the presence sweep; the caller routes each
// returned ID through the regular leave path.
func (s *Session) StaleParticipants(deadline time.Time) []string {
	var stale []string
	for id, p := range s.Participants {
		if p.LastHeartbeatAt.Before(deadline) {
			p.Presence = PresenceDisconnected
			stale = append(stale, id)
		}
	}
	return stale
}

// IsParticipant reports whether the user currently belongs to the session.
func (s *Session) IsParticipant(userID string) bool {
	_, ok := s.Participants[userID]
	return ok
}
