package domain

import (
	"encoding/json"
	"time"
)

// StateEntry is one authoritative key of the shared session state. A value is
// authoritative only while its SequenceNumber is the highest seen for its key.
type StateEntry struct {
	Key            string          `json:"key"`
	Value          json.RawMessage `json:"value"`
	SequenceNumber uint64          `json:"sequence_number"`
	UpdatedBy      string          `json:"updated_by"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// StateUpdate is one requested key write. Seq is zero for a first submission;
// a retry carries the sequence number previously assigned so the synchronizer
// can recognize it as already applied.
type StateUpdate struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
	Seq   uint64          `json:"seq,omitempty"`
}

// ApplyUpdates writes a batch of keys under the session's serialization
// point. Every fresh write is stamped with the next sequence number; a retry
// whose sequence number is not above the key's current one is a no-op that
// reports the already-authoritative assignment. The returned patch contains
// only freshly applied entries (the diff that must be broadcast), while
// assigned maps every requested key to its sequence number, including
// deduplicated ones, so a retried call returns the same result as the
// original application.
func (s *Session) ApplyUpdates(userID string, updates []StateUpdate, now time.Time) (patch []StateEntry, assigned map[string]uint64) {
	assigned = make(map[string]uint64, len(updates))
	for _, u := range updates {
		if current, ok := s.SharedState[u.Key]; ok && u.Seq != 0 && current.SequenceNumber >= u.Seq {
			assigned[u.Key] = current.SequenceNumber
			continue
		}
		entry := StateEntry{
			Key:            u.Key,
			Value:          u.Value,
			SequenceNumber: s.NextSeq(),
			UpdatedBy:      userID,
			UpdatedAt:      now.UTC(),
		}
		s.SharedState[u.Key] = entry
		assigned[u.Key] = entry.SequenceNumber
		patch = append(patch, entry)
	}
	return patch, assigned
}

// FoldEntry writes a single already-sequenced entry, keeping the
// last-writer-by-sequence rule. Used when a domain event is folded into
// shared state under the sequence number the event itself was assigned.
func (s *Session) FoldEntry(entry StateEntry) {
	if current, ok := s.SharedState[entry.Key]; ok && current.SequenceNumber >= entry.SequenceNumber {
		return
	}
	s.SharedState[entry.Key] = entry
}

// SharedState is an observer-side replica of a session's state map. Patches
// may arrive in any order relative to each other; Apply keeps whichever value
// carries the highest sequence number per key, so replicas converge to the
// authority regardless of delivery order.
type SharedState map[string]StateEntry

func (m SharedState) Apply(entries []StateEntry) {
	for _, e := range entries {
		if current, ok := m[e.Key]; ok && current.SequenceNumber >= e.SequenceNumber {
			continue
		}
		m[e.Key] = e
	}
}

// Snapshot is a point-in-time copy of a session, safe to hand outside the
// session worker. Late joiners bootstrap from it instead of replaying
// history.
type Snapshot struct {
	ID              SessionID             `json:"session_id"`
	Title           string                `json:"title"`
	Type            SessionType           `json:"type"`
	HostID          string                `json:"host_id"`
	RoomCode        string                `json:"room_code"`
	Status          SessionStatus         `json:"status"`
	MaxParticipants int                   `json:"max_participants"`
	IsPrivate       bool                  `json:"is_private"`
	Participants    []Participant         `json:"participants"`
	SharedState     map[string]StateEntry `json:"shared_state"`
	Sequence        uint64                `json:"sequence"`
	CreatedAt       time.Time             `json:"created_at"`
}

// Snapshot deep-copies the session. The copy shares no mutable data with the
// worker-owned record.
func (s *Session) Snapshot() Snapshot {
	participants := make([]Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		participants = append(participants, *p)
	}
	state := make(map[string]StateEntry, len(s.SharedState))
	for k, v := range s.SharedState {
		state[k] = v
	}
	return Snapshot{
		ID:              s.ID,
		Title:           s.Title,
		Type:            s.Type,
		HostID:          s.HostID,
		RoomCode:        s.RoomCode,
		Status:          s.Status,
		MaxParticipants: s.MaxParticipants,
		IsPrivate:       s.IsPrivate,
		Participants:    participants,
		SharedState:     state,
		Sequence:        s.Seq,
		CreatedAt:       s.CreatedAt,
	}
}

// Summary is the listing projection of a session.
type Summary struct {
	ID               SessionID   `json:"session_id"`
	Title            string      `json:"title"`
	Type             SessionType `json:"type"`
	RoomCode         string      `json:"room_code"`
	Status           string      `json:"status"`
	IsPrivate        bool        `json:"is_private"`
	ParticipantCount int         `json:"participant_count"`
	MaxParticipants  int         `json:"max_participants"`
	CreatedAt        time.Time   `json:"created_at"`
}
