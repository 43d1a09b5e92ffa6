// Package runtime hosts the coordination engine: the session coordinator,
// the connection registry, the cursor table and the background workers. It
// orchestrates the system without containing domain rules.
package runtime

import (
	"sync"

	"seance/contract"
	"seance/domain"
)

type set map[string]struct{}

// Registry tracks which participants are connected and through which sink
// events reach them. Membership of the *session* lives in the Session record
// owned by its worker; the registry only knows about live connections.
type Registry struct {
	mu      sync.RWMutex
	sinks   map[string]contract.EventSink // participant -> delivery channel
	members map[domain.SessionID]set      // session -> connected participants
}

func NewRegistry() *Registry {
	return &Registry{
		sinks:   make(map[string]contract.EventSink),
		members: make(map[domain.SessionID]set),
	}
}

// Subscribe registers a participant's active connection and assigns it to a
// session. If the session has no connections yet, its member set is
// initialized on the fly.
func (r *Registry) Subscribe(userID string, sessionID domain.SessionID, sink contract.EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sinks[userID] = sink

	if _, ok := r.members[sessionID]; !ok {
		r.members[sessionID] = make(set)
	}
	r.members[sessionID][userID] = struct{}{}
}

// Unsubscribe removes a participant's connection. Empty member sets are
// dropped so closed sessions do not leak registry entries.
func (r *Registry) Unsubscribe(userID string, sessionID domain.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sinks, userID)

	if members, ok := r.members[sessionID]; ok {
		delete(members, userID)
		if len(members) == 0 {
			delete(r.members, sessionID)
		}
	}
}

// SinksForSession resolves the live delivery channels of one session's
// connected participants. Two-step lookup: member IDs first, then each ID's
// sink, so a connection is managed in a single place even if the same user
// observes several sessions over time. Returns nil when nobody is connected.
func (r *Registry) SinksForSession(sessionID domain.SessionID) []contract.MemberSink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.members[sessionID]
	if !ok {
		return nil
	}
	sinks := make([]contract.MemberSink, 0, len(members))
	for userID := range members {
		if sink, exists := r.sinks[userID]; exists {
			sinks = append(sinks, contract.MemberSink{UserID: userID, Sink: sink})
		}
	}
	return sinks
}
