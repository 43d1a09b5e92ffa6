package runtime

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"seance/domain"
	"seance/domain/event"
)

type nopSink struct{ name string }

func (nopSink) Consume(context.Context, event.Event) error { return nil }

func TestRegistry_Subscribe_One_Session_One_Participant(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	userID := uuid.NewString()
	sessionID := domain.SessionID(uuid.NewString())
	sink := nopSink{name: "a"}

	// Given nobody is connected
	req.Empty(registry.SinksForSession(sessionID))

	// When a participant attaches its channel
	registry.Subscribe(userID, sessionID, sink)

	// Then the session resolves to exactly that sink
	sinks := registry.SinksForSession(sessionID)
	req.Len(sinks, 1)
	req.Equal(userID, sinks[0].UserID)
	req.Equal(sink, sinks[0].Sink)
}

func TestRegistry_Subscribe_One_Session_Multiple_Participants(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	sessionID := domain.SessionID(uuid.NewString())

	registry.Subscribe("user-a", sessionID, nopSink{name: "a"})
	registry.Subscribe("user-b", sessionID, nopSink{name: "b"})

	req.Len(registry.SinksForSession(sessionID), 2)
}

func TestRegistry_Sessions_Are_Isolated(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	sessionA := domain.SessionID(uuid.NewString())
	sessionB := domain.SessionID(uuid.NewString())

	registry.Subscribe("user-a", sessionA, nopSink{name: "a"})
	registry.Subscribe("user-b", sessionB, nopSink{name: "b"})

	sinksA := registry.SinksForSession(sessionA)
	req.Len(sinksA, 1)
	req.Equal("user-a", sinksA[0].UserID)
	req.Len(registry.SinksForSession(sessionB), 1)
}

func TestRegistry_Unsubscribe_Removes_Connection(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	sessionID := domain.SessionID(uuid.NewString())
	registry.Subscribe("user-a", sessionID, nopSink{name: "a"})
	registry.Subscribe("user-b", sessionID, nopSink{name: "b"})

	registry.Unsubscribe("user-a", sessionID)

	sinks := registry.SinksForSession(sessionID)
	req.Len(sinks, 1)
	req.Equal("user-b", sinks[0].UserID)
}

func TestRegistry_Unsubscribe_Last_Member_Drops_Session(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	sessionID := domain.SessionID(uuid.NewString())
	registry.Subscribe("user-a", sessionID, nopSink{name: "a"})

	registry.Unsubscribe("user-a", sessionID)

	req.Empty(registry.SinksForSession(sessionID))
	req.Empty(registry.members)
}

func TestRegistry_Unsubscribe_Unknown_Is_Noop(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	sessionID := domain.SessionID(uuid.NewString())
	registry.Subscribe("user-a", sessionID, nopSink{name: "a"})

	registry.Unsubscribe("stranger", "no-such-session")

	req.Len(registry.SinksForSession(sessionID), 1)
}
