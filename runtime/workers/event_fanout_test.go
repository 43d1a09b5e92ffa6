package workers

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"seance/contract"
	"seance/domain"
	"seance/domain/event"
	"seance/observability"
)

type recordingSink struct {
	mu     sync.Mutex
	events []event.Event
}

func (s *recordingSink) Consume(_ context.Context, evt event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *recordingSink) all() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.Event(nil), s.events...)
}

type staticRegistry struct {
	members map[domain.SessionID][]contract.MemberSink
}

func (r *staticRegistry) Subscribe(userID string, sessionID domain.SessionID, sink contract.EventSink) {
	if r.members == nil {
		r.members = make(map[domain.SessionID][]contract.MemberSink)
	}
	r.members[sessionID] = append(r.members[sessionID], contract.MemberSink{UserID: userID, Sink: sink})
}

func (r *staticRegistry) Unsubscribe(string, domain.SessionID) {}

func (r *staticRegistry) SinksForSession(sessionID domain.SessionID) []contract.MemberSink {
	return r.members[sessionID]
}

func TestEventFanout_Excludes_Originator(t *testing.T) {
	req := require.New(t)
	registry := &staticRegistry{}
	mover, watcher := &recordingSink{}, &recordingSink{}
	registry.Subscribe("alice", "s1", mover)
	registry.Subscribe("bob", "s1", watcher)

	fanout := NewEventFanout(slog.New(slog.DiscardHandler), nil, registry,
		time.Second, observability.NewGauges())

	fanout.Fanout(context.Background(), event.CursorMoved{
		SessionID: "s1",
		Cursor:    domain.CursorPosition{UserID: "alice", X: 0.5, Y: 0.5},
	})

	req.Empty(mover.all())
	req.Len(watcher.all(), 1)
}

func TestEventFanout_Collab_Reaches_Submitter_Too(t *testing.T) {
	req := require.New(t)
	registry := &staticRegistry{}
	submitter, watcher := &recordingSink{}, &recordingSink{}
	registry.Subscribe("alice", "s1", submitter)
	registry.Subscribe("bob", "s1", watcher)

	fanout := NewEventFanout(slog.New(slog.DiscardHandler), nil, registry,
		time.Second, observability.NewGauges())

	fanout.Fanout(context.Background(), event.Collab{
		SessionID: "s1",
		Seq:       7,
		UserID:    "alice",
		EventType: "card_drawn",
	})

	req.Len(submitter.all(), 1)
	req.Len(watcher.all(), 1)
}

func TestEventFanout_Permanent_Sinks_See_Every_Session(t *testing.T) {
	req := require.New(t)
	permanent := &recordingSink{}

	fanout := NewEventFanout(slog.New(slog.DiscardHandler), nil, &staticRegistry{},
		time.Second, observability.NewGauges()).Add(permanent)

	fanout.Fanout(context.Background(), event.SessionClosed{SessionID: "s1", Reason: "host left"})
	fanout.Fanout(context.Background(), event.SessionClosed{SessionID: "s2", Reason: "host left"})

	req.Len(permanent.all(), 2)
}

func TestEventFanout_Stops_On_Closed_Channel(t *testing.T) {
	req := require.New(t)
	events := make(chan event.Event)
	close(events)

	fanout := NewEventFanout(slog.New(slog.DiscardHandler), events, &staticRegistry{},
		time.Second, observability.NewGauges())

	done := make(chan struct{})
	go func() {
		req.NoError(fanout.Run(context.Background()))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fanout did not stop when the events channel closed")
	}
}
