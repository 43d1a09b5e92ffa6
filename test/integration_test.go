package test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"seance/access"
	"seance/domain"
	"seance/domain/event"
	seanceerrors "seance/errors"
	"seance/moderation"
	"seance/observability"
	"seance/repositories"
	"seance/runtime"
	"seance/runtime/workers"
	"seance/sink"
)

// chanSink records everything one connected participant would receive.
type chanSink struct {
	mu     sync.Mutex
	events []event.Event
}

func (s *chanSink) Consume(_ context.Context, evt event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *chanSink) all() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.Event(nil), s.events...)
}

type world struct {
	coordinator *runtime.Coordinator
	registry    *runtime.Registry
	repository  *repositories.SnapshotRepository
	gauges      *observability.Gauges
}

func newWorld(t *testing.T, opts runtime.Options) *world {
	t.Helper()
	req := require.New(t)
	log := slog.New(slog.DiscardHandler)

	// Reduced to 16 Mo for testing (avoid gigabytes of preallocated log)
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).
		WithLoggingLevel(badger.ERROR).
		WithValueLogFileSize(16 << 20))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })

	writer, err := bluge.OpenWriter(bluge.DefaultConfig(t.TempDir()))
	req.NoError(err)
	t.Cleanup(func() { _ = writer.Close() })

	moderator, err := moderation.NewModerator([]string{"hex"}, '*')
	req.NoError(err)

	gauges := observability.NewGauges()
	registry := runtime.NewRegistry()
	repository := repositories.NewSnapshotRepository(db, log)

	coordinator := runtime.NewCoordinator(
		log,
		workers.NewSupervisor(log, 100*time.Millisecond),
		registry,
		runtime.NewCursorTable(1000, 1000, gauges),
		repositories.NewSessionIndex(writer, log),
		&moderator,
		gauges,
		opts,
	)
	coordinator.Add(sink.NewDiskSink(repository, log))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req.NoError(coordinator.Start(ctx))
	t.Cleanup(coordinator.Stop)

	return &world{coordinator: coordinator, registry: registry, repository: repository, gauges: gauges}
}

func quietOptions() runtime.Options {
	return runtime.Options{
		MailboxSize:         32,
		EventBufferSize:     128,
		RoomCodeLength:      6,
		SinkTimeout:         time.Second,
		PresenceInterval:    time.Hour,
		PresenceTimeout:     2 * time.Hour,
		CursorSweepInterval: time.Hour,
		CursorTTL:           time.Hour,
		HealthInterval:      time.Hour,
	}
}

func identityOf(userID string) access.Identity {
	return access.Identity{UserID: userID, DisplayName: "reader " + userID}
}

func Test_Scenario_Session_Lifecycle(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	w := newWorld(t, quietOptions())

	// 1. The host creates a private tarot session.
	created, err := w.coordinator.CreateSession(runtime.CreateSessionInput{
		Title:           "Midnight celtic cross",
		Type:            domain.SessionTypeTarot,
		MaxParticipants: 3,
		IsPrivate:       true,
		Password:        "luna42",
	}, "alice")
	req.NoError(err)

	// 2. A silent watcher records every broadcast of the session.
	watcher := &chanSink{}
	w.registry.Subscribe("watcher", created.ID, watcher)
	defer w.registry.Unsubscribe("watcher", created.ID)

	// 3. The wrong password stays outside; the room code plus the right
	// password gets in.
	_, err = w.coordinator.Join(ctx, created.RoomCode, "wrong", identityOf("alice"))
	req.ErrorIs(err, seanceerrors.ErrUnauthorized)

	joined, err := w.coordinator.Join(ctx, created.RoomCode, "luna42", identityOf("alice"))
	req.NoError(err)
	req.Equal(domain.RoleHost, joined.Participant.Role)

	_, err = w.coordinator.Join(ctx, string(created.ID), "luna42", identityOf("bob"))
	req.NoError(err)
	_, err = w.coordinator.Join(ctx, string(created.ID), "luna42", identityOf("carol"))
	req.NoError(err)

	// 4. The session is full now.
	_, err = w.coordinator.Join(ctx, string(created.ID), "luna42", identityOf("dave"))
	req.ErrorIs(err, seanceerrors.ErrSessionFull)

	// 5. Shared state writes get authoritative sequence numbers.
	assigned, err := w.coordinator.UpdateState(ctx, created.ID, "alice",
		[]domain.StateUpdate{{Key: "spread", Value: []byte(`"celtic-cross"`)}})
	req.NoError(err)
	spreadSeq := assigned["spread"]
	req.NotZero(spreadSeq)

	// 6. Retrying the same write is idempotent: same sequence, no drift.
	retried, err := w.coordinator.UpdateState(ctx, created.ID, "alice",
		[]domain.StateUpdate{{Key: "spread", Value: []byte(`"celtic-cross"`), Seq: spreadSeq}})
	req.NoError(err)
	req.Equal(spreadSeq, retried["spread"])

	// 7. Domain events fold into state under the same counter.
	cardSeq, err := w.coordinator.SubmitEvent(ctx, created.ID, "bob", "card_drawn",
		[]byte(`{"card":"the-moon","position":3,"reversed":true}`))
	req.NoError(err)
	req.Greater(cardSeq, spreadSeq)

	// 8. Free text is screened before it reaches shared state.
	_, err = w.coordinator.SubmitEvent(ctx, created.ID, "carol", "interpretation_added",
		[]byte(`{"card_key":"card:3","text":"a hex upon doubt"}`))
	req.NoError(err)

	snapshot, err := w.coordinator.GetSnapshot(ctx, string(created.ID))
	req.NoError(err)
	interpretations := lo.Filter(lo.Values(snapshot.SharedState), func(e domain.StateEntry, _ int) bool {
		return e.UpdatedBy == "carol"
	})
	req.Len(interpretations, 1)
	req.Contains(string(interpretations[0].Value), "***")
	req.NotContains(string(interpretations[0].Value), "hex")

	// 9. Observers converge on the same state no matter the delivery order
	// they fold patches in.
	_, err = w.coordinator.UpdateState(ctx, created.ID, "bob", []domain.StateUpdate{
		{Key: "deck", Value: []byte(`"rider-waite"`)},
		{Key: "spread", Value: []byte(`"three-card"`)},
	})
	req.NoError(err)

	snapshot, err = w.coordinator.GetSnapshot(ctx, string(created.ID))
	req.NoError(err)

	req.Eventually(func() bool {
		return len(collectEntries(watcher.all())) >= 3
	}, 2*time.Second, 10*time.Millisecond)

	entries := collectEntries(watcher.all())
	forward, backward := domain.SharedState{}, domain.SharedState{}
	forward.Apply(entries)
	for i := len(entries) - 1; i >= 0; i-- {
		backward.Apply(entries[i : i+1])
	}
	req.Equal(forward, backward)
	for key, entry := range forward {
		req.Equal(snapshot.SharedState[key].SequenceNumber, entry.SequenceNumber)
	}

	// 10. The host leaving promotes the earliest remaining guest.
	req.NoError(w.coordinator.Leave(ctx, created.ID, "alice", "left"))
	req.Eventually(func() bool {
		snapshot, err := w.coordinator.GetSnapshot(ctx, string(created.ID))
		if err != nil {
			return false
		}
		host, ok := lo.Find(snapshot.Participants, func(p domain.Participant) bool {
			return p.Role == domain.RoleHost
		})
		return ok && host.UserID == "bob"
	}, 2*time.Second, 10*time.Millisecond)

	// 11. The new host closes; the final snapshot and the full sequenced
	// history reach disk through the fanout.
	req.NoError(w.coordinator.CloseSession(ctx, created.ID, "bob", "reading over"))

	req.Eventually(func() bool {
		stored, err := w.repository.GetSnapshot(created.ID)
		return err == nil && stored.Status == domain.StatusClosed
	}, 2*time.Second, 10*time.Millisecond)

	records, err := w.repository.GetHistory(created.ID, 0)
	req.NoError(err)
	req.NotEmpty(records)
	for i := 1; i < len(records); i++ {
		req.Greater(records[i].Seq, records[i-1].Seq)
	}

	// 12. The session is gone from the arena.
	_, err = w.coordinator.GetSnapshot(ctx, string(created.ID))
	req.ErrorIs(err, seanceerrors.ErrSessionNotFound)
	req.Empty(w.coordinator.ActiveSessions())
}

// collectEntries flattens the state patches a watcher observed.
func collectEntries(events []event.Event) []domain.StateEntry {
	var entries []domain.StateEntry
	for _, evt := range events {
		if patched, ok := evt.(event.StatePatched); ok {
			entries = append(entries, patched.Entries...)
		}
	}
	return entries
}

func Test_Scenario_Presence_Timeout_Expels_Silent_Participant(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	opts := quietOptions()
	opts.PresenceInterval = 50 * time.Millisecond
	opts.PresenceTimeout = 150 * time.Millisecond
	w := newWorld(t, opts)

	created, err := w.coordinator.CreateSession(runtime.CreateSessionInput{
		Title:           "Open numerology circle",
		Type:            domain.SessionTypeNumerology,
		MaxParticipants: 4,
	}, "alice")
	req.NoError(err)

	_, err = w.coordinator.Join(ctx, string(created.ID), "", identityOf("alice"))
	req.NoError(err)
	_, err = w.coordinator.Join(ctx, string(created.ID), "", identityOf("bob"))
	req.NoError(err)

	// Alice keeps heartbeating, bob goes silent.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(25 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = w.coordinator.Heartbeat(created.ID, "alice")
			}
		}
	}()

	req.Eventually(func() bool {
		snapshot, err := w.coordinator.GetSnapshot(ctx, string(created.ID))
		if err != nil {
			return false
		}
		ids := lo.Map(snapshot.Participants, func(p domain.Participant, _ int) string {
			return p.UserID
		})
		return len(ids) == 1 && ids[0] == "alice"
	}, 3*time.Second, 20*time.Millisecond)
}

func Test_Scenario_Cursor_Broadcast_Skips_The_Mover(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	w := newWorld(t, quietOptions())

	created, err := w.coordinator.CreateSession(runtime.CreateSessionInput{
		Title:           "Shared canvas",
		Type:            domain.SessionTypeCanvas,
		MaxParticipants: 4,
	}, "alice")
	req.NoError(err)

	_, err = w.coordinator.Join(ctx, string(created.ID), "", identityOf("alice"))
	req.NoError(err)
	_, err = w.coordinator.Join(ctx, string(created.ID), "", identityOf("bob"))
	req.NoError(err)

	mover, watcher := &chanSink{}, &chanSink{}
	w.registry.Subscribe("alice", created.ID, mover)
	w.registry.Subscribe("bob", created.ID, watcher)
	defer w.registry.Unsubscribe("alice", created.ID)
	defer w.registry.Unsubscribe("bob", created.ID)

	req.NoError(w.coordinator.UpdateCursor(created.ID, "alice", 0.25, 0.75))

	req.Eventually(func() bool {
		for _, evt := range watcher.all() {
			if moved, ok := evt.(event.CursorMoved); ok {
				return moved.Cursor.UserID == "alice" && moved.Cursor.X == 0.25
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	for _, evt := range mover.all() {
		_, moved := evt.(event.CursorMoved)
		req.False(moved, "the mover must not receive its own cursor echo")
	}
}
