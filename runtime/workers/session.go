package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"seance/domain"
	"seance/domain/event"
	seanceerrors "seance/errors"
	"seance/observability"
)

// SessionWorker is a session's serialization point: a single goroutine that
// exclusively owns one Session record and drains its mailbox. Every
// mutation — join, leave, heartbeat, state update, domain event, sweep,
// close — passes through here, so concurrent clients can never interleave
// unsafely within a session while distinct sessions proceed in parallel.
//
// The worker never blocks on external I/O: persistence and delivery happen
// downstream of the events channel. Replies go to buffered channels with a
// non-blocking send, so an abandoned caller cannot wedge the mailbox.
type SessionWorker struct {
	session  *domain.Session
	commands <-chan domain.Command
	done     chan struct{}
	events   chan<- event.Event
	log      *slog.Logger
	gauges   *observability.Gauges
	onClosed func(id domain.SessionID)
	clock    func() time.Time
}

func NewSessionWorker(session *domain.Session, commands <-chan domain.Command, done chan struct{},
	events chan<- event.Event, log *slog.Logger, gauges *observability.Gauges,
	onClosed func(id domain.SessionID)) *SessionWorker {
	return &SessionWorker{
		session:  session,
		commands: commands,
		done:     done,
		events:   events,
		log:      log,
		gauges:   gauges,
		onClosed: onClosed,
		clock:    time.Now,
	}
}

// Run drains the mailbox until the session closes or the context ends. It
// always returns nil: a closed session is terminal, and an internal panic
// closes the session (everyone gets session_closed) rather than letting it
// continue possibly inconsistent under a supervisor restart.
func (w *SessionWorker) Run(ctx context.Context) (err error) {
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Session worker panicked, closing session",
				"session_id", w.session.ID, "panic", fmt.Sprintf("%v", r))
			w.closeSession(ctx, "internal error")
			err = nil
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.onClosed(w.session.ID)
			return nil
		case cmd, ok := <-w.commands:
			if !ok {
				return nil
			}
			if closed := w.handle(ctx, cmd); closed {
				w.drain()
				return nil
			}
		}
	}
}

// handle applies one command. The command set is closed; anything else is a
// bug in the dispatcher.
func (w *SessionWorker) handle(ctx context.Context, cmd domain.Command) (closed bool) {
	switch c := cmd.(type) {
	case domain.JoinCommand:
		w.handleJoin(ctx, c)
	case domain.LeaveCommand:
		return w.handleLeave(ctx, c.UserID, c.Reason)
	case domain.HeartbeatCommand:
		w.session.Heartbeat(c.UserID, c.At)
	case domain.UpdateStateCommand:
		w.handleUpdateState(ctx, c)
	case domain.SubmitEventCommand:
		w.handleSubmitEvent(ctx, c)
	case domain.SnapshotCommand:
		reply(c.Reply, domain.SnapshotResult{Snapshot: w.session.Snapshot()})
	case domain.SweepCommand:
		return w.handleSweep(ctx, c)
	case domain.CloseCommand:
		w.closeSession(ctx, c.Reason)
		return true
	default:
		w.log.Error("Unknown command reached session worker",
			"session_id", w.session.ID, "command", fmt.Sprintf("%T", cmd))
	}
	return w.session.Status == domain.StatusClosed
}

func (w *SessionWorker) handleJoin(ctx context.Context, c domain.JoinCommand) {
	p, err := w.session.Join(c.UserID, c.DisplayName, c.At)
	if errors.Is(err, seanceerrors.ErrAlreadyJoined) {
		// Reconnect: same membership, fresh snapshot, no broadcast.
		reply(c.Reply, domain.JoinResult{Participant: *p, Snapshot: w.session.Snapshot()})
		return
	}
	if err != nil {
		reply(c.Reply, domain.JoinResult{Err: err})
		return
	}

	w.emit(ctx, event.ParticipantJoined{SessionID: w.session.ID, Participant: *p, At: c.At.UTC()})
	reply(c.Reply, domain.JoinResult{Participant: *p, Snapshot: w.session.Snapshot()})
}

func (w *SessionWorker) handleLeave(ctx context.Context, userID, reason string) (closed bool) {
	if !w.session.IsParticipant(userID) {
		return false
	}
	newHostID, empty := w.session.Leave(userID)
	w.emit(ctx, event.ParticipantLeft{
		SessionID: w.session.ID,
		UserID:    userID,
		Reason:    reason,
		NewHostID: newHostID,
		At:        w.clock().UTC(),
	})
	if empty {
		// Leave already flipped the status; broadcast and stop.
		w.emitClosed(ctx, "session empty")
		w.onClosed(w.session.ID)
		return true
	}
	return false
}

func (w *SessionWorker) handleUpdateState(ctx context.Context, c domain.UpdateStateCommand) {
	if w.session.Status != domain.StatusActive {
		reply(c.Reply, domain.UpdateStateResult{Err: seanceerrors.ErrSessionClosed})
		return
	}
	if !w.session.IsParticipant(c.UserID) {
		reply(c.Reply, domain.UpdateStateResult{Err: seanceerrors.ErrUnauthorized})
		return
	}

	patch, assigned := w.session.ApplyUpdates(c.UserID, c.Updates, c.At)
	if len(patch) > 0 {
		w.gauges.IncrMutation()
		w.emit(ctx, event.StatePatched{
			SessionID: w.session.ID,
			UserID:    c.UserID,
			Entries:   patch,
			At:        c.At.UTC(),
		})
	}
	reply(c.Reply, domain.UpdateStateResult{Assigned: assigned})
}

func (w *SessionWorker) handleSubmitEvent(ctx context.Context, c domain.SubmitEventCommand) {
	if w.session.Status != domain.StatusActive {
		reply(c.Reply, domain.SubmitEventResult{Err: seanceerrors.ErrSessionClosed})
		return
	}
	if !w.session.IsParticipant(c.UserID) {
		reply(c.Reply, domain.SubmitEventResult{Err: seanceerrors.ErrUnauthorized})
		return
	}

	// Fold first so a rejected payload never consumes a sequence number.
	// One number then covers both faces of the event: the folded state
	// entry and the discrete notification. This is what keeps state diffs
	// and domain events in a single total order per session.
	value, err := c.Payload.FoldValue()
	if err != nil {
		reply(c.Reply, domain.SubmitEventResult{Err: fmt.Errorf("%w: %v", seanceerrors.ErrValidation, err)})
		return
	}
	seq := w.session.NextSeq()
	w.session.FoldEntry(domain.StateEntry{
		Key:            c.Payload.FoldKey(seq),
		Value:          value,
		SequenceNumber: seq,
		UpdatedBy:      c.UserID,
		UpdatedAt:      c.At.UTC(),
	})

	w.gauges.IncrMutation()
	w.emit(ctx, event.Collab{
		SessionID: w.session.ID,
		Seq:       seq,
		UserID:    c.UserID,
		EventType: c.Payload.EventType(),
		Payload:   c.Payload,
		At:        c.At.UTC(),
	})
	reply(c.Reply, domain.SubmitEventResult{Seq: seq})
}

func (w *SessionWorker) handleSweep(ctx context.Context, c domain.SweepCommand) (closed bool) {
	for _, userID := range w.session.StaleParticipants(c.Deadline) {
		w.gauges.IncrSweepEviction()
		w.log.Info("Participant timed out",
			"session_id", w.session.ID, "user_id", userID)
		if w.handleLeave(ctx, userID, "presence timeout") {
			return true
		}
	}
	return false
}

func (w *SessionWorker) closeSession(ctx context.Context, reason string) {
	w.session.Close()
	w.emitClosed(ctx, reason)
	w.onClosed(w.session.ID)
}

func (w *SessionWorker) emitClosed(ctx context.Context, reason string) {
	w.emit(ctx, event.SessionClosed{
		SessionID:  w.session.ID,
		Reason:     reason,
		FinalState: w.session.Snapshot(),
		At:         w.clock().UTC(),
	})
}

func (w *SessionWorker) emit(ctx context.Context, e event.Event) {
	select {
	case w.events <- e:
	case <-ctx.Done():
	}
}

// drain answers whatever was already queued behind a close so no caller is
// left waiting on a reply that will never come.
func (w *SessionWorker) drain() {
	for {
		select {
		case cmd, ok := <-w.commands:
			if !ok {
				return
			}
			replyClosed(cmd)
		default:
			return
		}
	}
}

func replyClosed(cmd domain.Command) {
	switch c := cmd.(type) {
	case domain.JoinCommand:
		reply(c.Reply, domain.JoinResult{Err: seanceerrors.ErrSessionNotFound})
	case domain.UpdateStateCommand:
		reply(c.Reply, domain.UpdateStateResult{Err: seanceerrors.ErrSessionNotFound})
	case domain.SubmitEventCommand:
		reply(c.Reply, domain.SubmitEventResult{Err: seanceerrors.ErrSessionNotFound})
	case domain.SnapshotCommand:
		reply(c.Reply, domain.SnapshotResult{Err: seanceerrors.ErrSessionNotFound})
	}
}

// reply never blocks: reply channels are buffered and a caller that timed
// out simply misses its answer.
func reply[T any](ch chan T, value T) {
	if ch == nil {
		return
	}
	select {
	case ch <- value:
	default:
	}
}
