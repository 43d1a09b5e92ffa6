package workers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"seance/contract"
	"seance/domain"
	seanceerrors "seance/errors"
)

// PresenceSweep walks every active session on a fixed wall-clock interval
// and asks each session worker to expel participants whose heartbeat is
// older than the timeout. The timeout spans at least two intervals so one
// delayed heartbeat never counts as a disconnect.
//
// Dispatch is non-blocking: a session whose mailbox is full is requeued and
// retried on the next tick, so a hung session cannot delay liveness
// detection anywhere else.
type PresenceSweep struct {
	log        *slog.Logger
	dispatcher contract.IDispatcher
	interval   time.Duration
	timeout    time.Duration
	requeued   map[domain.SessionID]struct{}
	clock      func() time.Time
}

func NewPresenceSweep(log *slog.Logger, dispatcher contract.IDispatcher,
	interval, timeout time.Duration) *PresenceSweep {
	return &PresenceSweep{
		log:        log,
		dispatcher: dispatcher,
		interval:   interval,
		timeout:    timeout,
		requeued:   make(map[domain.SessionID]struct{}),
		clock:      time.Now,
	}
}

func (w *PresenceSweep) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping presence sweep")
			return nil
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *PresenceSweep) sweep() {
	deadline := w.clock().Add(-w.timeout)

	// Swap the requeue set out first: failures recorded during this sweep
	// wait for the next tick instead of being retried in the same pass.
	pending := w.requeued
	w.requeued = make(map[domain.SessionID]struct{})

	sessions := w.dispatcher.ActiveSessions()
	for _, id := range sessions {
		delete(pending, id)
		w.attempt(id, deadline)
	}

	for id := range pending {
		w.attempt(id, deadline)
	}
}

func (w *PresenceSweep) attempt(id domain.SessionID, deadline time.Time) {
	err := w.dispatcher.TryDispatch(domain.SweepCommand{SessionID: id, Deadline: deadline})
	if err == nil {
		return
	}
	if errors.Is(err, seanceerrors.ErrMailboxFull) {
		w.log.Warn("Session mailbox full, requeueing sweep", "session_id", id)
		w.requeued[id] = struct{}{}
	}
}
