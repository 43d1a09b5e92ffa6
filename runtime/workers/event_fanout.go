package workers

import (
	"context"
	"log/slog"
	"time"

	"seance/contract"
	"seance/domain/event"
	"seance/observability"
)

// EventFanout delivers session events to the connected members' sinks and
// to the permanent sinks (persistence, cursor cleanup). It is the single
// consumer of the events channel: within one session, every observer sees
// events in exactly the order the session worker emitted them, because one
// goroutine forwards them one at a time into order-preserving sinks.
//
// Events that implement event.Origin are not echoed to the participant that
// caused them — that participant already has the result from its own call.
// Domain-event notifications carry no origin exclusion: every participant,
// submitter included, receives them in sequence order.
type EventFanout struct {
	log         *slog.Logger
	events      <-chan event.Event
	registry    contract.IRegistry
	permanent   []contract.EventSink
	sinkTimeout time.Duration
	gauges      *observability.Gauges
}

func NewEventFanout(log *slog.Logger, events <-chan event.Event, registry contract.IRegistry,
	sinkTimeout time.Duration, gauges *observability.Gauges) *EventFanout {
	return &EventFanout{
		log:         log,
		events:      events,
		registry:    registry,
		sinkTimeout: sinkTimeout,
		gauges:      gauges,
	}
}

// Add registers permanent sinks that observe every event of every session.
func (w *EventFanout) Add(sinks ...contract.EventSink) *EventFanout {
	w.permanent = append(w.permanent, sinks...)
	return w
}

func (w *EventFanout) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping fanout")
			return nil
		case evt, ok := <-w.events:
			if !ok {
				return nil
			}
			w.Fanout(ctx, evt)
		}
	}
}

// Fanout forwards one event to every interested sink.
func (w *EventFanout) Fanout(ctx context.Context, evt event.Event) {
	origin := ""
	if o, ok := evt.(event.Origin); ok {
		origin = o.OriginID()
	}

	for _, member := range w.registry.SinksForSession(evt.Session()) {
		if origin != "" && member.UserID == origin {
			continue
		}
		w.consume(ctx, member.Sink, evt)
		w.gauges.IncrBroadcast()
	}

	for _, sink := range w.permanent {
		w.consume(ctx, sink, evt)
	}
}

// consume bounds each sink delivery. A slow or stuck consumer loses events
// rather than stalling the broadcast for everyone else.
func (w *EventFanout) consume(ctx context.Context, sink contract.EventSink, evt event.Event) {
	sinkCtx, cancel := context.WithTimeout(ctx, w.sinkTimeout)
	defer cancel()

	if err := sink.Consume(sinkCtx, evt); err != nil {
		w.log.Warn("Sink failed to consume event",
			"session_id", evt.Session(), "error", err)
	}
}
