package httpapi

import (
	"context"

	"seance/domain/event"
)

// StreamSink bridges the fanout to one connected client. Consume is called
// by the fanout worker; the stream handler drains the channel on the other
// side. A full buffer drops the event rather than stalling the fanout: a
// client that cannot keep up falls back to the snapshot on reconnect.
type StreamSink struct {
	Events chan event.Event
}

func NewStreamSink(bufferSize int) *StreamSink {
	return &StreamSink{Events: make(chan event.Event, bufferSize)}
}

func (s *StreamSink) Consume(ctx context.Context, e event.Event) error {
	select {
	case s.Events <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
