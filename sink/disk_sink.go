package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"seance/contract"
	"seance/domain/event"
)

// DiskSink rides the fanout as a permanent sink and persists the durable
// trail of every session: sequenced mutations as they happen, and the final
// snapshot when the session closes. It runs outside every serialization
// point; a slow disk never delays a broadcast, it only risks the fanout's
// per-sink timeout.
type DiskSink struct {
	repository contract.ISnapshotRepository
	log        *slog.Logger
}

func NewDiskSink(repository contract.ISnapshotRepository, log *slog.Logger) DiskSink {
	return DiskSink{repository: repository, log: log}
}

func (d DiskSink) Consume(_ context.Context, e event.Event) error {
	switch evt := e.(type) {
	case event.StatePatched:
		return d.storePatch(evt)
	case event.Collab:
		return d.storeCollab(evt)
	case event.SessionClosed:
		// FinalState travels with the event so nothing has to reach
		// back into a session that no longer exists.
		return d.repository.StoreSnapshot(evt.FinalState)
	default:
		return nil
	}
}

func (d DiskSink) storePatch(evt event.StatePatched) error {
	for _, entry := range evt.Entries {
		payload, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		record := contract.EventRecord{
			SessionID: evt.SessionID,
			Seq:       entry.SequenceNumber,
			Kind:      "state_patched",
			UserID:    evt.UserID,
			Payload:   payload,
			At:        evt.At.UnixNano(),
		}
		if err := d.repository.StoreEvent(record); err != nil {
			return fmt.Errorf("store state patch seq %d: %w", entry.SequenceNumber, err)
		}
	}
	return nil
}

func (d DiskSink) storeCollab(evt event.Collab) error {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return err
	}
	return d.repository.StoreEvent(contract.EventRecord{
		SessionID: evt.SessionID,
		Seq:       evt.Seq,
		Kind:      evt.EventType,
		UserID:    evt.UserID,
		Payload:   payload,
		At:        evt.At.UnixNano(),
	})
}
