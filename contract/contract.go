//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"

	"seance/domain"
	"seance/domain/event"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself.
// Supervision (restart, panic recovery) is the Supervisor's job.
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker
// lifecycle events, avoiding the need for manual naming in the Worker
// interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink receives fanned-out session events. A sink must not block
// longer than the fanout's per-sink timeout.
type EventSink interface {
	Consume(ctx context.Context, e event.Event) error
}

// MemberSink pairs a connected participant with its delivery channel.
type MemberSink struct {
	UserID string
	Sink   EventSink
}

// IRegistry maps connected participants to their sinks, grouped by session.
type IRegistry interface {
	Subscribe(userID string, sessionID domain.SessionID, sink EventSink)
	Unsubscribe(userID string, sessionID domain.SessionID)
	SinksForSession(sessionID domain.SessionID) []MemberSink
}

// IDispatcher is the slice of the coordinator the background sweeps need:
// enumerate live sessions and drop a command into a mailbox without ever
// blocking on it.
type IDispatcher interface {
	ActiveSessions() []domain.SessionID
	TryDispatch(cmd domain.Command) error
}

// ISnapshotRepository persists session snapshots and the sequenced event
// history. Called only from sinks, outside any serialization point; live
// coordination never waits on it.
type ISnapshotRepository interface {
	StoreSnapshot(snapshot domain.Snapshot) error
	StoreEvent(record EventRecord) error
	GetSnapshot(sessionID domain.SessionID) (domain.Snapshot, error)
	GetHistory(sessionID domain.SessionID, limit int) ([]EventRecord, error)
}

// EventRecord is the durable form of one sequenced session mutation.
type EventRecord struct {
	SessionID domain.SessionID `json:"session_id"`
	Seq       uint64           `json:"seq"`
	Kind      string           `json:"kind"`
	UserID    string           `json:"user_id"`
	Payload   []byte           `json:"payload"`
	At        int64            `json:"at"`
}

// ISessionIndex is the search index behind session listing.
type ISessionIndex interface {
	Index(summary domain.Summary) error
	Remove(sessionID domain.SessionID) error
	Search(query string, limit int) ([]domain.SessionID, error)
}
