package repositories

import (
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"seance/contract"
	"seance/domain"
	seanceerrors "seance/errors"
)

func newTestRepository(t *testing.T) *SnapshotRepository {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSnapshotRepository(db, slog.New(slog.DiscardHandler))
}

func sampleSnapshot(id domain.SessionID) domain.Snapshot {
	return domain.Snapshot{
		ID:              id,
		Title:           "Full moon reading",
		Type:            domain.SessionTypeTarot,
		HostID:          "alice",
		RoomCode:        "KXW42M",
		Status:          domain.StatusClosed,
		MaxParticipants: 4,
		SharedState: domain.SharedState{
			"spread": {Key: "spread", Value: []byte(`"celtic-cross"`), SequenceNumber: 3, UpdatedBy: "alice"},
		},
		Sequence:  3,
		CreatedAt: time.Date(2026, 2, 1, 20, 0, 0, 0, time.UTC),
	}
}

func TestSnapshotRepository_Store_And_Get_Snapshot(t *testing.T) {
	req := require.New(t)
	repository := newTestRepository(t)

	stored := sampleSnapshot("s1")
	req.NoError(repository.StoreSnapshot(stored))

	loaded, err := repository.GetSnapshot("s1")
	req.NoError(err)
	req.Equal(stored.Title, loaded.Title)
	req.Equal(stored.Sequence, loaded.Sequence)
	req.Equal(stored.SharedState["spread"].Value, loaded.SharedState["spread"].Value)
}

func TestSnapshotRepository_Get_Unknown_Snapshot(t *testing.T) {
	req := require.New(t)
	repository := newTestRepository(t)

	_, err := repository.GetSnapshot("ghost")
	req.ErrorIs(err, seanceerrors.ErrSessionNotFound)
}

func TestSnapshotRepository_Snapshot_Is_Replaced(t *testing.T) {
	req := require.New(t)
	repository := newTestRepository(t)

	first := sampleSnapshot("s1")
	req.NoError(repository.StoreSnapshot(first))

	second := first
	second.Sequence = 9
	req.NoError(repository.StoreSnapshot(second))

	loaded, err := repository.GetSnapshot("s1")
	req.NoError(err)
	req.Equal(uint64(9), loaded.Sequence)
}

func TestSnapshotRepository_History_Is_Sequence_Ordered(t *testing.T) {
	req := require.New(t)
	repository := newTestRepository(t)

	// Written out of order on purpose.
	for _, seq := range []uint64{3, 1, 2} {
		req.NoError(repository.StoreEvent(contract.EventRecord{
			SessionID: "s1",
			Seq:       seq,
			Kind:      "card_drawn",
			UserID:    "alice",
			Payload:   []byte(`{"card":"the-moon"}`),
		}))
	}

	records, err := repository.GetHistory("s1", 0)
	req.NoError(err)
	req.Len(records, 3)
	for i, record := range records {
		req.Equal(uint64(i+1), record.Seq)
	}
}

func TestSnapshotRepository_History_Limit_Keeps_Newest(t *testing.T) {
	req := require.New(t)
	repository := newTestRepository(t)

	for seq := uint64(1); seq <= 5; seq++ {
		req.NoError(repository.StoreEvent(contract.EventRecord{
			SessionID: "s1", Seq: seq, Kind: "stroke_added", UserID: "bob",
		}))
	}

	records, err := repository.GetHistory("s1", 2)
	req.NoError(err)
	req.Len(records, 2)
	req.Equal(uint64(4), records[0].Seq)
	req.Equal(uint64(5), records[1].Seq)
}

func TestSnapshotRepository_History_Isolated_Per_Session(t *testing.T) {
	req := require.New(t)
	repository := newTestRepository(t)

	req.NoError(repository.StoreEvent(contract.EventRecord{SessionID: "s1", Seq: 1}))
	req.NoError(repository.StoreEvent(contract.EventRecord{SessionID: "s2", Seq: 1}))

	records, err := repository.GetHistory("s1", 0)
	req.NoError(err)
	req.Len(records, 1)
	req.Equal(domain.SessionID("s1"), records[0].SessionID)
}

func TestSnapshotRepository_StoreEvent_Is_Idempotent_Per_Sequence(t *testing.T) {
	req := require.New(t)
	repository := newTestRepository(t)

	record := contract.EventRecord{SessionID: "s1", Seq: 1, Kind: "card_drawn"}
	req.NoError(repository.StoreEvent(record))
	req.NoError(repository.StoreEvent(record))

	records, err := repository.GetHistory("s1", 0)
	req.NoError(err)
	req.Len(records, 1)
}
