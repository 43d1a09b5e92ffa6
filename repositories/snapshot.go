//go:generate go run go.uber.org/mock/mockgen -source=snapshot.go -destination=../mocks/mock_snapshot_repository.go -package=mocks
package repositories

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"

	"seance/contract"
	"seance/domain"
	seanceerrors "seance/errors"
)

// SnapshotRepository persists final session snapshots and the sequenced
// event history in BadgerDB, values encoded as CBOR.
//
// Keys:
//   - "snap:{session_id}" holds the latest snapshot of a session.
//   - "evt:{session_id}:{seq_padded}" holds one sequenced mutation. The
//     19-digit zero padding keeps a prefix scan in sequence order.
type SnapshotRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewSnapshotRepository(db *badger.DB, log *slog.Logger) *SnapshotRepository {
	return &SnapshotRepository{db: db, log: log}
}

var _ contract.ISnapshotRepository = (*SnapshotRepository)(nil)

func snapshotKey(sessionID domain.SessionID) []byte {
	return []byte(fmt.Sprintf("snap:%s", sessionID))
}

func eventKey(sessionID domain.SessionID, seq uint64) []byte {
	return []byte(fmt.Sprintf("evt:%s:%019d", sessionID, seq))
}

func eventPrefix(sessionID domain.SessionID) []byte {
	return []byte(fmt.Sprintf("evt:%s:", sessionID))
}

// StoreSnapshot writes the latest snapshot of a session, replacing any
// previous one.
func (r *SnapshotRepository) StoreSnapshot(snapshot domain.Snapshot) error {
	bytes, err := cbor.Marshal(snapshot)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(snapshot.ID), bytes)
	})
}

// StoreEvent appends one sequenced mutation to the session's history. Writes
// are idempotent per (session, seq): a replayed record lands on the same key.
func (r *SnapshotRepository) StoreEvent(record contract.EventRecord) error {
	bytes, err := cbor.Marshal(record)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(eventKey(record.SessionID, record.Seq), bytes)
	})
}

// GetSnapshot loads the stored snapshot of a session.
func (r *SnapshotRepository) GetSnapshot(sessionID domain.SessionID) (domain.Snapshot, error) {
	var snapshot domain.Snapshot
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(sessionID))
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			return cbor.Unmarshal(value, &snapshot)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Snapshot{}, seanceerrors.ErrSessionNotFound
	}
	if err != nil {
		return domain.Snapshot{}, err
	}
	return snapshot, nil
}

// GetHistory returns the most recent sequenced mutations of a session in
// ascending sequence order, at most limit of them. Thanks to the padded
// sequence number in the key, a reverse prefix scan walks newest first.
func (r *SnapshotRepository) GetHistory(sessionID domain.SessionID, limit int) ([]contract.EventRecord, error) {
	var raw [][]byte
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := eventPrefix(sessionID)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		// Seek past the highest possible sequence, then walk backwards.
		seekKey := append(append([]byte{}, prefix...), []byte("9999999999999999999")...)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(raw) == limit {
				break
			}
			err := it.Item().Value(func(value []byte) error {
				raw = append(raw, append([]byte{}, value...))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	records := make([]contract.EventRecord, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var record contract.EventRecord
		if err := cbor.Unmarshal(raw[i], &record); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}
