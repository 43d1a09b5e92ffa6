package repositories

import (
	"context"
	"log/slog"

	"github.com/blugelabs/bluge"

	"seance/contract"
	"seance/domain"
)

// SessionIndex is a full-text index over session titles, backing the
// free-text filter of session listing. Only live sessions are indexed;
// a closed session is removed rather than marked.
type SessionIndex struct {
	writer *bluge.Writer
	log    *slog.Logger
}

func NewSessionIndex(writer *bluge.Writer, log *slog.Logger) *SessionIndex {
	return &SessionIndex{writer: writer, log: log}
}

var _ contract.ISessionIndex = (*SessionIndex)(nil)

// Index upserts a session's listing document.
func (i *SessionIndex) Index(summary domain.Summary) error {
	doc := bluge.NewDocument(string(summary.ID)).
		AddField(bluge.NewTextField("title", summary.Title)).
		AddField(bluge.NewKeywordField("type", string(summary.Type))).
		AddField(bluge.NewKeywordField("room_code", summary.RoomCode))
	return i.writer.Update(doc.ID(), doc)
}

// Remove deletes a session's listing document.
func (i *SessionIndex) Remove(sessionID domain.SessionID) error {
	return i.writer.Delete(bluge.Identifier(string(sessionID)))
}

// Search matches the query against session titles and returns the IDs of
// the best hits. A near-real-time reader is opened per call; listing is
// rare next to state traffic, so the reader churn is acceptable.
func (i *SessionIndex) Search(query string, limit int) ([]domain.SessionID, error) {
	reader, err := i.writer.Reader()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := reader.Close(); err != nil {
			i.log.Warn("Failed to close index reader", "error", err)
		}
	}()

	match := bluge.NewMatchQuery(query).SetField("title")
	request := bluge.NewTopNSearch(limit, match)
	iterator, err := reader.Search(context.Background(), request)
	if err != nil {
		return nil, err
	}

	var ids []domain.SessionID
	for {
		next, err := iterator.Next()
		if err != nil {
			return nil, err
		}
		if next == nil {
			break
		}
		err = next.VisitStoredFields(func(field string, value []byte) bool {
			if field == "_id" {
				ids = append(ids, domain.SessionID(value))
			}
			return true
		})
		if err != nil {
			return nil, err
		}
	}
	return ids, nil
}
