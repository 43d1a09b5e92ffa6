package repositories

import (
	"log/slog"
	"testing"

	"github.com/blugelabs/bluge"
	"github.com/stretchr/testify/require"

	"seance/domain"
)

func newTestIndex(t *testing.T) *SessionIndex {
	t.Helper()
	writer, err := bluge.OpenWriter(bluge.DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = writer.Close() })
	return NewSessionIndex(writer, slog.New(slog.DiscardHandler))
}

func summaryOf(id domain.SessionID, title string) domain.Summary {
	return domain.Summary{ID: id, Title: title, Type: domain.SessionTypeTarot, RoomCode: "KXW42M"}
}

func TestSessionIndex_Search_Matches_Title_Words(t *testing.T) {
	req := require.New(t)
	index := newTestIndex(t)

	req.NoError(index.Index(summaryOf("s1", "Celtic cross for beginners")))
	req.NoError(index.Index(summaryOf("s2", "Moonlit numerology circle")))

	ids, err := index.Search("celtic", 10)
	req.NoError(err)
	req.Equal([]domain.SessionID{"s1"}, ids)

	ids, err = index.Search("gibberishword", 10)
	req.NoError(err)
	req.Empty(ids)
}

func TestSessionIndex_Index_Is_An_Upsert(t *testing.T) {
	req := require.New(t)
	index := newTestIndex(t)

	req.NoError(index.Index(summaryOf("s1", "First title")))
	req.NoError(index.Index(summaryOf("s1", "Renamed circle")))

	ids, err := index.Search("renamed", 10)
	req.NoError(err)
	req.Equal([]domain.SessionID{"s1"}, ids)

	ids, err = index.Search("first", 10)
	req.NoError(err)
	req.Empty(ids)
}

func TestSessionIndex_Remove_Drops_Session_From_Results(t *testing.T) {
	req := require.New(t)
	index := newTestIndex(t)

	req.NoError(index.Index(summaryOf("s1", "Celtic cross")))
	req.NoError(index.Remove("s1"))

	ids, err := index.Search("celtic", 10)
	req.NoError(err)
	req.Empty(ids)
}
