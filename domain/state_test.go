package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func activeSession(t *testing.T) *Session {
	t.Helper()
	session := newTestSession(4)
	_, err := session.Join("host-1", "Luna", time.Now())
	require.NoError(t, err)
	return session
}

func TestApplyUpdates_Assigns_Monotonic_Sequence(t *testing.T) {
	req := require.New(t)
	session := activeSession(t)

	patch, assigned := session.ApplyUpdates("host-1", []StateUpdate{
		{Key: "spread", Value: json.RawMessage(`"celtic-cross"`)},
		{Key: "theme", Value: json.RawMessage(`"moonlight"`)},
	}, time.Now())

	req.Len(patch, 2)
	req.Equal(uint64(1), assigned["spread"])
	req.Equal(uint64(2), assigned["theme"])
	req.Equal(uint64(2), session.Seq)
}

func TestApplyUpdates_Retry_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	session := activeSession(t)
	_, first := session.ApplyUpdates("host-1", []StateUpdate{
		{Key: "spread", Value: json.RawMessage(`"celtic-cross"`)},
	}, time.Now())

	// When the same write is retried carrying its assigned sequence
	patch, retried := session.ApplyUpdates("host-1", []StateUpdate{
		{Key: "spread", Value: json.RawMessage(`"celtic-cross"`), Seq: first["spread"]},
	}, time.Now())

	// Then nothing is re-applied and the original assignment is reported
	req.Empty(patch)
	req.Equal(first["spread"], retried["spread"])
	req.Equal(uint64(1), session.Seq)
}

func TestApplyUpdates_Fresh_Write_Beats_Old_Value(t *testing.T) {
	req := require.New(t)
	session := activeSession(t)
	session.ApplyUpdates("host-1", []StateUpdate{
		{Key: "spread", Value: json.RawMessage(`"old"`)},
	}, time.Now())

	patch, assigned := session.ApplyUpdates("guest-1", []StateUpdate{
		{Key: "spread", Value: json.RawMessage(`"new"`)},
	}, time.Now())

	req.Len(patch, 1)
	req.Equal(uint64(2), assigned["spread"])
	req.JSONEq(`"new"`, string(session.SharedState["spread"].Value))
}

func TestFoldEntry_Keeps_Highest_Sequence(t *testing.T) {
	req := require.New(t)
	session := activeSession(t)
	session.FoldEntry(StateEntry{Key: "card:0", Value: json.RawMessage(`"the-sun"`), SequenceNumber: 5})

	// When an older sequence arrives for the same key
	session.FoldEntry(StateEntry{Key: "card:0", Value: json.RawMessage(`"the-tower"`), SequenceNumber: 3})

	// Then the newer value survives
	req.JSONEq(`"the-sun"`, string(session.SharedState["card:0"].Value))
}

func TestSharedState_Apply_Converges_Regardless_Of_Order(t *testing.T) {
	req := require.New(t)
	entries := []StateEntry{
		{Key: "spread", Value: json.RawMessage(`"v1"`), SequenceNumber: 1},
		{Key: "spread", Value: json.RawMessage(`"v2"`), SequenceNumber: 2},
		{Key: "spread", Value: json.RawMessage(`"v3"`), SequenceNumber: 3},
	}

	// Two replicas observing opposite delivery orders
	forward := make(SharedState)
	for _, e := range entries {
		forward.Apply([]StateEntry{e})
	}
	backward := make(SharedState)
	for i := len(entries) - 1; i >= 0; i-- {
		backward.Apply([]StateEntry{entries[i]})
	}

	req.Equal(forward["spread"], backward["spread"])
	req.JSONEq(`"v3"`, string(forward["spread"].Value))
}

func TestSnapshot_Is_A_Deep_Copy(t *testing.T) {
	req := require.New(t)
	session := activeSession(t)
	session.ApplyUpdates("host-1", []StateUpdate{
		{Key: "spread", Value: json.RawMessage(`"celtic-cross"`)},
	}, time.Now())

	snapshot := session.Snapshot()

	// Mutating the live session must not reach the snapshot
	session.ApplyUpdates("host-1", []StateUpdate{
		{Key: "spread", Value: json.RawMessage(`"three-card"`)},
	}, time.Now())
	session.Participants["host-1"].DisplayName = "changed"

	req.JSONEq(`"celtic-cross"`, string(snapshot.SharedState["spread"].Value))
	req.Equal("Luna", snapshot.Participants[0].DisplayName)
	req.Equal(uint64(1), snapshot.Sequence)
}
