// Package observability aggregates live counters for the health worker and
// the ops CLI. Counters are atomics: hot paths touch them without locks.
package observability

import (
	"runtime"
	"sync/atomic"
)

// Stats is a point-in-time copy of all gauges.
type Stats struct {
	ActiveSessions        int64  `json:"active_sessions"`
	ConnectedParticipants int64  `json:"connected_participants"`
	BroadcastEvents       uint64 `json:"broadcast_events"`
	AcceptedMutations     uint64 `json:"accepted_mutations"`
	DroppedCursorUpdates  uint64 `json:"dropped_cursor_updates"`
	SweepEvictions        uint64 `json:"sweep_evictions"`
	AllocMemMb            uint64 `json:"alloc_mem_mb"`
	NumGC                 uint32 `json:"num_gc"`
}

type Gauges struct {
	activeSessions        atomic.Int64
	connectedParticipants atomic.Int64
	broadcastEvents       atomic.Uint64
	acceptedMutations     atomic.Uint64
	droppedCursorUpdates  atomic.Uint64
	sweepEvictions        atomic.Uint64
}

func NewGauges() *Gauges {
	return &Gauges{}
}

func (g *Gauges) SessionOpened()        { g.activeSessions.Add(1) }
func (g *Gauges) SessionClosed()        { g.activeSessions.Add(-1) }
func (g *Gauges) ParticipantConnected() { g.connectedParticipants.Add(1) }
func (g *Gauges) ParticipantGone()      { g.connectedParticipants.Add(-1) }
func (g *Gauges) IncrBroadcast()        { g.broadcastEvents.Add(1) }
func (g *Gauges) IncrMutation()         { g.acceptedMutations.Add(1) }
func (g *Gauges) IncrDroppedCursor()    { g.droppedCursorUpdates.Add(1) }
func (g *Gauges) IncrSweepEviction()    { g.sweepEvictions.Add(1) }

// Latest copies the gauges plus Go memory statistics.
func (g *Gauges) Latest() Stats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return Stats{
		ActiveSessions:        g.activeSessions.Load(),
		ConnectedParticipants: g.connectedParticipants.Load(),
		BroadcastEvents:       g.broadcastEvents.Load(),
		AcceptedMutations:     g.acceptedMutations.Load(),
		DroppedCursorUpdates:  g.droppedCursorUpdates.Load(),
		SweepEvictions:        g.sweepEvictions.Load(),
		AllocMemMb:            m.Alloc / 1024 / 1024,
		NumGC:                 m.NumGC,
	}
}
