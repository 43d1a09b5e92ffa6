package runtime

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"seance/domain"
	"seance/domain/event"
	"seance/observability"
)

// CursorTable owns every ephemeral cursor position. It is the one resource
// allowed fire-and-forget, rate-limited writes: staleness here is explicitly
// tolerable, so it sits outside the session serialization points.
type CursorTable struct {
	mu       sync.Mutex
	sessions map[domain.SessionID]map[string]*cursorEntry
	limit    rate.Limit
	burst    int
	gauges   *observability.Gauges
	now      func() time.Time
}

type cursorEntry struct {
	position domain.CursorPosition
	limiter  *rate.Limiter
}

func NewCursorTable(updatesPerSecond float64, burst int, gauges *observability.Gauges) *CursorTable {
	return &CursorTable{
		sessions: make(map[domain.SessionID]map[string]*cursorEntry),
		limit:    rate.Limit(updatesPerSecond),
		burst:    burst,
		gauges:   gauges,
		now:      time.Now,
	}
}

// Update stores the latest position for (session, user) and reports whether
// the update should be relayed. Updates beyond the per-participant rate are
// dropped, not queued: always showing a recent position beats showing every
// intermediate one.
func (t *CursorTable) Update(sessionID domain.SessionID, userID string, x, y float64) (domain.CursorPosition, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cursors, ok := t.sessions[sessionID]
	if !ok {
		cursors = make(map[string]*cursorEntry)
		t.sessions[sessionID] = cursors
	}
	entry, ok := cursors[userID]
	if !ok {
		entry = &cursorEntry{limiter: rate.NewLimiter(t.limit, t.burst)}
		cursors[userID] = entry
	}

	if !entry.limiter.Allow() {
		t.gauges.IncrDroppedCursor()
		return domain.CursorPosition{}, false
	}

	entry.position = domain.CursorPosition{
		UserID:       userID,
		X:            x,
		Y:            y,
		LastUpdateAt: t.now().UTC(),
	}
	return entry.position, true
}

// Positions returns the live cursors of a session.
func (t *CursorTable) Positions(sessionID domain.SessionID) []domain.CursorPosition {
	t.mu.Lock()
	defer t.mu.Unlock()

	cursors := t.sessions[sessionID]
	positions := make([]domain.CursorPosition, 0, len(cursors))
	for _, entry := range cursors {
		positions = append(positions, entry.position)
	}
	return positions
}

// Remove drops one participant's cursor.
func (t *CursorTable) Remove(sessionID domain.SessionID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cursors, ok := t.sessions[sessionID]; ok {
		delete(cursors, userID)
		if len(cursors) == 0 {
			delete(t.sessions, sessionID)
		}
	}
}

// RemoveSession drops every cursor of a closed session.
func (t *CursorTable) RemoveSession(sessionID domain.SessionID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionID)
}

// Sweep removes entries that have not moved since the deadline. Catches
// silent disconnects that never produced a leave.
func (t *CursorTable) Sweep(deadline time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for sessionID, cursors := range t.sessions {
		for userID, entry := range cursors {
			if entry.position.LastUpdateAt.Before(deadline) {
				delete(cursors, userID)
				removed++
			}
		}
		if len(cursors) == 0 {
			delete(t.sessions, sessionID)
		}
	}
	return removed
}

// Consume lets the table ride the event fanout as a permanent sink: leaves
// and closures clean their cursors without anyone having to remember to
// call the table.
func (t *CursorTable) Consume(_ context.Context, e event.Event) error {
	switch evt := e.(type) {
	case event.ParticipantLeft:
		t.Remove(evt.SessionID, evt.UserID)
	case event.SessionClosed:
		t.RemoveSession(evt.SessionID)
	}
	return nil
}
