package workers

import (
	"context"
	"log/slog"
	"time"
)

// cursorPruner is the slice of the cursor table this worker needs.
type cursorPruner interface {
	Sweep(deadline time.Time) int
}

// CursorSweep prunes cursor entries that stopped moving, so a silent
// disconnect doesn't leave a ghost pointer on everyone's screen. The TTL is
// short (seconds); anything stale enough to be pruned is already stale on
// screen.
type CursorSweep struct {
	log      *slog.Logger
	cursors  cursorPruner
	interval time.Duration
	ttl      time.Duration
	clock    func() time.Time
}

func NewCursorSweep(log *slog.Logger, cursors cursorPruner, interval, ttl time.Duration) *CursorSweep {
	return &CursorSweep{log: log, cursors: cursors, interval: interval, ttl: ttl, clock: time.Now}
}

func (w *CursorSweep) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping cursor sweep")
			return nil
		case <-ticker.C:
			if removed := w.cursors.Sweep(w.clock().Add(-w.ttl)); removed > 0 {
				w.log.Debug("Pruned stale cursors", "count", removed)
			}
		}
	}
}
