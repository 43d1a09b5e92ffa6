package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"

	"seance/observability"
)

// HealthWorker periodically logs process statistics (CPU, RSS) together
// with the engine gauges. Operators watch this line instead of attaching a
// profiler to a box full of live séances.
type HealthWorker struct {
	log      *slog.Logger
	gauges   *observability.Gauges
	interval time.Duration
}

func NewHealthWorker(log *slog.Logger, gauges *observability.Gauges, interval time.Duration) *HealthWorker {
	return &HealthWorker{log: log, gauges: gauges, interval: interval}
}

func (w *HealthWorker) Run(ctx context.Context) error {
	w.log.Info("Starting health worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rss, cpu, status, err := selfStats(p)
			if err != nil {
				w.log.Error("Failed to collect self stats", "err", err)
				continue
			}

			stats := w.gauges.Latest()
			w.log.Info("health",
				"pid_status", status,
				"cpu_percent", cpu,
				"rss_bytes", rss,
				"alloc_mb", stats.AllocMemMb,
				"num_gc", stats.NumGC,
				"active_sessions", stats.ActiveSessions,
				"connected_participants", stats.ConnectedParticipants,
				"broadcast_events", stats.BroadcastEvents,
				"accepted_mutations", stats.AcceptedMutations,
				"dropped_cursor_updates", stats.DroppedCursorUpdates,
				"sweep_evictions", stats.SweepEvictions,
			)
		}
	}
}

func selfStats(p *process.Process) (rss uint64, cpu float64, status string, err error) {
	memory, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, "", err
	}
	cpu, err = p.CPUPercent()
	if err != nil {
		return 0, 0, "", err
	}
	status, err = p.Status()
	if err != nil {
		return 0, 0, "", err
	}
	return memory.RSS, cpu, status, nil
}
