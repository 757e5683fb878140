package dispatch

import (
	"context"
	"log/slog"
	"time"
)

// maxConsecutiveRuns bounds a single drain so a runaway backlog cannot keep
// one tick busy forever; the next tick resumes where this one stopped.
const maxConsecutiveRuns = 100

// Scheduler invokes the queue processor on a fixed interval. It is
// stateless between ticks: each run independently reads settings, claims the
// lock, and selects its batch, so overlapping schedulers (or a manual
// trigger racing a tick) serialize through the lock rather than through the
// scheduler itself.
type Scheduler struct {
	interval  time.Duration
	processor *Processor
}

func NewScheduler(interval time.Duration, processor *Processor) *Scheduler {
	return &Scheduler{interval: interval, processor: processor}
}

// Start begins periodic queue processing. Runs until context is cancelled,
// finishing with one final drain so a shutdown doesn't strand a backlog.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("[Scheduler] Starting queue processing scheduler", "interval", s.interval)

	s.drain(ctx)

	for {
		select {
		case <-ticker.C:
			s.drain(ctx)
		case <-ctx.Done():
			slog.Info("[Scheduler] Stopping (context cancelled)")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			slog.Info("[Scheduler] Running final drain before shutdown...")
			s.drain(shutdownCtx)
			slog.Info("[Scheduler] Final drain complete")

			return nil
		}
	}
}

// drain runs batches until the backlog is empty: a run that filled its whole
// batch window means more pending events are likely waiting.
func (s *Scheduler) drain(ctx context.Context) {
	for runs := 0; runs < maxConsecutiveRuns; runs++ {
		select {
		case <-ctx.Done():
			slog.Info("[Scheduler] Drain interrupted by context cancellation", "runs", runs)
			return
		default:
		}

		result, err := s.processor.Run(ctx)
		if err != nil {
			slog.Error("[Scheduler] Dispatch run failed", "error", err, "run_number", runs+1)
			return
		}
		if result.Skipped {
			return
		}

		// A run with failures means the sink (or a payload) is unhealthy;
		// retrying immediately would burn the whole retry budget within one
		// tick. Failed records wait for the next interval instead.
		if result.Failed > 0 {
			slog.Info("[Scheduler] Run had failures, deferring retries to next tick",
				"failed", result.Failed,
				"completed", result.Completed)
			return
		}

		batchSize := s.processor.settings.Pipeline().BatchSize
		if result.Selected < batchSize {
			if runs > 0 {
				slog.Info("[Scheduler] Backlog drained", "total_runs", runs+1)
			}
			return
		}

		slog.Info("[Scheduler] Backlog detected, continuing to drain", "runs_so_far", runs+1)
	}

	slog.Warn("[Scheduler] Max consecutive runs reached, pausing drain",
		"max_runs", maxConsecutiveRuns,
		"note", "Will resume on next tick")
}
