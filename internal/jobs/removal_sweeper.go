// removal_sweeper.go implements the RemovalSweeper background job, which
// periodically scans for instances past their removal deadline and enqueues
// their deletion. The sweep never deletes synchronously; removal always goes
// through the regular delete task so backend cleanup and auditing behave
// exactly like a user-requested deletion.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/serverfleet/serverfleet/internal/db/models"
	"github.com/serverfleet/serverfleet/internal/dispatch"
	"github.com/serverfleet/serverfleet/internal/telemetry"
)

const defaultSweepInterval = 30 * time.Second

// RemovalInstanceStore is the instance persistence the sweeper needs.
type RemovalInstanceStore interface {
	ListDueForRemoval(ctx context.Context, now time.Time) ([]*models.ServerInstance, error)
	Update(ctx context.Context, s *models.ServerInstance) error
}

// RemovalSweeper enqueues deletion for instances whose lifetime ran out.
type RemovalSweeper struct {
	instances RemovalInstanceStore
	queue     dispatch.Queue
	interval  time.Duration
	stopChan  chan struct{}
}

// NewRemovalSweeper creates a sweeper running on the given interval
// (default 30s).
func NewRemovalSweeper(instances RemovalInstanceStore, queue dispatch.Queue, interval time.Duration) *RemovalSweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &RemovalSweeper{
		instances: instances,
		queue:     queue,
		interval:  interval,
		stopChan:  make(chan struct{}),
	}
}

// Start begins the background sweep loop. It runs an initial sweep
// immediately, then repeats on the configured interval. The loop exits when
// ctx is cancelled or Stop() is called.
func (s *RemovalSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("removal sweeper started", "interval", s.interval)

	s.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-s.stopChan:
			slog.Info("removal sweeper stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop signals the background loop to exit.
func (s *RemovalSweeper) Stop() {
	close(s.stopChan)
}

// RunOnce performs a single sweep: every due instance is soft-marked (once)
// and its delete task enqueued. Already-marked instances are enqueued again
// on every cycle; the delete task is idempotent and a lost task (process
// restart, queue hiccup) would otherwise orphan the instance forever. Errors
// on one instance never stop the sweep.
func (s *RemovalSweeper) RunOnce(ctx context.Context) {
	due, err := s.instances.ListDueForRemoval(ctx, time.Now())
	if err != nil {
		slog.Error("removal sweep: listing due instances failed", "error", err)
		return
	}

	for _, inst := range due {
		if !inst.MarkedForDeletion {
			inst.MarkedForDeletion = true
			if err := s.instances.Update(ctx, inst); err != nil {
				slog.Error("removal sweep: marking instance failed", "instance", inst.ID, "error", err)
				continue
			}
		}

		if err := s.queue.Enqueue(ctx, dispatch.NewTask(dispatch.TaskDelete, inst.ID)); err != nil {
			slog.Error("removal sweep: enqueue failed", "instance", inst.ID, "error", err)
			continue
		}
		slog.Info("removal sweep: instance past deadline, deletion enqueued",
			"instance", inst.ID, "removal_at", inst.RemovalAt)
	}

	telemetry.SweepRunsTotal.WithLabelValues("removal").Inc()
}
