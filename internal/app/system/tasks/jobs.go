// internal/app/system/tasks/jobs.go
package tasks

import (
	"context"
	"time"

	"github.com/memberhub-app/memberhub/internal/app/system/joblock"
	"github.com/memberhub-app/memberhub/internal/app/system/outboxproc"
	"github.com/memberhub-app/memberhub/internal/app/system/reconcile"
	"github.com/memberhub-app/memberhub/internal/app/system/timeouts"
	"go.uber.org/zap"
)

// ReconcileJob creates the periodic full reconcile pass over every managed
// group.
func ReconcileJob(rec *reconcile.Reconciler, logger *zap.Logger, interval time.Duration) Job {
	return Job{
		Name:     joblock.JobReconcile,
		Interval: interval,
		Timeout:  timeouts.Batch(),
		Run: func(ctx context.Context) error {
			result, err := rec.Reconcile(ctx, reconcile.Scope{})
			if err != nil {
				return err
			}
			var added, removed, failed int
			for _, g := range result.Groups {
				added += g.Added
				removed += g.Removed
				failed += g.Failed
			}
			if added > 0 || removed > 0 || failed > 0 {
				logger.Info("reconcile pass applied changes",
					zap.String("run_id", result.RunID),
					zap.Int("added", added),
					zap.Int("removed", removed),
					zap.Int("failed", failed))
			}
			return nil
		},
	}
}

// OutboxDrainJob creates the periodic outbox drain.
func OutboxDrainJob(proc *outboxproc.Processor, logger *zap.Logger, interval time.Duration, batchSize int64) Job {
	return Job{
		Name:     joblock.JobOutboxDrain,
		Interval: interval,
		Timeout:  timeouts.Batch(),
		Run: func(ctx context.Context) error {
			result, err := proc.ProcessBatch(ctx, batchSize)
			if err != nil {
				return err
			}
			if result.Exhausted > 0 {
				logger.Warn("outbox events need operator attention",
					zap.Int("exhausted", result.Exhausted))
			}
			return nil
		},
	}
}
