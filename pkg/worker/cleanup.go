package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/repository"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/logger"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/metrics"
)

// OutboxCleanup deletes processed outbox events older than the retention.
type OutboxCleanup struct {
	repo      repository.OutboxRepository
	retention time.Duration
	logger    *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewOutboxCleanup(repo repository.OutboxRepository, retention time.Duration, logger *logger.Logger, metrics *metrics.Metrics) *OutboxCleanup {
	return &OutboxCleanup{
		repo:      repo,
		retention: retention,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

func (w *OutboxCleanup) Run(ctx context.Context) (int64, error) {
	cutoff := w.now().UTC().Add(-w.retention)

	rows, err := w.repo.DeleteProcessedBefore(ctx, cutoff)
	if err != nil {
		w.metrics.DatabaseOperations.WithLabelValues("cleanup_outbox", "error").Inc()
		return 0, fmt.Errorf("failed to cleanup outbox events: %w", err)
	}
	w.metrics.DatabaseOperations.WithLabelValues("cleanup_outbox", "success").Inc()
	w.metrics.OutboxCleaned.Add(float64(rows))

	w.logger.Info("Cleaned up outbox events", "rows", rows, "cutoff", cutoff)
	return rows, nil
}

// Schedule registers the cleanup on c using a standard five-field cron spec.
func (w *OutboxCleanup) Schedule(ctx context.Context, c *cron.Cron, spec string) (cron.EntryID, error) {
	id, err := c.AddFunc(spec, func() {
		if _, err := w.Run(ctx); err != nil {
			w.logger.Error(err, "Outbox cleanup failed")
		}
	})
	if err != nil {
		return 0, fmt.Errorf("invalid cleanup schedule %q: %w", spec, err)
	}
	return id, nil
}
