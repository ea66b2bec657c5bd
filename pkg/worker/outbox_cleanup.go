package worker

import (
	"context"
	"time"

	"github.com/crm-res/outreach-api/internal/repository"
	"github.com/crm-res/outreach-api/pkg/logger"
)

// OutboxCleanupWorker purges processed outbox events past the retention
// window so the table does not grow without bound.
type OutboxCleanupWorker struct {
	repo          repository.OutboxRepository
	retentionDays int
	interval      time.Duration
	logger        *logger.Logger
}

func NewOutboxCleanupWorker(repo repository.OutboxRepository, retentionDays int, interval time.Duration, log *logger.Logger) *OutboxCleanupWorker {
	return &OutboxCleanupWorker{
		repo:          repo,
		retentionDays: retentionDays,
		interval:      interval,
		logger:        log,
	}
}

func (w *OutboxCleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().AddDate(0, 0, -w.retentionDays)
			rows, err := w.repo.DeleteProcessedBefore(ctx, cutoff)
			if err != nil {
				w.logger.Error(err, "failed to clean up outbox events")
				continue
			}
			if rows > 0 {
				w.logger.Info("cleaned up processed outbox events",
					map[string]interface{}{"rows": rows, "cutoff": cutoff})
			}
		}
	}
}
