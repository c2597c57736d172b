package worker

import (
	"context"
	"fmt"
	"time"

	"taskhub/internal/config"
	"taskhub/internal/events"
	"taskhub/internal/models"
	"taskhub/internal/repository"
	"taskhub/pkg/logger"
)

// RunDueScanner periodically looks for open tasks whose due date has
// passed and announces each one on the push channel once. A task is
// announced again only if its due date is changed afterwards. One scanner
// per process is fine: marking happens in the same pass, so concurrent
// replicas at worst duplicate a notice.
func RunDueScanner(ctx context.Context, store *repository.Store, hub *events.Hub) {
	cfg := config.Get()
	if cfg.DueCheckInterval <= 0 {
		logger.Info(ctx, "Due-date scanner disabled")
		return
	}
	interval := time.Duration(cfg.DueCheckInterval) * time.Second
	logger.Info(ctx, "Due-date scanner started", "interval", interval.String())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Due-date scanner stopped")
			return
		case <-ticker.C:
			ScanOnce(ctx, store, hub, time.Now().UTC())
		}
	}
}

// ScanOnce performs a single pass and returns how many tasks were
// announced.
func ScanOnce(ctx context.Context, store *repository.Store, hub *events.Hub, now time.Time) int {
	tasks, err := store.OverdueTasks(ctx, now)
	if err != nil {
		logger.Error(ctx, "Due-date scan failed", "error", err)
		return 0
	}

	notified := 0
	for _, task := range tasks {
		payload := map[string]any{"task_id": task.ID}
		if task.DueDate != nil {
			payload["due_date"] = task.DueDate.Format(time.RFC3339)
		}
		hub.Broadcast(ctx, models.EventInfo, fmt.Sprintf("%q is overdue", task.Title), payload)
		if err := store.MarkDueNotified(ctx, task.ID); err != nil {
			logger.Error(ctx, "Marking task as due-notified failed", "error", err, "task_id", task.ID)
			continue
		}
		notified++
	}
	if notified > 0 {
		logger.Info(ctx, "Announced overdue tasks", "count", notified)
	}
	return notified
}
