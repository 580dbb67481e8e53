package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunMaintenance periodically deletes recorded codes older than the
// configured retention. It blocks until ctx is canceled.
func (s *MonitorStore) RunMaintenance(ctx context.Context, cfg MonitorConfig, logger *zap.Logger) {
	cfg = cfg.withDefaults()
	ticker := time.NewTicker(cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runMaintenance(ctx, time.Now().Add(-cfg.CodeRetention), logger)
		}
	}
}

// runMaintenance executes a single maintenance cycle.
func (s *MonitorStore) runMaintenance(ctx context.Context, cutoff time.Time, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	deleted, err := s.DeleteCodesBefore(ctx, cutoff)
	if err != nil {
		logger.Warn("failed to delete old codes", zap.Error(err))
		return
	}
	if deleted > 0 {
		logger.Info("purged old code records", zap.Int64("count", deleted))
	}
}
