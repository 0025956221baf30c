package jobs

import (
	"context"
	"log/slog"
	"time"

	"sitepulse/internal/database"
	"sitepulse/internal/events"
)

// IngestStatsJob periodically logs ingestion volume so operators can watch
// traffic without an external metrics stack.
type IngestStatsJob struct {
	dbManager *database.DBManager
	logger    *slog.Logger
}

func NewIngestStatsJob(dbManager *database.DBManager, logger *slog.Logger) *IngestStatsJob {
	return &IngestStatsJob{
		dbManager: dbManager,
		logger:    logger,
	}
}

func (j *IngestStatsJob) Run() error {
	db := j.dbManager.GetConnection()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stats, err := events.GetTrackingStats(ctx, db, "")
	if err != nil {
		return err
	}

	j.logger.Info("Ingestion stats",
		slog.Int64("total_events", stats.TotalEvents),
		slog.Int64("page_views", stats.PageViews),
		slog.Int64("unique_sessions", stats.UniqueSessions),
		slog.Int("unique_pages", len(stats.UniquePages)))
	return nil
}
