package jobs

import (
	"log/slog"

	"sitepulse/internal/database"
)

// CheckpointJob truncates the SQLite WAL so it cannot grow without bound on
// long-running deployments. The event log itself is append-only and is never
// pruned here.
type CheckpointJob struct {
	dbManager *database.DBManager
	logger    *slog.Logger
}

func NewCheckpointJob(dbManager *database.DBManager, logger *slog.Logger) *CheckpointJob {
	return &CheckpointJob{
		dbManager: dbManager,
		logger:    logger,
	}
}

func (j *CheckpointJob) Run() error {
	if err := j.dbManager.CheckpointWAL("TRUNCATE"); err != nil {
		return err
	}
	j.logger.Info("WAL checkpoint completed")
	return nil
}
