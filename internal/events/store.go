package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sitepulse/internal/timeframe"
)

// InsertBatch persists an ordered batch of events in a single transaction.
// Either every event lands or none of them do; a storage failure rolls back
// the whole batch. Delivery is at-least-once, so a batch may arrive more than
// once: events whose event_id is already stored are skipped, making replays
// idempotent instead of fatal.
func InsertBatch(dbManager cartridge.DBManager, logger *slog.Logger, evs []Event) error {
	if len(evs) == 0 {
		return nil
	}

	db := dbManager.GetConnection()
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		}).Create(&evs).Error
	})
	if err != nil {
		logger.Error("Failed to store event batch",
			slog.Int("count", len(evs)),
			slog.Any("error", err))
		return fmt.Errorf("failed to store event batch: %w", err)
	}

	logger.Debug("Stored event batch", slog.Int("count", len(evs)))
	return nil
}

// QueryWindow fetches every event inside the time frame, optionally scoped to
// one site credential, ordered by timestamp then id for determinism. The scan
// is proportional to event volume, so the caller's context bounds it.
func QueryWindow(ctx context.Context, db *gorm.DB, tf timeframe.TimeFrame, credential string) ([]Event, error) {
	var evs []Event

	query := db.WithContext(ctx).
		Where("timestamp >= ? AND timestamp <= ?", tf.From.UTC(), tf.To.UTC())
	if credential != "" {
		query = query.Where("site_credential = ?", credential)
	}

	if err := query.Order("timestamp ASC, id ASC").Find(&evs).Error; err != nil {
		return nil, fmt.Errorf("error fetching events in window: %w", err)
	}
	return evs, nil
}

// RecentEvents returns the newest events, optionally scoped to a credential.
func RecentEvents(ctx context.Context, db *gorm.DB, credential string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	var evs []Event
	query := db.WithContext(ctx)
	if credential != "" {
		query = query.Where("site_credential = ?", credential)
	}
	if err := query.Order("timestamp DESC, id DESC").Limit(limit).Find(&evs).Error; err != nil {
		return nil, fmt.Errorf("error fetching recent events: %w", err)
	}
	return evs, nil
}

// TrackingStats summarizes the stored event log for a credential scope.
type TrackingStats struct {
	TotalEvents    int64    `json:"total_events"`
	PageViews      int64    `json:"page_views"`
	UniqueSessions int64    `json:"unique_sessions"`
	UniquePages    []string `json:"unique_pages"`
}

// GetTrackingStats computes event log totals with aggregate queries.
func GetTrackingStats(ctx context.Context, db *gorm.DB, credential string) (*TrackingStats, error) {
	stats := &TrackingStats{UniquePages: []string{}}

	scoped := func() *gorm.DB {
		q := db.WithContext(ctx).Model(&Event{})
		if credential != "" {
			q = q.Where("site_credential = ?", credential)
		}
		return q
	}

	if err := scoped().Count(&stats.TotalEvents).Error; err != nil {
		return nil, fmt.Errorf("error counting events: %w", err)
	}
	if err := scoped().Where("event_type = ?", EventTypePageView).Count(&stats.PageViews).Error; err != nil {
		return nil, fmt.Errorf("error counting page views: %w", err)
	}
	if err := scoped().Distinct("session_id").Count(&stats.UniqueSessions).Error; err != nil {
		return nil, fmt.Errorf("error counting sessions: %w", err)
	}
	if err := scoped().Distinct().Order("page_url ASC").Pluck("page_url", &stats.UniquePages).Error; err != nil {
		return nil, fmt.Errorf("error collecting pages: %w", err)
	}

	return stats, nil
}
