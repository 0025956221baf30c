package analytics

import (
	"context"
	"log/slog"
	"math"

	"gorm.io/gorm"

	"sitepulse/internal/events"
	"sitepulse/internal/sessions"
)

// Snapshot is the engagement metrics bundle for one query window. A zero
// Snapshot is the defined degraded result when computation fails; analytics
// are advisory and never fail their caller.
type Snapshot struct {
	EngagementScore    int     `json:"engagement_score"`
	BounceRate         float64 `json:"bounce_rate"`
	ConversionRate     float64 `json:"conversion_rate"`
	AvgSessionDuration float64 `json:"avg_session_duration"`
	PagesPerSession    float64 `json:"pages_per_session"`
	ReturnVisitorRate  float64 `json:"return_visitor_rate"`
}

// SnapshotForWindow fetches the window's events and computes a snapshot.
// On query failure the zero Snapshot is returned alongside the error; callers
// log it and serve the degraded value.
func SnapshotForWindow(ctx context.Context, db *gorm.DB, logger *slog.Logger, params QueryParams) (Snapshot, error) {
	evs, err := events.QueryWindow(ctx, db, params.TimeFrame, params.Credential)
	if err != nil {
		logger.Error("Failed to fetch events for snapshot", slog.Any("error", err))
		return Snapshot{}, err
	}
	return ComputeSnapshot(evs), nil
}

// ComputeSnapshot derives the metrics bundle from a window of raw events.
// With zero sessions every metric is 0; no NaN, no division by zero.
func ComputeSnapshot(evs []events.Event) Snapshot {
	if len(evs) == 0 {
		return Snapshot{}
	}

	sessionList := sessions.Reconstruct(evs)
	totalSessions := len(sessionList)

	var snapshot Snapshot
	snapshot.EngagementScore = engagementScore(evs)

	bounced := 0
	var totalDuration float64
	for _, s := range sessionList {
		if s.Bounced() {
			bounced++
		}
		totalDuration += s.Duration
	}

	pageViews := 0
	formSubmits := 0
	for _, ev := range evs {
		switch ev.EventType {
		case events.EventTypePageView:
			pageViews++
		case events.EventTypeFormSubmit:
			formSubmits++
		}
	}

	if totalSessions > 0 {
		snapshot.BounceRate = round2(float64(bounced) / float64(totalSessions) * 100)
		snapshot.AvgSessionDuration = round2(totalDuration / float64(totalSessions))
		// Window-wide ratio, not an average of per-session ratios.
		snapshot.PagesPerSession = round2(float64(pageViews) / float64(totalSessions))
		// Counts form_submit events, not sessions with at least one submit:
		// a session submitting twice inflates the rate. Known approximation,
		// kept to match the published metric definition.
		snapshot.ConversionRate = round2(float64(formSubmits) / float64(totalSessions) * 100)
	}

	// Anonymous sessions carry no durable cross-session identity, so a real
	// return-visitor rate cannot be computed from this event model. Report a
	// neutral zero instead of fabricating a statistic.
	snapshot.ReturnVisitorRate = 0

	return snapshot
}

// engagementScore is a 0-100 diversity-of-interaction proxy: the number of
// distinct event types observed against the fixed reference cardinality of
// five interaction types. Monotonic in distinct types, capped at 100.
func engagementScore(evs []events.Event) int {
	distinct := map[events.EventType]bool{}
	for _, ev := range evs {
		distinct[ev.EventType] = true
	}
	score := float64(len(distinct)) / float64(events.InteractionTypeCount) * 100
	return int(math.Round(math.Min(100, score)))
}
