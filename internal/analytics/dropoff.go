package analytics

import (
	"context"
	"log/slog"
	"sort"

	"gorm.io/gorm"

	"sitepulse/internal/events"
)

// PageDropOff ranks one page by view volume. DropOffRate compares it to the
// next-busier page above it in the ranking; the top page has no drop-off value
// (HasDropOff false). This is a volume-ranking approximation, not a true
// sequential path analysis.
type PageDropOff struct {
	PageURL     string  `json:"page_url"`
	Views       int     `json:"views"`
	DropOffRate float64 `json:"drop_off_rate"`
	HasDropOff  bool    `json:"has_drop_off"`
}

// DropOffForWindow fetches the window's events and computes page-level
// drop-off. Failures degrade to an empty result.
func DropOffForWindow(ctx context.Context, db *gorm.DB, logger *slog.Logger, params QueryParams) ([]PageDropOff, error) {
	evs, err := events.QueryWindow(ctx, db, params.TimeFrame, params.Credential)
	if err != nil {
		logger.Error("Failed to fetch events for drop-off analysis", slog.Any("error", err))
		return []PageDropOff{}, err
	}
	return ComputeDropOff(evs), nil
}

// ComputeDropOff ranks distinct pages by page_view volume descending and
// derives each page's drop-off against the page ranked above it. Ties are
// broken by URL so the ranking is stable.
func ComputeDropOff(evs []events.Event) []PageDropOff {
	views := map[string]int{}
	for _, ev := range evs {
		if ev.EventType == events.EventTypePageView {
			views[ev.PageURL]++
		}
	}
	if len(views) == 0 {
		return []PageDropOff{}
	}

	pages := make([]string, 0, len(views))
	for page := range views {
		pages = append(pages, page)
	}
	sort.Slice(pages, func(i, j int) bool {
		if views[pages[i]] != views[pages[j]] {
			return views[pages[i]] > views[pages[j]]
		}
		return pages[i] < pages[j]
	})

	out := make([]PageDropOff, 0, len(pages))
	for i, page := range pages {
		entry := PageDropOff{PageURL: page, Views: views[page]}
		if i > 0 {
			previous := views[pages[i-1]]
			entry.DropOffRate = round2(float64(previous-views[page]) / float64(previous) * 100)
			entry.HasDropOff = true
		}
		out = append(out, entry)
	}
	return out
}
