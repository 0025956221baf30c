package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"gorm.io/gorm"

	"sitepulse/internal/events"
	"sitepulse/internal/sessions"
)

// PatternType identifies a heuristically detected interaction style.
type PatternType string

const (
	PatternTypeClick          PatternType = "click_pattern"
	PatternTypeScroll         PatternType = "scroll_pattern"
	PatternTypeNavigation     PatternType = "navigation_pattern"
	PatternTypeFormCompletion PatternType = "form_completion"
)

// Pattern is a detected behavior pattern with a 0-100 confidence score.
type Pattern struct {
	SessionID   string                 `json:"session_id"`
	Type        PatternType            `json:"pattern_type"`
	Confidence  float64                `json:"confidence"`
	Description string                 `json:"description"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// Classifier inspects one session's events, sorted by timestamp, and returns
// a pattern or nil. Classifiers are independent and non-exclusive; zero or
// more may fire per session.
type Classifier func(evs []events.Event) *Pattern

var (
	classifierMu sync.RWMutex
	classifiers  = []Classifier{
		classifyClickPattern,
		classifyScrollPattern,
		classifyNavigationPattern,
		classifyFormCompletion,
	}
)

// RegisterClassifier adds a heuristic to the registry. New heuristics plug in
// without touching existing ones.
func RegisterClassifier(c Classifier) {
	classifierMu.Lock()
	defer classifierMu.Unlock()
	classifiers = append(classifiers, c)
}

func registeredClassifiers() []Classifier {
	classifierMu.RLock()
	defer classifierMu.RUnlock()
	out := make([]Classifier, len(classifiers))
	copy(out, classifiers)
	return out
}

// PatternsForWindow fetches the window's events and runs the classifier
// registry. Failures degrade to an empty result.
func PatternsForWindow(ctx context.Context, db *gorm.DB, logger *slog.Logger, params QueryParams) ([]Pattern, error) {
	evs, err := events.QueryWindow(ctx, db, params.TimeFrame, params.Credential)
	if err != nil {
		logger.Error("Failed to fetch events for pattern detection", slog.Any("error", err))
		return []Pattern{}, err
	}
	return DetectPatterns(evs), nil
}

// DetectPatterns runs every registered classifier over each session partition.
// Output is ordered by session id then pattern type for determinism.
func DetectPatterns(evs []events.Event) []Pattern {
	partitions := sessions.Partition(evs)

	sessionIDs := make([]string, 0, len(partitions))
	for id := range partitions {
		sessionIDs = append(sessionIDs, id)
	}
	sort.Strings(sessionIDs)

	var out []Pattern
	for _, id := range sessionIDs {
		group := partitions[id]
		for _, classify := range registeredClassifiers() {
			if p := classify(group); p != nil {
				p.SessionID = id
				out = append(out, *p)
			}
		}
	}
	return out
}

// classifyClickPattern fires when more than three button-like clicks occur in
// a session. An element is button-like when its tag is a button, its element
// id contains "button", or its class list carries a "btn" marker.
func classifyClickPattern(evs []events.Event) *Pattern {
	clicks := 0
	buttonClicks := 0
	elementCounts := map[string]int{}

	for _, ev := range evs {
		if ev.EventType != events.EventTypeClick {
			continue
		}
		clicks++
		if isButtonLike(ev) {
			buttonClicks++
		}
		label := ev.ElementID
		if label == "" {
			label = ev.MetadataString("tag_name")
		}
		if label == "" {
			label = "unknown"
		}
		elementCounts[label]++
	}

	if buttonClicks <= 3 {
		return nil
	}

	return &Pattern{
		Type:        PatternTypeClick,
		Confidence:  math.Min(90, float64(buttonClicks)*15),
		Description: fmt.Sprintf("Visitor shows preference for button interactions (%d button clicks)", buttonClicks),
		Metadata: map[string]interface{}{
			"total_clicks":       clicks,
			"button_clicks":      buttonClicks,
			"preferred_elements": topElements(elementCounts, 3),
		},
	}
}

// classifyScrollPattern fires when the mean scroll depth across scroll events
// exceeds 50 percent.
func classifyScrollPattern(evs []events.Event) *Pattern {
	var sum float64
	count := 0
	for _, ev := range evs {
		if ev.EventType != events.EventTypeScroll {
			continue
		}
		if pct, ok := ev.MetadataNumber("scroll_percentage"); ok {
			sum += pct
		}
		count++
	}
	if count == 0 {
		return nil
	}

	mean := sum / float64(count)
	if mean <= 50 {
		return nil
	}

	return &Pattern{
		Type:        PatternTypeScroll,
		Confidence:  round2(math.Min(85, mean)),
		Description: fmt.Sprintf("Visitor engages deeply with content (avg scroll depth: %.0f%%)", mean),
		Metadata: map[string]interface{}{
			"avg_scroll_depth":    round2(mean),
			"total_scroll_events": count,
		},
	}
}

// classifyNavigationPattern fires when the session visits more than two
// distinct page URLs.
func classifyNavigationPattern(evs []events.Event) *Pattern {
	distinct := map[string]bool{}
	pageViews := 0
	for _, ev := range evs {
		if ev.EventType != events.EventTypePageView {
			continue
		}
		pageViews++
		distinct[ev.PageURL] = true
	}
	if len(distinct) <= 2 {
		return nil
	}

	pages := make([]string, 0, len(distinct))
	for page := range distinct {
		pages = append(pages, page)
	}
	sort.Strings(pages)

	return &Pattern{
		Type:        PatternTypeNavigation,
		Confidence:  math.Min(80, float64(len(distinct))*20),
		Description: fmt.Sprintf("Visitor explores multiple pages (%d unique pages visited)", len(distinct)),
		Metadata: map[string]interface{}{
			"pages_visited":    pages,
			"total_page_views": pageViews,
		},
	}
}

// classifyFormCompletion fires whenever the session submitted at least one form.
func classifyFormCompletion(evs []events.Event) *Pattern {
	var forms []string
	for _, ev := range evs {
		if ev.EventType != events.EventTypeFormSubmit {
			continue
		}
		label := ev.ElementID
		if label == "" {
			label = "unknown"
		}
		forms = append(forms, label)
	}
	if len(forms) == 0 {
		return nil
	}

	return &Pattern{
		Type:        PatternTypeFormCompletion,
		Confidence:  95,
		Description: fmt.Sprintf("Visitor completes forms (%d form submissions)", len(forms)),
		Metadata: map[string]interface{}{
			"forms_completed": len(forms),
			"form_types":      forms,
		},
	}
}

func isButtonLike(ev events.Event) bool {
	if strings.EqualFold(ev.MetadataString("tag_name"), "button") {
		return true
	}
	if strings.Contains(strings.ToLower(ev.ElementID), "button") {
		return true
	}
	return strings.Contains(strings.ToLower(ev.MetadataString("classes")), "btn")
}

// topElements returns the n most clicked element labels, counts descending,
// ties broken by label.
func topElements(counts map[string]int, n int) []string {
	labels := make([]string, 0, len(counts))
	for label := range counts {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if counts[labels[i]] != counts[labels[j]] {
			return counts[labels[i]] > counts[labels[j]]
		}
		return labels[i] < labels[j]
	})
	if len(labels) > n {
		labels = labels[:n]
	}
	return labels
}
