package analytics_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitepulse/internal/analytics"
	"sitepulse/internal/events"
)

func patternsOfType(patterns []analytics.Pattern, patternType analytics.PatternType) []analytics.Pattern {
	var out []analytics.Pattern
	for _, p := range patterns {
		if p.Type == patternType {
			out = append(out, p)
		}
	}
	return out
}

func TestClickPatternThreshold(t *testing.T) {
	t.Run("three button clicks do not fire", func(t *testing.T) {
		var evs []events.Event
		for i := 0; i < 3; i++ {
			evs = append(evs, buttonClick("sess_c", time.Duration(i)*time.Second))
		}
		assert.Empty(t, patternsOfType(analytics.DetectPatterns(evs), analytics.PatternTypeClick))
	})

	t.Run("four button clicks fire at confidence 60", func(t *testing.T) {
		var evs []events.Event
		for i := 0; i < 4; i++ {
			evs = append(evs, buttonClick("sess_c", time.Duration(i)*time.Second))
		}
		got := patternsOfType(analytics.DetectPatterns(evs), analytics.PatternTypeClick)
		require.Len(t, got, 1)
		assert.Equal(t, 60.0, got[0].Confidence)
		assert.Equal(t, "sess_c", got[0].SessionID)
		assert.Equal(t, 4, got[0].Metadata["button_clicks"])
	})

	t.Run("confidence caps at 90", func(t *testing.T) {
		var evs []events.Event
		for i := 0; i < 10; i++ {
			evs = append(evs, buttonClick("sess_c", time.Duration(i)*time.Second))
		}
		got := patternsOfType(analytics.DetectPatterns(evs), analytics.PatternTypeClick)
		require.Len(t, got, 1)
		assert.Equal(t, 90.0, got[0].Confidence)
	})

	t.Run("non-button clicks do not count toward the threshold", func(t *testing.T) {
		var evs []events.Event
		for i := 0; i < 6; i++ {
			click := ev("sess_c", events.EventTypeClick, time.Duration(i)*time.Second)
			click.ElementID = "sidebar-link"
			click.SetMetadata(map[string]interface{}{"tag_name": "a"})
			evs = append(evs, click)
		}
		assert.Empty(t, patternsOfType(analytics.DetectPatterns(evs), analytics.PatternTypeClick))
	})

	t.Run("btn class marker counts as button-like", func(t *testing.T) {
		var evs []events.Event
		for i := 0; i < 4; i++ {
			click := ev("sess_c", events.EventTypeClick, time.Duration(i)*time.Second)
			click.ElementID = "submit-area"
			click.SetMetadata(map[string]interface{}{"tag_name": "div", "classes": "btn-primary large"})
			evs = append(evs, click)
		}
		got := patternsOfType(analytics.DetectPatterns(evs), analytics.PatternTypeClick)
		assert.Len(t, got, 1)
	})
}

func TestScrollPattern(t *testing.T) {
	scroll := func(sessionID string, pct float64, offset time.Duration) events.Event {
		e := ev(sessionID, events.EventTypeScroll, offset)
		e.SetMetadata(map[string]interface{}{"scroll_percentage": pct})
		return e
	}

	t.Run("mean depth above 50 fires", func(t *testing.T) {
		got := patternsOfType(analytics.DetectPatterns([]events.Event{
			scroll("sess_s", 80, 0),
			scroll("sess_s", 60, time.Second),
		}), analytics.PatternTypeScroll)
		require.Len(t, got, 1)
		assert.Equal(t, 70.0, got[0].Confidence)
	})

	t.Run("mean depth at or below 50 does not fire", func(t *testing.T) {
		got := patternsOfType(analytics.DetectPatterns([]events.Event{
			scroll("sess_s", 40, 0),
			scroll("sess_s", 60, time.Second),
		}), analytics.PatternTypeScroll)
		assert.Empty(t, got)
	})

	t.Run("confidence caps at 85", func(t *testing.T) {
		got := patternsOfType(analytics.DetectPatterns([]events.Event{
			scroll("sess_s", 100, 0),
			scroll("sess_s", 95, time.Second),
		}), analytics.PatternTypeScroll)
		require.Len(t, got, 1)
		assert.Equal(t, 85.0, got[0].Confidence)
	})
}

func TestNavigationPattern(t *testing.T) {
	view := func(sessionID, url string, offset time.Duration) events.Event {
		e := ev(sessionID, events.EventTypePageView, offset)
		e.PageURL = url
		return e
	}

	t.Run("two distinct pages do not fire", func(t *testing.T) {
		got := patternsOfType(analytics.DetectPatterns([]events.Event{
			view("sess_n", "https://example.com/a", 0),
			view("sess_n", "https://example.com/b", time.Second),
			view("sess_n", "https://example.com/a", 2*time.Second),
		}), analytics.PatternTypeNavigation)
		assert.Empty(t, got)
	})

	t.Run("three distinct pages fire at confidence 60", func(t *testing.T) {
		got := patternsOfType(analytics.DetectPatterns([]events.Event{
			view("sess_n", "https://example.com/a", 0),
			view("sess_n", "https://example.com/b", time.Second),
			view("sess_n", "https://example.com/c", 2*time.Second),
		}), analytics.PatternTypeNavigation)
		require.Len(t, got, 1)
		assert.Equal(t, 60.0, got[0].Confidence)
	})

	t.Run("confidence caps at 80", func(t *testing.T) {
		var evs []events.Event
		urls := []string{"a", "b", "c", "d", "e", "f"}
		for i, u := range urls {
			evs = append(evs, view("sess_n", "https://example.com/"+u, time.Duration(i)*time.Second))
		}
		got := patternsOfType(analytics.DetectPatterns(evs), analytics.PatternTypeNavigation)
		require.Len(t, got, 1)
		assert.Equal(t, 80.0, got[0].Confidence)
	})
}

func TestFormCompletionPattern(t *testing.T) {
	submit := ev("sess_f", events.EventTypeFormSubmit, 0)
	submit.ElementID = "signup-form"

	got := patternsOfType(analytics.DetectPatterns([]events.Event{submit}), analytics.PatternTypeFormCompletion)
	require.Len(t, got, 1)
	assert.Equal(t, 95.0, got[0].Confidence)
	assert.Equal(t, []string{"signup-form"}, got[0].Metadata["form_types"])
}

func TestDetectPatternsPerSessionAndOrdered(t *testing.T) {
	var evs []events.Event
	// sess_b gets a click pattern, sess_a a form completion; output is sorted
	// by session id regardless of input order.
	for i := 0; i < 5; i++ {
		evs = append(evs, buttonClick("sess_b", time.Duration(i)*time.Second))
	}
	evs = append(evs, ev("sess_a", events.EventTypeFormSubmit, 0))

	got := analytics.DetectPatterns(evs)
	require.Len(t, got, 2)
	assert.Equal(t, "sess_a", got[0].SessionID)
	assert.Equal(t, analytics.PatternTypeFormCompletion, got[0].Type)
	assert.Equal(t, "sess_b", got[1].SessionID)
	assert.Equal(t, analytics.PatternTypeClick, got[1].Type)
}

func TestRegisterClassifier(t *testing.T) {
	fired := false
	analytics.RegisterClassifier(func(evs []events.Event) *analytics.Pattern {
		for _, e := range evs {
			if e.EventType == events.EventTypeSessionEnd {
				fired = true
				return &analytics.Pattern{
					Type:       analytics.PatternType("session_close"),
					Confidence: 50,
				}
			}
		}
		return nil
	})

	got := analytics.DetectPatterns([]events.Event{ev("sess_x", events.EventTypeSessionEnd, 0)})
	assert.True(t, fired)
	require.NotEmpty(t, got)
	assert.Equal(t, analytics.PatternType("session_close"), got[len(got)-1].Type)
}
