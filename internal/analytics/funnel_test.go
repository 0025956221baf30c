package analytics_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitepulse/internal/analytics"
	"sitepulse/internal/events"
)

func funnelView(sessionID, url string) events.Event {
	e := ev(sessionID, events.EventTypePageView, 0)
	e.PageURL = url
	return e
}

func TestBuildFunnel(t *testing.T) {
	stages := []string{"/landing", "/pricing", "/signup"}

	evs := []events.Event{
		// Four sessions reach the landing page.
		funnelView("sess_1", "https://example.com/landing"),
		funnelView("sess_2", "https://example.com/landing"),
		funnelView("sess_3", "https://example.com/landing"),
		funnelView("sess_4", "https://example.com/landing"),
		// Two continue to pricing.
		funnelView("sess_1", "https://example.com/pricing"),
		funnelView("sess_2", "https://example.com/pricing"),
		// One signs up.
		funnelView("sess_1", "https://example.com/signup"),
	}

	got := analytics.BuildFunnel(evs, stages)
	require.Len(t, got, 3)

	assert.Equal(t, 4, got[0].Visitors)
	assert.Equal(t, 100.0, got[0].ConversionRate, "stage 0 always converts at 100")
	assert.Equal(t, 0.0, got[0].DropOffRate)

	assert.Equal(t, 2, got[1].Visitors)
	assert.Equal(t, 50.0, got[1].ConversionRate)
	assert.Equal(t, 50.0, got[1].DropOffRate)

	assert.Equal(t, 1, got[2].Visitors)
	assert.Equal(t, 50.0, got[2].ConversionRate)
	assert.Equal(t, 50.0, got[2].DropOffRate)
}

func TestBuildFunnelVisitorsCountedOnce(t *testing.T) {
	evs := []events.Event{
		funnelView("sess_1", "https://example.com/landing"),
		funnelView("sess_1", "https://example.com/landing"),
		funnelView("sess_1", "https://example.com/landing"),
	}
	got := analytics.BuildFunnel(evs, []string{"/landing"})
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Visitors, "repeat visits count one distinct visitor")
}

func TestBuildFunnelFirstMatchWins(t *testing.T) {
	// The URL matches both stages; only the first declared stage counts it.
	evs := []events.Event{
		funnelView("sess_1", "https://example.com/shop/checkout"),
	}
	got := analytics.BuildFunnel(evs, []string{"/shop", "/shop/checkout"})
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Visitors)
	assert.Equal(t, 0, got[1].Visitors)
}

func TestBuildFunnelMatchesElementID(t *testing.T) {
	click := ev("sess_1", events.EventTypeClick, 0)
	click.ElementID = "buy-now-button"

	got := analytics.BuildFunnel([]events.Event{click}, []string{"buy-now"})
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Visitors)
}

func TestBuildFunnelEmptyPreviousStage(t *testing.T) {
	evs := []events.Event{
		funnelView("sess_1", "https://example.com/b"),
	}
	got := analytics.BuildFunnel(evs, []string{"/a", "/b"})
	require.Len(t, got, 2)

	assert.Equal(t, 0, got[0].Visitors)
	// With nobody in the previous stage the rate degrades to the neutral
	// 100/0 pair instead of dividing by zero.
	assert.Equal(t, 100.0, got[1].ConversionRate)
	assert.Equal(t, 0.0, got[1].DropOffRate)
}

func TestBuildFunnelNoStages(t *testing.T) {
	assert.Empty(t, analytics.BuildFunnel([]events.Event{funnelView("sess_1", "https://example.com/")}, nil))
}

func TestLoadFunnelDefinition(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "funnel.yml")
	require.NoError(t, os.WriteFile(path, []byte("name: signup\nstages:\n  - /landing\n  - /pricing\n  - /signup\n"), 0o644))

	def, err := analytics.LoadFunnelDefinition(path)
	require.NoError(t, err)
	assert.Equal(t, "signup", def.Name)
	assert.Equal(t, []string{"/landing", "/pricing", "/signup"}, def.Stages)

	t.Run("rejects empty stage list", func(t *testing.T) {
		empty := filepath.Join(dir, "empty.yml")
		require.NoError(t, os.WriteFile(empty, []byte("name: nothing\n"), 0o644))
		_, err := analytics.LoadFunnelDefinition(empty)
		assert.Error(t, err)
	})

	t.Run("rejects missing file", func(t *testing.T) {
		_, err := analytics.LoadFunnelDefinition(filepath.Join(dir, "absent.yml"))
		assert.Error(t, err)
	})
}

func TestBuildFunnelNonIncreasingVisitors(t *testing.T) {
	// Random-ish traffic: visitor counts can never grow down-funnel because an
	// event counts only toward its first matching stage.
	var evs []events.Event
	sessions := []string{"s1", "s2", "s3", "s4", "s5"}
	for i, s := range sessions {
		evs = append(evs, funnelView(s, "https://example.com/landing"))
		if i%2 == 0 {
			evs = append(evs, funnelView(s, "https://example.com/pricing"))
		}
		if i%4 == 0 {
			evs = append(evs, funnelView(s, "https://example.com/signup"))
		}
	}

	got := analytics.BuildFunnel(evs, []string{"/landing", "/pricing", "/signup"})
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i].Visitors, got[i-1].Visitors)
	}
}
