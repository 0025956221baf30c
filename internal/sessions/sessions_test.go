package sessions_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitepulse/internal/events"
	"sitepulse/internal/sessions"
)

var base = time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

func ev(sessionID string, eventType events.EventType, offset time.Duration) events.Event {
	return events.Event{
		EventID:        events.NewEventID(),
		EventType:      eventType,
		SessionID:      sessionID,
		SiteCredential: "sp_test",
		PageURL:        "https://example.com/",
		Timestamp:      base.Add(offset),
	}
}

func TestReconstructFromUnorderedEvents(t *testing.T) {
	// Deliberately shuffled input; the event log carries no ordering guarantee.
	evs := []events.Event{
		ev("sess_a", events.EventTypeClick, 3*time.Minute),
		ev("sess_b", events.EventTypePageView, 10*time.Minute),
		ev("sess_a", events.EventTypePageView, 0),
		ev("sess_a", events.EventTypePageView, 2*time.Minute),
		ev("sess_b", events.EventTypePageView, 12*time.Minute),
	}

	got := sessions.Reconstruct(evs)
	require.Len(t, got, 2)

	a := got[0]
	assert.Equal(t, "sess_a", a.SessionID)
	assert.Equal(t, base, a.Start)
	assert.Equal(t, base.Add(3*time.Minute), a.End)
	assert.Equal(t, 180.0, a.Duration)
	assert.Equal(t, 2, a.PageViewCount)
	assert.False(t, a.Bounced())

	b := got[1]
	assert.Equal(t, "sess_b", b.SessionID)
	assert.Equal(t, 120.0, b.Duration)
	assert.Equal(t, 2, b.PageViewCount)
}

func TestReconstructSingleEventSession(t *testing.T) {
	got := sessions.Reconstruct([]events.Event{ev("sess_solo", events.EventTypePageView, 0)})
	require.Len(t, got, 1)

	s := got[0]
	assert.Equal(t, 0.0, s.Duration)
	assert.Equal(t, 1, s.PageViewCount)
	assert.True(t, s.Bounced())
}

func TestReconstructDeviceType(t *testing.T) {
	withDevice := ev("sess_dev", events.EventTypePageView, time.Minute)
	withDevice.SetMetadata(map[string]interface{}{"device_type": "mobile"})

	got := sessions.Reconstruct([]events.Event{
		withDevice,
		ev("sess_dev", events.EventTypeSessionStart, 0),
		ev("sess_bare", events.EventTypePageView, 0),
	})
	require.Len(t, got, 2)

	byID := map[string]sessions.Session{}
	for _, s := range got {
		byID[s.SessionID] = s
	}
	assert.Equal(t, "mobile", byID["sess_dev"].DeviceType)
	assert.Equal(t, sessions.UnknownDeviceType, byID["sess_bare"].DeviceType)
}

func TestReconstructZeroPageViewSession(t *testing.T) {
	got := sessions.Reconstruct([]events.Event{
		ev("sess_clicks", events.EventTypeClick, 0),
		ev("sess_clicks", events.EventTypeClick, time.Minute),
	})
	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].PageViewCount)
	assert.False(t, got[0].Bounced(), "a session without page views is not a bounce")
}

func TestReconstructIsDeterministic(t *testing.T) {
	evs := []events.Event{
		ev("sess_2", events.EventTypePageView, 0),
		ev("sess_1", events.EventTypePageView, 0),
		ev("sess_3", events.EventTypePageView, time.Minute),
	}

	first := sessions.Reconstruct(evs)

	// Reversed input must yield the identical output.
	reversed := make([]events.Event, len(evs))
	for i, e := range evs {
		reversed[len(evs)-1-i] = e
	}
	second := sessions.Reconstruct(reversed)

	assert.Equal(t, first, second)
	assert.Equal(t, "sess_1", first[0].SessionID, "equal starts break ties by session id")
	assert.Equal(t, "sess_2", first[1].SessionID)
}

func TestPartitionSortsWithinSession(t *testing.T) {
	evs := []events.Event{
		ev("sess_p", events.EventTypeClick, 2*time.Minute),
		ev("sess_p", events.EventTypePageView, 0),
		ev("sess_p", events.EventTypeScroll, time.Minute),
	}

	parts := sessions.Partition(evs)
	require.Len(t, parts, 1)

	group := parts["sess_p"]
	require.Len(t, group, 3)
	assert.Equal(t, events.EventTypePageView, group[0].EventType)
	assert.Equal(t, events.EventTypeScroll, group[1].EventType)
	assert.Equal(t, events.EventTypeClick, group[2].EventType)
}
