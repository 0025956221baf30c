// Package sessions reconstructs derived session records from the flat event
// log. A session is nothing more than the set of events sharing a session id
// inside the query window; no explicit start or end marker is required.
package sessions

import (
	"sort"
	"time"

	"sitepulse/internal/events"
)

// UnknownDeviceType is used when no event in the session carries device metadata.
const UnknownDeviceType = "unknown"

// Session is a derived grouping of events sharing a session id. Sessions are
// rebuilt from raw events on every analytics query and never stored.
type Session struct {
	SessionID     string    `json:"session_id"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Duration      float64   `json:"duration_seconds"`
	PageViewCount int       `json:"page_view_count"`
	DeviceType    string    `json:"device_type"`
}

// Bounced reports whether the session saw exactly one page view.
func (s Session) Bounced() bool {
	return s.PageViewCount == 1
}

// Partition groups events by session id, each group sorted by timestamp then
// insertion order. The input order does not matter; the event log is unordered.
func Partition(evs []events.Event) map[string][]events.Event {
	partitions := make(map[string][]events.Event)
	for _, ev := range evs {
		partitions[ev.SessionID] = append(partitions[ev.SessionID], ev)
	}
	for id := range partitions {
		group := partitions[id]
		sort.SliceStable(group, func(i, j int) bool {
			if !group[i].Timestamp.Equal(group[j].Timestamp) {
				return group[i].Timestamp.Before(group[j].Timestamp)
			}
			return group[i].ID < group[j].ID
		})
		partitions[id] = group
	}
	return partitions
}

// Reconstruct builds session records from a window of raw events. Output is
// ordered by session start, then session id, so repeated queries over the same
// window yield identical results.
func Reconstruct(evs []events.Event) []Session {
	partitions := Partition(evs)

	out := make([]Session, 0, len(partitions))
	for id, group := range partitions {
		out = append(out, fromEvents(id, group))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

// fromEvents derives one session from its sorted event group.
func fromEvents(id string, group []events.Event) Session {
	s := Session{
		SessionID:  id,
		Start:      group[0].Timestamp,
		End:        group[len(group)-1].Timestamp,
		DeviceType: UnknownDeviceType,
	}
	s.Duration = s.End.Sub(s.Start).Seconds()

	for _, ev := range group {
		if ev.EventType == events.EventTypePageView {
			s.PageViewCount++
		}
	}

	// Device type rides in on the earliest event that reports it.
	for _, ev := range group {
		if device := ev.MetadataString("device_type"); device != "" {
			s.DeviceType = device
			break
		}
	}

	return s
}
