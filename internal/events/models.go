// Package events defines the raw interaction event model, the wire-level batch
// contract, and the append-only event store operations built on it.
package events

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of interaction or lifecycle signal an event carries.
type EventType string

const (
	EventTypePageView     EventType = "page_view"
	EventTypeClick        EventType = "click"
	EventTypeFormSubmit   EventType = "form_submit"
	EventTypeScroll       EventType = "scroll"
	EventTypeSessionStart EventType = "session_start"
	EventTypeSessionEnd   EventType = "session_end"
)

// KnownEventTypes lists every accepted event type.
var KnownEventTypes = []EventType{
	EventTypePageView,
	EventTypeClick,
	EventTypeFormSubmit,
	EventTypeScroll,
	EventTypeSessionStart,
	EventTypeSessionEnd,
}

// InteractionTypeCount is the reference cardinality used by the engagement score:
// the five interaction types a fully engaged visitor can produce. Session lifecycle
// markers are excluded.
const InteractionTypeCount = 5

// IsKnownEventType reports whether t is one of the accepted event types.
func IsKnownEventType(t EventType) bool {
	for _, known := range KnownEventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Event is a single recorded interaction, persisted append-only. Rows are never
// updated or deleted; every analytics view is derived from them at query time.
type Event struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID        string    `gorm:"uniqueIndex;size:26" json:"event_id"`
	EventType      EventType `gorm:"index;not null" json:"event_type"`
	SessionID      string    `gorm:"index;not null" json:"session_id"`
	SiteCredential string    `gorm:"index:idx_credential_timestamp;not null" json:"site_credential"`
	PageURL        string    `gorm:"not null" json:"page_url"`
	ElementID      string    `json:"element_id,omitempty"`
	Timestamp      time.Time `gorm:"index:idx_credential_timestamp;not null" json:"timestamp"`
	Metadata       string    `gorm:"type:text" json:"metadata,omitempty"`

	// Enrichment columns, derived from the ingestion request rather than the payload.
	UserAgent string `json:"user_agent,omitempty"`
	Referrer  string `json:"referrer,omitempty"`
	IPAddress string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
}

// MetadataMap decodes the stored metadata bag. A missing or malformed bag
// yields an empty map, never an error; metadata is advisory.
func (e *Event) MetadataMap() map[string]interface{} {
	if e.Metadata == "" {
		return map[string]interface{}{}
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(e.Metadata), &m); err != nil {
		return map[string]interface{}{}
	}
	return m
}

// MetadataString returns the string value stored under key in the metadata bag,
// or "" when absent or not a string.
func (e *Event) MetadataString(key string) string {
	if v, ok := e.MetadataMap()[key].(string); ok {
		return v
	}
	return ""
}

// MetadataNumber returns the numeric value stored under key in the metadata bag.
// JSON numbers decode as float64; anything else reports ok=false.
func (e *Event) MetadataNumber(key string) (float64, bool) {
	v, ok := e.MetadataMap()[key].(float64)
	return v, ok
}

// metadataFromMap encodes a metadata bag for storage. Nil and empty maps
// collapse to the empty string.
func metadataFromMap(metadata map[string]interface{}) string {
	if len(metadata) == 0 {
		return ""
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return ""
	}
	return string(data)
}

// SetMetadata replaces the event's metadata bag.
func (e *Event) SetMetadata(metadata map[string]interface{}) {
	e.Metadata = metadataFromMap(metadata)
}
