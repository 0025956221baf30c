package events

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// MinCredentialLength is the minimum accepted length for a site credential.
const MinCredentialLength = 3

// FieldError describes a single schema violation inside a batch.
type FieldError struct {
	Index   int    `json:"index"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError rejects a whole batch with field-level detail. A batch is
// accepted or rejected as a unit; one bad event poisons all of them.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "invalid events batch"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("events[%d].%s: %s", f.Index, f.Field, f.Message))
	}
	return "invalid events batch: " + strings.Join(parts, "; ")
}

// Enrichment carries request-derived fields attached to every event in a batch.
// These are taken from the ingestion request itself, never trusted from the payload.
type Enrichment struct {
	UserAgent string
	Referrer  string
	IPAddress string
}

// wireBatch is the ingestion wire envelope.
type wireBatch struct {
	Events []json.RawMessage `json:"events"`
}

// ParseBatch decodes and validates an ingestion request body into storable
// events. Known top-level fields are extracted; any unknown fields, plus the
// contents of an optional nested "metadata" object, are preserved into the
// event's metadata bag. Returns a *ValidationError describing every violation
// when the batch is malformed.
func ParseBatch(body []byte, maxEvents int) ([]Event, error) {
	var batch wireBatch
	if err := json.Unmarshal(body, &batch); err != nil {
		return nil, &ValidationError{Fields: []FieldError{
			{Index: 0, Field: "events", Message: "body must be a JSON object with an events array"},
		}}
	}
	if batch.Events == nil {
		return nil, &ValidationError{Fields: []FieldError{
			{Index: 0, Field: "events", Message: "events array is required"},
		}}
	}
	if len(batch.Events) == 0 {
		return nil, &ValidationError{Fields: []FieldError{
			{Index: 0, Field: "events", Message: "events array must not be empty"},
		}}
	}
	if maxEvents > 0 && len(batch.Events) > maxEvents {
		return nil, &ValidationError{Fields: []FieldError{
			{Index: 0, Field: "events", Message: fmt.Sprintf("batch exceeds maximum of %d events", maxEvents)},
		}}
	}

	parsed := make([]Event, 0, len(batch.Events))
	var fieldErrs []FieldError

	for i, raw := range batch.Events {
		ev, errs := parseWireEvent(raw, i)
		if len(errs) > 0 {
			fieldErrs = append(fieldErrs, errs...)
			continue
		}
		parsed = append(parsed, ev)
	}

	if len(fieldErrs) > 0 {
		return nil, &ValidationError{Fields: fieldErrs}
	}
	return parsed, nil
}

// parseWireEvent extracts the fixed required fields from one wire event and
// folds everything else into the metadata bag.
func parseWireEvent(raw json.RawMessage, index int) (Event, []FieldError) {
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Event{}, []FieldError{{Index: index, Field: "event", Message: "event must be a JSON object"}}
	}

	var errs []FieldError
	var ev Event

	eventType := stringField(fields, "event_type")
	if eventType == "" {
		errs = append(errs, FieldError{Index: index, Field: "event_type", Message: "event_type is required"})
	} else if !IsKnownEventType(EventType(eventType)) {
		errs = append(errs, FieldError{Index: index, Field: "event_type", Message: fmt.Sprintf("unknown event type %q", eventType)})
	}
	ev.EventType = EventType(eventType)

	ev.SessionID = stringField(fields, "session_id")
	if ev.SessionID == "" {
		errs = append(errs, FieldError{Index: index, Field: "session_id", Message: "session_id is required"})
	}

	ev.PageURL = stringField(fields, "page_url")
	if err := validatePageURL(ev.PageURL); err != nil {
		errs = append(errs, FieldError{Index: index, Field: "page_url", Message: err.Error()})
	}

	if ts := stringField(fields, "timestamp"); ts == "" {
		errs = append(errs, FieldError{Index: index, Field: "timestamp", Message: "timestamp is required"})
	} else if parsed, err := time.Parse(time.RFC3339, ts); err != nil {
		errs = append(errs, FieldError{Index: index, Field: "timestamp", Message: "timestamp must be ISO-8601"})
	} else {
		ev.Timestamp = parsed.UTC()
	}

	ev.SiteCredential = stringField(fields, "site_credential")
	if len(ev.SiteCredential) < MinCredentialLength {
		errs = append(errs, FieldError{
			Index: index, Field: "site_credential",
			Message: fmt.Sprintf("site_credential must be at least %d characters", MinCredentialLength),
		})
	}

	ev.ElementID = stringField(fields, "element_id")

	ev.EventID = stringField(fields, "event_id")
	if ev.EventID == "" {
		// At-least-once delivery with a client that predates event ids;
		// assign one server-side so the store keeps its dedup key.
		ev.EventID = NewEventID()
	}

	// Everything not claimed above stays opaque and rides along in the bag,
	// merged with an optional nested metadata object.
	metadata := map[string]interface{}{}
	if nested, ok := fields["metadata"].(map[string]interface{}); ok {
		for k, v := range nested {
			metadata[k] = v
		}
	}
	for k, v := range fields {
		switch k {
		case "event_type", "session_id", "page_url", "timestamp", "site_credential", "element_id", "event_id", "metadata":
		default:
			metadata[k] = v
		}
	}
	ev.SetMetadata(metadata)

	return ev, errs
}

// NewEventID returns a fresh lexicographically sortable event id.
func NewEventID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), entropy).String()
}

// validatePageURL requires an absolute URL with a hostname.
func validatePageURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("page_url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("page_url is not a valid URL")
	}
	if parsed.Hostname() == "" {
		return fmt.Errorf("page_url is missing a hostname")
	}
	return nil
}

// Enrich attaches request-derived fields to every event in the batch.
func Enrich(evs []Event, enrichment Enrichment) {
	for i := range evs {
		evs[i].UserAgent = enrichment.UserAgent
		evs[i].Referrer = enrichment.Referrer
		evs[i].IPAddress = enrichment.IPAddress
	}
}

// DistinctCredentials returns the set of site credentials present in the batch,
// in first-seen order.
func DistinctCredentials(evs []Event) []string {
	seen := map[string]bool{}
	var out []string
	for _, ev := range evs {
		if !seen[ev.SiteCredential] {
			seen[ev.SiteCredential] = true
			out = append(out, ev.SiteCredential)
		}
	}
	return out
}

func stringField(fields map[string]interface{}, key string) string {
	s, _ := fields[key].(string)
	return s
}
