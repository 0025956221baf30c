package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"sitepulse/internal/events"
)

// Transport delivers one batch of events to the ingestion boundary. It carries
// no business logic; batching, ordering and retry live in the Agent.
type Transport interface {
	Deliver(ctx context.Context, batch []events.Event) error
}

// HTTPClient is the minimal http.Client surface the transport needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPTransport posts event batches as JSON to an ingestion endpoint.
type HTTPTransport struct {
	endpoint string
	httpc    HTTPClient
}

// NewHTTPTransport creates a transport targeting the given ingestion endpoint.
func NewHTTPTransport(endpoint string, timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		endpoint: endpoint,
		httpc:    &http.Client{Timeout: timeout},
	}
}

// Deliver posts the batch and treats any non-2xx response as a delivery
// failure, leaving retry to the caller.
func (t *HTTPTransport) Deliver(ctx context.Context, batch []events.Event) error {
	payload, err := json.Marshal(map[string]interface{}{
		"events": wireEvents(batch),
	})
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("delivery rejected: %d body=%s", resp.StatusCode, string(body))
	}
	return nil
}

// wireEvents renders events into the ingestion wire format: fixed fields at
// the top level with metadata keys spread alongside them.
func wireEvents(batch []events.Event) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(batch))
	for _, ev := range batch {
		wire := map[string]interface{}{}
		for k, v := range ev.MetadataMap() {
			wire[k] = v
		}
		wire["event_type"] = ev.EventType
		wire["session_id"] = ev.SessionID
		wire["page_url"] = ev.PageURL
		wire["timestamp"] = ev.Timestamp.UTC().Format(time.RFC3339)
		wire["site_credential"] = ev.SiteCredential
		wire["event_id"] = ev.EventID
		if ev.ElementID != "" {
			wire["element_id"] = ev.ElementID
		}
		out = append(out, wire)
	}
	return out
}
