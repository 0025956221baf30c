package agent_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitepulse/internal/agent"
	"sitepulse/internal/events"
	"sitepulse/internal/testsupport"
)

// fakeTransport records delivered batches and can refuse the first n
// deliveries.
type fakeTransport struct {
	mu        sync.Mutex
	failures  int
	batches   [][]events.Event
	delivered chan int
}

func newFakeTransport(failures int) *fakeTransport {
	return &fakeTransport{
		failures:  failures,
		delivered: make(chan int, 16),
	}
}

func (f *fakeTransport) Deliver(ctx context.Context, batch []events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failures > 0 {
		f.failures--
		return errors.New("delivery refused")
	}

	copied := append([]events.Event(nil), batch...)
	f.batches = append(f.batches, copied)
	select {
	case f.delivered <- len(batch):
	default:
	}
	return nil
}

func (f *fakeTransport) allEvents() []events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []events.Event
	for _, batch := range f.batches {
		out = append(out, batch...)
	}
	return out
}

func (f *fakeTransport) batchSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()

	sizes := make([]int, 0, len(f.batches))
	for _, batch := range f.batches {
		sizes = append(sizes, len(batch))
	}
	return sizes
}

func waitForDelivery(t *testing.T, transport *fakeTransport) int {
	t.Helper()
	select {
	case n := <-transport.delivered:
		return n
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a delivery")
		return 0
	}
}

func newTestAgent(t *testing.T, transport agent.Transport, cfg agent.Config) *agent.Agent {
	t.Helper()
	if cfg.Credential == "" {
		cfg.Credential = "sp_agent"
	}
	a, err := agent.New(cfg, transport, testsupport.GetLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		a.Close(ctx)
	})
	return a
}

func TestAgentRequiresCredential(t *testing.T) {
	_, err := agent.New(agent.Config{}, newFakeTransport(0), testsupport.GetLogger())
	assert.ErrorIs(t, err, agent.ErrMissingCredential)
}

func TestAgentFlushesAtBatchSizeThenIdle(t *testing.T) {
	transport := newFakeTransport(0)
	a := newTestAgent(t, transport, agent.Config{
		BatchSize:     10,
		FlushInterval: 100 * time.Millisecond,
	})

	// Twelve captures in quick succession; the first also mints a
	// session_start, so thirteen events total.
	for i := 0; i < 12; i++ {
		a.TrackPageView(fmt.Sprintf("https://example.com/p%d", i), "")
	}

	assert.Equal(t, 10, waitForDelivery(t, transport), "batch-size trigger delivers exactly the batch size")
	assert.Equal(t, 3, waitForDelivery(t, transport), "idle trigger delivers the remainder")

	all := transport.allEvents()
	require.Len(t, all, 13)
	assert.Equal(t, events.EventTypeSessionStart, all[0].EventType)
	for i, ev := range all[1:] {
		assert.Equal(t, events.EventTypePageView, ev.EventType)
		assert.Equal(t, fmt.Sprintf("https://example.com/p%d", i), ev.PageURL)
		assert.Equal(t, all[0].SessionID, ev.SessionID, "one burst, one session")
	}
}

func TestAgentRetriesFailedBatchAtFront(t *testing.T) {
	transport := newFakeTransport(1)
	a := newTestAgent(t, transport, agent.Config{
		BatchSize:     50,
		FlushInterval: 60 * time.Millisecond,
	})

	for i := 0; i < 3; i++ {
		a.TrackPageView(fmt.Sprintf("https://example.com/p%d", i), "")
	}
	time.Sleep(20 * time.Millisecond)
	a.Flush() // first delivery attempt is refused

	time.Sleep(20 * time.Millisecond)
	a.TrackPageView("https://example.com/p3", "")
	a.TrackPageView("https://example.com/p4", "")

	// The retry fires on the idle timer and must carry the failed events
	// first, then the ones captured while the batch was out.
	waitForDelivery(t, transport)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Close(ctx))

	all := transport.allEvents()
	require.Len(t, all, 6)
	assert.Equal(t, events.EventTypeSessionStart, all[0].EventType)
	for i, ev := range all[1:] {
		assert.Equal(t, fmt.Sprintf("https://example.com/p%d", i), ev.PageURL, "delivery order preserved across retry")
	}
}

func TestAgentCloseFlushesPending(t *testing.T) {
	transport := newFakeTransport(0)
	a := newTestAgent(t, transport, agent.Config{
		BatchSize:     100,
		FlushInterval: time.Hour,
	})

	a.TrackPageView("https://example.com/", "Home")
	a.TrackClick("https://example.com/", agent.Element{Tag: "button", ID: "cta"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Close(ctx))

	all := transport.allEvents()
	require.Len(t, all, 3)
	assert.Equal(t, events.EventTypeSessionStart, all[0].EventType)
	assert.Equal(t, events.EventTypePageView, all[1].EventType)
	assert.Equal(t, "Home", all[1].MetadataString("page_title"))
	assert.Equal(t, events.EventTypeClick, all[2].EventType)
	assert.Equal(t, "cta", all[2].ElementID)
	assert.Equal(t, "button", all[2].MetadataString("tag_name"))
}

func TestAgentScrollThrottle(t *testing.T) {
	transport := newFakeTransport(0)
	a := newTestAgent(t, transport, agent.Config{
		BatchSize:      100,
		FlushInterval:  time.Hour,
		ScrollThrottle: 80 * time.Millisecond,
	})

	a.TrackScroll("https://example.com/", 500, 2000, 1000) // recorded
	a.TrackScroll("https://example.com/", 600, 2000, 1000) // throttled
	time.Sleep(100 * time.Millisecond)
	a.TrackScroll("https://example.com/", 900, 2000, 1000) // recorded

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Close(ctx))

	scrolls := 0
	for _, ev := range transport.allEvents() {
		if ev.EventType == events.EventTypeScroll {
			scrolls++
		}
	}
	assert.Equal(t, 2, scrolls, "bursts collapse to one event per throttle window")
}

func TestAgentEndSession(t *testing.T) {
	transport := newFakeTransport(0)
	a := newTestAgent(t, transport, agent.Config{
		BatchSize:     100,
		FlushInterval: time.Hour,
	})

	a.TrackPageView("https://example.com/", "")
	a.EndSession("https://example.com/")
	a.TrackPageView("https://example.com/again", "")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Close(ctx))

	all := transport.allEvents()
	require.Len(t, all, 5)
	assert.Equal(t, events.EventTypeSessionEnd, all[2].EventType)
	assert.Equal(t, all[0].SessionID, all[2].SessionID)
	assert.Equal(t, events.EventTypeSessionStart, all[3].EventType)
	assert.NotEqual(t, all[0].SessionID, all[3].SessionID, "ending a session forces a fresh id")
}

func TestAgentEndSessionWithoutActivity(t *testing.T) {
	transport := newFakeTransport(0)
	a := newTestAgent(t, transport, agent.Config{
		BatchSize:     100,
		FlushInterval: time.Hour,
	})

	a.EndSession("https://example.com/")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Close(ctx))

	assert.Empty(t, transport.allEvents(), "no session to end, nothing emitted")
}

func TestAgentDropsWhenQueueSaturated(t *testing.T) {
	transport := newFakeTransport(0)
	a := newTestAgent(t, transport, agent.Config{
		BatchSize:     1000,
		FlushInterval: time.Hour,
		QueueCapacity: 4,
	})

	for i := 0; i < 200; i++ {
		a.TrackPageView(fmt.Sprintf("https://example.com/p%d", i), "")
	}

	// The loop drains concurrently, so we can only assert the invariant:
	// nothing blocks and anything not delivered is counted.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Close(ctx))

	delivered := len(transport.allEvents())
	assert.Equal(t, int64(201-delivered), a.Dropped())
}

func TestScrollPercentage(t *testing.T) {
	assert.Equal(t, 50.0, agent.ScrollPercentage(500, 2000, 1000))
	assert.Equal(t, 100.0, agent.ScrollPercentage(1000, 2000, 1000))
	assert.Equal(t, 0.0, agent.ScrollPercentage(0, 2000, 1000))
	assert.Equal(t, 100.0, agent.ScrollPercentage(0, 800, 1000), "short pages count as fully scrolled")
	assert.Equal(t, 100.0, agent.ScrollPercentage(5000, 2000, 1000), "clamped above")
	assert.Equal(t, 0.0, agent.ScrollPercentage(-10, 2000, 1000), "clamped below")
}

func TestBatchSizesNeverExceedConfig(t *testing.T) {
	transport := newFakeTransport(0)
	a := newTestAgent(t, transport, agent.Config{
		BatchSize:     5,
		FlushInterval: 50 * time.Millisecond,
	})

	for i := 0; i < 23; i++ {
		a.TrackPageView(fmt.Sprintf("https://example.com/p%d", i), "")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Close(ctx))

	total := 0
	for _, size := range transport.batchSizes() {
		assert.LessOrEqual(t, size, 5, "deliveries never exceed the configured batch size")
		total += size
	}
	assert.Equal(t, 24, total, "no events lost across batch splits")
}
