// Package agent is the in-process tracking client: it captures behavioral
// events, stamps them with session identity, and delivers them to the
// ingestion endpoint in ordered batches with retry on failure.
package agent

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"sitepulse/internal/events"
)

const (
	DefaultBatchSize       = 10
	DefaultFlushInterval   = 5 * time.Second
	DefaultSessionTimeout  = 30 * time.Minute
	DefaultScrollThrottle  = 1 * time.Second
	DefaultQueueCapacity   = 256
	DefaultDeliveryTimeout = 10 * time.Second

	// clickTextLimit caps captured element text so payloads stay small.
	clickTextLimit = 50
)

// Config controls agent behavior. Credential is the only required field;
// everything else falls back to a sensible default.
type Config struct {
	Credential      string
	Endpoint        string
	BatchSize       int
	FlushInterval   time.Duration
	SessionTimeout  time.Duration
	ScrollThrottle  time.Duration
	QueueCapacity   int
	DeliveryTimeout time.Duration
	Debug           bool
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = DefaultSessionTimeout
	}
	if c.ScrollThrottle <= 0 {
		c.ScrollThrottle = DefaultScrollThrottle
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
}

// Element describes the DOM-ish element a click landed on. ElementID
// resolution prefers ID, then Classes, then Tag.
type Element struct {
	Tag     string
	ID      string
	Classes string
	Text    string
}

func (e Element) identifier() string {
	switch {
	case e.ID != "":
		return e.ID
	case e.Classes != "":
		return e.Classes
	default:
		return e.Tag
	}
}

// flushOutcome travels from a delivery goroutine back to the event loop.
type flushOutcome struct {
	batch []events.Event
	err   error
}

// Agent captures events and delivers them in batches. All queue state is
// owned by a single event-loop goroutine; capture methods never block on
// delivery.
type Agent struct {
	cfg       Config
	transport Transport
	logger    *slog.Logger
	sessions  SessionStore

	incoming  chan events.Event
	flushReq  chan struct{}
	closeReq  chan context.Context
	closed    chan struct{}
	closeOnce sync.Once

	lastScrollNano atomic.Int64
	dropped        atomic.Int64

	now func() time.Time
}

// New validates the configuration and starts the agent's event loop. A nil
// transport gets an HTTPTransport against cfg.Endpoint.
func New(cfg Config, transport Transport, logger *slog.Logger) (*Agent, error) {
	if cfg.Credential == "" {
		return nil, ErrMissingCredential
	}
	cfg.applyDefaults()
	if transport == nil {
		transport = NewHTTPTransport(cfg.Endpoint, cfg.DeliveryTimeout)
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &Agent{
		cfg:       cfg,
		transport: transport,
		logger:    logger,
		sessions:  NewMemorySessionStore(cfg.SessionTimeout),
		incoming:  make(chan events.Event, cfg.QueueCapacity),
		flushReq:  make(chan struct{}, 1),
		closeReq:  make(chan context.Context),
		closed:    make(chan struct{}),
		now:       time.Now,
	}
	go a.run()
	return a, nil
}

// NewFromScript resolves embed options from a loader script URL and starts an
// agent with default batching behavior.
func NewFromScript(explicit Options, scriptURL string, logger *slog.Logger) (*Agent, error) {
	opts, err := ResolveOptions(explicit, scriptURL)
	if err != nil {
		return nil, err
	}
	return New(Config{
		Credential: opts.Credential,
		Endpoint:   opts.Endpoint,
		Debug:      opts.Debug,
	}, nil, logger)
}

// TrackPageView records a page view.
func (a *Agent) TrackPageView(pageURL, title string) {
	meta := map[string]interface{}{}
	if title != "" {
		meta["page_title"] = title
	}
	a.capture(events.EventTypePageView, pageURL, "", meta)
}

// TrackClick records a click on the given element.
func (a *Agent) TrackClick(pageURL string, el Element) {
	text := el.Text
	if len(text) > clickTextLimit {
		text = text[:clickTextLimit]
	}
	meta := map[string]interface{}{
		"tag_name": strings.ToLower(el.Tag),
	}
	if el.Classes != "" {
		meta["classes"] = el.Classes
	}
	if text != "" {
		meta["text"] = strings.TrimSpace(text)
	}
	a.capture(events.EventTypeClick, pageURL, el.identifier(), meta)
}

// TrackFormSubmit records a form submission.
func (a *Agent) TrackFormSubmit(pageURL, formID string) {
	meta := map[string]interface{}{}
	if formID != "" {
		meta["form_id"] = formID
	}
	a.capture(events.EventTypeFormSubmit, pageURL, formID, meta)
}

// TrackScroll records scroll depth, throttled so that bursts collapse to at
// most one event per throttle window.
func (a *Agent) TrackScroll(pageURL string, scrollY, scrollHeight, viewportHeight int) {
	now := a.now().UnixNano()
	last := a.lastScrollNano.Load()
	if last != 0 && now-last < int64(a.cfg.ScrollThrottle) {
		return
	}
	if !a.lastScrollNano.CompareAndSwap(last, now) {
		return
	}
	a.capture(events.EventTypeScroll, pageURL, "", map[string]interface{}{
		"scroll_percentage": ScrollPercentage(scrollY, scrollHeight, viewportHeight),
		"scroll_y":          scrollY,
	})
}

// EndSession records a session_end event for the active session, requests a
// flush, and resets session identity so the next event starts a new session.
// It is a no-op when no session is active.
func (a *Agent) EndSession(pageURL string) {
	now := a.now()
	id, started := a.sessions.Acquire(now)
	if started {
		// Acquire minted a session just for this call; there was nothing
		// to end. Drop it again without emitting anything.
		a.sessions.End()
		return
	}
	a.send(a.buildEvent(events.EventTypeSessionEnd, pageURL, "", nil, id, now))
	a.sessions.End()
	a.Flush()
}

// Flush asks the event loop to deliver whatever is queued without waiting for
// the batch size or idle timer. It never blocks.
func (a *Agent) Flush() {
	select {
	case a.flushReq <- struct{}{}:
	default:
	}
}

// Dropped reports how many events were discarded because the intake queue was
// full.
func (a *Agent) Dropped() int64 {
	return a.dropped.Load()
}

// Close performs a final best-effort flush of all queued events and stops the
// event loop. The context bounds how long the final delivery may take.
func (a *Agent) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.closeReq <- ctx
	})
	select {
	case <-a.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ScrollPercentage converts raw scroll geometry into a 0-100 depth value. A
// page shorter than the viewport counts as fully scrolled.
func ScrollPercentage(scrollY, scrollHeight, viewportHeight int) float64 {
	denom := scrollHeight - viewportHeight
	if denom <= 0 {
		return 100
	}
	pct := float64(scrollY) / float64(denom) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// capture stamps an event with session identity and hands it to the loop,
// emitting a synthetic session_start first when a new session begins.
func (a *Agent) capture(eventType events.EventType, pageURL, elementID string, meta map[string]interface{}) {
	now := a.now()
	id, started := a.sessions.Acquire(now)
	if started {
		a.send(a.buildEvent(events.EventTypeSessionStart, pageURL, "", nil, id, now))
	}
	a.send(a.buildEvent(eventType, pageURL, elementID, meta, id, now))
}

func (a *Agent) buildEvent(eventType events.EventType, pageURL, elementID string, meta map[string]interface{}, sessionID string, now time.Time) events.Event {
	ev := events.Event{
		EventID:        events.NewEventID(),
		EventType:      eventType,
		SessionID:      sessionID,
		SiteCredential: a.cfg.Credential,
		PageURL:        pageURL,
		ElementID:      elementID,
		Timestamp:      now.UTC(),
	}
	if len(meta) > 0 {
		ev.SetMetadata(meta)
	}
	return ev
}

// send enqueues without blocking; when the intake queue is saturated the
// event is dropped and counted.
func (a *Agent) send(ev events.Event) {
	select {
	case a.incoming <- ev:
	default:
		a.dropped.Add(1)
		if a.cfg.Debug {
			a.logger.Debug("event dropped, intake queue full", "event_type", ev.EventType)
		}
	}
}

// run owns the queue. Events accumulate until the batch size is reached or
// the idle timer elapses since the first unflushed event; only one delivery
// is in flight at a time, and a failed batch is requeued ahead of anything
// that arrived while it was out.
func (a *Agent) run() {
	var (
		queue     []events.Event
		inFlight  bool
		idleTimer *time.Timer
		idleC     <-chan time.Time
		outcomes  = make(chan flushOutcome, 1)
	)

	startIdle := func() {
		if idleTimer == nil {
			idleTimer = time.NewTimer(a.cfg.FlushInterval)
			idleC = idleTimer.C
		}
	}
	stopIdle := func() {
		if idleTimer != nil {
			idleTimer.Stop()
			idleTimer = nil
			idleC = nil
		}
	}
	dispatch := func() {
		if inFlight || len(queue) == 0 {
			return
		}
		// Never deliver more than one batch worth at a time; a queue
		// grown past the threshold (requeued failures, bursts) drains
		// in batch-size chunks.
		batch := queue
		if len(batch) > a.cfg.BatchSize {
			batch = queue[:a.cfg.BatchSize:a.cfg.BatchSize]
			queue = queue[a.cfg.BatchSize:]
		} else {
			queue = nil
		}
		inFlight = true
		stopIdle()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), a.cfg.DeliveryTimeout)
			defer cancel()
			outcomes <- flushOutcome{batch: batch, err: a.transport.Deliver(ctx, batch)}
		}()
	}
	settle := func() {
		if len(queue) == 0 {
			stopIdle()
			return
		}
		if len(queue) >= a.cfg.BatchSize {
			dispatch()
			return
		}
		startIdle()
	}

	for {
		select {
		case ev := <-a.incoming:
			queue = append(queue, ev)
			settle()

		case <-idleC:
			idleTimer = nil
			idleC = nil
			dispatch()

		case <-a.flushReq:
			dispatch()

		case out := <-outcomes:
			inFlight = false
			if out.err != nil {
				a.logger.Warn("batch delivery failed, requeueing",
					"count", len(out.batch), "error", out.err)
				// Failed events go back to the front so delivery order
				// is preserved across retries. The retry waits for the
				// next trigger rather than redispatching immediately.
				queue = append(out.batch, queue...)
				startIdle()
			} else {
				if a.cfg.Debug {
					a.logger.Debug("batch delivered", "count", len(out.batch))
				}
				settle()
			}

		case ctx := <-a.closeReq:
			a.shutdown(ctx, queue, inFlight, outcomes)
			close(a.closed)
			return
		}
	}
}

// shutdown drains the intake queue, waits for any in-flight delivery, and
// makes one final best-effort delivery of everything left.
func (a *Agent) shutdown(ctx context.Context, queue []events.Event, inFlight bool, outcomes chan flushOutcome) {
	for {
		select {
		case ev := <-a.incoming:
			queue = append(queue, ev)
			continue
		default:
		}
		break
	}

	if inFlight {
		select {
		case out := <-outcomes:
			if out.err != nil {
				queue = append(out.batch, queue...)
			}
		case <-ctx.Done():
			a.logger.Warn("shutdown interrupted with delivery in flight", "queued", len(queue))
			return
		}
	}

	// Final best-effort flush, in batch-size chunks like regular delivery.
	for len(queue) > 0 {
		batch := queue
		if len(batch) > a.cfg.BatchSize {
			batch = queue[:a.cfg.BatchSize]
		}
		if err := a.transport.Deliver(ctx, batch); err != nil {
			a.logger.Warn("final flush failed, events lost", "count", len(queue), "error", err)
			return
		}
		queue = queue[len(batch):]
	}
}
