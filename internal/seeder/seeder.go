// Package seeder generates plausible demo traffic so dashboards and local
// development have something to show.
package seeder

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"

	"sitepulse/internal/agent"
	"sitepulse/internal/events"
	"sitepulse/internal/sites"
)

const (
	// DemoDomain is the site seeded when none is specified.
	DemoDomain = "demo.example.com"

	insertChunkSize = 200
)

var seedPaths = []string{"/", "/pricing", "/features", "/blog", "/signup"}

var seedElements = []struct {
	id  string
	tag string
}{
	{"cta-button", "button"},
	{"signup-button", "button"},
	{"pricing-link", "a"},
	{"nav-menu", "nav"},
}

// Seeder writes synthetic sessions into the event log.
type Seeder struct {
	dbManager  cartridge.DBManager
	logger     *slog.Logger
	eventCount int
	rng        *rand.Rand
}

func NewSeeder(dbManager cartridge.DBManager, logger *slog.Logger, eventCount int) *Seeder {
	if eventCount < 1 {
		eventCount = 1
	}
	return &Seeder{
		dbManager:  dbManager,
		logger:     logger,
		eventCount: eventCount,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run seeds the default demo domain.
func (s *Seeder) Run(ctx context.Context) error {
	return s.SeedDomain(ctx, DemoDomain)
}

// SeedDomain ensures a site exists for the domain and fills its event log
// with synthetic sessions up to the configured event count.
func (s *Seeder) SeedDomain(ctx context.Context, domain string) error {
	db := s.dbManager.GetConnection()

	site, err := s.ensureSite(db, domain)
	if err != nil {
		return fmt.Errorf("failed to prepare site for %s: %w", domain, err)
	}

	s.logger.Info("Seeding events",
		slog.String("domain", domain),
		slog.String("credential", site.Credential),
		slog.Int("count", s.eventCount))

	var batch []events.Event
	generated := 0
	for generated < s.eventCount {
		if err := ctx.Err(); err != nil {
			return err
		}

		session := s.generateSession(site.Credential, domain)
		batch = append(batch, session...)
		generated += len(session)

		if len(batch) >= insertChunkSize {
			if err := events.InsertBatch(s.dbManager, s.logger, batch); err != nil {
				return fmt.Errorf("failed to insert seed batch: %w", err)
			}
			batch = nil
		}
	}

	if len(batch) > 0 {
		if err := events.InsertBatch(s.dbManager, s.logger, batch); err != nil {
			return fmt.Errorf("failed to insert seed batch: %w", err)
		}
	}

	s.logger.Info("Seeding completed", slog.Int("events", generated))
	return nil
}

func (s *Seeder) ensureSite(db *gorm.DB, domain string) (*sites.Site, error) {
	if site, err := sites.GetSiteByDomain(db, domain); err == nil {
		return site, nil
	}

	credential, err := sites.NewCredential()
	if err != nil {
		return nil, err
	}
	site := &sites.Site{
		Name:       domain,
		Domain:     domain,
		Credential: credential,
		CreatedAt:  time.Now().UTC(),
	}
	if err := sites.CreateSite(db, site); err != nil {
		return nil, err
	}
	return site, nil
}

// generateSession produces one session's worth of events spread over the
// last 7 days: session_start, a handful of page views with optional clicks
// and scrolls, sometimes a form submit, then session_end.
func (s *Seeder) generateSession(credential, domain string) []events.Event {
	pages := make([]string, len(seedPaths))
	for i, path := range seedPaths {
		pages[i] = "https://" + domain + path
	}

	sessionID := agent.NewSessionID()
	start := time.Now().UTC().
		Add(-time.Duration(s.rng.Intn(7*24*60)) * time.Minute)

	cursor := start
	device := []string{"desktop", "mobile", "tablet"}[s.rng.Intn(3)]

	var out []events.Event
	emit := func(eventType events.EventType, pageURL, elementID string, meta map[string]interface{}) {
		ev := events.Event{
			EventID:        events.NewEventID(),
			EventType:      eventType,
			SessionID:      sessionID,
			SiteCredential: credential,
			PageURL:        pageURL,
			ElementID:      elementID,
			Timestamp:      cursor,
		}
		if len(meta) > 0 {
			ev.SetMetadata(meta)
		}
		out = append(out, ev)
		cursor = cursor.Add(time.Duration(5+s.rng.Intn(55)) * time.Second)
	}

	firstPage := pages[s.rng.Intn(len(pages))]
	emit(events.EventTypeSessionStart, firstPage, "", map[string]interface{}{"device_type": device})

	pageCount := 1 + s.rng.Intn(4)
	for i := 0; i < pageCount; i++ {
		page := pages[s.rng.Intn(len(pages))]
		if i == 0 {
			page = firstPage
		}
		emit(events.EventTypePageView, page, "", map[string]interface{}{"device_type": device})

		if s.rng.Intn(2) == 0 {
			el := seedElements[s.rng.Intn(len(seedElements))]
			emit(events.EventTypeClick, page, el.id, map[string]interface{}{"tag_name": el.tag})
		}
		if s.rng.Intn(3) == 0 {
			emit(events.EventTypeScroll, page, "", map[string]interface{}{
				"scroll_percentage": float64(s.rng.Intn(101)),
			})
		}
	}

	if s.rng.Intn(5) == 0 {
		emit(events.EventTypeFormSubmit, "https://"+domain+"/signup", "signup-form", map[string]interface{}{
			"form_id": "signup-form",
		})
	}

	emit(events.EventTypeSessionEnd, pages[s.rng.Intn(len(pages))], "", nil)
	return out
}
