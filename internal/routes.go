package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	v1 "sitepulse/api/v1"
	"sitepulse/internal/config"
)

// publicCORSConfig returns the standard CORS configuration for public endpoints.
// The ingestion endpoint is called cross-origin from every tracked site, so
// CORS stays permissive.
var publicCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "POST,GET,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Referrer, User-Agent, X-Forwarded-User-Agent",
}

// MountAppRoutes mounts all application routes using cartridge's route API
func MountAppRoutes(srv *cartridge.Server) {
	cfg := config.GetConfig()

	// Helper to conditionally apply rate limiting (only in production).
	// In development/test, rate limiting would interfere with testing.
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	// Rate limiter for public event ingestion (120 requests per minute per IP).
	// Batched delivery keeps request volume low, so this mostly bounds abuse.
	publicRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(120),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	// Looser limiter for read-side analytics queries.
	analyticsRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(60),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	// Public ingestion config: rate limiting + permissive CORS. CORS runs
	// first so rejected requests still carry CORS headers.
	publicAPIConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		WriteConcurrency: false,
		CustomMiddleware: []fiber.Handler{publicRateLimiter},
		CORSConfig:       publicCORSConfig,
	}

	analyticsAPIConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		CustomMiddleware: []fiber.Handler{analyticsRateLimiter},
		CORSConfig:       publicCORSConfig,
	}

	// === ROOT ROUTES ===
	srv.Get("/_health", v1.HealthHandler)
	srv.Head("/_health", v1.HealthHandler)

	// === PUBLIC INGESTION ===
	srv.Post("/x/api/v1/events", v1.CreateEventsBatchHandler, publicAPIConfig)
	srv.Options("/x/api/v1/events", func(ctx *cartridge.Context) error {
		return ctx.SendStatus(fiber.StatusNoContent)
	}, publicAPIConfig)

	// === ANALYTICS API ===
	srv.Get("/api/v1/analytics/metrics", v1.GetMetricsHandler, analyticsAPIConfig)
	srv.Get("/api/v1/analytics/patterns", v1.GetPatternsHandler, analyticsAPIConfig)
	srv.Post("/api/v1/analytics/funnel", v1.ComputeFunnelHandler, analyticsAPIConfig)
	srv.Get("/api/v1/analytics/dropoff", v1.GetDropOffHandler, analyticsAPIConfig)
	srv.Get("/api/v1/analytics/overview", v1.GetOverviewHandler, analyticsAPIConfig)

	// === TRACKING DATA API ===
	srv.Get("/api/v1/tracking/stats", v1.GetTrackingStatsHandler, analyticsAPIConfig)
	srv.Get("/api/v1/tracking/recent", v1.GetRecentEventsHandler, analyticsAPIConfig)
}
