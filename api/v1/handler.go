// Package v1 implements the public HTTP API: batch event ingestion and the
// read-side analytics endpoints.
package v1

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"sitepulse/internal/config"
	"sitepulse/internal/events"
	"sitepulse/internal/sites"
)

const (
	errInvalidRequest = "Invalid request"
)

// HealthHandler reports process liveness.
func HealthHandler(ctx *cartridge.Context) error {
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"status": "ok"})
}

// CreateEventsBatchHandler ingests a batch of tracking events. The batch is
// atomic: it is validated as a unit, enriched from request context, and
// either every event is persisted or none are.
func CreateEventsBatchHandler(ctx *cartridge.Context) error {
	cfg := config.GetConfig()

	batch, err := events.ParseBatch(ctx.Body(), cfg.MaxBatchEvents)
	if err != nil {
		var validationErr *events.ValidationError
		if errors.As(err, &validationErr) {
			ctx.Logger.Debug("Rejected invalid batch", slog.Int("violations", len(validationErr.Fields)))
			return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error":   errInvalidRequest,
				"code":    "VALIDATION_ERROR",
				"details": validationErr.Fields,
			})
		}
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": errInvalidRequest,
			"code":  "VALIDATION_ERROR",
		})
	}

	// Every credential in the batch must belong to a registered site.
	db := ctx.DBManager.GetConnection()
	for _, credential := range events.DistinctCredentials(batch) {
		if _, err := sites.GetSiteByCredential(db, credential); err != nil {
			var notFound *sites.SiteNotFoundError
			if errors.As(err, &notFound) {
				ctx.Logger.Debug("Rejected batch for unknown credential", slog.String("credential", credential))
				return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
					"error": "Site credential not registered",
					"code":  "UNKNOWN_CREDENTIAL",
				})
			}
			ctx.Logger.Error("Failed to resolve site credential", slog.Any("error", err))
			return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to ingest events",
				"code":  "INGEST_ERROR",
			})
		}
	}

	events.Enrich(batch, events.Enrichment{
		UserAgent: requestUserAgent(ctx.Ctx),
		Referrer:  ctx.Get("Referer"),
		IPAddress: getClientIP(ctx.Ctx),
	})

	if err := events.InsertBatch(ctx.DBManager, ctx.Logger, batch); err != nil {
		ctx.Logger.Error("Failed to persist batch", slog.Any("error", err))
		if strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "busy") {
			return ctx.Status(599).JSON(fiber.Map{})
		}
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to ingest events",
			"code":  "INGEST_ERROR",
		})
	}

	ctx.Logger.Info("Ingested events batch", slog.Int("count", len(batch)))
	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"success": true,
		"count":   len(batch),
	})
}
