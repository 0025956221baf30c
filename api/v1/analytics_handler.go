package v1

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"sitepulse/internal/analytics"
	"sitepulse/internal/events"
	"sitepulse/internal/pkg/async"
	"sitepulse/internal/timeframe"
)

const defaultRecentLimit = 50

// parseQueryWindow resolves the credential and time range shared by all
// read-side endpoints.
func parseQueryWindow(ctx *cartridge.Context) (analytics.QueryParams, error) {
	tf, err := timeframe.ParseQuery(ctx.Query("range"), ctx.Query("from"), ctx.Query("to"), time.Now())
	if err != nil {
		return analytics.QueryParams{}, err
	}
	return analytics.QueryParams{
		TimeFrame:  tf,
		Credential: ctx.Query("credential"),
	}, nil
}

func badWindow(ctx *cartridge.Context, err error) error {
	return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
		"error": fmt.Sprintf("Invalid time range: %v", err),
		"code":  "INVALID_RANGE",
	})
}

func queryFailed(ctx *cartridge.Context, err error) error {
	ctx.Logger.Error("Analytics query failed", slog.Any("error", err))
	return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
		"error": "Failed to compute analytics",
		"code":  "QUERY_ERROR",
	})
}

// logDegraded records an aggregation failure. Metric computation failures
// degrade to a neutral result instead of propagating: dashboards keep
// rendering with zeroed values while the error lands in the logs.
func logDegraded(ctx *cartridge.Context, err error) {
	ctx.Logger.Error("Analytics computation failed, serving degraded result", slog.Any("error", err))
}

// GetMetricsHandler returns the aggregate metrics snapshot for a window.
func GetMetricsHandler(ctx *cartridge.Context) error {
	params, err := parseQueryWindow(ctx)
	if err != nil {
		return badWindow(ctx, err)
	}

	snapshot, err := analytics.SnapshotForWindow(ctx.Ctx.UserContext(), ctx.DBManager.GetConnection(), ctx.Logger, params)
	if err != nil {
		logDegraded(ctx, err)
		snapshot = analytics.Snapshot{}
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"metrics":   snapshot,
		"timeframe": params.TimeFrame,
	})
}

// GetPatternsHandler returns per-session behavioral patterns for a window.
func GetPatternsHandler(ctx *cartridge.Context) error {
	params, err := parseQueryWindow(ctx)
	if err != nil {
		return badWindow(ctx, err)
	}

	patterns, err := analytics.PatternsForWindow(ctx.Ctx.UserContext(), ctx.DBManager.GetConnection(), ctx.Logger, params)
	if err != nil {
		logDegraded(ctx, err)
		patterns = []analytics.Pattern{}
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"patterns":  patterns,
		"timeframe": params.TimeFrame,
	})
}

// funnelRequest is the POST body for funnel computation: an ordered list of
// stage page URLs plus the usual window parameters.
type funnelRequest struct {
	Stages     []string `json:"stages"`
	Credential string   `json:"credential"`
	Range      string   `json:"range"`
	From       string   `json:"from"`
	To         string   `json:"to"`
}

// ComputeFunnelHandler computes stage-by-stage conversion for an ordered
// list of funnel stages.
func ComputeFunnelHandler(ctx *cartridge.Context) error {
	var req funnelRequest
	if err := ctx.Ctx.BodyParser(&req); err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request",
			"code":  "VALIDATION_ERROR",
		})
	}
	if len(req.Stages) == 0 {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "At least one funnel stage is required",
			"code":  "VALIDATION_ERROR",
		})
	}

	tf, err := timeframe.ParseQuery(req.Range, req.From, req.To, time.Now())
	if err != nil {
		return badWindow(ctx, err)
	}
	params := analytics.QueryParams{TimeFrame: tf, Credential: req.Credential}

	results, err := analytics.FunnelForWindow(ctx.Ctx.UserContext(), ctx.DBManager.GetConnection(), ctx.Logger, params, req.Stages)
	if err != nil {
		logDegraded(ctx, err)
		results = []analytics.StageResult{}
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"funnel":    results,
		"timeframe": params.TimeFrame,
	})
}

// GetDropOffHandler returns per-page drop-off analysis for a window.
func GetDropOffHandler(ctx *cartridge.Context) error {
	params, err := parseQueryWindow(ctx)
	if err != nil {
		return badWindow(ctx, err)
	}

	pages, err := analytics.DropOffForWindow(ctx.Ctx.UserContext(), ctx.DBManager.GetConnection(), ctx.Logger, params)
	if err != nil {
		logDegraded(ctx, err)
		pages = []analytics.PageDropOff{}
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"pages":     pages,
		"timeframe": params.TimeFrame,
	})
}

// GetOverviewHandler returns metrics, patterns and drop-off in one response,
// computed concurrently over a single event window query.
func GetOverviewHandler(ctx *cartridge.Context) error {
	params, err := parseQueryWindow(ctx)
	if err != nil {
		return badWindow(ctx, err)
	}

	evs, err := events.QueryWindow(ctx.Ctx.UserContext(), ctx.DBManager.GetConnection(), params.TimeFrame, params.Credential)
	if err != nil {
		logDegraded(ctx, err)
		return ctx.Status(http.StatusOK).JSON(fiber.Map{
			"metrics":   analytics.Snapshot{},
			"patterns":  []analytics.Pattern{},
			"dropoff":   []analytics.PageDropOff{},
			"timeframe": params.TimeFrame,
		})
	}

	tasks := []async.Task{
		{Name: "metrics", Execute: func() (interface{}, error) {
			return analytics.ComputeSnapshot(evs), nil
		}},
		{Name: "patterns", Execute: func() (interface{}, error) {
			return analytics.DetectPatterns(evs), nil
		}},
		{Name: "dropoff", Execute: func() (interface{}, error) {
			return analytics.ComputeDropOff(evs), nil
		}},
	}

	taskCtx, cancel := context.WithTimeout(ctx.Ctx.UserContext(), 30*time.Second)
	defer cancel()

	pool := async.NewPool(3)
	results := pool.Execute(taskCtx, tasks)

	// A missing or failed task degrades just its own section.
	sectionData := func(name string, neutral interface{}) interface{} {
		result, ok := results[name]
		if !ok {
			logDegraded(ctx, taskCtx.Err())
			return neutral
		}
		if result.Err != nil {
			logDegraded(ctx, result.Err)
			return neutral
		}
		return result.Data
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"metrics":   sectionData("metrics", analytics.Snapshot{}),
		"patterns":  sectionData("patterns", []analytics.Pattern{}),
		"dropoff":   sectionData("dropoff", []analytics.PageDropOff{}),
		"timeframe": params.TimeFrame,
	})
}

// GetTrackingStatsHandler returns event log totals for a credential scope.
func GetTrackingStatsHandler(ctx *cartridge.Context) error {
	stats, err := events.GetTrackingStats(ctx.Ctx.UserContext(), ctx.DBManager.GetConnection(), ctx.Query("credential"))
	if err != nil {
		return queryFailed(ctx, err)
	}
	return ctx.Status(http.StatusOK).JSON(stats)
}

// GetRecentEventsHandler returns the most recent stored events, newest first.
func GetRecentEventsHandler(ctx *cartridge.Context) error {
	limit := defaultRecentLimit
	if raw := ctx.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be a positive integer",
				"code":  "VALIDATION_ERROR",
			})
		}
		limit = parsed
	}

	evs, err := events.RecentEvents(ctx.Ctx.UserContext(), ctx.DBManager.GetConnection(), ctx.Query("credential"), limit)
	if err != nil {
		return queryFailed(ctx, err)
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"events": evs,
		"count":  len(evs),
	})
}
