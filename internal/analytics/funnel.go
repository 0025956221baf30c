package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"sitepulse/internal/events"
)

// StageResult is one step of a computed conversion funnel.
type StageResult struct {
	Stage          string  `json:"stage"`
	Visitors       int     `json:"visitors"`
	ConversionRate float64 `json:"conversion_rate"`
	DropOffRate    float64 `json:"drop_off_rate"`
}

// FunnelDefinition names an ordered list of funnel stages. Stages match events
// by substring containment against page_url or element_id.
type FunnelDefinition struct {
	Name   string   `yaml:"name" json:"name"`
	Stages []string `yaml:"stages" json:"stages"`
}

// LoadFunnelDefinition reads a funnel definition from a YAML file.
func LoadFunnelDefinition(path string) (*FunnelDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read funnel definition: %w", err)
	}
	var def FunnelDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse funnel definition: %w", err)
	}
	if len(def.Stages) == 0 {
		return nil, fmt.Errorf("funnel definition has no stages")
	}
	return &def, nil
}

// FunnelForWindow fetches the window's events and computes the funnel.
func FunnelForWindow(ctx context.Context, db *gorm.DB, logger *slog.Logger, params QueryParams, stages []string) ([]StageResult, error) {
	evs, err := events.QueryWindow(ctx, db, params.TimeFrame, params.Credential)
	if err != nil {
		logger.Error("Failed to fetch events for funnel", slog.Any("error", err))
		return []StageResult{}, err
	}
	return BuildFunnel(evs, stages), nil
}

// BuildFunnel computes per-stage distinct-visitor counts and the conversion
// and drop-off rates between consecutive stages. Stage 0 always converts at
// 100. An event matching several stages counts only toward the first match in
// declared stage order; that keeps ambiguous stage lists deterministic.
func BuildFunnel(evs []events.Event, stages []string) []StageResult {
	if len(stages) == 0 {
		return []StageResult{}
	}

	visitorsByStage := make([]map[string]bool, len(stages))
	for i := range visitorsByStage {
		visitorsByStage[i] = map[string]bool{}
	}

	for _, ev := range evs {
		for i, stage := range stages {
			if matchesStage(ev, stage) {
				visitorsByStage[i][ev.SessionID] = true
				break
			}
		}
	}

	out := make([]StageResult, 0, len(stages))
	previous := 0
	for i, stage := range stages {
		visitors := len(visitorsByStage[i])

		conversionRate := 100.0
		dropOffRate := 0.0
		if i > 0 && previous > 0 {
			conversionRate = round2(float64(visitors) / float64(previous) * 100)
			dropOffRate = round2(100 - conversionRate)
		}

		out = append(out, StageResult{
			Stage:          stage,
			Visitors:       visitors,
			ConversionRate: conversionRate,
			DropOffRate:    dropOffRate,
		})
		previous = visitors
	}
	return out
}

func matchesStage(ev events.Event, stage string) bool {
	if stage == "" {
		return false
	}
	if strings.Contains(ev.PageURL, stage) {
		return true
	}
	return ev.ElementID != "" && strings.Contains(ev.ElementID, stage)
}
