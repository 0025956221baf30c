// Package analytics computes behavioral metrics, heuristic patterns, funnel
// and drop-off statistics from reconstructed sessions. Every result is a pure
// function of the event set in the query window; nothing is accumulated
// server-side between queries.
package analytics

import (
	"math"

	"sitepulse/internal/timeframe"
)

// QueryParams scopes an analytics computation to a time window and an
// optional site credential.
type QueryParams struct {
	TimeFrame  timeframe.TimeFrame
	Credential string
}

// round2 rounds to two decimal places, the precision all rate metrics report.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
