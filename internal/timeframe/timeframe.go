// Package timeframe models the query windows analytics are computed over.
package timeframe

import (
	"fmt"
	"time"
)

// RangeLabel represents the available named time range options.
type RangeLabel string

const (
	RangeLabelToday      RangeLabel = "today"
	RangeLabelYesterday  RangeLabel = "yesterday"
	RangeLabelLast24h    RangeLabel = "last_24_hours"
	RangeLabelLast7Days  RangeLabel = "last_7_days"
	RangeLabelLast30Days RangeLabel = "last_30_days"
	RangeLabelAllTime    RangeLabel = "all_time"
	RangeLabelCustom     RangeLabel = "custom"
)

// DefaultRangeLabel is applied when a query names no range.
const DefaultRangeLabel = RangeLabelLast7Days

// allTimeStart bounds the open-ended all_time range. Nothing was tracked
// before the epoch.
var allTimeStart = time.Unix(0, 0).UTC()

// TimeFrame represents a period between two points in time.
type TimeFrame struct {
	From  time.Time
	To    time.Time
	Label RangeLabel
}

// New builds a custom time frame. From must not be after To.
func New(from, to time.Time) (TimeFrame, error) {
	if from.After(to) {
		return TimeFrame{}, fmt.Errorf("from must be before to")
	}
	return TimeFrame{From: from.UTC(), To: to.UTC(), Label: RangeLabelCustom}, nil
}

// FromRangeLabel resolves a named range against the given clock time.
func FromRangeLabel(label RangeLabel, now time.Time) (TimeFrame, error) {
	now = now.UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	switch label {
	case RangeLabelToday:
		return TimeFrame{From: startOfDay, To: now, Label: label}, nil
	case RangeLabelYesterday:
		return TimeFrame{
			From:  startOfDay.AddDate(0, 0, -1),
			To:    startOfDay.Add(-time.Second),
			Label: label,
		}, nil
	case RangeLabelLast24h:
		return TimeFrame{From: now.Add(-24 * time.Hour), To: now, Label: label}, nil
	case RangeLabelLast7Days:
		return TimeFrame{From: now.AddDate(0, 0, -7), To: now, Label: label}, nil
	case RangeLabelLast30Days:
		return TimeFrame{From: now.AddDate(0, 0, -30), To: now, Label: label}, nil
	case RangeLabelAllTime:
		return TimeFrame{From: allTimeStart, To: now, Label: label}, nil
	default:
		return TimeFrame{}, fmt.Errorf("unknown range label: %s", label)
	}
}

// ParseQuery resolves query parameters into a time frame. A named range wins;
// "custom" (or bare from/to parameters) expects RFC-3339 bounds.
func ParseQuery(rangeLabel, fromStr, toStr string, now time.Time) (TimeFrame, error) {
	if rangeLabel == "" && fromStr == "" && toStr == "" {
		return FromRangeLabel(DefaultRangeLabel, now)
	}

	if rangeLabel != "" && rangeLabel != string(RangeLabelCustom) {
		return FromRangeLabel(RangeLabel(rangeLabel), now)
	}

	from, err := time.Parse(time.RFC3339, fromStr)
	if err != nil {
		return TimeFrame{}, fmt.Errorf("invalid from timestamp: %w", err)
	}
	to, err := time.Parse(time.RFC3339, toStr)
	if err != nil {
		return TimeFrame{}, fmt.Errorf("invalid to timestamp: %w", err)
	}
	return New(from, to)
}

// Duration returns the window length.
func (tf TimeFrame) Duration() time.Duration {
	return tf.To.Sub(tf.From)
}

// Contains reports whether t falls inside the window, bounds inclusive.
func (tf TimeFrame) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(tf.From) && !t.After(tf.To)
}
