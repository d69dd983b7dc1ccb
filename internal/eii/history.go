package eii

import (
	"math"
	"time"
)

// HistoryLimit is the number of snapshots retained in a History.
const HistoryLimit = 100

// RollingWindow is the number of EII-bearing data points averaged for trends.
const RollingWindow = 7

// trendThreshold is the relative change separating a trend from noise.
const trendThreshold = 0.05

// Snapshot is one aggregation run.
type Snapshot struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Commit    string    `json:"commit,omitempty"`
	// EII is nil for legacy snapshots that recorded no composite.
	EII     *float64 `json:"eii"`
	Metrics Metrics  `json:"metrics"`
	Tags    []string `json:"tags,omitempty"`
}

// History is an ordered, bounded sequence of snapshots, oldest first.
type History struct {
	snaps []Snapshot
}

// Add appends s, discarding the oldest snapshot beyond HistoryLimit.
func (h *History) Add(s Snapshot) {
	h.snaps = append(h.snaps, s)
	if over := len(h.snaps) - HistoryLimit; over > 0 {
		h.snaps = append([]Snapshot(nil), h.snaps[over:]...)
	}
}

// Snapshots returns a copy of the retained snapshots.
func (h *History) Snapshots() []Snapshot {
	return append([]Snapshot(nil), h.snaps...)
}

// Len returns the number of retained snapshots.
func (h *History) Len() int { return len(h.snaps) }

// Latest returns the most recent snapshot carrying an EII value.
func (h *History) Latest() (Snapshot, bool) {
	for i := len(h.snaps) - 1; i >= 0; i-- {
		if h.snaps[i].EII != nil {
			return h.snaps[i], true
		}
	}
	return Snapshot{}, false
}

// RollingAverage averages the EII of the last n snapshots that carry one.
// Snapshots without an EII are skipped rather than counted, so sparse
// histories still average n data points. count is the number averaged.
func (h *History) RollingAverage(n int) (avg float64, count int) {
	sum := 0.0
	for i := len(h.snaps) - 1; i >= 0 && count < n; i-- {
		if v := h.snaps[i].EII; v != nil {
			sum += *v
			count++
		}
	}
	if count == 0 {
		return 0, 0
	}
	return round1(sum / float64(count)), count
}

// Direction classifies a trend.
type Direction string

const (
	Improving Direction = "improving"
	Declining Direction = "declining"
	Stable    Direction = "stable"
)

// TrendResult compares the latest EII with the rolling average.
type TrendResult struct {
	Current       float64   `json:"current"`
	Average       float64   `json:"seven_point_avg"`
	Direction     Direction `json:"trend"`
	ChangePercent float64   `json:"change_percent"`
	DataPoints    int       `json:"data_points"`
}

// Classify returns the direction of current relative to avg. A zero
// average is always stable.
func Classify(current, avg float64) (Direction, float64) {
	if avg == 0 || math.IsNaN(avg) {
		return Stable, 0
	}
	rel := (current - avg) / avg
	switch {
	case rel > trendThreshold:
		return Improving, round1(rel * 100)
	case rel < -trendThreshold:
		return Declining, round1(rel * 100)
	}
	return Stable, round1(rel * 100)
}

// Trend compares the latest EII with the average of the last RollingWindow
// EII-bearing snapshots. ok is false when the history has no EII at all.
func (h *History) Trend() (TrendResult, bool) {
	latest, ok := h.Latest()
	if !ok {
		return TrendResult{Direction: Stable}, false
	}
	avg, n := h.RollingAverage(RollingWindow)
	dir, pct := Classify(*latest.EII, avg)
	return TrendResult{
		Current:       *latest.EII,
		Average:       avg,
		Direction:     dir,
		ChangePercent: pct,
		DataPoints:    n,
	}, true
}
