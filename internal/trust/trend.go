package trust

import (
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"
)

// Comparable reports whether a score produced by scorer version v can be
// aggregated with scores from the current Version: the major versions must
// match.
func Comparable(v string) bool {
	got, err := semver.NewVersion(v)
	if err != nil {
		return false
	}
	return got.Major() == semver.MustParse(Version).Major()
}

// Point is one historical score.
type Point struct {
	Time    time.Time
	Score   float64
	Version string
	OptIn   bool
}

// DailyMean is the mean score of one UTC day.
type DailyMean struct {
	Day   string  `json:"day"`
	Mean  float64 `json:"mean"`
	Count int     `json:"count"`
}

// TrendReport summarises historical trust scores.
type TrendReport struct {
	Points    int         `json:"points"`
	Skipped   int         `json:"skipped"`
	Days      []DailyMean `json:"days"`
	EMAPeriod int         `json:"ema_period"`
	EMA       float64     `json:"ema"`
	Mean30d   float64     `json:"mean_30d"`
	OptInRate float64     `json:"opt_in_rate"`
	Version   string      `json:"version"`
}

// DefaultEMAPeriod is the smoothing period, in days, of Trend.
const DefaultEMAPeriod = 7

// Trend computes daily means, an exponential moving average over them and
// the mean of the last 30 days relative to now. Points from incompatible
// scorer versions or with out-of-range scores are skipped.
func Trend(points []Point, now time.Time, period int) TrendReport {
	if period <= 0 {
		period = DefaultEMAPeriod
	}
	rep := TrendReport{EMAPeriod: period, Version: Version, Days: []DailyMean{}}

	type acc struct {
		sum   float64
		count int
	}
	days := make(map[string]*acc)
	cutoff := now.Add(-30 * 24 * time.Hour)
	var recentSum float64
	var recent, optIn int

	for _, p := range points {
		if !IsValidScore(p.Score) || !Comparable(p.Version) {
			rep.Skipped++
			continue
		}
		rep.Points++
		if p.OptIn {
			optIn++
		}
		day := p.Time.UTC().Format(time.DateOnly)
		a, ok := days[day]
		if !ok {
			a = &acc{}
			days[day] = a
		}
		a.sum += p.Score
		a.count++
		if !p.Time.Before(cutoff) && !p.Time.After(now) {
			recentSum += p.Score
			recent++
		}
	}
	if rep.Points == 0 {
		return rep
	}

	keys := make([]string, 0, len(days))
	for k := range days {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	k := 2 / float64(period+1)
	for i, day := range keys {
		mean := days[day].sum / float64(days[day].count)
		rep.Days = append(rep.Days, DailyMean{Day: day, Mean: round2(mean), Count: days[day].count})
		if i == 0 {
			rep.EMA = mean
		} else {
			rep.EMA = mean*k + rep.EMA*(1-k)
		}
	}
	rep.EMA = round2(rep.EMA)
	if recent > 0 {
		rep.Mean30d = round2(recentSum / float64(recent))
	}
	rep.OptInRate = round2(float64(optIn) / float64(rep.Points))
	return rep
}
