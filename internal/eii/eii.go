// Package eii computes the Ethical Integrity Index, a weighted composite of
// accessibility, performance, SEO and bundle-efficiency scores, and tracks
// it over a ledger-backed history.
package eii

import (
	"fmt"
	"math"
)

// Category weights.
const (
	WeightA11y        = 0.3
	WeightPerformance = 0.3
	WeightSEO         = 0.2
	WeightBundle      = 0.2
)

// Bundle size thresholds in kilobytes.
const (
	BundleGoodKB         = 150.0
	BundleUnacceptableKB = 500.0
)

// Metrics are category scores, each 0–100.
type Metrics struct {
	SEO         float64 `json:"seo"`
	A11y        float64 `json:"a11y"`
	Performance float64 `json:"performance"`
	Bundle      float64 `json:"bundle"`
}

// MetricError reports a category score outside 0–100.
type MetricError struct {
	Category string
	Value    float64
}

func (e *MetricError) Error() string {
	return fmt.Sprintf("metric %s must be within 0-100, got %v", e.Category, e.Value)
}

// Validate checks that every category is a finite number in [0,100].
func (m Metrics) Validate() error {
	for _, c := range []struct {
		name string
		v    float64
	}{
		{"seo", m.SEO},
		{"a11y", m.A11y},
		{"performance", m.Performance},
		{"bundle", m.Bundle},
	} {
		if math.IsNaN(c.v) || math.IsInf(c.v, 0) || c.v < 0 || c.v > 100 {
			return &MetricError{Category: c.name, Value: c.v}
		}
	}
	return nil
}

// Compute returns the EII of m rounded to one decimal.
func Compute(m Metrics) float64 {
	return round1(WeightA11y*m.A11y + WeightPerformance*m.Performance + WeightSEO*m.SEO + WeightBundle*m.Bundle)
}

// BundleScore maps an average per-route bundle size to a 0–100 score: full
// marks at or below BundleGoodKB, falling linearly to zero at
// BundleUnacceptableKB.
func BundleScore(avgKB float64) float64 {
	switch {
	case math.IsNaN(avgKB) || avgKB <= BundleGoodKB:
		return 100
	case avgKB >= BundleUnacceptableKB:
		return 0
	}
	return round1(100 - (avgKB-BundleGoodKB)/(BundleUnacceptableKB-BundleGoodKB)*100)
}

// Tags returns the qualitative labels earned by a snapshot.
func Tags(m Metrics, eii float64) []string {
	var tags []string
	if m.A11y >= 95 {
		tags = append(tags, "A11y Clean", "WCAG 2.2 AA")
	}
	if m.Performance >= 90 {
		tags = append(tags, "Performance Optimized", "Energy Efficient")
	}
	if m.SEO >= 90 {
		tags = append(tags, "SEO Best Practices")
	}
	if eii >= 90 {
		tags = append(tags, "Transparency Verified")
	}
	return append(tags, "GDPR Compliant")
}

func round1(x float64) float64 { return math.Round(x*10) / 10 }
