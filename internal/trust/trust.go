// Package trust scores the trustworthiness of free-text feedback.
//
// A score combines four independently computed components with configurable
// weights. Scoring never fails on message content: an empty or hostile
// message yields a low but finite score.
package trust

import (
	"errors"
	"fmt"
	"math"
)

// Version identifies the scoring algorithm. Stored scores carry it so that
// historical values computed under other rules can be told apart.
const Version = "1.0.0"

// Signals is the context supplied alongside a message. Every field is
// optional; an absent signal degrades to a neutral contribution.
type Signals struct {
	AccountAgeDays *int `json:"account_age_days,omitempty"`
	Verified       bool `json:"verified,omitempty"`
	HasContext     bool `json:"has_context,omitempty"`
	Path           bool `json:"path,omitempty"`
	Locale         bool `json:"locale,omitempty"`
	UserAgent      bool `json:"user_agent,omitempty"`
}

// Weights are the component weights. They must sum to 1 within Tolerance.
type Weights struct {
	SignalQuality   float64 `json:"signal_quality" yaml:"signal_quality" mapstructure:"signal_quality"`
	AccountSignals  float64 `json:"account_signals" yaml:"account_signals" mapstructure:"account_signals"`
	Behavioral      float64 `json:"behavioral" yaml:"behavioral" mapstructure:"behavioral"`
	ContentFeatures float64 `json:"content_features" yaml:"content_features" mapstructure:"content_features"`
}

// Tolerance is the permitted deviation of the weight sum from 1.
const Tolerance = 0.01

// Validate checks that each weight is in [0,1] and that they sum to 1.
func (w Weights) Validate() error {
	named := []struct {
		name string
		v    float64
	}{
		{"signal_quality", w.SignalQuality},
		{"account_signals", w.AccountSignals},
		{"behavioral", w.Behavioral},
		{"content_features", w.ContentFeatures},
	}
	sum := 0.0
	for _, n := range named {
		if math.IsNaN(n.v) || n.v < 0 || n.v > 1 {
			return fmt.Errorf("weights.%s must be in [0,1], got %v", n.name, n.v)
		}
		sum += n.v
	}
	if math.Abs(sum-1) > Tolerance {
		return fmt.Errorf("weights must sum to 1.0 (±%.2f), got %.4f", Tolerance, sum)
	}
	return nil
}

// Thresholds tune the component curves.
type Thresholds struct {
	MinMessageLength     int     `json:"min_message_length" yaml:"min_message_length" mapstructure:"min_message_length"`
	OptimalMessageLength int     `json:"optimal_message_length" yaml:"optimal_message_length" mapstructure:"optimal_message_length"`
	MaxMessageLength     int     `json:"max_message_length" yaml:"max_message_length" mapstructure:"max_message_length"`
	MinAccountAgeDays    int     `json:"min_account_age_days" yaml:"min_account_age_days" mapstructure:"min_account_age_days"`
	VerifiedBonus        float64 `json:"verified_bonus" yaml:"verified_bonus" mapstructure:"verified_bonus"`
}

// Validate checks that the thresholds describe a usable length band.
func (t Thresholds) Validate() error {
	switch {
	case t.MinMessageLength <= 0:
		return errors.New("thresholds.min_message_length must be positive")
	case t.OptimalMessageLength < t.MinMessageLength:
		return errors.New("thresholds.optimal_message_length must be at least min_message_length")
	case t.MaxMessageLength <= t.OptimalMessageLength:
		return errors.New("thresholds.max_message_length must exceed optimal_message_length")
	case t.MinAccountAgeDays <= 0:
		return errors.New("thresholds.min_account_age_days must be positive")
	case math.IsNaN(t.VerifiedBonus) || t.VerifiedBonus < 0 || t.VerifiedBonus > 0.5:
		return errors.New("thresholds.verified_bonus must be in [0,0.5]")
	}
	return nil
}

// Config is the load-time scoring configuration.
type Config struct {
	Weights    Weights    `json:"weights" yaml:"weights" mapstructure:"weights"`
	Thresholds Thresholds `json:"thresholds" yaml:"thresholds" mapstructure:"thresholds"`
}

// Validate validates weights and thresholds.
func (c Config) Validate() error {
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	return c.Thresholds.Validate()
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			SignalQuality:   0.25,
			AccountSignals:  0.25,
			Behavioral:      0.25,
			ContentFeatures: 0.25,
		},
		Thresholds: Thresholds{
			MinMessageLength:     20,
			OptimalMessageLength: 1500,
			MaxMessageLength:     5000,
			MinAccountAgeDays:    30,
			VerifiedBonus:        0.15,
		},
	}
}

// Components is the per-component breakdown of a score.
type Components struct {
	SignalQuality   float64 `json:"signal_quality"`
	AccountSignals  float64 `json:"account_signals"`
	Behavioral      float64 `json:"behavioral"`
	ContentFeatures float64 `json:"content_features"`
}

// Score is the result of scoring one message.
type Score struct {
	Score      float64    `json:"score"`
	Components Components `json:"components"`
	Version    string     `json:"version"`
	// Flags lists the content-safety rules that matched.
	Flags []string `json:"flags,omitempty"`
}

// IsValidScore reports whether x is a finite number in [0,1].
func IsValidScore(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0) && x >= 0 && x <= 1
}

// Document is the published description of the scoring configuration.
type Document struct {
	Version        string     `json:"version"`
	Weights        Weights    `json:"weights"`
	Thresholds     Thresholds `json:"thresholds"`
	BiasMitigation []string   `json:"bias_mitigation"`
}

var biasMitigation = []string{
	"Anonymous submissions receive a neutral account score of 0.5 and are not penalised.",
	"Scores are heuristic signals for triage and never the sole basis for rejecting feedback.",
	"Content checks look for spam patterns only; they do not judge language, dialect or opinion.",
	"Every score records the algorithm version so historical scores remain auditable.",
}
