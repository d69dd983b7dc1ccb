package trust

import (
	"math"
	"strings"
	"unicode/utf8"
)

// Context credit per present signal; the four sum to 1.
const (
	creditHasContext = 0.3
	creditPath       = 0.2
	creditLocale     = 0.2
	creditUserAgent  = 0.3
)

const (
	anonymousBaseline   = 0.5
	accountAgeShare     = 0.35
	behavioralBaseline  = 0.7
	shortMessagePenalty = 0.3
	shortMessageLength  = 10
	lengthShare         = 0.6
	longMessageDecay    = 0.3
	safetyClean         = 0.4
	safetySuspicious    = 0.1
)

// Scorer computes trust scores under one validated configuration.
type Scorer struct {
	cfg Config
}

// NewScorer validates cfg and returns a Scorer using it.
func NewScorer(cfg Config) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{cfg: cfg}, nil
}

// Config returns the scorer's configuration.
func (s *Scorer) Config() Config { return s.cfg }

// Document describes the active configuration for publication.
func (s *Scorer) Document() Document {
	return Document{
		Version:        Version,
		Weights:        s.cfg.Weights,
		Thresholds:     s.cfg.Thresholds,
		BiasMitigation: append([]string(nil), biasMitigation...),
	}
}

// Compute scores message with the configured weights.
func (s *Scorer) Compute(message string, signals Signals) Score {
	return s.compute(message, signals, s.cfg.Weights)
}

// ComputeWeighted scores message with caller-supplied weights, for
// sensitivity analysis. The weights are validated.
func (s *Scorer) ComputeWeighted(message string, signals Signals, w Weights) (Score, error) {
	if err := w.Validate(); err != nil {
		return Score{}, err
	}
	return s.compute(message, signals, w), nil
}

func (s *Scorer) compute(message string, signals Signals, w Weights) Score {
	msg := strings.TrimSpace(message)
	n := utf8.RuneCountInString(msg)
	th := s.cfg.Thresholds

	flags := safetyFlags(msg)
	sq := signalQuality(msg, n, signals, th)
	acct := accountSignals(signals, th)
	beh := behavioral(n)
	content := contentFeatures(n, len(flags) > 0, th)

	// The total uses unrounded components; rounding applies to the breakdown only.
	total := w.SignalQuality*sq +
		w.AccountSignals*acct +
		w.Behavioral*beh +
		w.ContentFeatures*content

	return Score{
		Score: round2(clamp01(total)),
		Components: Components{
			SignalQuality:   round2(sq),
			AccountSignals:  round2(acct),
			Behavioral:      round2(beh),
			ContentFeatures: round2(content),
		},
		Version: Version,
		Flags:   flags,
	}
}

func signalQuality(msg string, n int, s Signals, th Thresholds) float64 {
	context := 0.0
	if s.HasContext {
		context += creditHasContext
	}
	if s.Path {
		context += creditPath
	}
	if s.Locale {
		context += creditLocale
	}
	if s.UserAgent {
		context += creditUserAgent
	}

	coherence := 0.0
	if n >= th.MinMessageLength {
		coherence += 0.3
	}
	if endsWithPunctuation(msg) {
		coherence += 0.3
	}
	if capitalised(msg) {
		coherence += 0.2
	}
	if n <= th.OptimalMessageLength {
		coherence += 0.2
	}
	return clamp01(0.4*context + 0.6*coherence)
}

// accountSignals never drops below the anonymous baseline: a missing or
// zero account age and an unverified account are neutral.
func accountSignals(s Signals, th Thresholds) float64 {
	score := anonymousBaseline
	if s.Verified {
		score += th.VerifiedBonus
	}
	if s.AccountAgeDays != nil && *s.AccountAgeDays > 0 {
		score += math.Min(1, float64(*s.AccountAgeDays)/float64(th.MinAccountAgeDays)) * accountAgeShare
	}
	return clamp01(score)
}

// behavioral is a placeholder for rate and duplicate-submission signals;
// today only very short messages move it off the baseline.
func behavioral(n int) float64 {
	if n < shortMessageLength {
		return behavioralBaseline - shortMessagePenalty
	}
	return behavioralBaseline
}

func contentFeatures(n int, suspicious bool, th Thresholds) float64 {
	var length float64
	switch {
	case n < th.MinMessageLength:
		length = lengthShare * float64(n) / float64(th.MinMessageLength)
	case n <= th.OptimalMessageLength:
		length = lengthShare
	default:
		excess := float64(n-th.OptimalMessageLength) / float64(th.MaxMessageLength-th.OptimalMessageLength)
		length = lengthShare * (1 - math.Min(1, excess)*longMessageDecay)
	}

	safety := safetyClean
	if suspicious {
		safety = safetySuspicious
	}
	return clamp01(length + safety)
}

func clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x) || x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}

func round2(x float64) float64 { return math.Round(x*100) / 100 }
