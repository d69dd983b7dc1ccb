// Package health periodically re-verifies the ledger and reports whether the
// service is serving an intact chain.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/IntegrityLedger/internal/trustledger"
)

// Status is the integrity status of the served ledger.
type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
)

// Config holds monitor configuration.
type Config struct {
	CheckInterval time.Duration
	CheckTimeout  time.Duration
	// FailThreshold is the number of consecutive read failures before the
	// ledger is reported degraded. Integrity mismatches degrade immediately.
	FailThreshold int
}

// Verifier recomputes a ledger. trustledger.Ledger satisfies it.
type Verifier interface {
	Verify(ctx context.Context) (*trustledger.VerificationReport, error)
}

// State is the outcome of the most recent check.
type State struct {
	Status              Status    `json:"status"`
	CheckedAt           time.Time `json:"checked_at,omitempty"`
	Entries             int       `json:"entries"`
	MerkleRoot          string    `json:"merkle_root,omitempty"`
	FirstDivergence     string    `json:"first_divergence,omitempty"`
	Error               string    `json:"error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures,omitempty"`
}

// AlertFunc is an optional callback invoked on each healthy → degraded transition.
type AlertFunc func(ctx context.Context, s State)

// MetricsRecordFunc is an optional callback for recording verification results.
type MetricsRecordFunc func(valid bool)

// Monitor runs periodic ledger verification.
type Monitor struct {
	ledger    Verifier
	cfg       Config
	logger    *zap.Logger
	onAlert   AlertFunc
	onMetrics MetricsRecordFunc
	now       func() time.Time

	mu    sync.Mutex
	state State
}

// New creates a new Monitor.
func New(ledger Verifier, cfg Config, logger *zap.Logger) *Monitor {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 5 * time.Minute
	}
	if cfg.CheckTimeout == 0 {
		cfg.CheckTimeout = time.Minute
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		ledger: ledger,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		state:  State{Status: StatusUnknown},
	}
}

// SetAlert configures the degraded-transition callback.
func (m *Monitor) SetAlert(fn AlertFunc) {
	m.onAlert = fn
}

// SetMetricsRecord configures the metrics recording callback.
func (m *Monitor) SetMetricsRecord(fn MetricsRecordFunc) {
	m.onMetrics = fn
}

// State returns the outcome of the most recent check.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start runs a check every CheckInterval until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Check verifies the ledger once and returns the resulting state.
func (m *Monitor) Check(ctx context.Context) State {
	cctx, cancel := context.WithTimeout(ctx, m.cfg.CheckTimeout)
	defer cancel()
	rep, err := m.ledger.Verify(cctx)

	m.mu.Lock()
	prev := m.state
	next := State{CheckedAt: m.now()}
	switch {
	case err != nil:
		next.ConsecutiveFailures = prev.ConsecutiveFailures + 1
		next.Error = err.Error()
		next.Entries, next.MerkleRoot = prev.Entries, prev.MerkleRoot
		next.Status = prev.Status
		if next.ConsecutiveFailures >= m.cfg.FailThreshold {
			next.Status = StatusDegraded
		}
	case !rep.Valid:
		next.Status = StatusDegraded
		next.Entries = rep.Entries
		next.MerkleRoot = rep.MerkleRoot
		next.FirstDivergence = rep.FirstDivergence
		next.Error = rep.Error
	default:
		next.Status = StatusHealthy
		next.Entries = rep.Entries
		next.MerkleRoot = rep.MerkleRoot
	}
	m.state = next
	m.mu.Unlock()

	if m.onMetrics != nil && err == nil {
		m.onMetrics(rep.Valid)
	}

	switch {
	case next.Status == StatusDegraded && prev.Status != StatusDegraded:
		m.logger.Error("health: ledger degraded",
			zap.String("first_divergence", next.FirstDivergence),
			zap.String("error", next.Error),
			zap.Int("consecutive_failures", next.ConsecutiveFailures),
		)
		if m.onAlert != nil {
			m.onAlert(ctx, next)
		}
	case next.Status == StatusHealthy && prev.Status == StatusDegraded:
		m.logger.Info("health: ledger recovered",
			zap.Int("entries", next.Entries),
			zap.String("root", next.MerkleRoot),
		)
	case err != nil:
		m.logger.Warn("health: verify ledger", zap.Error(err),
			zap.Int("consecutive_failures", next.ConsecutiveFailures))
	}
	return next
}
