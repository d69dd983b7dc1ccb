package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jmerrifield20/IntegrityLedger/internal/trustledger"
)

// ComplianceBaseline is recorded with every trust report.
const ComplianceBaseline = "Stage VI — Federated Transparency"

// ResponsibleRoles sign off every federation verification entry.
var ResponsibleRoles = []string{"Federation Trust Officer", "Governance Officer"}

// Config holds verifier configuration.
type Config struct {
	Interval     time.Duration
	FetchTimeout time.Duration
	MaxInFlight  int
	// ReportDir receives a trust-report-<ts>.json per non-dry cycle when set.
	ReportDir string
}

// Fetcher retrieves a partner's attestation.
type Fetcher interface {
	Fetch(ctx context.Context, p Partner) (*Record, error)
}

// PartnerSource returns the active partners for a cycle.
type PartnerSource interface {
	Partners(ctx context.Context) ([]Partner, error)
}

// StaticPartners is a fixed partner list.
type StaticPartners []Partner

func (s StaticPartners) Partners(context.Context) ([]Partner, error) { return s, nil }

// PartnerFile re-reads a partner list document on every cycle.
type PartnerFile string

func (f PartnerFile) Partners(context.Context) ([]Partner, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return nil, fmt.Errorf("read partner list: %w", err)
	}
	return ParsePartners(data)
}

// MetricsRecordFunc is an optional callback invoked once per partner result.
type MetricsRecordFunc func(status Status, latency time.Duration)

// ReviewAlertFunc is an optional callback invoked when a recorded cycle
// flags at least one partner.
type ReviewAlertFunc func(ctx context.Context, rep *Report)

// RunOptions narrows a single verification cycle.
type RunOptions struct {
	DryRun    bool
	PartnerID string
}

// Verifier runs federation verification cycles and records them in the ledger.
type Verifier struct {
	source    PartnerSource
	fetcher   Fetcher
	ledger    trustledger.Ledger
	cfg       Config
	logger    *zap.Logger
	tracer    trace.Tracer
	onMetrics MetricsRecordFunc
	onReview  ReviewAlertFunc
	now       func() time.Time

	mu   sync.Mutex
	last *Report
}

// NewVerifier creates a Verifier. A nil logger disables logging.
func NewVerifier(source PartnerSource, fetcher Fetcher, ledger trustledger.Ledger, cfg Config, logger *zap.Logger) *Verifier {
	if cfg.Interval == 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		source:  source,
		fetcher: fetcher,
		ledger:  ledger,
		cfg:     cfg,
		logger:  logger,
		tracer:  otel.Tracer("github.com/jmerrifield20/IntegrityLedger/internal/federation"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (v *Verifier) SetMetricsRecord(fn MetricsRecordFunc) {
	v.onMetrics = fn
}

// SetReviewAlert configures the callback for cycles that require review.
// Dry runs never alert.
func (v *Verifier) SetReviewAlert(fn ReviewAlertFunc) {
	v.onReview = fn
}

// LastReport returns the most recent cycle's report, or nil before the first run.
func (v *Verifier) LastReport() *Report {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.last
}

// Start runs a verification cycle immediately and then every Interval until
// ctx is cancelled.
func (v *Verifier) Start(ctx context.Context) {
	v.scheduledRun(ctx)

	ticker := time.NewTicker(v.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			v.scheduledRun(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (v *Verifier) scheduledRun(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	rep, err := v.Run(ctx, RunOptions{})
	if err != nil {
		v.logger.Error("federation: scheduled cycle", zap.Error(err))
		return
	}
	if rep.RequiresReview() {
		v.logger.Warn("federation: partners require human review", zap.Int("flagged", rep.Flagged))
	}
}

// Run performs one verification cycle. Unless opts.DryRun is set the cycle is
// appended to the ledger as a single federation_verification entry. Partner
// failures never abort the cycle; only partner loading and ledger errors do.
func (v *Verifier) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	ctx, span := v.tracer.Start(ctx, "federation.cycle",
		trace.WithAttributes(attribute.Bool("dry_run", opts.DryRun)))
	defer span.End()

	partners, err := v.source.Partners(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("load partners: %w", err)
	}
	partners, err = Filter(partners, opts.PartnerID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	results := v.VerifyAll(ctx, partners)
	now := v.now()
	rep := &Report{
		Counts:                 Tally(results),
		Timestamp:              now,
		NetworkMerkleAggregate: AggregateRoot(results),
		ComplianceBaseline:     ComplianceBaseline,
		Partners:               results,
		DryRun:                 opts.DryRun,
	}
	span.SetAttributes(
		attribute.Int("partners.total", rep.Total),
		attribute.Int("partners.flagged", rep.Flagged),
	)

	if !opts.DryRun {
		entry, err := v.record(ctx, rep)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return rep, err
		}
		rep.EntryID = entry.EntryID
		if v.cfg.ReportDir != "" {
			path, err := WriteReport(v.cfg.ReportDir, rep)
			if err != nil {
				v.logger.Warn("federation: write trust report", zap.Error(err))
			} else {
				v.logger.Info("federation: trust report saved", zap.String("path", path))
			}
		}
		if rep.RequiresReview() && v.onReview != nil {
			v.onReview(ctx, rep)
		}
	}

	v.mu.Lock()
	v.last = rep
	v.mu.Unlock()

	v.logger.Info("federation: cycle complete",
		zap.String("summary", rep.Summary()),
		zap.String("aggregate", rep.NetworkMerkleAggregate),
		zap.Bool("dry_run", opts.DryRun),
	)
	return rep, nil
}

// VerifyAll fetches and classifies every partner with bounded concurrency.
// Results keep the order of partners.
func (v *Verifier) VerifyAll(ctx context.Context, partners []Partner) []Result {
	results := make([]Result, len(partners))

	var g errgroup.Group
	g.SetLimit(v.cfg.MaxInFlight)
	for i, p := range partners {
		g.Go(func() error {
			results[i] = v.verifyPartner(ctx, p)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (v *Verifier) verifyPartner(ctx context.Context, p Partner) Result {
	ctx, span := v.tracer.Start(ctx, "federation.fetch",
		trace.WithAttributes(
			attribute.String("partner.id", p.PartnerID),
			attribute.String("partner.endpoint", p.GovernanceEndpoint),
		))
	defer span.End()

	start := time.Now()
	res := Result{
		PartnerID:          p.PartnerID,
		DisplayName:        p.DisplayName,
		GovernanceEndpoint: p.GovernanceEndpoint,
	}

	rec, err := v.fetcher.Fetch(ctx, p)
	res.LastVerifiedAt = v.now()
	if err == nil && rec == nil {
		err = &FetchError{PartnerID: p.PartnerID, Reason: "empty attestation"}
	}
	if err != nil {
		reason := errorReason(err)
		res.Status = StatusError
		res.Error = reason
		res.Notes = "Failed to fetch attestation: " + reason
		span.SetStatus(codes.Error, reason)
		v.logger.Warn("federation: partner unreachable",
			zap.String("partner_id", p.PartnerID),
			zap.Error(err),
		)
	} else {
		res.Status = Classify(p, rec, res.LastVerifiedAt)
		res.LastMerkleRoot = rec.MerkleRoot
		res.ComplianceStage = rec.ComplianceStage
		res.Notes = Notes(res.Status, p, rec, res.LastVerifiedAt)
		if res.Status == StatusFlagged {
			v.logger.Warn("federation: partner flagged",
				zap.String("partner_id", p.PartnerID),
				zap.String("merkle_root", rec.MerkleRoot),
			)
		}
	}
	span.SetAttributes(attribute.String("trust_status", string(res.Status)))

	if v.onMetrics != nil {
		v.onMetrics(res.Status, time.Since(start))
	}
	return res
}

func errorReason(err error) string {
	var te *TimeoutError
	if errors.As(err, &te) {
		return "Request timeout"
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return err.Error()
}

type verificationPayload struct {
	Title                  string   `json:"title"`
	Status                 string   `json:"status"`
	ApprovedDate           string   `json:"approved_date"`
	ResponsibleRoles       []string `json:"responsible_roles"`
	Summary                string   `json:"summary"`
	NextReview             string   `json:"next_review"`
	Counts                 Counts   `json:"counts"`
	VerificationResults    []Result `json:"verification_results"`
	NetworkMerkleAggregate string   `json:"network_merkle_aggregate"`
}

func (v *Verifier) record(ctx context.Context, rep *Report) (*trustledger.Entry, error) {
	status := "approved"
	if rep.RequiresReview() {
		status = "flagged"
	}
	payload := verificationPayload{
		Title:                  "Federation Partner Verification",
		Status:                 status,
		ApprovedDate:           rep.Timestamp.Format(time.DateOnly),
		ResponsibleRoles:       ResponsibleRoles,
		Summary:                rep.Summary(),
		NextReview:             rep.Timestamp.Add(24 * time.Hour).Format(time.DateOnly),
		Counts:                 rep.Counts,
		VerificationResults:    rep.Partners,
		NetworkMerkleAggregate: rep.NetworkMerkleAggregate,
	}
	e, err := trustledger.NewEntry(trustledger.TypeFederationVerification, strings.Join(ResponsibleRoles, ", "), payload)
	if err != nil {
		return nil, err
	}
	e.Timestamp = rep.Timestamp

	stored, err := v.ledger.Append(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("append federation verification: %w", err)
	}
	return stored, nil
}

// WriteReport saves rep as dir/trust-report-<ts>.json and returns the path.
func WriteReport(dir string, rep *Report) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode trust report: %w", err)
	}
	name := fmt.Sprintf("trust-report-%s.json", rep.Timestamp.UTC().Format("2006-01-02-15-04-05"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write trust report: %w", err)
	}
	return path, nil
}
