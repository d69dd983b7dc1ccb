package federation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultStaleThresholdDays applies when a partner does not set its own threshold.
const DefaultStaleThresholdDays = 30

// Status is the outcome of verifying one partner in a cycle.
type Status string

const (
	StatusValid   Status = "valid"
	StatusStale   Status = "stale"
	StatusFlagged Status = "flagged"
	StatusError   Status = "error"
)

// Partner is a federated organisation whose attestation endpoint is polled.
type Partner struct {
	PartnerID          string `json:"partner_id" yaml:"partner_id"`
	DisplayName        string `json:"partner_display_name" yaml:"partner_display_name"`
	GovernanceEndpoint string `json:"governance_endpoint" yaml:"governance_endpoint"`
	Active             bool   `json:"active" yaml:"active"`
	StaleThresholdDays int    `json:"stale_threshold_days,omitempty" yaml:"stale_threshold_days,omitempty"`
}

// StaleThreshold returns the partner's staleness window.
func (p Partner) StaleThreshold() time.Duration {
	days := p.StaleThresholdDays
	if days <= 0 {
		days = DefaultStaleThresholdDays
	}
	return time.Duration(days) * 24 * time.Hour
}

func (p Partner) thresholdDays() int {
	if p.StaleThresholdDays <= 0 {
		return DefaultStaleThresholdDays
	}
	return p.StaleThresholdDays
}

// Record is the attestation a partner publishes at its governance endpoint.
type Record struct {
	PartnerID       string    `json:"partner_id"`
	MerkleRoot      string    `json:"merkle_root"`
	Timestamp       time.Time `json:"timestamp"`
	ComplianceStage string    `json:"compliance_stage"`
}

// Result is the per-partner verification outcome stored in the ledger.
type Result struct {
	PartnerID          string    `json:"partner_id"`
	DisplayName        string    `json:"partner_display_name"`
	LastMerkleRoot     string    `json:"last_merkle_root"`
	LastVerifiedAt     time.Time `json:"last_verified_at"`
	Status             Status    `json:"trust_status"`
	Notes              string    `json:"notes"`
	ComplianceStage    string    `json:"compliance_stage,omitempty"`
	GovernanceEndpoint string    `json:"governance_endpoint"`
	Error              string    `json:"error,omitempty"`
}

// Counts tallies results by status.
type Counts struct {
	Total   int `json:"total_partners"`
	Valid   int `json:"valid_partners"`
	Stale   int `json:"stale_partners"`
	Flagged int `json:"flagged_partners"`
	Error   int `json:"error_partners"`
}

// Tally counts results by status.
func Tally(results []Result) Counts {
	c := Counts{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case StatusValid:
			c.Valid++
		case StatusStale:
			c.Stale++
		case StatusFlagged:
			c.Flagged++
		case StatusError:
			c.Error++
		}
	}
	return c
}

// Summary renders the counts as a single sentence.
func (c Counts) Summary() string {
	return fmt.Sprintf("Verified %d partners. %d valid, %d stale, %d flagged, %d error.",
		c.Total, c.Valid, c.Stale, c.Flagged, c.Error)
}

// Report is the outcome of one verification cycle.
type Report struct {
	Counts
	Timestamp              time.Time `json:"timestamp"`
	NetworkMerkleAggregate string    `json:"network_merkle_aggregate"`
	ComplianceBaseline     string    `json:"compliance_baseline"`
	Partners               []Result  `json:"partners"`
	EntryID                string    `json:"entry_id,omitempty"`
	DryRun                 bool      `json:"dry_run,omitempty"`
}

// RequiresReview reports whether any partner was flagged.
func (r *Report) RequiresReview() bool {
	return r != nil && r.Flagged > 0
}

type partnerFile struct {
	Partners []Partner `yaml:"partners"`
}

// ParsePartners decodes a partner list document (YAML or JSON) and returns
// the active partners. Partners without an ID or endpoint are rejected.
func ParsePartners(data []byte) ([]Partner, error) {
	var doc partnerFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode partner list: %w", err)
	}
	if doc.Partners == nil {
		return nil, errors.New(`partner list: missing "partners" array`)
	}

	seen := make(map[string]bool, len(doc.Partners))
	active := make([]Partner, 0, len(doc.Partners))
	for i, p := range doc.Partners {
		p.PartnerID = strings.TrimSpace(p.PartnerID)
		if p.PartnerID == "" {
			return nil, fmt.Errorf("partner %d: partner_id is required", i)
		}
		if seen[p.PartnerID] {
			return nil, fmt.Errorf("partner %q: listed more than once", p.PartnerID)
		}
		seen[p.PartnerID] = true
		if strings.TrimSpace(p.GovernanceEndpoint) == "" {
			return nil, fmt.Errorf("partner %q: governance_endpoint is required", p.PartnerID)
		}
		if p.Active {
			active = append(active, p)
		}
	}
	return active, nil
}

// ErrUnknownPartner is returned when a partner filter matches no active partner.
var ErrUnknownPartner = errors.New("partner not found or inactive")

// Filter keeps only the partner with the given ID. An empty id keeps all.
func Filter(partners []Partner, id string) ([]Partner, error) {
	if id == "" {
		return partners, nil
	}
	for _, p := range partners {
		if p.PartnerID == id {
			return []Partner{p}, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownPartner, id)
}
