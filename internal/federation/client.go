package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// UserAgent identifies verification requests to partner endpoints.
const UserAgent = "QuantumPoly-Federation/1.0"

// DefaultFetchTimeout bounds a single attestation request.
const DefaultFetchTimeout = 10 * time.Second

const maxAttestationBytes = 1 << 20

const attestationSchema = `{
  "type": "object",
  "required": ["partner_id", "merkle_root", "timestamp", "compliance_stage"],
  "properties": {
    "partner_id": {"type": "string", "minLength": 1},
    "merkle_root": {"type": "string", "minLength": 1},
    "timestamp": {"type": "string", "minLength": 1},
    "compliance_stage": {"type": "string"}
  }
}`

// FetchError reports an attestation that could not be retrieved or decoded.
type FetchError struct {
	PartnerID string
	Reason    string
	Err       error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.PartnerID, e.Reason, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.PartnerID, e.Reason)
}

func (e *FetchError) Unwrap() error { return e.Err }

// TimeoutError reports an attestation request that exceeded its deadline.
type TimeoutError struct {
	PartnerID string
	After     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("fetch %s: request timeout after %s", e.PartnerID, e.After)
}

// AttestationClient fetches partner attestations over HTTP.
type AttestationClient struct {
	http    *http.Client
	timeout time.Duration
	schema  *jsonschema.Schema
}

// NewAttestationClient creates a client whose requests are bounded by timeout.
func NewAttestationClient(timeout time.Duration) (*AttestationClient, error) {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://ledger.schemas.local/federation/attestation.schema.json"
	if err := c.AddResource(url, strings.NewReader(attestationSchema)); err != nil {
		return nil, fmt.Errorf("load attestation schema: %w", err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile attestation schema: %w", err)
	}
	return &AttestationClient{
		http:    &http.Client{},
		timeout: timeout,
		schema:  schema,
	}, nil
}

// Fetch retrieves and validates the partner's current attestation. Any
// failure is returned as a *FetchError or *TimeoutError.
func (c *AttestationClient) Fetch(ctx context.Context, p Partner) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.GovernanceEndpoint, nil)
	if err != nil {
		return nil, &FetchError{PartnerID: p.PartnerID, Reason: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{PartnerID: p.PartnerID, After: c.timeout}
		}
		return nil, &FetchError{PartnerID: p.PartnerID, Reason: "request failed", Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{
			PartnerID: p.PartnerID,
			Reason:    fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAttestationBytes))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{PartnerID: p.PartnerID, After: c.timeout}
		}
		return nil, &FetchError{PartnerID: p.PartnerID, Reason: "read body", Err: err}
	}
	return c.decode(p.PartnerID, body)
}

func (c *AttestationClient) decode(partnerID string, body []byte) (*Record, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, &FetchError{PartnerID: partnerID, Reason: "invalid JSON", Err: err}
	}
	if err := c.schema.Validate(doc); err != nil {
		return nil, &FetchError{PartnerID: partnerID, Reason: "invalid attestation: missing required fields", Err: err}
	}

	var raw struct {
		PartnerID       string `json:"partner_id"`
		MerkleRoot      string `json:"merkle_root"`
		Timestamp       string `json:"timestamp"`
		ComplianceStage string `json:"compliance_stage"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &FetchError{PartnerID: partnerID, Reason: "invalid JSON", Err: err}
	}
	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return nil, &FetchError{PartnerID: partnerID, Reason: "invalid timestamp", Err: err}
	}
	return &Record{
		PartnerID:       raw.PartnerID,
		MerkleRoot:      raw.MerkleRoot,
		Timestamp:       ts,
		ComplianceStage: raw.ComplianceStage,
	}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.DateOnly, s)
}
