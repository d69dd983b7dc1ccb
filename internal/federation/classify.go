package federation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

var rootPattern = regexp.MustCompile(`(?i)^[a-f0-9]{64}$`)

// WellFormedRoot reports whether s looks like a SHA-256 hex digest.
func WellFormedRoot(s string) bool {
	return rootPattern.MatchString(s)
}

// Classify decides a partner's status from its attestation. Staleness is
// checked before the root format, so an old record with a bad root is stale.
func Classify(p Partner, rec *Record, now time.Time) Status {
	if rec == nil {
		return StatusError
	}
	if now.Sub(rec.Timestamp) > p.StaleThreshold() {
		return StatusStale
	}
	if !WellFormedRoot(rec.MerkleRoot) {
		return StatusFlagged
	}
	return StatusValid
}

// Notes returns the human-readable explanation stored with a result.
func Notes(status Status, p Partner, rec *Record, now time.Time) string {
	switch status {
	case StatusValid:
		return fmt.Sprintf("Ledger integrity verified. Merkle root matches published snapshot as of %s. No tampering detected.",
			rec.Timestamp.Format(time.RFC3339))
	case StatusStale:
		days := int(now.Sub(rec.Timestamp).Hours() / 24)
		return fmt.Sprintf("Partner overdue for transparency refresh. Last update: %d days ago (threshold: %d days).",
			days, p.thresholdDays())
	case StatusFlagged:
		return "Integrity check failed. Invalid Merkle root format or inconsistency detected. Requires human review."
	default:
		return "Unable to verify partner. Endpoint unreachable or returned invalid data."
	}
}

// AggregateRoot combines the roots of valid and stale partners into one
// network digest. Roots are used exactly as published, sorted and
// concatenated before hashing, so any peer can recompute the value from the
// stored per-partner results. No valid or stale partner yields "".
func AggregateRoot(results []Result) string {
	var roots []string
	for _, r := range results {
		if r.Status != StatusValid && r.Status != StatusStale {
			continue
		}
		roots = append(roots, r.LastMerkleRoot)
	}
	if len(roots) == 0 {
		return ""
	}
	sort.Strings(roots)
	sum := sha256.Sum256([]byte(strings.Join(roots, "")))
	return hex.EncodeToString(sum[:])
}
