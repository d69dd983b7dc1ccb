package trustledger

import (
	"context"
	"errors"
	"time"

	"github.com/jmerrifield20/IntegrityLedger/internal/canonical"
)

// VerificationReport is the outcome of recomputing a ledger.
type VerificationReport struct {
	Valid bool `json:"valid"`
	// Entries is the number of entries that verified before the first
	// failure, or the total when Valid.
	Entries int `json:"entries"`
	// MerkleRoot is the recomputed root over the verified entries.
	MerkleRoot string `json:"merkle_root"`
	// FirstDivergence is the entry_id of the first entry whose stored hash,
	// root or signature disagrees with recomputation.
	FirstDivergence    string                  `json:"first_divergence,omitempty"`
	Mismatch           *IntegrityMismatchError `json:"mismatch,omitempty"`
	Corrupt            *CorruptEntryError      `json:"-"`
	Error              string                  `json:"error,omitempty"`
	Unsigned           int                     `json:"unsigned"`
	ChronologyWarnings int                     `json:"chronology_warnings"`
}

// Err returns the integrity failure as an error, or nil when Valid.
func (r *VerificationReport) Err() error {
	switch {
	case r.Mismatch != nil:
		return r.Mismatch
	case r.Corrupt != nil:
		return r.Corrupt
	}
	return nil
}

func (r *VerificationReport) mismatch(m *IntegrityMismatchError) {
	r.Valid = false
	r.Mismatch = m
	r.FirstDivergence = m.EntryID
	r.Error = m.Error()
}

func (r *VerificationReport) corrupt(c *CorruptEntryError) {
	r.Valid = false
	r.Corrupt = c
	r.Error = c.Error()
}

// verifyRecords recomputes every hash from the stored bytes and every
// cumulative root from the recomputed hashes. It stops at the first failure.
func verifyRecords(ctx context.Context, records func(yield func(record, error) bool), verifier SignatureVerifier) (*VerificationReport, error) {
	rep := &VerificationReport{Valid: true}
	seen := make(map[string]struct{})
	var acc accumulator
	var last time.Time

	for r, err := range records {
		if err != nil {
			var ce *CorruptEntryError
			if errors.As(err, &ce) {
				rep.corrupt(ce)
				break
			}
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		e, err := decodeRecord(r)
		if err != nil {
			rep.corrupt(err.(*CorruptEntryError))
			break
		}
		recomputed, err := canonical.HashJSON(r.data)
		if err != nil {
			rep.corrupt(&CorruptEntryError{Kind: CorruptJSON, Line: r.pos, Err: err})
			break
		}

		if _, dup := seen[e.EntryID]; dup {
			rep.mismatch(&IntegrityMismatchError{EntryID: e.EntryID, Field: "entry_id", Expected: "unique", Actual: "duplicate"})
			break
		}
		seen[e.EntryID] = struct{}{}

		if recomputed != e.Hash {
			rep.mismatch(&IntegrityMismatchError{EntryID: e.EntryID, Field: "hash", Expected: recomputed, Actual: e.Hash})
			break
		}

		acc.Add(recomputed)
		if root := acc.Root(); root != e.MerkleRoot {
			rep.mismatch(&IntegrityMismatchError{EntryID: e.EntryID, Field: "merkle_root", Expected: root, Actual: e.MerkleRoot})
			break
		}

		if !e.Signed() {
			rep.Unsigned++
		} else if verifier != nil {
			d := Digest{EntryID: e.EntryID, Hash: e.Hash, MerkleRoot: e.MerkleRoot}
			if err := verifier.VerifySignature(d, *e.Signature); err != nil {
				rep.mismatch(&IntegrityMismatchError{EntryID: e.EntryID, Field: "signature", Expected: "valid signature", Actual: err.Error()})
				break
			}
		}

		if e.Timestamp.Before(last) {
			rep.ChronologyWarnings++
		} else {
			last = e.Timestamp
		}
		rep.Entries++
	}

	rep.MerkleRoot = acc.Root()
	return rep, nil
}
