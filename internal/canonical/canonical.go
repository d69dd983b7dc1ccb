// Package canonical produces deterministic content hashes for JSON-like
// records.
//
// Records are serialised with RFC 8785 (JSON Canonicalization Scheme): keys
// are sorted, insignificant whitespace is removed and numbers use their
// shortest round-trip form. The hash is therefore independent of key
// insertion order and of the formatting of any stored copy of the record.
//
// The top-level fields named in ExcludedFields never contribute to a hash so
// a record can carry its own digest, Merkle root and signature.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// ExcludedFields are the top-level keys stripped before hashing.
var ExcludedFields = []string{"hash", "merkle_root", "signature"}

// Marshal returns the canonical JSON form of record with ExcludedFields
// removed from the top-level object.
func Marshal(record any) ([]byte, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal record: %w", err)
	}
	return Transform(raw)
}

// Transform canonicalises an already-encoded JSON document.
func Transform(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical: decode record: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("canonical: trailing data after record")
	}

	if obj, ok := generic.(map[string]any); ok {
		for _, k := range ExcludedFields {
			delete(obj, k)
		}
	}

	stripped, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonical: re-marshal record: %w", err)
	}

	out, err := jcs.Transform(stripped)
	if err != nil {
		return nil, fmt.Errorf("canonical: jcs transform: %w", err)
	}
	return out, nil
}

// Hash returns the hex SHA-256 digest of record's canonical form.
func Hash(record any) (string, error) {
	b, err := Marshal(record)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashJSON is Hash for a record that is already JSON encoded, such as a
// ledger line read back from disk.
func HashJSON(raw []byte) (string, error) {
	b, err := Transform(raw)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the hex SHA-256 digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
