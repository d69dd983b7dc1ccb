package trustledger

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// PlaceholderSignature marks an entry that is awaiting a detached signature.
const PlaceholderSignature = "pending_sign"

// EntryType tags the kind of governance event an entry records.
type EntryType string

const (
	TypeEIISnapshot            EntryType = "eii_snapshot"
	TypeFeedbackSynthesis      EntryType = "feedback_synthesis"
	TypeFeedbackSubmission     EntryType = "feedback_submission"
	TypeFederationVerification EntryType = "federation_verification"
	TypeAuditSignoff           EntryType = "audit_signoff"
	TypeLegacyRecord           EntryType = "legacy_record"
)

var knownTypes = map[EntryType]bool{
	TypeEIISnapshot:            true,
	TypeFeedbackSynthesis:      true,
	TypeFeedbackSubmission:     true,
	TypeFederationVerification: true,
	TypeAuditSignoff:           true,
	TypeLegacyRecord:           true,
}

// Valid reports whether t is one of the registered entry types.
func (t EntryType) Valid() bool { return knownTypes[t] }

// Entry is a single record in the ledger.
type Entry struct {
	EntryID    string          `json:"entry_id"`
	EntryType  EntryType       `json:"entry_type"`
	Timestamp  time.Time       `json:"timestamp"`
	Author     string          `json:"author"`
	Payload    json.RawMessage `json:"payload"`
	Hash       string          `json:"hash"`
	MerkleRoot string          `json:"merkle_root"`
	Signature  *string         `json:"signature"`
}

// Signed reports whether the entry carries a real signature rather than
// nothing or the placeholder token.
func (e *Entry) Signed() bool {
	return e.Signature != nil && *e.Signature != "" && *e.Signature != PlaceholderSignature
}

// DecodePayload unmarshals the entry payload into v.
func (e *Entry) DecodePayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// NewEntry builds an unsealed entry with payload marshalled to JSON. The
// entry ID is left empty so the ledger derives it from type and timestamp.
func NewEntry(entryType EntryType, author string, payload any) (*Entry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, &ValidationError{Field: "payload", Reason: err.Error()}
	}
	return &Entry{EntryType: entryType, Author: author, Payload: raw}, nil
}

// DeriveEntryID returns the ID used for entries appended without one:
// the entry type with dashes followed by the Unix millisecond timestamp.
func DeriveEntryID(t EntryType, ts time.Time) string {
	return strings.ReplaceAll(string(t), "_", "-") + "-" + strconv.FormatInt(ts.UTC().UnixMilli(), 10)
}

// normalizeAuthor collapses internal whitespace.
func normalizeAuthor(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// prepare validates a caller-supplied entry and fills the fields the ledger
// owns. It returns a copy; the caller's value is never modified.
func prepare(in *Entry, now time.Time) (*Entry, error) {
	if in == nil {
		return nil, &ValidationError{Field: "entry", Reason: "must not be nil"}
	}
	e := *in

	if !e.EntryType.Valid() {
		return nil, &ValidationError{Field: "entry_type", Reason: "unknown entry type " + strconv.Quote(string(e.EntryType))}
	}
	if e.Hash != "" || e.MerkleRoot != "" {
		return nil, &ValidationError{Field: "hash", Reason: "hash and merkle_root are computed by the ledger and must be empty"}
	}

	e.Author = normalizeAuthor(e.Author)
	if e.Author == "" {
		return nil, &ValidationError{Field: "author", Reason: "must not be empty"}
	}

	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	e.Timestamp = e.Timestamp.UTC()

	e.EntryID = strings.TrimSpace(e.EntryID)
	if e.EntryID == "" {
		e.EntryID = DeriveEntryID(e.EntryType, e.Timestamp)
	}
	if strings.ContainsAny(e.EntryID, "\r\n") {
		return nil, &ValidationError{Field: "entry_id", Reason: "must not contain line breaks"}
	}

	if len(e.Payload) == 0 {
		e.Payload = json.RawMessage(`{}`)
	} else if !json.Valid(e.Payload) {
		return nil, &ValidationError{Field: "payload", Reason: "must be valid JSON"}
	}

	if e.Signature != nil && *e.Signature == "" {
		e.Signature = nil
	}
	return &e, nil
}
