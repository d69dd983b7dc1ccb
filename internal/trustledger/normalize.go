package trustledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Issue describes a repair Normalize applied to a legacy record.
type Issue struct {
	Field   string `json:"field"`
	Level   string `json:"level"` // "warning" or "info"
	Message string `json:"message"`
}

// legacyTypes maps entry type spellings from older ledgers onto the
// registered types.
var legacyTypes = map[string]EntryType{
	"eii_baseline":       TypeEIISnapshot,
	"eii":                TypeEIISnapshot,
	"feedback":           TypeFeedbackSubmission,
	"federation":         TypeFederationVerification,
	"federation_check":   TypeFederationVerification,
	"governance_signoff": TypeAuditSignoff,
	"signoff":            TypeAuditSignoff,
	"release_signoff":    TypeAuditSignoff,
	"feedback_summary":   TypeFeedbackSynthesis,
	"feedback_aggregate": TypeFeedbackSynthesis,
	"federation_trust":   TypeFederationVerification,
	"audit":              TypeAuditSignoff,
	"legacy":             TypeLegacyRecord,
}

// consumedKeys are legacy fields that map onto entry fields rather than the
// payload. Stored digests are dropped; the record is re-sealed on append.
var consumedKeys = []string{
	"entry_id", "id", "entryId",
	"entry_type", "entryType", "ledger_entry_type", "type",
	"author", "responsible", "responsibleRoles", "responsible_roles",
	"timestamp",
	"hash", "merkle_root", "merkleRoot",
	"signature",
}

// Normalize converts a record from an older ledger format into an unsealed
// Entry ready for Append, together with the repairs it made. A record whose
// timestamp cannot be determined is rejected with a ValidationError.
func Normalize(raw map[string]any) (*Entry, []Issue, error) {
	var issues []Issue
	warn := func(field, format string, args ...any) {
		issues = append(issues, Issue{Field: field, Level: "warning", Message: fmt.Sprintf(format, args...)})
	}
	info := func(field, format string, args ...any) {
		issues = append(issues, Issue{Field: field, Level: "info", Message: fmt.Sprintf(format, args...)})
	}

	e := &Entry{}

	ts, err := legacyTimestamp(raw)
	if err != nil {
		return nil, nil, err
	}
	e.Timestamp = ts

	e.EntryType = legacyType(raw, warn)

	e.EntryID = firstString(raw, "entry_id", "id", "entryId")
	if e.EntryID == "" {
		e.EntryID = DeriveEntryID(e.EntryType, e.Timestamp)
		warn("entry_id", "missing entry_id, derived %q", e.EntryID)
	}

	e.Author = normalizeAuthor(legacyAuthor(raw))
	if e.Author == "" {
		e.Author = "unattributed"
		warn("author", "no author, responsible party or signers found")
	}

	if sig, ok := raw["signature"].(string); ok && strings.TrimSpace(sig) != "" {
		e.Signature = &sig
	} else {
		placeholder := PlaceholderSignature
		e.Signature = &placeholder
		info("signature", "missing signature, set to %q", PlaceholderSignature)
	}

	if _, ok := raw["hash"]; ok {
		info("hash", "stored hash dropped; the entry is re-hashed on append")
	}

	payload, err := legacyPayload(raw)
	if err != nil {
		return nil, nil, &ValidationError{Field: "payload", Reason: err.Error()}
	}
	e.Payload = payload
	return e, issues, nil
}

func firstString(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := raw[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func legacyTimestamp(raw map[string]any) (time.Time, error) {
	if s := firstString(raw, "timestamp"); s != "" {
		ts, err := parseLegacyTime(s)
		if err != nil {
			return time.Time{}, &ValidationError{Field: "timestamp", Reason: err.Error()}
		}
		return ts, nil
	}
	if s := firstString(raw, "approved_date"); s != "" {
		if !strings.Contains(s, "T") {
			s += "T00:00:00Z"
		}
		ts, err := parseLegacyTime(s)
		if err != nil {
			return time.Time{}, &ValidationError{Field: "approved_date", Reason: err.Error()}
		}
		return ts, nil
	}
	return time.Time{}, &ValidationError{Field: "timestamp", Reason: "no timestamp or approved_date"}
}

func parseLegacyTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable time %q", s)
}

func legacyType(raw map[string]any, warn func(field, format string, args ...any)) EntryType {
	name := firstString(raw, "entry_type", "entryType", "ledger_entry_type", "type")
	if name == "" {
		if _, ok := raw["eii"]; ok {
			warn("entry_type", "missing entry_type, inferred %q from eii field", TypeEIISnapshot)
			return TypeEIISnapshot
		}
		warn("entry_type", "missing entry_type, using %q", TypeLegacyRecord)
		return TypeLegacyRecord
	}
	key := strings.ReplaceAll(strings.ToLower(name), "-", "_")
	if t := EntryType(key); t.Valid() {
		return t
	}
	if t, ok := legacyTypes[key]; ok {
		return t
	}
	warn("entry_type", "unknown entry_type %q, using %q", name, TypeLegacyRecord)
	return TypeLegacyRecord
}

// legacyAuthor resolves the author from, in order: author, responsible,
// signers, responsibleRoles and responsible_roles.
func legacyAuthor(raw map[string]any) string {
	if s := firstString(raw, "author", "responsible"); s != "" {
		return s
	}
	if signers, ok := raw["signers"].([]any); ok && len(signers) > 0 {
		names := make([]string, 0, len(signers))
		for _, s := range signers {
			name := "Unknown"
			if m, ok := s.(map[string]any); ok {
				if n := firstString(m, "name", "alias"); n != "" {
					name = n
				}
			} else if str, ok := s.(string); ok && strings.TrimSpace(str) != "" {
				name = strings.TrimSpace(str)
			}
			names = append(names, name)
		}
		return strings.Join(names, ", ")
	}
	for _, key := range []string{"responsibleRoles", "responsible_roles"} {
		switch v := raw[key].(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				return v
			}
		case []any:
			var roles []string
			for _, r := range v {
				if s, ok := r.(string); ok && strings.TrimSpace(s) != "" {
					roles = append(roles, s)
				}
			}
			if len(roles) > 0 {
				return strings.Join(roles, ", ")
			}
		}
	}
	return ""
}

// legacyPayload uses an explicit payload object when present and otherwise
// gathers every field not mapped onto the entry.
func legacyPayload(raw map[string]any) (json.RawMessage, error) {
	if p, ok := raw["payload"]; ok && p != nil {
		return json.Marshal(p)
	}
	rest := make(map[string]any, len(raw))
	for k, v := range raw {
		rest[k] = v
	}
	for _, k := range consumedKeys {
		delete(rest, k)
	}
	return json.Marshal(rest)
}

// NormalizeReport summarises a batch normalisation run.
type NormalizeReport struct {
	Records   int                `json:"records"`
	Converted int                `json:"converted"`
	Rejected  int                `json:"rejected"`
	Issues    map[string][]Issue `json:"issues,omitempty"`
	Errors    map[string]string  `json:"errors,omitempty"`
}

// Note records the outcome for one record, keyed by its entry ID or line.
func (r *NormalizeReport) Note(key string, issues []Issue, err error) {
	r.Records++
	if err != nil {
		r.Rejected++
		if r.Errors == nil {
			r.Errors = make(map[string]string)
		}
		r.Errors[key] = err.Error()
		return
	}
	r.Converted++
	if len(issues) > 0 {
		if r.Issues == nil {
			r.Issues = make(map[string][]Issue)
		}
		r.Issues[key] = issues
	}
}

// Keys returns the record keys with issues in sorted order.
func (r *NormalizeReport) Keys() []string {
	keys := make([]string, 0, len(r.Issues))
	for k := range r.Issues {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
