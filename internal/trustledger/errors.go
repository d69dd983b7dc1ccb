package trustledger

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when no entry has the requested ID.
var ErrNotFound = errors.New("ledger entry not found")

// ValidationError reports a malformed entry handed to Append or Normalize.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DuplicateEntryError is returned when an entry_id is already present.
type DuplicateEntryError struct {
	EntryID string
}

func (e *DuplicateEntryError) Error() string {
	return fmt.Sprintf("duplicate entry_id %q", e.EntryID)
}

// Kinds of CorruptEntryError.
const (
	CorruptJSON      = "invalid_json"
	CorruptSchema    = "missing_fields"
	CorruptBlank     = "blank_line"
	CorruptTruncated = "truncated"
)

// CorruptEntryError reports a stored record that cannot be parsed. Line is
// the 1-based line number for file ledgers and the row index otherwise.
type CorruptEntryError struct {
	Kind string
	Line int
	Err  error
}

func (e *CorruptEntryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt ledger record at line %d (%s): %v", e.Line, e.Kind, e.Err)
	}
	return fmt.Sprintf("corrupt ledger record at line %d (%s)", e.Line, e.Kind)
}

func (e *CorruptEntryError) Unwrap() error { return e.Err }

// IntegrityMismatchError reports a stored value that disagrees with its
// recomputation. Field is one of hash, merkle_root, entry_id or signature.
type IntegrityMismatchError struct {
	EntryID  string `json:"entry_id"`
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

func (e *IntegrityMismatchError) Error() string {
	return fmt.Sprintf("integrity mismatch at entry %q: %s expected %s, stored %s",
		e.EntryID, e.Field, e.Expected, e.Actual)
}
