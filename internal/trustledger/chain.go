package trustledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmerrifield20/IntegrityLedger/internal/canonical"
	"go.uber.org/zap"
)

// record is one stored entry in its raw encoded form. pos is the line number
// for file ledgers and the row index for database ledgers.
type record struct {
	pos  int
	data []byte
}

// chain is the append-side view of a ledger: the set of known entry IDs and
// the Merkle accumulator over stored hashes. It trusts stored hashes; Verify
// is the place where they are recomputed.
type chain struct {
	ids  map[string]struct{}
	acc  accumulator
	last time.Time
}

func newChain() *chain {
	return &chain{ids: make(map[string]struct{})}
}

func (c *chain) observe(e *Entry) {
	c.ids[e.EntryID] = struct{}{}
	c.acc.Add(e.Hash)
	if e.Timestamp.After(c.last) {
		c.last = e.Timestamp
	}
}

func (c *chain) len() int     { return c.acc.Len() }
func (c *chain) root() string { return c.acc.Root() }

// seal validates in, assigns hash, Merkle root and signature against the
// current chain state, and returns the sealed entry with its encoding. The
// chain itself is not modified; call observe once the entry is durable.
func (c *chain) seal(ctx context.Context, in *Entry, o *options) (*Entry, []byte, error) {
	e, err := prepare(in, o.now())
	if err != nil {
		return nil, nil, err
	}
	if _, dup := c.ids[e.EntryID]; dup {
		return nil, nil, &DuplicateEntryError{EntryID: e.EntryID}
	}

	e.Hash, err = canonical.Hash(e)
	if err != nil {
		return nil, nil, fmt.Errorf("hash entry %s: %w", e.EntryID, err)
	}
	e.MerkleRoot = c.acc.RootWith(e.Hash)

	if o.signer != nil {
		sig, err := o.signer.Sign(ctx, Digest{EntryID: e.EntryID, Hash: e.Hash, MerkleRoot: e.MerkleRoot})
		if err != nil {
			return nil, nil, fmt.Errorf("sign entry %s: %w", e.EntryID, err)
		}
		if sig != "" {
			e.Signature = &sig
		}
	}

	if e.Timestamp.Before(c.last) {
		o.logger.Warn("ledger entry timestamp precedes previous entry",
			zap.String("entry_id", e.EntryID),
			zap.Time("timestamp", e.Timestamp),
			zap.Time("previous", c.last),
		)
	}

	line, err := json.Marshal(e)
	if err != nil {
		return nil, nil, fmt.Errorf("encode entry %s: %w", e.EntryID, err)
	}
	return e, line, nil
}

// decodeRecord parses a stored entry and checks the fields every sealed
// entry must carry.
func decodeRecord(r record) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(r.data, &e); err != nil {
		return nil, &CorruptEntryError{Kind: CorruptJSON, Line: r.pos, Err: err}
	}
	switch {
	case e.EntryID == "":
		return nil, &CorruptEntryError{Kind: CorruptSchema, Line: r.pos, Err: errors.New("missing entry_id")}
	case e.Hash == "":
		return nil, &CorruptEntryError{Kind: CorruptSchema, Line: r.pos, Err: errors.New("missing hash")}
	case e.MerkleRoot == "":
		return nil, &CorruptEntryError{Kind: CorruptSchema, Line: r.pos, Err: errors.New("missing merkle_root")}
	}
	return &e, nil
}

// entriesOf adapts a record stream into an entry stream.
func entriesOf(records func(yield func(record, error) bool)) func(yield func(*Entry, error) bool) {
	return func(yield func(*Entry, error) bool) {
		for r, err := range records {
			if err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}
			if !yield(decodeRecord(r)) {
				return
			}
		}
	}
}

// findEntry scans an entry stream for id.
func findEntry(entries func(yield func(*Entry, error) bool), id string) (*Entry, error) {
	for e, err := range entries {
		if err != nil {
			var ce *CorruptEntryError
			if errors.As(err, &ce) {
				continue
			}
			return nil, err
		}
		if e.EntryID == id {
			return e, nil
		}
	}
	return nil, ErrNotFound
}
