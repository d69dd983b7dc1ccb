package trustledger

import (
	"context"
	"iter"
	"time"

	"go.uber.org/zap"
)

// Ledger is the interface for the append-only governance ledger.
type Ledger interface {
	// Append validates e, computes its hash, cumulative Merkle root and
	// signature, and durably records it. The stored entry is returned.
	Append(ctx context.Context, e *Entry) (*Entry, error)

	// Entries yields every entry in append order. A malformed record yields
	// a *CorruptEntryError and iteration continues with the next record.
	Entries(ctx context.Context) iter.Seq2[*Entry, error]

	// Get returns the entry with the given ID or ErrNotFound.
	Get(ctx context.Context, entryID string) (*Entry, error)

	// Len returns the number of entries.
	Len(ctx context.Context) (int, error)

	// Root returns the Merkle root over all entries, or EmptyRoot.
	Root(ctx context.Context) (string, error)

	// Verify recomputes every hash and cumulative root from the stored data.
	// Integrity failures are reported in the VerificationReport; the error
	// is reserved for failures to read the ledger.
	Verify(ctx context.Context) (*VerificationReport, error)
}

// Digest is the material a Signer signs for one entry.
type Digest struct {
	EntryID    string
	Hash       string
	MerkleRoot string
}

// Signer produces a detached signature for a sealed entry. An empty
// signature leaves the entry unsigned.
type Signer interface {
	Sign(ctx context.Context, d Digest) (string, error)
}

// SignatureVerifier checks a signature previously produced by a Signer.
type SignatureVerifier interface {
	VerifySignature(d Digest, signature string) error
}

// Option configures a ledger implementation.
type Option func(*options)

type options struct {
	signer   Signer
	verifier SignatureVerifier
	logger   *zap.Logger
	now      func() time.Time
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithSigner attaches a signer used for every appended entry.
func WithSigner(s Signer) Option {
	return func(o *options) { o.signer = s }
}

// WithSignatureVerifier makes Verify check every real signature.
func WithSignatureVerifier(v SignatureVerifier) Option {
	return func(o *options) { o.verifier = v }
}

// WithLogger sets the logger. The default discards output.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the time source used for entries without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
