package trustledger

import (
	"context"
	"iter"
	"sync"

	"go.uber.org/zap"
)

// MemoryLedger is an in-memory, thread-safe Ledger implementation.
// It keeps the encoded form of every entry so Verify exercises the same
// recomputation path as the durable ledgers.
type MemoryLedger struct {
	mu      sync.RWMutex
	records [][]byte
	chain   *chain
	opts    options
}

// NewMemory creates an empty MemoryLedger.
func NewMemory(opts ...Option) *MemoryLedger {
	return &MemoryLedger{chain: newChain(), opts: buildOptions(opts)}
}

// Append implements Ledger.
func (l *MemoryLedger) Append(ctx context.Context, in *Entry) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, line, err := l.chain.seal(ctx, in, &l.opts)
	if err != nil {
		return nil, err
	}
	l.records = append(l.records, line)
	l.chain.observe(e)

	l.opts.logger.Debug("ledger entry appended",
		zap.String("entry_id", e.EntryID),
		zap.String("entry_type", string(e.EntryType)),
		zap.String("merkle_root", e.MerkleRoot),
	)
	return e, nil
}

// snapshot copies the record slice header so iteration runs without the lock.
// Records are never modified after append.
func (l *MemoryLedger) snapshot() [][]byte {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.records[:len(l.records):len(l.records)]
}

func (l *MemoryLedger) rawRecords() iter.Seq2[record, error] {
	recs := l.snapshot()
	return func(yield func(record, error) bool) {
		for i, data := range recs {
			if !yield(record{pos: i + 1, data: data}, nil) {
				return
			}
		}
	}
}

// Entries implements Ledger.
func (l *MemoryLedger) Entries(_ context.Context) iter.Seq2[*Entry, error] {
	return entriesOf(l.rawRecords())
}

// Get implements Ledger.
func (l *MemoryLedger) Get(ctx context.Context, entryID string) (*Entry, error) {
	return findEntry(l.Entries(ctx), entryID)
}

// Len implements Ledger.
func (l *MemoryLedger) Len(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain.len(), nil
}

// Root implements Ledger.
func (l *MemoryLedger) Root(_ context.Context) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain.root(), nil
}

// Verify implements Ledger.
func (l *MemoryLedger) Verify(ctx context.Context) (*VerificationReport, error) {
	return verifyRecords(ctx, l.rawRecords(), l.opts.verifier)
}
