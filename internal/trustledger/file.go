package trustledger

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// FileLedger stores entries as newline-delimited JSON, one entry per line,
// in append order. The file is the single source of truth: before every
// append the ledger folds in lines written by other processes since its
// last look, so several processes can share one ledger file.
type FileLedger struct {
	path string
	opts options

	mu     sync.Mutex
	chain  *chain
	synced int64 // bytes of the file already folded into chain
	lines  int
}

// OpenFile opens or creates the ledger file at path.
func OpenFile(path string, opts ...Option) (*FileLedger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close ledger %s: %w", path, err)
	}
	return &FileLedger{path: path, opts: buildOptions(opts), chain: newChain()}, nil
}

// Path returns the ledger file location.
func (l *FileLedger) Path() string { return l.path }

// Append implements Ledger. The entry is written with a single write call
// on an O_APPEND descriptor while holding an exclusive flock, then synced.
// A rejected entry leaves the file untouched.
func (l *FileLedger) Append(ctx context.Context, in *Entry) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", l.path, err)
	}
	defer f.Close()

	unlock, err := lockFile(f, true)
	if err != nil {
		return nil, fmt.Errorf("lock ledger %s: %w", l.path, err)
	}
	defer unlock()

	if err := l.catchUp(f); err != nil {
		return nil, err
	}

	e, line, err := l.chain.seal(ctx, in, &l.opts)
	if err != nil {
		return nil, err
	}
	line = append(line, '\n')

	if _, err := f.Write(line); err != nil {
		// Drop any partial line so the file stays parseable.
		_ = f.Truncate(l.synced)
		return nil, fmt.Errorf("write ledger %s: %w", l.path, err)
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("sync ledger %s: %w", l.path, err)
	}

	l.chain.observe(e)
	l.synced += int64(len(line))
	l.lines++

	l.opts.logger.Debug("ledger entry appended",
		zap.String("path", l.path),
		zap.String("entry_id", e.EntryID),
		zap.String("entry_type", string(e.EntryType)),
		zap.String("merkle_root", e.MerkleRoot),
	)
	return e, nil
}

// catchUp folds lines beyond l.synced into the chain. The caller holds l.mu
// and a flock on f.
func (l *FileLedger) catchUp(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat ledger %s: %w", l.path, err)
	}
	if info.Size() < l.synced {
		// The file shrank underneath us; rebuild from scratch.
		l.opts.logger.Warn("ledger file shrank, rebuilding state",
			zap.String("path", l.path),
			zap.Int64("size", info.Size()),
			zap.Int64("synced", l.synced),
		)
		l.chain, l.synced, l.lines = newChain(), 0, 0
	}
	if info.Size() == l.synced {
		return nil
	}

	if _, err := f.Seek(l.synced, io.SeekStart); err != nil {
		return fmt.Errorf("seek ledger %s: %w", l.path, err)
	}
	br := bufio.NewReader(io.LimitReader(f, info.Size()-l.synced))
	for {
		rec, n, err := nextRecord(br, l.lines+1)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		e, err := decodeRecord(rec)
		if err != nil {
			return err
		}
		l.chain.observe(e)
		l.synced += int64(n)
		l.lines++
	}
}

// refresh brings the in-memory chain up to date under a shared lock.
func (l *FileLedger) refresh() error {
	f, err := os.Open(l.path)
	if err != nil {
		return fmt.Errorf("open ledger %s: %w", l.path, err)
	}
	defer f.Close()

	unlock, err := lockFile(f, false)
	if err != nil {
		return fmt.Errorf("lock ledger %s: %w", l.path, err)
	}
	defer unlock()
	return l.catchUp(f)
}

// committedSize returns the file size observed under a shared lock. Every
// byte before it belongs to a completed append.
func (l *FileLedger) committedSize(f *os.File) (int64, error) {
	unlock, err := lockFile(f, false)
	if err != nil {
		return 0, err
	}
	defer unlock()
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// rawRecords streams the committed prefix of the file without holding the
// lock during iteration, so callers may append while ranging.
func (l *FileLedger) rawRecords() iter.Seq2[record, error] {
	return func(yield func(record, error) bool) {
		f, err := os.Open(l.path)
		if errors.Is(err, fs.ErrNotExist) {
			return
		}
		if err != nil {
			yield(record{}, fmt.Errorf("open ledger %s: %w", l.path, err))
			return
		}
		defer f.Close()

		size, err := l.committedSize(f)
		if err != nil {
			yield(record{}, fmt.Errorf("lock ledger %s: %w", l.path, err))
			return
		}

		br := bufio.NewReader(io.LimitReader(f, size))
		for line := 1; ; line++ {
			rec, _, err := nextRecord(br, line)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				var ce *CorruptEntryError
				if !yield(record{}, err) || !errors.As(err, &ce) || ce.Kind == CorruptTruncated {
					return
				}
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// nextRecord reads one line. n is the number of bytes consumed including the
// terminator. A final line without a newline is reported as truncated; an
// empty line as blank.
func nextRecord(br *bufio.Reader, pos int) (record, int, error) {
	data, err := br.ReadBytes('\n')
	n := len(data)
	if err != nil {
		if errors.Is(err, io.EOF) {
			if n == 0 {
				return record{}, 0, io.EOF
			}
			return record{}, n, &CorruptEntryError{Kind: CorruptTruncated, Line: pos}
		}
		return record{}, n, fmt.Errorf("read ledger line %d: %w", pos, err)
	}
	data = bytes.TrimRight(data, "\r\n")
	if len(bytes.TrimSpace(data)) == 0 {
		return record{}, n, &CorruptEntryError{Kind: CorruptBlank, Line: pos}
	}
	return record{pos: pos, data: data}, n, nil
}

// Entries implements Ledger.
func (l *FileLedger) Entries(_ context.Context) iter.Seq2[*Entry, error] {
	return entriesOf(l.rawRecords())
}

// Get implements Ledger.
func (l *FileLedger) Get(ctx context.Context, entryID string) (*Entry, error) {
	return findEntry(l.Entries(ctx), entryID)
}

// Len implements Ledger.
func (l *FileLedger) Len(_ context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.refresh(); err != nil {
		return 0, err
	}
	return l.chain.len(), nil
}

// Root implements Ledger.
func (l *FileLedger) Root(_ context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.refresh(); err != nil {
		return "", err
	}
	return l.chain.root(), nil
}

// Verify implements Ledger.
func (l *FileLedger) Verify(ctx context.Context) (*VerificationReport, error) {
	return verifyRecords(ctx, l.rawRecords(), l.opts.verifier)
}
