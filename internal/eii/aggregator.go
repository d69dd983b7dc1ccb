package eii

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/IntegrityLedger/internal/trustledger"
)

// DefaultAuthor is recorded on snapshots appended by the aggregator.
const DefaultAuthor = "EII Aggregator"

// maxIDAttempts bounds retries when a concurrent writer takes the same
// per-day sequence number.
const maxIDAttempts = 3

// Aggregator records EII snapshots in a ledger and reads them back.
type Aggregator struct {
	ledger trustledger.Ledger
	logger *zap.Logger
	author string
	now    func() time.Time
}

// NewAggregator creates an Aggregator writing to l.
func NewAggregator(l trustledger.Ledger, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{ledger: l, logger: logger, author: DefaultAuthor, now: time.Now}
}

// Recorded is the outcome of Record.
type Recorded struct {
	Snapshot Snapshot           `json:"snapshot"`
	Trend    TrendResult        `json:"trend"`
	Entry    *trustledger.Entry `json:"entry"`
}

// Record computes the EII for m, appends an eii_snapshot entry and returns
// the snapshot with the trend including it.
func (a *Aggregator) Record(ctx context.Context, m Metrics, commit string) (*Recorded, error) {
	if err := m.Validate(); err != nil {
		return nil, &trustledger.ValidationError{Field: "metrics", Reason: err.Error()}
	}
	score := Compute(m)
	now := a.now().UTC()

	hist, lastSeq, err := a.scan(ctx, now)
	if err != nil {
		return nil, err
	}

	snap := Snapshot{
		Timestamp: now,
		Commit:    strings.TrimSpace(commit),
		EII:       &score,
		Metrics:   m,
		Tags:      Tags(m, score),
	}
	seq := lastSeq + 1

	for attempt := 0; ; attempt++ {
		snap.ID = SnapshotID(now, seq)
		entry, err := trustledger.NewEntry(trustledger.TypeEIISnapshot, a.author, snap)
		if err != nil {
			return nil, err
		}
		entry.EntryID = snap.ID
		entry.Timestamp = now

		stored, err := a.ledger.Append(ctx, entry)
		var dup *trustledger.DuplicateEntryError
		if errors.As(err, &dup) && attempt+1 < maxIDAttempts {
			seq++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("append eii snapshot: %w", err)
		}

		hist.Add(snap)
		trend, _ := hist.Trend()
		a.logger.Info("eii snapshot recorded",
			zap.String("id", snap.ID),
			zap.Float64("eii", score),
			zap.String("trend", string(trend.Direction)),
		)
		return &Recorded{Snapshot: snap, Trend: trend, Entry: stored}, nil
	}
}

// SnapshotID formats the ID of the seq-th snapshot of the UTC day of t.
func SnapshotID(t time.Time, seq int) string {
	return fmt.Sprintf("eii-%s-%03d", t.UTC().Format(time.DateOnly), seq)
}

// daySequence returns the per-day sequence number encoded in id when id is a
// snapshot ID for the day identified by prefix.
func daySequence(id, prefix string) (int, bool) {
	rest, ok := strings.CutPrefix(id, prefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// History loads the last HistoryLimit snapshots from the ledger. Malformed
// entries are logged and skipped; they remain visible to ledger verification.
func (a *Aggregator) History(ctx context.Context) (*History, error) {
	h, _, err := a.scan(ctx, a.now())
	return h, err
}

// scan reads the whole ledger once. It returns the bounded snapshot history
// and the highest snapshot sequence already used on the UTC day of day.
func (a *Aggregator) scan(ctx context.Context, day time.Time) (*History, int, error) {
	prefix := "eii-" + day.UTC().Format(time.DateOnly) + "-"
	h := &History{}
	last := 0
	for e, err := range a.ledger.Entries(ctx) {
		if err != nil {
			var ce *trustledger.CorruptEntryError
			if errors.As(err, &ce) {
				a.logger.Warn("skipping corrupt ledger record", zap.Error(err))
				continue
			}
			return nil, 0, fmt.Errorf("read eii history: %w", err)
		}
		if n, ok := daySequence(e.EntryID, prefix); ok && n > last {
			last = n
		}
		if e.EntryType != trustledger.TypeEIISnapshot {
			continue
		}
		var s Snapshot
		if err := e.DecodePayload(&s); err != nil {
			a.logger.Warn("skipping undecodable eii snapshot",
				zap.String("entry_id", e.EntryID), zap.Error(err))
			continue
		}
		if s.ID == "" {
			s.ID = e.EntryID
		}
		if s.Timestamp.IsZero() {
			s.Timestamp = e.Timestamp
		}
		h.Add(s)
	}
	return h, last, nil
}

// Trend loads the history and classifies the latest EII against it.
func (a *Aggregator) Trend(ctx context.Context) (TrendResult, bool, error) {
	h, err := a.History(ctx)
	if err != nil {
		return TrendResult{}, false, err
	}
	t, ok := h.Trend()
	return t, ok, nil
}
