package trustledger

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// advisoryLockKey is a stable PostgreSQL advisory lock key used to serialise
// concurrent Append calls. The value is arbitrary but must be consistent
// across all ledger instances sharing a database.
const advisoryLockKey = int64(1_159_876_544)

// PgxPool is the subset of *pgxpool.Pool used by PostgresLedger.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresLedger persists ledger entries in the ledger_entries table. The
// doc column holds the exact encoded entry so Verify hashes the stored
// bytes; the remaining columns are indexes over it.
type PostgresLedger struct {
	pool PgxPool
	opts options

	mu    sync.Mutex
	chain *chain
	rows  int64
}

// NewPostgres creates a PostgresLedger backed by pool.
func NewPostgres(pool PgxPool, opts ...Option) *PostgresLedger {
	return &PostgresLedger{pool: pool, opts: buildOptions(opts), chain: newChain()}
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// catchUp folds rows appended since the last look into the chain. The
// caller holds l.mu.
func (l *PostgresLedger) catchUp(ctx context.Context, q queryer) error {
	rows, err := q.Query(ctx,
		`SELECT idx, entry_id, hash, ts FROM ledger_entries WHERE idx > $1 ORDER BY idx ASC`,
		l.rows,
	)
	if err != nil {
		return fmt.Errorf("read ledger tail: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			idx int64
			e   Entry
		)
		if err := rows.Scan(&idx, &e.EntryID, &e.Hash, &e.Timestamp); err != nil {
			return fmt.Errorf("scan ledger row: %w", err)
		}
		l.chain.observe(&e)
		l.rows = idx
	}
	return rows.Err()
}

// Append implements Ledger.
// It acquires a PostgreSQL advisory lock, folds in rows written by other
// instances, seals the entry and inserts it within a single transaction.
func (l *PostgresLedger) Append(ctx context.Context, in *Entry) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Released automatically when the transaction commits or rolls back.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	if err := l.catchUp(ctx, tx); err != nil {
		return nil, err
	}

	e, doc, err := l.chain.seal(ctx, in, &l.opts)
	if err != nil {
		return nil, err
	}
	idx := l.rows + 1

	if _, err := tx.Exec(ctx,
		`INSERT INTO ledger_entries (idx, entry_id, entry_type, ts, hash, merkle_root, doc)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		idx, e.EntryID, string(e.EntryType), e.Timestamp, e.Hash, e.MerkleRoot, string(doc),
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, &DuplicateEntryError{EntryID: e.EntryID}
		}
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit ledger tx: %w", err)
	}
	l.chain.observe(e)
	l.rows = idx

	l.opts.logger.Debug("ledger entry appended",
		zap.Int64("idx", idx),
		zap.String("entry_id", e.EntryID),
		zap.String("entry_type", string(e.EntryType)),
	)
	return e, nil
}

func (l *PostgresLedger) rawRecords(ctx context.Context) iter.Seq2[record, error] {
	return func(yield func(record, error) bool) {
		rows, err := l.pool.Query(ctx, `SELECT idx, doc FROM ledger_entries ORDER BY idx ASC`)
		if err != nil {
			yield(record{}, fmt.Errorf("query ledger: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				idx int64
				doc string
			)
			if err := rows.Scan(&idx, &doc); err != nil {
				yield(record{}, fmt.Errorf("scan ledger row: %w", err))
				return
			}
			if !yield(record{pos: int(idx), data: []byte(doc)}, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(record{}, fmt.Errorf("iterate ledger rows: %w", err))
		}
	}
}

// Entries implements Ledger.
func (l *PostgresLedger) Entries(ctx context.Context) iter.Seq2[*Entry, error] {
	return entriesOf(l.rawRecords(ctx))
}

// Get implements Ledger.
func (l *PostgresLedger) Get(ctx context.Context, entryID string) (*Entry, error) {
	var (
		idx int64
		doc string
	)
	err := l.pool.QueryRow(ctx,
		`SELECT idx, doc FROM ledger_entries WHERE entry_id = $1`, entryID,
	).Scan(&idx, &doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry %s: %w", entryID, err)
	}
	return decodeRecord(record{pos: int(idx), data: []byte(doc)})
}

// Len implements Ledger.
func (l *PostgresLedger) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.pool.QueryRow(ctx, "SELECT COUNT(*) FROM ledger_entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger entries: %w", err)
	}
	return n, nil
}

// Root implements Ledger.
func (l *PostgresLedger) Root(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.catchUp(ctx, l.pool); err != nil {
		return "", err
	}
	return l.chain.root(), nil
}

// Verify implements Ledger. It streams every row ordered by idx.
func (l *PostgresLedger) Verify(ctx context.Context) (*VerificationReport, error) {
	return verifyRecords(ctx, l.rawRecords(ctx), l.opts.verifier)
}
