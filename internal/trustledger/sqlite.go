package trustledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	idx         INTEGER PRIMARY KEY,
	entry_id    TEXT    NOT NULL UNIQUE,
	entry_type  TEXT    NOT NULL,
	ts_millis   INTEGER NOT NULL,
	hash        TEXT    NOT NULL,
	merkle_root TEXT    NOT NULL,
	doc         TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS ledger_entries_type_idx ON ledger_entries (entry_type);
`

// SQLiteLedger persists ledger entries in a local SQLite database. Write
// transactions begin IMMEDIATE so concurrent processes serialise on the
// database write lock.
type SQLiteLedger struct {
	db   *sql.DB
	opts options

	mu    sync.Mutex
	chain *chain
	rows  int64
}

// OpenSQLite opens or creates a SQLite ledger at path and applies the schema.
func OpenSQLite(path string, opts ...Option) (*SQLiteLedger, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteLedger{db: db, opts: buildOptions(opts), chain: newChain()}, nil
}

// Close closes the database handle.
func (l *SQLiteLedger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

type sqlQueryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (l *SQLiteLedger) catchUp(ctx context.Context, q sqlQueryer) error {
	rows, err := q.QueryContext(ctx,
		`SELECT idx, entry_id, hash, ts_millis FROM ledger_entries WHERE idx > ? ORDER BY idx ASC`,
		l.rows,
	)
	if err != nil {
		return fmt.Errorf("read ledger tail: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			idx, ms int64
			e       Entry
		)
		if err := rows.Scan(&idx, &e.EntryID, &e.Hash, &ms); err != nil {
			return fmt.Errorf("scan ledger row: %w", err)
		}
		e.Timestamp = time.UnixMilli(ms).UTC()
		l.chain.observe(&e)
		l.rows = idx
	}
	return rows.Err()
}

// Append implements Ledger.
func (l *SQLiteLedger) Append(ctx context.Context, in *Entry) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := l.catchUp(ctx, tx); err != nil {
		return nil, err
	}

	e, doc, err := l.chain.seal(ctx, in, &l.opts)
	if err != nil {
		return nil, err
	}
	idx := l.rows + 1

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (idx, entry_id, entry_type, ts_millis, hash, merkle_root, doc)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		idx, e.EntryID, string(e.EntryType), e.Timestamp.UnixMilli(), e.Hash, e.MerkleRoot, string(doc),
	); err != nil {
		if isUniqueViolation(err) {
			return nil, &DuplicateEntryError{EntryID: e.EntryID}
		}
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
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

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func (l *SQLiteLedger) rawRecords(ctx context.Context) iter.Seq2[record, error] {
	return func(yield func(record, error) bool) {
		rows, err := l.db.QueryContext(ctx, `SELECT idx, doc FROM ledger_entries ORDER BY idx ASC`)
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
func (l *SQLiteLedger) Entries(ctx context.Context) iter.Seq2[*Entry, error] {
	return entriesOf(l.rawRecords(ctx))
}

// Get implements Ledger.
func (l *SQLiteLedger) Get(ctx context.Context, entryID string) (*Entry, error) {
	var (
		idx int64
		doc string
	)
	err := l.db.QueryRowContext(ctx,
		`SELECT idx, doc FROM ledger_entries WHERE entry_id = ?`, entryID,
	).Scan(&idx, &doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry %s: %w", entryID, err)
	}
	return decodeRecord(record{pos: int(idx), data: []byte(doc)})
}

// Len implements Ledger.
func (l *SQLiteLedger) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ledger_entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger entries: %w", err)
	}
	return n, nil
}

// Root implements Ledger.
func (l *SQLiteLedger) Root(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.catchUp(ctx, l.db); err != nil {
		return "", err
	}
	return l.chain.root(), nil
}

// Verify implements Ledger.
func (l *SQLiteLedger) Verify(ctx context.Context) (*VerificationReport, error) {
	return verifyRecords(ctx, l.rawRecords(ctx), l.opts.verifier)
}
