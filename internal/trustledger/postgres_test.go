package trustledger_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmerrifield20/IntegrityLedger/internal/trustledger"
)

func expectAppendPrelude(mock pgxmock.PgxPoolIface, since int64, tail *pgxmock.Rows) {
	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT idx, entry_id, hash, ts FROM ledger_entries").
		WithArgs(since).
		WillReturnRows(tail)
}

func tailRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"idx", "entry_id", "hash", "ts"})
}

func TestPostgresLedger_appendEmpty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectAppendPrelude(mock, 0, tailRows())
	mock.ExpectExec("INSERT INTO ledger_entries").
		WithArgs(int64(1), "A", "audit_signoff", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	l := trustledger.NewPostgres(mock)
	e, err := l.Append(ctx, mustEntry(t, "A", trustledger.TypeAuditSignoff, map[string]string{"title": "A"}))
	require.NoError(t, err)
	assert.Equal(t, e.Hash, e.MerkleRoot)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_appendFoldsInOtherWriters(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	prior := strings.Repeat("a", 64)
	expectAppendPrelude(mock, 0, tailRows().AddRow(int64(1), "X", prior, time.Now().UTC()))
	mock.ExpectExec("INSERT INTO ledger_entries").
		WithArgs(int64(2), "A", "audit_signoff", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	l := trustledger.NewPostgres(mock)
	e, err := l.Append(ctx, mustEntry(t, "A", trustledger.TypeAuditSignoff, nil))
	require.NoError(t, err)
	assert.Equal(t, trustledger.MerkleRoot([]string{prior, e.Hash}), e.MerkleRoot)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_duplicateRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectAppendPrelude(mock, 0, tailRows().AddRow(int64(1), "A", strings.Repeat("b", 64), time.Now().UTC()))
	mock.ExpectRollback()

	l := trustledger.NewPostgres(mock)
	_, err = l.Append(ctx, mustEntry(t, "A", trustledger.TypeAuditSignoff, nil))
	var dup *trustledger.DuplicateEntryError
	require.True(t, errors.As(err, &dup), "got %v", err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_verify(t *testing.T) {
	// Produce genuine sealed documents with the memory ledger.
	src := trustledger.NewMemory()
	appendABC(t, src)
	var docs []string
	for e, err := range src.Entries(ctx) {
		require.NoError(t, err)
		b, err := json.Marshal(e)
		require.NoError(t, err)
		docs = append(docs, string(b))
	}

	t.Run("valid", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		rows := pgxmock.NewRows([]string{"idx", "doc"})
		for i, d := range docs {
			rows.AddRow(int64(i+1), d)
		}
		mock.ExpectQuery("SELECT idx, doc FROM ledger_entries").WillReturnRows(rows)

		rep, err := trustledger.NewPostgres(mock).Verify(ctx)
		require.NoError(t, err)
		assert.True(t, rep.Valid)
		assert.Equal(t, 3, rep.Entries)

		root, err := src.Root(ctx)
		require.NoError(t, err)
		assert.Equal(t, root, rep.MerkleRoot)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("tampered", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		rows := pgxmock.NewRows([]string{"idx", "doc"}).
			AddRow(int64(1), docs[0]).
			AddRow(int64(2), strings.Replace(docs[1], `"title":"B"`, `"title":"Q"`, 1)).
			AddRow(int64(3), docs[2])
		mock.ExpectQuery("SELECT idx, doc FROM ledger_entries").WillReturnRows(rows)

		rep, err := trustledger.NewPostgres(mock).Verify(ctx)
		require.NoError(t, err)
		assert.False(t, rep.Valid)
		assert.Equal(t, "B", rep.FirstDivergence)
	})
}

func TestPostgresLedger_getNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT idx, doc FROM ledger_entries WHERE entry_id").
		WithArgs("Z").
		WillReturnError(pgx.ErrNoRows)

	_, err = trustledger.NewPostgres(mock).Get(ctx, "Z")
	assert.ErrorIs(t, err, trustledger.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_len(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT COUNT").WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))

	n, err := trustledger.NewPostgres(mock).Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}
