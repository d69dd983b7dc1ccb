package trustledger_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmerrifield20/IntegrityLedger/internal/trustledger"
)

func TestSQLiteLedger_appendVerifyReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	l, err := trustledger.OpenSQLite(path)
	require.NoError(t, err)
	appendABC(t, l)

	rep, err := l.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Valid)
	assert.Equal(t, 3, rep.Entries)

	root, err := l.Root(ctx)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	reopened, err := trustledger.OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	again, err := reopened.Root(ctx)
	require.NoError(t, err)
	assert.Equal(t, root, again)

	d, err := reopened.Append(ctx, mustEntry(t, "D", trustledger.TypeAuditSignoff, nil))
	require.NoError(t, err)

	var hashes []string
	for e, err := range reopened.Entries(ctx) {
		require.NoError(t, err)
		hashes = append(hashes, e.Hash)
	}
	assert.Len(t, hashes, 4)
	assert.Equal(t, trustledger.MerkleRoot(hashes), d.MerkleRoot)

	n, err := reopened.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestSQLiteLedger_duplicateAndGet(t *testing.T) {
	l, err := trustledger.OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer l.Close()

	appendABC(t, l)

	_, err = l.Append(ctx, mustEntry(t, "C", trustledger.TypeAuditSignoff, nil))
	var dup *trustledger.DuplicateEntryError
	assert.True(t, errors.As(err, &dup))

	b, err := l.Get(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, "B", b.EntryID)

	_, err = l.Get(ctx, "nope")
	assert.ErrorIs(t, err, trustledger.ErrNotFound)
}

func TestOpenSQLite_requiresPath(t *testing.T) {
	_, err := trustledger.OpenSQLite("  ")
	assert.Error(t, err)
}
