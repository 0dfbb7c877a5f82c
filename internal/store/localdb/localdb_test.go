package localdb_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/airactl/internal/domain"
	"github.com/gosuda/airactl/internal/store/localdb"
)

func openTestDB(t *testing.T) (*localdb.DB, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "airactl.db")
	db, err := localdb.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, path
}

func TestPutGet(t *testing.T) {
	t.Parallel()

	db, _ := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Put(ctx, localdb.BlobHistory, []byte(`{"turns":{}}`)))

	got, err := db.Get(ctx, localdb.BlobHistory)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"turns":{}}`), got)
}

func TestPut_Overwrites(t *testing.T) {
	t.Parallel()

	db, _ := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Put(ctx, localdb.BlobMessages, []byte("v1")))
	require.NoError(t, db.Put(ctx, localdb.BlobMessages, []byte("v2")))

	got, err := db.Get(ctx, localdb.BlobMessages)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestGet_Missing(t *testing.T) {
	t.Parallel()

	db, _ := openTestDB(t)

	_, err := db.Get(context.Background(), "nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDelete(t *testing.T) {
	t.Parallel()

	db, _ := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Put(ctx, "x", []byte("v")))
	require.NoError(t, db.Delete(ctx, "x"))

	_, err := db.Get(ctx, "x")
	require.ErrorIs(t, err, domain.ErrNotFound)

	// Deleting again is a no-op.
	require.NoError(t, db.Delete(ctx, "x"))
}

func TestReopen_Durable(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "airactl.db")
	ctx := context.Background()

	db, err := localdb.Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Put(ctx, localdb.BlobHistory, []byte("survives")))
	require.NoError(t, db.Close())

	db2, err := localdb.Open(path)
	require.NoError(t, err)
	defer db2.Close()

	got, err := db2.Get(ctx, localdb.BlobHistory)
	require.NoError(t, err)
	assert.Equal(t, []byte("survives"), got)
}
