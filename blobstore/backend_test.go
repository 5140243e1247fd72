package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBackend(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	_, err := b.Open(ctx, "dir/missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = b.Stat(ctx, "dir/missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, b.Put(ctx, "dir/a", []byte("alpha")))
	require.NoError(t, b.Put(ctx, "dir/b", []byte("beta")))
	require.NoError(t, b.Put(ctx, "other/c", []byte("gamma")))

	size, err := b.Stat(ctx, "dir/a")
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	data, err := ReadAll(ctx, b, "dir/a")
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha"), data)

	// Put replaces atomically.
	require.NoError(t, b.Put(ctx, "dir/a", []byte("replaced")))
	data, err = ReadAll(ctx, b, "dir/a")
	require.NoError(t, err)
	assert.Equal(t, []byte("replaced"), data)

	names, err := b.List(ctx, "dir/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"dir/a", "dir/b"}, names)

	blob, err := b.Open(ctx, "dir/b")
	require.NoError(t, err)
	assert.Equal(t, int64(4), blob.Size())

	p := make([]byte, 2)
	n, err := blob.ReadAt(p, 2)
	if err != nil {
		assert.Equal(t, 2, n)
	}
	assert.Equal(t, []byte("ta"), p[:n])
	require.NoError(t, blob.Close())

	require.NoError(t, b.Delete(ctx, "dir/b"))
	require.NoError(t, b.Delete(ctx, "dir/b")) // idempotent
	_, err = b.Open(ctx, "dir/b")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, b.Put(ctx, "empty", nil))
	data, err = ReadAll(ctx, b, "empty")
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestMemoryBackend(t *testing.T) {
	testBackend(t, NewMemoryBackend())
}

func TestLocalBackend(t *testing.T) {
	testBackend(t, NewLocalBackend(t.TempDir()))
}

func TestMemoryBackendIsolation(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()

	src := []byte("original")
	require.NoError(t, b.Put(ctx, "k", src))
	src[0] = 'X'

	data, err := ReadAll(ctx, b, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), data)
}
