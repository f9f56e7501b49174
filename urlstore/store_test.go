package urlstore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, store Store) {
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "f1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "f1", "https://tus.io/files/a"))
	require.NoError(t, store.Set(ctx, "f2", "https://tus.io/files/b"))

	url, ok, err := store.Get(ctx, "f1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "https://tus.io/files/a", url)

	// last write wins
	require.NoError(t, store.Set(ctx, "f1", "https://tus.io/files/c"))
	url, ok, err = store.Get(ctx, "f1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "https://tus.io/files/c", url)

	require.NoError(t, store.Delete(ctx, "f1"))
	require.NoError(t, store.Delete(ctx, "missing"))

	_, ok, err = store.Get(ctx, "f1")
	require.NoError(t, err)
	assert.False(t, ok)

	url, ok, err = store.Get(ctx, "f2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "https://tus.io/files/b", url)
}

func TestMemory(t *testing.T) {
	testStore(t, NewMemory())
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "uploads.json")
	store, err := NewFile(path)
	require.NoError(t, err)

	testStore(t, store)

	reopened, err := NewFile(path)
	require.NoError(t, err)
	url, ok, err := reopened.Get(context.Background(), "f2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "https://tus.io/files/b", url)
}

func TestFile_ConcurrentSet(t *testing.T) {
	store, err := NewFile(filepath.Join(t.TempDir(), "uploads.json"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, fp := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(fp string) {
			defer wg.Done()
			assert.NoError(t, store.Set(context.Background(), fp, "https://tus.io/files/"+fp))
		}(fp)
	}
	wg.Wait()

	for _, fp := range []string{"a", "b", "c", "d"} {
		_, ok, err := store.Get(context.Background(), fp)
		require.NoError(t, err)
		assert.True(t, ok, fp)
	}
}

func TestNewFile_EmptyPath(t *testing.T) {
	_, err := NewFile("")
	assert.Error(t, err)
}

func TestSQL(t *testing.T) {
	store, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "uploads.db"))
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, store.Close())
	}()

	testStore(t, store)
}
