package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalPutGetList(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "backups")
	store, err := NewLocal(dir)
	require.NoError(t, err)

	older := KeyFor(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), "a")
	newer := KeyFor(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), "b")
	assert.Equal(t, "20240102T030405Z-a.snap.zst", older)

	require.NoError(t, store.Put(ctx, older, []byte("one")))
	require.NoError(t, store.Put(ctx, newer, []byte("two")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))

	blob, err := store.Get(ctx, older)
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), blob)

	objects, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, newer, objects[0].Key)
	assert.Equal(t, int64(3), objects[0].Size)
}

func TestLocalErrors(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(ctx, "missing"+Extension)
	assert.ErrorIs(t, err, ErrNotFound)

	for _, key := range []string{"", "..", "../escape", `a\b`} {
		assert.Error(t, store.Put(ctx, key, []byte("x")), key)
	}
}
