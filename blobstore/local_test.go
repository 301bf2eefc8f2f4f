package blobstore

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visq/visq/compress"
)

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(ctx, "a", []byte("alpha")))
	require.NoError(t, store.Put(ctx, "b", []byte("beta")))

	data, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha"), data)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, keys)

	require.NoError(t, store.Delete(ctx, "a"))
	_, err = store.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting a key that is already gone is not an error.
	assert.NoError(t, store.Delete(ctx, "a"))
}

func TestCompressedStore(t *testing.T) {
	ctx := context.Background()
	for _, name := range []string{"zstd", "lz4", "none"} {
		t.Run(name, func(t *testing.T) {
			comp, err := compress.ByName(name)
			require.NoError(t, err)

			inner, err := NewLocal(t.TempDir())
			require.NoError(t, err)
			store := NewCompressed(inner, comp)

			payload := bytes.Repeat([]byte("classifier weights "), 200)
			require.NoError(t, store.Put(ctx, "clf", payload))

			got, err := store.Get(ctx, "clf")
			require.NoError(t, err)
			assert.Equal(t, payload, got)

			if name != "none" {
				raw, err := inner.Get(ctx, "clf")
				require.NoError(t, err)
				assert.Less(t, len(raw), len(payload), "repetitive payload must shrink on disk")
			}

			keys, err := store.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"clf"}, keys, "keys pass through unchanged")
		})
	}
}

func TestCompressorByNameUnknown(t *testing.T) {
	_, err := compress.ByName("brotli")
	assert.Error(t, err)
}
