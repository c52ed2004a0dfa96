package memory

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/offline/cache"
)

func TestStorageOpenIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	a, err := s.Open(ctx, "enigma-cache-v1")
	require.NoError(t, err)
	b, err := s.Open(ctx, "enigma-cache-v1")
	require.NoError(t, err)
	assert.Same(t, a, b)

	names, err := s.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"enigma-cache-v1"}, names)
}

func TestCachePutReplacesEntry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, err := New().Open(ctx, "v1")
	require.NoError(t, err)

	key := cache.Key{Method: "GET", URL: "https://enigma.example/index.html"}
	require.NoError(t, c.Put(ctx, key, cache.NewResponse(http.StatusOK, nil, []byte("old"))))
	require.NoError(t, c.Put(ctx, key, cache.NewResponse(http.StatusOK, nil, []byte("new"))))

	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	got, ok, err := c.Match(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new", string(got.Body))

	// Returned snapshots are copies.
	got.Body[0] = 'X'
	again, _, _ := c.Match(ctx, key)
	assert.Equal(t, "new", string(again.Body))
}

func TestStorageDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	_, err := s.Open(ctx, "old")
	require.NoError(t, err)

	deleted, err := s.Delete(ctx, "old")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.Delete(ctx, "old")
	require.NoError(t, err)
	assert.False(t, deleted)

	ok, err := s.Has(ctx, "old")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheKeysSorted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, err := New().Open(ctx, "v1")
	require.NoError(t, err)

	for _, u := range []string{"https://e/b", "https://e/a", "https://e/c"} {
		require.NoError(t, c.Put(ctx, cache.Key{Method: "GET", URL: u}, cache.NewResponse(200, nil, nil)))
	}
	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 3)
	assert.Equal(t, "https://e/a", keys[0].URL)
	assert.Equal(t, "https://e/c", keys[2].URL)

	deleted, err := c.Delete(ctx, keys[1])
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestOpenRejectsInvalidName(t *testing.T) {
	t.Parallel()

	_, err := New().Open(context.Background(), "")
	assert.ErrorIs(t, err, cache.ErrInvalidName)
}
