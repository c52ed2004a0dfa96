package sqlite

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/offline/cache"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "offline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open("  ")
	assert.Error(t, err)
}

func TestCachePutMatchReplace(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t)
	c, err := s.Open(ctx, "enigma-cache-v1")
	require.NoError(t, err)

	key := cache.Key{Method: "GET", URL: "https://enigma.example/words.json"}
	first := cache.NewResponse(http.StatusOK, http.Header{"Content-Type": {"application/json"}}, []byte(`["alpha"]`))
	first.StoredAt = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	require.NoError(t, c.Put(ctx, key, first))
	require.NoError(t, c.Put(ctx, key, cache.NewResponse(http.StatusOK, nil, []byte(`["beta"]`))))

	got, ok, err := c.Match(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `["beta"]`, string(got.Body))

	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []cache.Key{key}, keys)
}

func TestCacheMatchMissing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, err := openStore(t).Open(ctx, "v1")
	require.NoError(t, err)

	_, ok, err := c.Match(ctx, cache.Key{Method: "GET", URL: "https://enigma.example/none"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheDetectsTamperedBody(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t)
	c, err := s.Open(ctx, "v1")
	require.NoError(t, err)

	key := cache.Key{Method: "GET", URL: "https://enigma.example/app.js"}
	require.NoError(t, c.Put(ctx, key, cache.NewResponse(http.StatusOK, nil, []byte("ok"))))

	_, err = s.DB().ExecContext(ctx, `UPDATE entries SET body = ? WHERE url = ?`, []byte("evil"), key.URL)
	require.NoError(t, err)

	_, ok, err := c.Match(ctx, key)
	require.ErrorIs(t, err, cache.ErrCorrupt)
	assert.False(t, ok)

	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStoreDeleteCascades(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t)
	for _, name := range []string{"enigma-cache-v1", "enigma-cache-v2"} {
		c, err := s.Open(ctx, name)
		require.NoError(t, err)
		require.NoError(t, c.Put(ctx, cache.Key{Method: "GET", URL: "https://e/index.html"}, cache.NewResponse(200, nil, []byte(name))))
	}

	names, err := s.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"enigma-cache-v1", "enigma-cache-v2"}, names)

	deleted, err := s.Delete(ctx, "enigma-cache-v1")
	require.NoError(t, err)
	assert.True(t, deleted)

	var count int
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&count))
	assert.Equal(t, 1, count)

	has, err := s.Has(ctx, "enigma-cache-v1")
	require.NoError(t, err)
	assert.False(t, has)
	has, err = s.Has(ctx, "enigma-cache-v2")
	require.NoError(t, err)
	assert.True(t, has)
}
