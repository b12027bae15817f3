package kvstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/gateway/core/kvstore"
)

// testStore exercises the Store contract shared by all drivers
func testStore(t *testing.T, store kvstore.Store) {
	ctx := context.Background()

	_, err := store.Get(ctx, "token")
	assert.ErrorIs(t, err, kvstore.ErrNotFound)

	require.NoError(t, store.Set(ctx, "token", []byte("abc")))
	value, err := store.Get(ctx, "token")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(value))

	// overwrite
	require.NoError(t, store.Set(ctx, "token", []byte("def")))
	value, err = store.Get(ctx, "token")
	require.NoError(t, err)
	assert.Equal(t, "def", string(value))

	// endpoint-like keys with slashes, query strings and wildcard characters
	require.NoError(t, store.Set(ctx, "api_cache_/connections/stats", []byte(`{"total":3}`)))
	require.NoError(t, store.Set(ctx, "api_cache_/creators?page=1&q=a_b%", []byte(`[]`)))
	require.NoError(t, store.Set(ctx, "apiXcache_other", []byte(`x`)))

	keys, err := store.Keys(ctx, "api_cache_")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"api_cache_/connections/stats", "api_cache_/creators?page=1&q=a_b%"}, keys)

	value, err = store.Get(ctx, "api_cache_/creators?page=1&q=a_b%")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(value))

	require.NoError(t, store.Delete(ctx, "api_cache_/connections/stats"))
	require.NoError(t, store.Delete(ctx, "api_cache_/connections/stats"))
	_, err = store.Get(ctx, "api_cache_/connections/stats")
	assert.ErrorIs(t, err, kvstore.ErrNotFound)

	keys, err = store.Keys(ctx, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"token", "api_cache_/creators?page=1&q=a_b%", "apiXcache_other"}, keys)
}
