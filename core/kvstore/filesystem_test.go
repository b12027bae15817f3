package kvstore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/gateway/core/kvstore"
)

func TestFilesystem(t *testing.T) {
	store, err := kvstore.NewFilesystem(filepath.Join(t.TempDir(), "store"))
	require.NoError(t, err)
	testStore(t, store)
}

func TestFilesystemStaysInsideFolder(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	store, err := kvstore.NewFilesystem(filepath.Join(base, "store"))
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "../escape", []byte("x")))
	_, err = os.Stat(filepath.Join(base, "escape"))
	assert.True(t, os.IsNotExist(err))

	value, err := store.Get(ctx, "../escape")
	require.NoError(t, err)
	assert.Equal(t, "x", string(value))

	keys, err := store.Keys(ctx, "..")
	require.NoError(t, err)
	assert.Equal(t, []string{"../escape"}, keys)
}

func TestFilesystemRequiresPath(t *testing.T) {
	_, err := kvstore.NewFilesystem("")
	assert.Error(t, err)
}
