package server

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdminStore(t *testing.T) (*AdminStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "admins.txt")
	store, err := NewAdminStore(path, &sync.Mutex{})
	require.NoError(t, err)
	return store, path
}

func TestAdminStoreBootstrapsDefaults(t *testing.T) {
	store, path := newTestAdminStore(t)

	assert.Equal(t, 2, store.Count())
	assert.True(t, store.Login("admin", "admin123"))
	assert.True(t, store.Login("moder", "moder123"))
	assert.False(t, store.Login("admin", "wrong"))
	assert.False(t, store.Login("nobody", "admin123"))

	// Bootstrap persists immediately
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestAdminStoreMutationsSurviveRestart(t *testing.T) {
	store, path := newTestAdminStore(t)

	require.True(t, store.Add("root", "secret"))
	require.True(t, store.Remove("moder"))
	require.True(t, store.ChangePassword("admin", "changed"))

	reloaded, err := NewAdminStore(path, &sync.Mutex{})
	require.NoError(t, err)

	assert.Equal(t, 2, reloaded.Count())
	assert.True(t, reloaded.Login("root", "secret"))
	assert.True(t, reloaded.Login("admin", "changed"))
	assert.False(t, reloaded.Login("admin", "admin123"))
	assert.False(t, reloaded.Login("moder", "moder123"))
}

func TestAdminStoreAddDuplicateRejected(t *testing.T) {
	store, _ := newTestAdminStore(t)

	assert.False(t, store.Add("admin", "other"))
	assert.Equal(t, 2, store.Count())
	// Original password untouched
	assert.True(t, store.Login("admin", "admin123"))
}

func TestAdminStoreRemoveKeepsLastEntry(t *testing.T) {
	store, _ := newTestAdminStore(t)

	require.True(t, store.Remove("moder"))
	require.Equal(t, 1, store.Count())

	// The last admin can never be removed
	assert.False(t, store.Remove("admin"))
	assert.Equal(t, 1, store.Count())
	assert.True(t, store.Login("admin", "admin123"))
}

func TestAdminStoreRemoveUnknown(t *testing.T) {
	store, _ := newTestAdminStore(t)

	assert.False(t, store.Remove("nobody"))
	assert.Equal(t, 2, store.Count())
}

func TestAdminStoreChangePasswordUnknown(t *testing.T) {
	store, _ := newTestAdminStore(t)

	assert.False(t, store.ChangePassword("nobody", "pw"))
}

func TestAdminStoreList(t *testing.T) {
	store, _ := newTestAdminStore(t)

	assert.Equal(t, []string{"admin", "moder"}, store.List())

	require.True(t, store.Add("aaa", "pw"))
	assert.Equal(t, []string{"aaa", "admin", "moder"}, store.List())
}
