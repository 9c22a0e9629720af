package localstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFileStore_MissingFileOK(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "state", "linksync.json"))
	require.NoError(t, err)

	_, ok, err := s.Get("link-sync-accounts")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFileStore_RoundTripAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "linksync.json")
	a, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, a.Set("one", "1"))
	require.NoError(t, a.Set("two", "2"))
	require.NoError(t, a.Set("one", "uno"))

	b, err := NewFileStore(path)
	require.NoError(t, err)
	v, ok, err := b.Get("one")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "uno", v)
	v, ok, err = b.Get("two")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2", v)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStore_LegacyFlatDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "linksync.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"link-sync-accounts":"[]"}`), 0o600))

	s, err := NewFileStore(path)
	require.NoError(t, err)
	v, ok, err := s.Get("link-sync-accounts")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "[]", v)
}

func TestFileStore_CorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "linksync.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))

	s, err := NewFileStore(path)
	require.NoError(t, err)
	_, _, err = s.Get("anything")
	require.Error(t, err)

	// Writes recover the document.
	require.NoError(t, s.Set("k", "v"))
	v, ok, err := s.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", v)
}

func TestFileStore_WatchReportsExternalWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "linksync.json")
	s, err := NewFileStore(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, err := s.Watch(ctx)
	require.NoError(t, err)

	other, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, other.Set("k", "v"))

	select {
	case <-changes:
	case <-time.After(3 * time.Second):
		t.Fatal("expected change notification")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-changes:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	_, ok, err := s.Get("k")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, s.Set("k", "v"))
	v, ok, err := s.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", v)
	require.Equal(t, []string{"k"}, s.Keys())
}
