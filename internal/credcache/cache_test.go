package credcache

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/linksync/internal/localstore"
	"github.com/tOgg1/linksync/internal/models"
)

func session(identity, suffix string) models.Session {
	return models.Session{
		Identity: identity,
		Tokens: models.Tokens{
			AccessToken:  "at-" + suffix,
			RefreshToken: "rt-" + suffix,
		},
	}
}

func identities(entries []models.CredentialEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Identity)
	}
	return out
}

func TestCache_EmptyStore(t *testing.T) {
	c := New(localstore.NewMemoryStore())
	require.Empty(t, c.List())
	require.Equal(t, 0, c.Len())
}

func TestCache_UpsertMovesToFront(t *testing.T) {
	store := localstore.NewMemoryStore()
	c := New(store)

	c.Upsert(session("a@example.com", "1"))
	c.Upsert(session("b@example.com", "1"))
	c.Upsert(session("c@example.com", "1"))
	require.Equal(t, []string{"c@example.com", "b@example.com", "a@example.com"}, identities(c.List()))

	c.Upsert(session("a@example.com", "2"))
	list := c.List()
	require.Equal(t, []string{"a@example.com", "c@example.com", "b@example.com"}, identities(list))
	require.Equal(t, "at-2", list[0].Session.AccessToken)

	// Persisted and reloaded in the same order.
	reloaded := New(store)
	require.Equal(t, identities(list), identities(reloaded.List()))
}

func TestCache_UpsertIgnoresMissingIdentity(t *testing.T) {
	c := New(localstore.NewMemoryStore())
	c.Upsert(session("  ", "1"))
	require.Empty(t, c.List())
}

func TestCache_IdentityMatchIsCaseInsensitive(t *testing.T) {
	c := New(localstore.NewMemoryStore())
	c.Upsert(session("A@Example.com", "1"))
	c.Upsert(session("a@example.com", "2"))
	require.Len(t, c.List(), 1)

	entry, ok := c.Get("A@EXAMPLE.COM")
	require.True(t, ok)
	require.Equal(t, "at-2", entry.Session.AccessToken)
}

func TestCache_Remove(t *testing.T) {
	store := localstore.NewMemoryStore()
	c := New(store)
	c.Upsert(session("a@example.com", "1"))
	c.Upsert(session("b@example.com", "1"))

	require.True(t, c.Remove("a@example.com"))
	require.False(t, c.Remove("missing@example.com"))
	require.Equal(t, []string{"b@example.com"}, identities(c.List()))
	require.Equal(t, []string{"b@example.com"}, identities(New(store).List()))
}

func TestCache_MalformedDataIsEmpty(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `{oops`},
		{name: "object instead of list", raw: `{"email":"a@example.com"}`},
		{name: "missing tokens", raw: `[{"email":"a@example.com","session":{"access_token":"x"}}]`},
		{name: "missing email", raw: `[{"session":{"access_token":"x","refresh_token":"y"}}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := localstore.NewMemoryStore()
			require.NoError(t, store.Set(StorageKey, tt.raw))
			c := New(store)
			require.Empty(t, c.List())

			// The cache stays usable and overwrites the bad document.
			c.Upsert(session("a@example.com", "1"))
			require.Len(t, New(store).List(), 1)
		})
	}
}

func TestCache_ReadsSharedJSONShape(t *testing.T) {
	store := localstore.NewMemoryStore()
	raw := `[{"email":"b@example.com","session":{"access_token":"at","refresh_token":"rt"}},` +
		`{"email":"b@example.com","session":{"access_token":"old","refresh_token":"old"}}]`
	require.NoError(t, store.Set(StorageKey, raw))

	list := New(store).List()
	require.Len(t, list, 1)
	require.Equal(t, "at", list[0].Session.AccessToken)
}

type failingStore struct{}

func (failingStore) Get(string) (string, bool, error) { return "", false, errors.New("disk gone") }
func (failingStore) Set(string, string) error         { return errors.New("disk gone") }

func TestCache_StoreFailuresAreSwallowed(t *testing.T) {
	c := New(failingStore{})
	require.Empty(t, c.List())
	c.Upsert(session("a@example.com", "1"))
	require.Len(t, c.List(), 1)
	require.True(t, c.Remove("a@example.com"))
}

func TestCache_ReloadSeesOtherWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "linksync.json")
	storeA, err := localstore.NewFileStore(path)
	require.NoError(t, err)
	storeB, err := localstore.NewFileStore(path)
	require.NoError(t, err)

	a := New(storeA)
	b := New(storeB)
	a.Upsert(session("a@example.com", "1"))

	require.Empty(t, b.List())
	require.Equal(t, []string{"a@example.com"}, identities(b.Reload()))
}
