// Package credcache keeps the list of identities signed in on this client so
// the user can switch between them without re-entering credentials.
package credcache

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tOgg1/linksync/internal/localstore"
	"github.com/tOgg1/linksync/internal/logging"
	"github.com/tOgg1/linksync/internal/models"
)

// StorageKey is the fixed durable-store key holding the serialized entries.
const StorageKey = "link-sync-accounts"

// Cache is the credential cache. Entries are ordered most-recently-active
// first and hold at most one entry per identity. Every mutation is persisted;
// persistence failures are logged and never returned.
type Cache struct {
	store  localstore.Store
	logger zerolog.Logger

	mu      sync.Mutex
	entries []models.CredentialEntry
}

// New loads the cache from store. Unreadable or malformed data yields an
// empty cache.
func New(store localstore.Store) *Cache {
	c := &Cache{
		store:  store,
		logger: logging.Component("credcache"),
	}
	c.entries = c.load()
	return c
}

// List returns the cached entries, most recent first.
func (c *Cache) List() []models.CredentialEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.CredentialEntry(nil), c.entries...)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Get returns the entry for identity.
func (c *Cache) Get(identity string) (models.CredentialEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := models.NormalizeIdentity(identity)
	for _, entry := range c.entries {
		if models.NormalizeIdentity(entry.Identity) == key {
			return entry, true
		}
	}
	return models.CredentialEntry{}, false
}

// Upsert records session as the most recently active identity, replacing any
// previous entry for the same identity.
func (c *Cache) Upsert(session models.Session) {
	entry := models.EntryFromSession(session)
	if strings.TrimSpace(entry.Identity) == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	next := make([]models.CredentialEntry, 0, len(c.entries)+1)
	next = append(next, entry)
	next = append(next, without(c.entries, entry.Identity)...)
	c.entries = next
	c.persistLocked()
}

// Remove drops the entry for identity. It reports whether an entry existed.
func (c *Cache) Remove(identity string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := without(c.entries, identity)
	if len(next) == len(c.entries) {
		return false
	}
	c.entries = next
	c.persistLocked()
	return true
}

// Reload re-reads the durable store, picking up writes from other processes.
func (c *Cache) Reload() []models.CredentialEntry {
	entries := c.load()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = entries
	return append([]models.CredentialEntry(nil), c.entries...)
}

func (c *Cache) load() []models.CredentialEntry {
	if c.store == nil {
		return nil
	}
	raw, ok, err := c.store.Get(StorageKey)
	if err != nil {
		c.logger.Warn().Err(err).Msg("credential cache unreadable, starting empty")
		return nil
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	entries, err := decodeEntries(raw)
	if err != nil {
		c.logger.Warn().Err(err).Msg("credential cache malformed, starting empty")
		return nil
	}
	return entries
}

func (c *Cache) persistLocked() {
	if c.store == nil {
		return
	}
	payload, err := json.Marshal(c.entries)
	if err != nil {
		c.logger.Error().Err(err).Msg("encode credential cache")
		return
	}
	if err := c.store.Set(StorageKey, string(payload)); err != nil {
		c.logger.Error().Err(err).Msg("persist credential cache")
	}
}

// decodeEntries parses and validates the stored list. Any schema mismatch
// rejects the whole document. Duplicate identities keep the first (most
// recent) occurrence.
func decodeEntries(raw string) ([]models.CredentialEntry, error) {
	var entries []models.CredentialEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("decode entries: %w", err)
	}
	out := make([]models.CredentialEntry, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for i, entry := range entries {
		if strings.TrimSpace(entry.Identity) == "" {
			return nil, fmt.Errorf("entries[%d]: %w", i, models.ErrMissingIdentity)
		}
		if !entry.Session.Valid() {
			return nil, fmt.Errorf("entries[%d]: %w", i, models.ErrMissingTokens)
		}
		key := models.NormalizeIdentity(entry.Identity)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, entry)
	}
	return out, nil
}

func without(entries []models.CredentialEntry, identity string) []models.CredentialEntry {
	key := models.NormalizeIdentity(identity)
	out := make([]models.CredentialEntry, 0, len(entries))
	for _, entry := range entries {
		if models.NormalizeIdentity(entry.Identity) == key {
			continue
		}
		out = append(out, entry)
	}
	return out
}
