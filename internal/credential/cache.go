package credential

import (
	"context"
	"sync"
)

// Cache memoizes decoded credentials by archive fingerprint so that
// concurrent submissions share one read-only copy instead of re-reading
// the archive per operation. Entries are never evicted; an archive
// swap on disk yields a new fingerprint and a new entry.
type Cache struct {
	loader *Loader

	mu      sync.RWMutex
	entries map[string]*Credential // fingerprint -> credential
	paths   map[string]string      // path -> last fingerprint seen
}

// NewCache creates a credential cache backed by the given loader
func NewCache(loader *Loader) *Cache {
	if loader == nil {
		loader = NewLoader()
	}
	return &Cache{
		loader:  loader,
		entries: make(map[string]*Credential),
		paths:   make(map[string]string),
	}
}

// Get returns the credential for the archive at path, loading and
// caching it on first use. The load re-reads the file each call only
// until a fingerprint is known; afterwards the cached copy wins unless
// the file content changed.
func (c *Cache) Get(ctx context.Context, path, passphrase string) (*Credential, error) {
	c.mu.RLock()
	if fp, ok := c.paths[path]; ok {
		if cred, ok := c.entries[fp]; ok {
			c.mu.RUnlock()
			return cred, nil
		}
	}
	c.mu.RUnlock()

	cred, err := c.loader.Load(ctx, path, passphrase)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[cred.Fingerprint]; ok {
		c.paths[path] = existing.Fingerprint
		return existing, nil
	}
	c.entries[cred.Fingerprint] = cred
	c.paths[path] = cred.Fingerprint
	return cred, nil
}
