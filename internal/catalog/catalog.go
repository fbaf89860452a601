// Package catalog holds the latest published dataset catalog and its
// content-hash epoch, and implements the conditional-fetch refresh algorithm
// against a store backend.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bijux/atlas-cache/internal/datasetid"
)

// Entry is one published dataset within the catalog.
type Entry struct {
	Dataset      datasetid.ID `json:"dataset"`
	ManifestPath string       `json:"manifest_path"`
	SqlitePath   string       `json:"sqlite_path"`
}

// Catalog is the ordered list of datasets currently published by the store.
type Catalog struct {
	Entries []Entry `json:"entries"`
}

// Find returns the entry for id, if present.
func (c Catalog) Find(id datasetid.ID) (Entry, bool) {
	for _, e := range c.Entries {
		if e.Dataset == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Fetcher is the subset of the store backend contract the catalog cache
// depends on: a conditional fetch keyed by the last known ETag.
type Fetcher interface {
	FetchCatalog(ctx context.Context, ifNoneMatch string) (Result, error)
}

// Result is the outcome of a conditional catalog fetch.
type Result struct {
	NotModified bool
	ETag        string
	Catalog     Catalog
}

// Cache holds (etag, catalog) under a single mutex, plus a separately
// readable current-epoch hash so readers never observe torn state: the
// catalog and its epoch are swapped together but the epoch alone can be read
// without taking the catalog mutex.
type Cache struct {
	mu      sync.Mutex
	etag    string
	catalog Catalog

	epoch atomic.Pointer[string]
}

// NewCache returns an empty Cache. Call Refresh at least once before Current
// returns a non-empty catalog.
func NewCache() *Cache {
	c := &Cache{}
	empty := ""
	c.epoch.Store(&empty)
	return c
}

// Refresh performs one conditional-fetch refresh cycle: snapshot the current
// ETag, call the backend, and on Updated compute the new epoch and publish
// the new (etag, catalog) pair as a single write. The last good catalog is
// retained on error.
func (c *Cache) Refresh(ctx context.Context, fetcher Fetcher) error {
	c.mu.Lock()
	etag := c.etag
	c.mu.Unlock()

	res, err := fetcher.FetchCatalog(ctx, etag)
	if err != nil {
		return fmt.Errorf("catalog: refresh failed: %w", err)
	}
	if res.NotModified {
		return nil
	}

	epoch, err := Epoch(res.Catalog)
	if err != nil {
		return fmt.Errorf("catalog: computing epoch: %w", err)
	}

	c.mu.Lock()
	c.etag = res.ETag
	c.catalog = res.Catalog
	c.mu.Unlock()
	c.epoch.Store(&epoch)
	return nil
}

// Current returns the most recently published catalog.
func (c *Cache) Current() Catalog {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.catalog
}

// ETag returns the ETag of the most recently published catalog.
func (c *Cache) ETag() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.etag
}

// Epoch returns the current catalog epoch hash. Safe to call without holding
// any other lock.
func (c *Cache) Epoch() string {
	return *c.epoch.Load()
}

// Epoch computes the SHA-256 of the serialized catalog. Entries are already
// ordered by the store's publication order, so the serialization (and hence
// the epoch) is a deterministic function of catalog content.
func Epoch(cat Catalog) (string, error) {
	b, err := json.Marshal(cat)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
