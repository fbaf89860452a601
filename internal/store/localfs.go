package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bijux/atlas-cache/internal/catalog"
	"github.com/bijux/atlas-cache/internal/datasetid"
	"github.com/bijux/atlas-cache/internal/manifest"
)

// LocalFSBackend serves catalog, manifest, and artifact bytes from a local
// directory tree: "<root>/catalog.json" plus "<root>/<release>/<species>/
// <assembly>/manifest.json" and ".../dataset.sqlite". Used for on-disk
// mirrors and for local development without a network store.
type LocalFSBackend struct {
	Root string
}

// NewLocalFSBackend returns a backend rooted at root.
func NewLocalFSBackend(root string) *LocalFSBackend {
	return &LocalFSBackend{Root: root}
}

func (b *LocalFSBackend) datasetDir(id datasetid.ID) string {
	return filepath.Join(b.Root, id.Release, id.Species, id.Assembly)
}

// FetchCatalog reads catalog.json from the store root. ifNoneMatch is
// compared against the file's modification time encoded as an ETag; a local
// filesystem store has no real conditional-GET semantics, so this is a best
// effort that still lets the catalog cache's Refresh loop behave correctly.
func (b *LocalFSBackend) FetchCatalog(ctx context.Context, ifNoneMatch string) (catalog.Result, error) {
	path := filepath.Join(b.Root, "catalog.json")
	info, err := os.Stat(path)
	if err != nil {
		return catalog.Result{}, NewCacheError(fmt.Sprintf("stat catalog: %v", err))
	}
	etag := fmt.Sprintf("%x", info.ModTime().UnixNano())
	if ifNoneMatch != "" && ifNoneMatch == etag {
		return catalog.Result{NotModified: true}, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return catalog.Result{}, NewCacheError(fmt.Sprintf("read catalog: %v", err))
	}
	var cat catalog.Catalog
	if err := json.Unmarshal(raw, &cat); err != nil {
		return catalog.Result{}, NewCacheError(fmt.Sprintf("decode catalog: %v", err))
	}
	return catalog.Result{ETag: etag, Catalog: cat}, nil
}

// FetchManifest reads manifest.json for id.
func (b *LocalFSBackend) FetchManifest(ctx context.Context, id datasetid.ID) (manifest.Manifest, error) {
	path := filepath.Join(b.datasetDir(id), "manifest.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return manifest.Manifest{}, NewCacheError(fmt.Sprintf("read manifest for %s: %v", id, err))
	}
	var m manifest.Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return manifest.Manifest{}, NewCacheError(fmt.Sprintf("decode manifest for %s: %v", id, err))
	}
	return m, nil
}

// FetchArtifactBytes reads dataset.sqlite for id.
func (b *LocalFSBackend) FetchArtifactBytes(ctx context.Context, id datasetid.ID) ([]byte, error) {
	path := filepath.Join(b.datasetDir(id), "dataset.sqlite")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, NewCacheError(fmt.Sprintf("read artifact for %s: %v", id, err))
	}
	return raw, nil
}
