package store

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/bijux/atlas-cache/internal/catalog"
	"github.com/bijux/atlas-cache/internal/datasetid"
	"github.com/bijux/atlas-cache/internal/manifest"
)

// FakeBackend is an in-memory Backend for tests: it serves a fixed catalog
// and per-dataset manifests/bytes, and can be configured to fail (FailCatalog,
// FailManifest, FailArtifact) to exercise breaker and retry-budget behavior.
type FakeBackend struct {
	mu sync.Mutex

	cat       catalog.Catalog
	catETag   string
	manifests map[datasetid.ID]manifest.Manifest
	artifacts map[datasetid.ID][]byte

	// FailManifest/FailArtifact, when non-nil, are returned verbatim instead
	// of the configured data.
	FailManifest error
	FailArtifact error
	FailCatalog  error

	CatalogCalls  atomic.Int64
	ManifestCalls atomic.Int64
	ArtifactCalls atomic.Int64
}

// NewFakeBackend returns an empty FakeBackend.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		manifests: make(map[datasetid.ID]manifest.Manifest),
		artifacts: make(map[datasetid.ID][]byte),
	}
}

// SetCatalog installs the catalog to be served, along with its ETag.
func (f *FakeBackend) SetCatalog(etag string, cat catalog.Catalog) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.catETag = etag
	f.cat = cat
}

// SetDataset installs the manifest and bytes served for id. The manifest's
// checksum is not validated here; callers that want a consistent fixture
// should set Checksums.SqliteSHA256 to sha256(bytes) themselves.
func (f *FakeBackend) SetDataset(id datasetid.ID, m manifest.Manifest, bytes []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.manifests[id] = m
	f.artifacts[id] = bytes
}

func (f *FakeBackend) FetchCatalog(ctx context.Context, ifNoneMatch string) (catalog.Result, error) {
	f.CatalogCalls.Add(1)
	if f.FailCatalog != nil {
		return catalog.Result{}, f.FailCatalog
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if ifNoneMatch != "" && ifNoneMatch == f.catETag {
		return catalog.Result{NotModified: true}, nil
	}
	return catalog.Result{ETag: f.catETag, Catalog: f.cat}, nil
}

func (f *FakeBackend) FetchManifest(ctx context.Context, id datasetid.ID) (manifest.Manifest, error) {
	f.ManifestCalls.Add(1)
	if f.FailManifest != nil {
		return manifest.Manifest{}, f.FailManifest
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.manifests[id]
	if !ok {
		return manifest.Manifest{}, NewCacheError("fake: no manifest for " + id.Canonical())
	}
	return m, nil
}

func (f *FakeBackend) FetchArtifactBytes(ctx context.Context, id datasetid.ID) ([]byte, error) {
	f.ArtifactCalls.Add(1)
	if f.FailArtifact != nil {
		return nil, f.FailArtifact
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.artifacts[id]
	if !ok {
		return nil, NewCacheError("fake: no artifact for " + id.Canonical())
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}
