// Package store defines the upstream artifact store contract consumed
// by the dataset cache manager, along with a local-filesystem backend, an
// HTTP backend, and a fake backend for tests.
package store

import (
	"context"

	"github.com/bijux/atlas-cache/internal/catalog"
	"github.com/bijux/atlas-cache/internal/datasetid"
	"github.com/bijux/atlas-cache/internal/manifest"
)

// CacheError is the single error kind every Backend operation fails with: a
// human-readable reason with no further structure. The dataset cache manager
// re-hashes every fetched artifact against its manifest regardless of this
// error's absence, since the backend is assumed untrusted for integrity.
type CacheError struct {
	Message string
}

func (e *CacheError) Error() string { return e.Message }

// NewCacheError wraps msg in a CacheError.
func NewCacheError(msg string) error { return &CacheError{Message: msg} }

// Backend is the three-operation contract the dataset cache manager depends
// on. Concrete implementations (local filesystem, HTTP object store, fake)
// are interchangeable behind this interface.
type Backend interface {
	// FetchCatalog performs a conditional fetch of the published catalog.
	FetchCatalog(ctx context.Context, ifNoneMatch string) (catalog.Result, error)
	// FetchManifest fetches the manifest for one dataset.
	FetchManifest(ctx context.Context, id datasetid.ID) (manifest.Manifest, error)
	// FetchArtifactBytes fetches the dataset artifact's raw bytes.
	FetchArtifactBytes(ctx context.Context, id datasetid.ID) ([]byte, error)
}
