package datasetcache

import (
	"context"
	"fmt"
	"os"

	"github.com/bijux/atlas-cache/internal/datasetid"
	"github.com/bijux/atlas-cache/internal/layout"
	"github.com/bijux/atlas-cache/internal/manifest"
)

// ManifestSummary ensures id is cached and returns its on-disk manifest, for
// the provenance and manifest-summary fields of the per-dataset HTTP route.
// It does not open a database connection or consume a connection permit.
func (m *Manager) ManifestSummary(ctx context.Context, id datasetid.ID) (manifest.Manifest, error) {
	if err := m.EnsureCached(ctx, id); err != nil {
		return manifest.Manifest{}, err
	}
	paths := layout.For(m.cfg.DiskRoot, id)
	raw, err := os.ReadFile(paths.ManifestPath)
	if err != nil {
		return manifest.Manifest{}, fmt.Errorf("datasetcache: reading manifest for %s: %w", id, err)
	}
	man, err := manifestFromJSON(raw)
	if err != nil {
		return manifest.Manifest{}, fmt.Errorf("datasetcache: decoding manifest for %s: %w", id, err)
	}
	return man, nil
}
