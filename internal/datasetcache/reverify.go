package datasetcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"os"

	"github.com/bijux/atlas-cache/internal/datasetid"
	"github.com/bijux/atlas-cache/internal/layout"
)

// ReverifyCachedDatasets recomputes the SHA-256 of every currently cached
// artifact against its manifest and drops any dataset whose bytes no longer
// match, forcing a fresh download on next access.
func (m *Manager) ReverifyCachedDatasets(ctx context.Context) {
	m.mu.Lock()
	ids := make([]datasetid.ID, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := m.verifyIntegrityStrict(id); err != nil {
			log.Printf("datasetcache: dropping %s after failed re-verification: %v", id, err)
			m.evict(id)
			m.metrics.ReverifyFailedTotal.Inc()
		}
	}
	m.updateCapacityGauges()
}

// verifyIntegrityStrict recomputes the artifact hash and compares it against
// the manifest's recorded checksum, returning an error on any mismatch or
// I/O failure.
func (m *Manager) verifyIntegrityStrict(id datasetid.ID) error {
	paths := layout.For(m.cfg.DiskRoot, id)
	manBytes, err := os.ReadFile(paths.ManifestPath)
	if err != nil {
		return err
	}
	man, err := manifestFromJSON(manBytes)
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(paths.ArtifactPath)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(raw)
	if hex.EncodeToString(sum[:]) != man.Checksums.SqliteSHA256 {
		return os.ErrInvalid
	}
	return nil
}
