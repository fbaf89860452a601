package datasetcache

import (
	"context"
	"os"
	"testing"

	"github.com/bijux/atlas-cache/internal/layout"
	"github.com/bijux/atlas-cache/internal/metrics"
	"github.com/bijux/atlas-cache/internal/store"
)

func TestReverifyCachedDatasets_dropsCorruptedArtifact(t *testing.T) {
	cfg := testConfig(t)
	backend := store.NewFakeBackend()
	mgr, err := NewManager(cfg, backend, metrics.NewRegistry().Cache)
	if err != nil {
		t.Fatal(err)
	}
	id := mustID2(t)
	seedDataset(t, backend, id)
	if err := mgr.EnsureCached(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	paths := layout.For(cfg.DiskRoot, id)
	if err := os.WriteFile(paths.ArtifactPath, []byte("corrupted"), 0o644); err != nil {
		t.Fatal(err)
	}

	mgr.ReverifyCachedDatasets(context.Background())

	mgr.mu.Lock()
	_, ok := mgr.entries[id]
	mgr.mu.Unlock()
	if ok {
		t.Fatal("expected corrupted dataset to be dropped")
	}
	if _, err := os.Stat(paths.ArtifactPath); err == nil {
		t.Fatal("expected corrupted artifact file to be removed")
	}
}

func TestReverifyCachedDatasets_keepsIntactArtifact(t *testing.T) {
	cfg := testConfig(t)
	backend := store.NewFakeBackend()
	mgr, err := NewManager(cfg, backend, metrics.NewRegistry().Cache)
	if err != nil {
		t.Fatal(err)
	}
	id := mustID2(t)
	seedDataset(t, backend, id)
	if err := mgr.EnsureCached(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	mgr.ReverifyCachedDatasets(context.Background())

	mgr.mu.Lock()
	_, ok := mgr.entries[id]
	mgr.mu.Unlock()
	if !ok {
		t.Fatal("expected intact dataset to remain cached")
	}
}
