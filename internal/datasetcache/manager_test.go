package datasetcache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bijux/atlas-cache/internal/config"
	"github.com/bijux/atlas-cache/internal/datasetid"
	"github.com/bijux/atlas-cache/internal/layout"
	"github.com/bijux/atlas-cache/internal/manifest"
	"github.com/bijux/atlas-cache/internal/metrics"
	"github.com/bijux/atlas-cache/internal/store"
)

func testConfig(t *testing.T) *config.CacheConfig {
	t.Helper()
	return &config.CacheConfig{
		DiskRoot:                     t.TempDir(),
		MaxDiskBytes:                 1 << 30,
		MaxDatasetCount:              4,
		IdleTTL:                      time.Hour,
		MaxConnectionsPerDataset:     4,
		MaxTotalConnections:          16,
		MaxConcurrentDownloads:       2,
		DatasetOpenTimeout:           2 * time.Second,
		BreakerFailureThreshold:      2,
		BreakerOpenDuration:          50 * time.Millisecond,
		StoreBreakerFailureThreshold: 2,
		StoreBreakerOpenDuration:     50 * time.Millisecond,
		StoreRetryBudget:             3,
		EvictionCheckInterval:        0,
		IntegrityReverifyInterval:    0,
		SqlitePragmaCacheKiB:         2048,
		SqlitePragmaMmapBytes:        0,
	}
}

func mustID2(t *testing.T) datasetid.ID {
	t.Helper()
	id, err := datasetid.New("110", "homo_sapiens", "GRCh38")
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func newTestManager(t *testing.T) (*Manager, *store.FakeBackend) {
	t.Helper()
	backend := store.NewFakeBackend()
	mgr, err := NewManager(testConfig(t), backend, metrics.NewRegistry().Cache)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return mgr, backend
}

func seedDataset(t *testing.T, backend *store.FakeBackend, id datasetid.ID) []byte {
	t.Helper()
	data := []byte("sqlite-bytes-for-" + id.Canonical())
	sum := sha256.Sum256(data)
	backend.SetDataset(id, manifest.Manifest{
		ManifestVersion: 1,
		DBSchemaVersion: 3,
		Checksums:       manifest.Checksums{SqliteSHA256: hex.EncodeToString(sum[:])},
	}, data)
	return data
}

// seedSQLiteDataset builds a genuine SQLite artifact on disk, reads its
// bytes back, and installs it in the fake backend, for tests that need
// OpenConnection to produce a working handle.
func seedSQLiteDataset(t *testing.T, backend *store.FakeBackend, id datasetid.ID) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.sqlite")
	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`CREATE TABLE gene_summary (
  gene_id TEXT PRIMARY KEY, name TEXT, seqid TEXT, start INTEGER, end INTEGER,
  biotype TEXT, transcript_count INTEGER, sequence_length INTEGER
); INSERT INTO gene_summary VALUES ('ENSG001','BRCA1','17',100,200,'protein_coding',3,900);`); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	sum := sha256.Sum256(data)
	backend.SetDataset(id, manifest.Manifest{
		ManifestVersion: 1,
		DBSchemaVersion: 3,
		Checksums:       manifest.Checksums{SqliteSHA256: hex.EncodeToString(sum[:])},
	}, data)
}

func TestEnsureCached_downloadsOnFirstCall(t *testing.T) {
	mgr, backend := newTestManager(t)
	id := mustID2(t)
	seedDataset(t, backend, id)

	if err := mgr.EnsureCached(context.Background(), id); err != nil {
		t.Fatalf("EnsureCached: %v", err)
	}
	if backend.ManifestCalls.Load() != 1 || backend.ArtifactCalls.Load() != 1 {
		t.Fatalf("expected one manifest+artifact fetch, got %d/%d", backend.ManifestCalls.Load(), backend.ArtifactCalls.Load())
	}

	if err := mgr.EnsureCached(context.Background(), id); err != nil {
		t.Fatalf("second EnsureCached: %v", err)
	}
	if backend.ArtifactCalls.Load() != 1 {
		t.Fatalf("second call should hit the fast path, got %d artifact fetches", backend.ArtifactCalls.Load())
	}
}

func TestEnsureCached_checksumMismatchFails(t *testing.T) {
	mgr, backend := newTestManager(t)
	id := mustID2(t)
	backend.SetDataset(id, manifest.Manifest{Checksums: manifest.Checksums{SqliteSHA256: "deadbeef"}}, []byte("bad"))

	err := mgr.EnsureCached(context.Background(), id)
	if err == nil {
		t.Fatal("expected checksum mismatch error")
	}
	var cacheErr *store.CacheError
	if !errors.As(err, &cacheErr) {
		t.Fatalf("checksum mismatch should surface as *store.CacheError, got %T: %v", err, err)
	}
}

func TestEnsureCached_cachedOnlyModeRefusesNewDownload(t *testing.T) {
	cfg := testConfig(t)
	cfg.CachedOnlyMode = true
	backend := store.NewFakeBackend()
	mgr, err := NewManager(cfg, backend, metrics.NewRegistry().Cache)
	if err != nil {
		t.Fatal(err)
	}
	id := mustID2(t)
	seedDataset(t, backend, id)

	if err := mgr.EnsureCached(context.Background(), id); err != ErrCachedOnlyMode {
		t.Fatalf("expected ErrCachedOnlyMode, got %v", err)
	}
}

func TestOpenConnection_returnsWorkingHandle(t *testing.T) {
	mgr, backend := newTestManager(t)
	id := mustID2(t)
	seedSQLiteDataset(t, backend, id)

	conn, err := mgr.OpenConnection(context.Background(), id)
	if err != nil {
		t.Fatalf("OpenConnection: %v", err)
	}
	defer conn.Release()
	if conn.DB == nil {
		t.Fatal("expected non-nil DB handle")
	}
	if err := conn.DB.PingContext(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestStartupWarmup_cachesConfiguredDatasets(t *testing.T) {
	cfg := testConfig(t)
	backend := store.NewFakeBackend()
	id := mustID2(t)
	seedDataset(t, backend, id)
	cfg.StartupWarmup = []string{id.Canonical()}

	mgr, err := NewManager(cfg, backend, metrics.NewRegistry().Cache)
	if err != nil {
		t.Fatal(err)
	}
	if err := mgr.StartupWarmup(context.Background()); err != nil {
		t.Fatalf("StartupWarmup: %v", err)
	}
	if backend.ArtifactCalls.Load() != 1 {
		t.Fatalf("expected warmup to download the dataset, got %d calls", backend.ArtifactCalls.Load())
	}
}

func TestStartupWarmup_failsReadinessWhenConfigured(t *testing.T) {
	cfg := testConfig(t)
	cfg.FailReadinessOnMissingWarmup = true
	backend := store.NewFakeBackend()
	id := mustID2(t)
	cfg.StartupWarmup = []string{id.Canonical()} // never seeded: fetch will fail

	mgr, err := NewManager(cfg, backend, metrics.NewRegistry().Cache)
	if err != nil {
		t.Fatal(err)
	}
	if err := mgr.StartupWarmup(context.Background()); err == nil {
		t.Fatal("expected warmup failure to propagate")
	}
}

func TestEnsureCached_concurrentCallersDownloadOnce(t *testing.T) {
	mgr, backend := newTestManager(t)
	id := mustID2(t)
	seedDataset(t, backend, id)

	const callers = 8
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- mgr.EnsureCached(context.Background(), id)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("EnsureCached: %v", err)
		}
	}
	if got := backend.ArtifactCalls.Load(); got != 1 {
		t.Fatalf("expected exactly one download across %d concurrent callers, got %d", callers, got)
	}
}

func TestEnsureCached_missingMarkerRehashesWithoutDownload(t *testing.T) {
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
	if err := os.Remove(paths.VerifiedMarkerPath); err != nil {
		t.Fatal(err)
	}

	// A fresh manager on the same disk root has no in-memory entry, so the
	// missing marker forces the full-hash verification path.
	mgr2, err := NewManager(cfg, backend, metrics.NewRegistry().Cache)
	if err != nil {
		t.Fatal(err)
	}
	if err := mgr2.EnsureCached(context.Background(), id); err != nil {
		t.Fatalf("EnsureCached after marker removal: %v", err)
	}

	if got := backend.ArtifactCalls.Load(); got != 1 {
		t.Fatalf("full-hash verification must not re-download, got %d artifact fetches", got)
	}
	marker, err := os.ReadFile(paths.VerifiedMarkerPath)
	if err != nil {
		t.Fatalf("expected marker to be rewritten: %v", err)
	}
	man, err := backend.FetchManifest(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if string(marker) != man.MarkerContent() {
		t.Fatalf("rewritten marker = %q, want %q", marker, man.MarkerContent())
	}
}

func TestHealth_reportsRegistryState(t *testing.T) {
	mgr, backend := newTestManager(t)
	id := mustID2(t)
	seedDataset(t, backend, id)
	if err := mgr.EnsureCached(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	h := mgr.Health()
	if h.DatasetCount != 1 || h.TotalSizeBytes == 0 {
		t.Fatalf("unexpected health snapshot: %+v", h)
	}
	if h.StoreBreakerOpen {
		t.Fatal("store breaker should be closed after a successful download")
	}
	if h.RetryBudgetRemaining != 3 {
		t.Fatalf("retry budget should be reset to max after success, got %d", h.RetryBudgetRemaining)
	}
}

func TestCachedDatasetsDebug_reflectsRegisteredEntries(t *testing.T) {
	mgr, backend := newTestManager(t)
	id := mustID2(t)
	seedDataset(t, backend, id)
	if err := mgr.EnsureCached(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	summaries := mgr.CachedDatasetsDebug()
	if len(summaries) != 1 || summaries[0].Dataset != id.Canonical() {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}
}
