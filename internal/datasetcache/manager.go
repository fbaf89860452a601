// Package datasetcache implements the dataset cache manager: it keeps a
// bounded set of verified SQLite artifacts on local disk, fetched from an
// upstream store backend, and hands out pooled read-only connections to them
// under the breakers and retry budget in internal/breaker.
package datasetcache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bijux/atlas-cache/internal/breaker"
	"github.com/bijux/atlas-cache/internal/catalog"
	"github.com/bijux/atlas-cache/internal/config"
	"github.com/bijux/atlas-cache/internal/datasetid"
	"github.com/bijux/atlas-cache/internal/layout"
	"github.com/bijux/atlas-cache/internal/manifest"
	"github.com/bijux/atlas-cache/internal/metrics"
	"github.com/bijux/atlas-cache/internal/store"

	_ "modernc.org/sqlite"
)

// ErrCachedOnlyMode is returned by EnsureCached when the manager is running
// in cached-only mode and the requested dataset is not already on disk.
var ErrCachedOnlyMode = errors.New("datasetcache: cached-only mode, dataset not present")

// ErrReadOnlyFS is returned by EnsureCached when the filesystem is marked
// read-only and the requested dataset is not already on disk.
var ErrReadOnlyFS = errors.New("datasetcache: read-only filesystem, dataset not present")

// Manager owns every cached dataset's on-disk state, the published catalog,
// and the breakers and semaphores gating access to both the store and the
// cached SQLite artifacts.
type Manager struct {
	cfg     *config.CacheConfig
	backend store.Backend
	catalog *catalog.Cache
	metrics *metrics.Cache

	datasetBreaker *breaker.PerDatasetBreaker
	storeBreaker   *breaker.StoreBreaker
	retryBudget    *breaker.RetryBudget

	globalConnSem     semaphore
	globalDownloadSem semaphore

	mu      sync.Mutex
	entries map[datasetid.ID]*entry

	inflightMu sync.Mutex
	inflight   map[datasetid.ID]*sync.Mutex

	pinned map[datasetid.ID]bool
}

// NewManager wires a Manager from cfg and backend. The catalog cache starts
// empty; call RefreshCatalog before relying on CurrentCatalog.
func NewManager(cfg *config.CacheConfig, backend store.Backend, m *metrics.Cache) (*Manager, error) {
	if err := os.MkdirAll(layout.TmpDownloadDir(cfg.DiskRoot), 0o755); err != nil && !cfg.ReadOnlyFS {
		return nil, fmt.Errorf("datasetcache: preparing scratch dir: %w", err)
	}

	pinned := make(map[datasetid.ID]bool, len(cfg.PinnedDatasets))
	for _, s := range cfg.PinnedDatasets {
		id, err := parseCanonical(s)
		if err != nil {
			return nil, fmt.Errorf("datasetcache: invalid pinned dataset %q: %w", s, err)
		}
		pinned[id] = true
	}

	return &Manager{
		cfg:               cfg,
		backend:           backend,
		catalog:           catalog.NewCache(),
		metrics:           m,
		datasetBreaker:    breaker.NewPerDatasetBreaker(cfg.BreakerFailureThreshold, cfg.BreakerOpenDuration),
		storeBreaker:      breaker.NewStoreBreaker(cfg.StoreBreakerFailureThreshold, cfg.StoreBreakerOpenDuration),
		retryBudget:       breaker.NewRetryBudget(cfg.StoreRetryBudget),
		globalConnSem:     newSemaphore(cfg.MaxTotalConnections),
		globalDownloadSem: newSemaphore(cfg.MaxConcurrentDownloads),
		entries:           make(map[datasetid.ID]*entry),
		inflight:          make(map[datasetid.ID]*sync.Mutex),
		pinned:            pinned,
	}, nil
}

// parseCanonical parses a "release/species/assembly" string into a
// datasetid.ID.
func parseCanonical(s string) (datasetid.ID, error) {
	segs := strings.Split(s, "/")
	if len(segs) != 3 {
		return datasetid.ID{}, fmt.Errorf("expected release/species/assembly, got %q", s)
	}
	return datasetid.New(segs[0], segs[1], segs[2])
}

// CachedOnlyMode reports whether the manager refuses new downloads.
func (m *Manager) CachedOnlyMode() bool {
	return m.cfg.CachedOnlyMode
}

// CurrentCatalog returns the last successfully refreshed catalog.
func (m *Manager) CurrentCatalog() catalog.Catalog {
	return m.catalog.Current()
}

// CatalogEpoch returns the content-hash epoch of the current catalog.
func (m *Manager) CatalogEpoch() string {
	return m.catalog.Epoch()
}

// RefreshCatalog performs one conditional refresh cycle against the backend.
// In cached-only mode the store is never contacted and the last good catalog
// stands.
func (m *Manager) RefreshCatalog(ctx context.Context) error {
	if m.cfg.CachedOnlyMode {
		return nil
	}
	return m.catalog.Refresh(ctx, m.backend)
}

// StartupWarmup ensures the configured warmup datasets are cached before the
// server begins reporting readiness, honoring FailReadinessOnMissingWarmup.
func (m *Manager) StartupWarmup(ctx context.Context) error {
	if len(m.cfg.StartupWarmup) == 0 {
		return nil
	}
	seen := make(map[datasetid.ID]bool)
	var ids []datasetid.ID
	for _, s := range m.cfg.StartupWarmup {
		id, err := parseCanonical(s)
		if err != nil {
			return fmt.Errorf("datasetcache: invalid startup warmup dataset %q: %w", s, err)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Canonical() < ids[j].Canonical() })

	limit := m.cfg.StartupWarmupLimit
	if limit <= 0 || limit > len(ids) {
		limit = len(ids)
	}
	if limit > m.cfg.MaxDatasetCount {
		limit = m.cfg.MaxDatasetCount
	}

	for _, id := range ids[:limit] {
		if m.cfg.StartupWarmupJitterMaxMs > 0 {
			// Spread warmup downloads so a fleet of pods restarting together
			// doesn't stampede the store.
			d := time.Duration(rand.Intn(m.cfg.StartupWarmupJitterMaxMs+1)) * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
			}
		}
		if err := m.EnsureCached(ctx, id); err != nil {
			if m.cfg.FailReadinessOnMissingWarmup {
				return fmt.Errorf("datasetcache: warmup failed for %s: %w", id, err)
			}
			log.Printf("datasetcache: warmup failed for %s, continuing: %v", id, err)
		}
	}
	return nil
}

// EnsureCached guarantees that id's artifact is present on disk and verified,
// downloading it from the backend if necessary. It is the single entry point
// every other cache operation routes through before touching the filesystem.
func (m *Manager) EnsureCached(ctx context.Context, id datasetid.ID) error {
	if ok, e := m.isCachedAndVerified(id); ok {
		m.metrics.DatasetHits.Inc()
		m.mu.Lock()
		e.touch()
		m.mu.Unlock()
		return nil
	}
	m.metrics.DatasetMisses.Inc()

	if m.cfg.CachedOnlyMode {
		return ErrCachedOnlyMode
	}
	if m.cfg.ReadOnlyFS {
		return ErrReadOnlyFS
	}

	unlock := m.lockInflight(id)
	defer unlock()

	// Re-check now that we hold the per-dataset inflight lock: a concurrent
	// caller may have just finished the download.
	if ok, e := m.isCachedAndVerified(id); ok {
		m.mu.Lock()
		e.touch()
		m.mu.Unlock()
		return nil
	}

	if err := m.storeBreaker.Check(); err != nil {
		return err
	}
	if err := m.retryBudget.Check(); err != nil {
		m.metrics.StoreRetryBudgetExhaustedTotal.Inc()
		return err
	}

	release, err := m.globalDownloadSem.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	start := time.Now()
	res, bytesErr := m.downloadArtifact(ctx, id)
	if bytesErr != nil {
		m.retryBudget.RecordFailure()
		if m.storeBreaker.RecordFailure() {
			m.metrics.StoreBreakerOpenTotal.Inc()
		}
		m.metrics.StoreDownloadFailures.Inc()
		return bytesErr
	}
	m.metrics.StoreDownloadLatency.Observe(time.Since(start).Seconds())
	m.retryBudget.Reset()
	m.storeBreaker.Reset()

	m.mu.Lock()
	m.entries[id] = &entry{
		artifactPath:          layout.For(m.cfg.DiskRoot, id).ArtifactPath,
		shardPaths:            loadShardPaths(layout.ShardsDir(m.cfg.DiskRoot, id)),
		lastAccess:            time.Now(),
		sizeBytes:             res.sizeBytes,
		lastDownloadLatencyNs: uint64(time.Since(start).Nanoseconds()),
		datasetSem:            newSemaphore(m.cfg.MaxConnectionsPerDataset),
		querySem:              newSemaphore(m.cfg.MaxConnectionsPerDataset),
	}
	m.mu.Unlock()
	return nil
}

// loadShardPaths lists the sharded sub-artifacts under dir. An absent or
// unreadable shards directory simply means an unsharded dataset.
func loadShardPaths(dir string) []string {
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, de := range des {
		if de.IsDir() {
			continue
		}
		out = append(out, filepath.Join(dir, de.Name()))
	}
	return out
}

type downloadResult struct {
	sizeBytes uint64
}

// downloadArtifact fetches the manifest and artifact bytes, verifies the
// checksum, and atomically installs the artifact, manifest, and verified
// marker into place via a tmp-write-then-rename.
func (m *Manager) downloadArtifact(ctx context.Context, id datasetid.ID) (downloadResult, error) {
	man, err := m.backend.FetchManifest(ctx, id)
	if err != nil {
		return downloadResult{}, fmt.Errorf("datasetcache: fetching manifest for %s: %w", id, err)
	}
	raw, err := m.backend.FetchArtifactBytes(ctx, id)
	if err != nil {
		return downloadResult{}, fmt.Errorf("datasetcache: fetching artifact for %s: %w", id, err)
	}

	sum := sha256.Sum256(raw)
	got := hex.EncodeToString(sum[:])
	if got != man.Checksums.SqliteSHA256 {
		// Wrapped as a CacheError so the HTTP layer serves corrupted bytes
		// as NotReady rather than an internal error.
		return downloadResult{}, store.NewCacheError(fmt.Sprintf("checksum mismatch for %s: got %s want %s", id, got, man.Checksums.SqliteSHA256))
	}

	paths := layout.For(m.cfg.DiskRoot, id)
	if err := os.MkdirAll(paths.DerivedDir, 0o755); err != nil {
		return downloadResult{}, fmt.Errorf("datasetcache: creating dataset dir: %w", err)
	}

	if err := writeFileAtomic(m.cfg.DiskRoot, paths.ArtifactPath, raw); err != nil {
		return downloadResult{}, fmt.Errorf("datasetcache: installing artifact: %w", err)
	}

	manifestBytes, err := manifestJSON(man)
	if err != nil {
		return downloadResult{}, fmt.Errorf("datasetcache: encoding manifest: %w", err)
	}
	if err := writeFileAtomic(m.cfg.DiskRoot, paths.ManifestPath, manifestBytes); err != nil {
		return downloadResult{}, fmt.Errorf("datasetcache: installing manifest: %w", err)
	}

	if err := writeFileAtomic(m.cfg.DiskRoot, paths.VerifiedMarkerPath, []byte(man.MarkerContent())); err != nil {
		return downloadResult{}, fmt.Errorf("datasetcache: installing verified marker: %w", err)
	}

	return downloadResult{sizeBytes: uint64(len(raw))}, nil
}

// writeFileAtomic writes data to a temp file under diskRoot's scratch
// directory and renames it into place, so a crash mid-write never leaves a
// partially written artifact at dest.
func writeFileAtomic(diskRoot, dest string, data []byte) error {
	tmpDir := layout.TmpDownloadDir(diskRoot)
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(tmpDir, "atlas-cache-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func manifestJSON(m manifest.Manifest) ([]byte, error) {
	return json.Marshal(m)
}

func manifestFromJSON(b []byte) (manifest.Manifest, error) {
	var m manifest.Manifest
	err := json.Unmarshal(b, &m)
	return m, err
}

// lockInflight returns an unlock func for id's single-flight mutex,
// registering one if this is the first concurrent caller.
func (m *Manager) lockInflight(id datasetid.ID) func() {
	m.inflightMu.Lock()
	l, ok := m.inflight[id]
	if !ok {
		l = &sync.Mutex{}
		m.inflight[id] = l
	}
	m.inflightMu.Unlock()
	l.Lock()
	return l.Unlock
}

// DatasetConnection is a handle to an open, verified dataset's read-only
// database connection, good for exactly one query-class permit.
type DatasetConnection struct {
	DB      *sql.DB
	release func()
}

// Release returns every permit acquired by OpenConnection.
func (c *DatasetConnection) Release() {
	if c.release != nil {
		c.release()
	}
}

// OpenConnection ensures id is cached, then returns a pooled *sql.DB handle
// to it, acquiring the global, per-dataset, and per-query-class permits in
// that fixed order to avoid deadlock between callers.
func (m *Manager) OpenConnection(ctx context.Context, id datasetid.ID) (*DatasetConnection, error) {
	if err := m.datasetBreaker.Check(id); err != nil {
		return nil, err
	}
	if err := m.EnsureCached(ctx, id); err != nil {
		return nil, err
	}

	m.mu.Lock()
	e, ok := m.entries[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("datasetcache: %s not registered after EnsureCached", id)
	}

	releaseGlobal, err := m.globalConnSem.acquire(ctx)
	if err != nil {
		return nil, err
	}
	releaseDataset, err := e.datasetSem.acquire(ctx)
	if err != nil {
		releaseGlobal()
		return nil, err
	}
	releaseQuery, err := e.querySem.acquire(ctx)
	if err != nil {
		releaseDataset()
		releaseGlobal()
		return nil, err
	}

	releaseAll := func() {
		releaseQuery()
		releaseDataset()
		releaseGlobal()
	}

	openCtx, cancel := context.WithTimeout(ctx, m.cfg.DatasetOpenTimeout)
	defer cancel()
	db, err := m.openDB(openCtx, e)
	if err != nil {
		releaseAll()
		m.datasetBreaker.RecordFailure(id)
		m.metrics.StoreOpenFailures.Inc()
		return nil, err
	}
	m.datasetBreaker.Reset(id)

	m.mu.Lock()
	e.touch()
	m.mu.Unlock()

	return &DatasetConnection{DB: db, release: releaseAll}, nil
}

// openDB lazily opens the read-only *sql.DB for e, applying the pragmas the
// manager requires of every cached artifact connection. The handle is opened
// once per entry and reused by subsequent callers.
func (m *Manager) openDB(ctx context.Context, e *entry) (*sql.DB, error) {
	e.dbOnce.Do(func() {
		start := time.Now()
		dsn := fmt.Sprintf(
			"file:%s?mode=ro&_pragma=query_only(ON)&_pragma=journal_mode(OFF)&_pragma=synchronous(OFF)&_pragma=temp_store(MEMORY)&_pragma=cache_size(-%d)&_pragma=mmap_size(%d)",
			e.artifactPath, m.cfg.SqlitePragmaCacheKiB, m.cfg.SqlitePragmaMmapBytes,
		)
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			e.dbErr = err
			return
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			e.dbErr = err
			return
		}
		db.SetMaxOpenConns(m.cfg.MaxConnectionsPerDataset)
		e.db = db
		m.metrics.StoreOpenLatency.Observe(time.Since(start).Seconds())
	})
	return e.db, e.dbErr
}

// isCachedAndVerified checks whether id's artifact is present and verified,
// preferring the cheap ".verified" marker comparison over a full re-hash.
func (m *Manager) isCachedAndVerified(id datasetid.ID) (bool, *entry) {
	m.mu.Lock()
	e, ok := m.entries[id]
	m.mu.Unlock()
	if ok {
		return true, e
	}

	paths := layout.For(m.cfg.DiskRoot, id)
	manBytes, err := os.ReadFile(paths.ManifestPath)
	if err != nil {
		return false, nil
	}
	man, err := manifestFromJSON(manBytes)
	if err != nil {
		return false, nil
	}

	markerBytes, err := os.ReadFile(paths.VerifiedMarkerPath)
	if err == nil && string(markerBytes) == man.MarkerContent() {
		m.metrics.VerifyMarkerFastPathHits.Inc()
		return m.registerExisting(id, paths, man)
	}

	m.metrics.VerifyFullHashChecks.Inc()
	raw, err := os.ReadFile(paths.ArtifactPath)
	if err != nil {
		return false, nil
	}
	sum := sha256.Sum256(raw)
	if hex.EncodeToString(sum[:]) != man.Checksums.SqliteSHA256 {
		return false, nil
	}
	// The artifact re-hashed clean with a missing or stale marker: rewrite
	// the marker so the next access takes the fast path again.
	if !m.cfg.ReadOnlyFS {
		if err := writeFileAtomic(m.cfg.DiskRoot, paths.VerifiedMarkerPath, []byte(man.MarkerContent())); err != nil {
			log.Printf("datasetcache: rewriting verified marker for %s: %v", id, err)
		}
	}
	return m.registerExisting(id, paths, man)
}

func (m *Manager) registerExisting(id datasetid.ID, paths layout.Paths, man manifest.Manifest) (bool, *entry) {
	info, err := os.Stat(paths.ArtifactPath)
	if err != nil {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		e = &entry{
			artifactPath: paths.ArtifactPath,
			shardPaths:   loadShardPaths(layout.ShardsDir(m.cfg.DiskRoot, id)),
			lastAccess:   time.Now(),
			sizeBytes:    uint64(info.Size()),
			datasetSem:   newSemaphore(m.cfg.MaxConnectionsPerDataset),
			querySem:     newSemaphore(m.cfg.MaxConnectionsPerDataset),
		}
		m.entries[id] = e
	}
	return true, e
}

// CachedDatasetSummary describes one cached dataset (canonical id, size,
// last-access time, pin state) as returned by CachedDatasetsDebug.
type CachedDatasetSummary struct {
	Dataset    string
	SizeBytes  uint64
	LastAccess time.Time
	Pinned     bool
}

// RegistryHealth is a point-in-time snapshot of the cache registry's
// aggregate state: entry count, total cached bytes, remaining retry budget,
// and whether the store breaker is currently refusing downloads.
type RegistryHealth struct {
	DatasetCount         int    `json:"dataset_count"`
	TotalSizeBytes       uint64 `json:"total_size_bytes"`
	RetryBudgetRemaining int    `json:"retry_budget_remaining"`
	StoreBreakerOpen     bool   `json:"store_breaker_open"`
	CachedOnlyMode       bool   `json:"cached_only_mode"`
}

// Health returns the current RegistryHealth snapshot.
func (m *Manager) Health() RegistryHealth {
	m.mu.Lock()
	count := len(m.entries)
	var total uint64
	for _, e := range m.entries {
		total += e.sizeBytes
	}
	m.mu.Unlock()
	return RegistryHealth{
		DatasetCount:         count,
		TotalSizeBytes:       total,
		RetryBudgetRemaining: m.retryBudget.Remaining(),
		StoreBreakerOpen:     m.storeBreaker.Check() != nil,
		CachedOnlyMode:       m.cfg.CachedOnlyMode,
	}
}

// CachedDatasetsDebug returns a snapshot of every currently cached dataset's
// canonical id, size, and last-access time, for the debug/datasets endpoint.
func (m *Manager) CachedDatasetsDebug() []CachedDatasetSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CachedDatasetSummary, 0, len(m.entries))
	for id, e := range m.entries {
		out = append(out, CachedDatasetSummary{
			Dataset:    id.Canonical(),
			SizeBytes:  e.sizeBytes,
			LastAccess: e.lastAccess,
			Pinned:     m.pinned[id],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dataset < out[j].Dataset })
	return out
}
