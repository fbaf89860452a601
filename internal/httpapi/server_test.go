package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bijux/atlas-cache/internal/admission"
	"github.com/bijux/atlas-cache/internal/config"
	"github.com/bijux/atlas-cache/internal/datasetcache"
	"github.com/bijux/atlas-cache/internal/datasetid"
	"github.com/bijux/atlas-cache/internal/genequery"
	"github.com/bijux/atlas-cache/internal/manifest"
	"github.com/bijux/atlas-cache/internal/metrics"
	"github.com/bijux/atlas-cache/internal/store"
)

func testAPIConfig() *config.ApiConfig {
	return &config.ApiConfig{
		Addr:                      ":0",
		ConcurrencyCheap:          4,
		ConcurrencyMedium:         2,
		ConcurrencyHeavy:          1,
		MaxRequestQueueDepth:      8,
		EnableResponseCompression: true,
		CompressionMinBytes:       1 << 20,
		DiscoveryTTL:              30 * time.Second,
		HeavyShedThresholdMs:      200,
		HeavyShedMinSamples:       5,
		HeavyBackoffBaseMs:        50,
		HeavyBackoffMaxMs:         1000,
		EnableDebugDatasets:       true,
		MaxGeneLimit:              500,
		MaxTranscriptLimit:        500,
	}
}

func testCacheConfig(t *testing.T) *config.CacheConfig {
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

func newTestServer(t *testing.T) (*Server, *store.FakeBackend) {
	t.Helper()
	backend := store.NewFakeBackend()
	reg := metrics.NewRegistry()
	mgr, err := datasetcache.NewManager(testCacheConfig(t), backend, reg.Cache)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return NewServer(testAPIConfig(), mgr, reg), backend
}

func TestHealthz_alwaysOK(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestReadyz_reflectsReadyFlag(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before SetReady, got %d", rec.Code)
	}

	srv.SetReady(true)
	rec = httptest.NewRecorder()
	srv.Mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after SetReady, got %d", rec.Code)
	}
}

func TestReadyz_cachedOnlyModeExemptFromCatalogRequirement(t *testing.T) {
	apiCfg := testAPIConfig()
	apiCfg.ReadinessRequiresCatalog = true
	cacheCfg := testCacheConfig(t)
	cacheCfg.CachedOnlyMode = true

	backend := store.NewFakeBackend()
	reg := metrics.NewRegistry()
	mgr, err := datasetcache.NewManager(cacheCfg, backend, reg.Cache)
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(apiCfg, mgr, reg)
	srv.SetReady(true)

	// The catalog is empty and will never refresh, but a cached-only pod
	// serves from disk alone and must still report ready.
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for ready cached-only pod, got %d", rec.Code)
	}
}

func TestDraining_rejectsRequests(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.SetDraining(true)

	req := httptest.NewRequest(http.MethodGet, "/v1/genes/count?release=110&species=homo_sapiens&assembly=GRCh38", nil)
	rec := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while draining, got %d", rec.Code)
	}
}

func TestGenes_missingDatasetDimension(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/genes?species=homo_sapiens&assembly=GRCh38", nil)
	rec := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing release, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAdmit_queueOverflowReturns429(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.queue = admission.NewQueue(1)

	// Consume the only slot before the request under test arrives.
	held, err := srv.queue.Enter()
	if err != nil {
		t.Fatalf("priming queue: %v", err)
	}
	defer held.Release()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/version", nil)
	srv.admit(rec, req, "/v1/version", genequery.Cheap, "", "", func(ctx context.Context) ([]byte, error) {
		return []byte(`{}`), nil
	})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on queue overflow, got %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "queue depth exceeded") || !strings.Contains(body, "QueryRejectedByPolicy") {
		t.Fatalf("unexpected error body: %s", body)
	}
}

func TestAdmit_bulkheadSaturationReturns429(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.bulkheads = admission.NewBulkheads(1, 1, 1)

	// Consume the cheap-class permit before the request under test arrives.
	release, ok := srv.bulkheads.TryAcquire(genequery.Cheap)
	if !ok {
		t.Fatal("priming bulkhead: expected to acquire")
	}
	defer release()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/version", nil)
	srv.admit(rec, req, "/v1/version", genequery.Cheap, "", "", func(ctx context.Context) ([]byte, error) {
		return []byte(`{}`), nil
	})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on bulkhead saturation, got %d", rec.Code)
	}
}

func TestVersion_hotCacheServesSecondRequestWithoutRecompute(t *testing.T) {
	srv, _ := newTestServer(t)
	calls := 0
	handler := func(rec http.ResponseWriter, req *http.Request) {
		srv.admit(rec, req, "/v1/version", genequery.Cheap, "", "", func(ctx context.Context) ([]byte, error) {
			calls++
			return []byte(`{"version":"dev"}`), nil
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/version", nil)
	handler(httptest.NewRecorder(), req)
	handler(httptest.NewRecorder(), req)

	if calls != 1 {
		t.Fatalf("expected compute to run once with hot cache hit on second call, ran %d times", calls)
	}
}

func TestAdmit_shedsHeavyUnderSustainedLatency(t *testing.T) {
	srv, _ := newTestServer(t)
	for i := 0; i < srv.shed.MinSamples; i++ {
		srv.shed.RecordHeavyLatency(time.Duration(srv.shed.ThresholdMs+50) * time.Millisecond)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/genes", nil)
	srv.admit(rec, req, "/v1/genes", genequery.Heavy, "dataset", "", func(ctx context.Context) ([]byte, error) {
		t.Fatal("compute should not run once heavy traffic is shed")
		return nil, nil
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while shedding heavy traffic, got %d", rec.Code)
	}
	if rec.Header().Get("retry-after") == "" {
		t.Fatal("expected a retry-after header on a shed response")
	}

	// Cheap traffic is never shed, regardless of heavy-class pressure.
	rec2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/v1/version", nil)
	srv.admit(rec2, req2, "/v1/version-cheap-check", genequery.Cheap, "", "", func(ctx context.Context) ([]byte, error) {
		return []byte(`{}`), nil
	})
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected cheap traffic to bypass shedding, got %d", rec2.Code)
	}
}

func TestGeneCount_corruptedBytesReturnsNotReady(t *testing.T) {
	srv, backend := newTestServer(t)
	id, err := datasetid.New("110", "homo_sapiens", "GRCh38")
	if err != nil {
		t.Fatal(err)
	}
	// Bytes whose SHA-256 cannot match the manifest's recorded checksum.
	backend.SetDataset(id, manifest.Manifest{
		ManifestVersion: 1,
		DBSchemaVersion: 3,
		Checksums:       manifest.Checksums{SqliteSHA256: "deadbeef"},
	}, []byte("corrupted"))

	req := httptest.NewRequest(http.MethodGet, "/v1/genes/count?release=110&species=homo_sapiens&assembly=GRCh38", nil)
	rec := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for corrupted bytes, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := rec.Body.String(); !strings.Contains(body, "NotReady") {
		t.Fatalf("expected NotReady error code, got %s", body)
	}
}

func TestHandler_echoesRequestID(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("x-request-id", "client-abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("x-request-id"); got != "client-abc" {
		t.Fatalf("x-request-id = %q, want client-abc", got)
	}

	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec2.Header().Get("x-request-id") == "" {
		t.Fatal("expected a synthesized x-request-id when none is supplied")
	}
}

func TestDatasets_etagMatchReturns304(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/datasets", nil)
	rec := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on first request, got %d: %s", rec.Code, rec.Body.String())
	}
	etag := rec.Header().Get("etag")
	if etag == "" {
		t.Fatal("expected an etag header on the datasets listing")
	}

	req2 := httptest.NewRequest(http.MethodGet, "/v1/datasets", nil)
	req2.Header.Set("if-none-match", etag)
	rec2 := httptest.NewRecorder()
	srv.Mux().ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusNotModified {
		t.Fatalf("expected 304 on matching if-none-match, got %d", rec2.Code)
	}
}
