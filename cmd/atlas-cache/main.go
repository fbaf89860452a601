// Command atlas-cache serves versioned, content-addressed genomic datasets
// over HTTP: it maintains a bounded local cache of dataset artifacts fetched
// from an upstream store, verifies them against their manifests, and answers
// gene/transcript queries against the cached SQLite files under layered
// admission control.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/bijux/atlas-cache/internal/config"
	"github.com/bijux/atlas-cache/internal/datasetcache"
	"github.com/bijux/atlas-cache/internal/health"
	"github.com/bijux/atlas-cache/internal/httpapi"
	"github.com/bijux/atlas-cache/internal/metrics"
	"github.com/bijux/atlas-cache/internal/safeurl"
	"github.com/bijux/atlas-cache/internal/store"
)

func main() {
	envFile := flag.String("env-file", ".env", "optional dotenv file to load before reading ATLAS_CACHE_* environment variables")
	flag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil && !os.IsNotExist(err) {
		log.Printf("load env file %s: %v", *envFile, err)
	}

	cacheCfg := config.Load()
	apiCfg := config.LoadAPI()

	var backend store.Backend
	if cacheCfg.StoreURL != "" {
		if !safeurl.IsHTTPOrHTTPS(cacheCfg.StoreURL) {
			log.Fatalf("store URL %q: only http and https schemes are supported", cacheCfg.StoreURL)
		}
		backend = store.NewHTTPBackend(cacheCfg.StoreURL)
	} else {
		backend = store.NewLocalFSBackend(cacheCfg.DiskRoot)
	}

	registry := metrics.NewRegistry()

	manager, err := datasetcache.NewManager(cacheCfg, backend, registry.Cache)
	if err != nil {
		log.Fatalf("init dataset cache: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.RefreshCatalog(ctx); err != nil {
		log.Printf("initial catalog refresh: %v", err)
	}
	if err := manager.StartupWarmup(ctx); err != nil {
		log.Printf("startup warmup: %v", err)
	}
	manager.SpawnBackgroundLoops(ctx)

	if cacheCfg.StoreURL != "" {
		if err := health.CheckStore(ctx, cacheCfg.StoreURL); err != nil {
			log.Printf("store unreachable at startup (breakers will gate traffic): %v", err)
		}
		go runStoreHealthLoop(ctx, cacheCfg.StoreURL)
	}

	srv := httpapi.NewServer(apiCfg, manager, registry)
	srv.SetReady(true)

	h2s := &http2.Server{}
	httpServer := &http.Server{
		Addr:         apiCfg.Addr,
		Handler:      h2c.NewHandler(srv.Handler(), h2s),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("listening on %s", apiCfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("shutdown signal received, draining")
	srv.SetDraining(true)
	srv.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown: %v", err)
	}
	cancel()
	log.Println("shut down")
}

// runStoreHealthLoop periodically probes the upstream store's catalog and
// health paths and logs a warning when it is unreachable or unhealthy. The
// per-dataset and store circuit breakers already stop traffic to a failing
// store; this loop only surfaces degraded-store visibility to operators.
func runStoreHealthLoop(ctx context.Context, storeURL string) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := health.CheckStorePaths(ctx, storeURL); err != nil {
				log.Printf("store health check failed: %v", err)
			}
		}
	}
}
