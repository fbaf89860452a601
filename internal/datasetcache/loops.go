package datasetcache

import (
	"context"
	"log"
	"time"
)

// SpawnBackgroundLoops starts the eviction and integrity-reverification
// loops on their configured intervals. Both loops log and continue on
// failure rather than terminating: a single bad pass must never take the
// cache manager down. It starts one goroutine per loop and returns
// immediately; cancelling ctx stops both loops.
func (m *Manager) SpawnBackgroundLoops(ctx context.Context) {
	go m.runLoop(ctx, "eviction", m.cfg.EvictionCheckInterval, func() {
		m.EvictBackground()
	})
	go m.runLoop(ctx, "integrity-reverify", m.cfg.IntegrityReverifyInterval, func() {
		m.ReverifyCachedDatasets(ctx)
	})
}

func (m *Manager) runLoop(ctx context.Context, name string, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runSafely(name, fn)
		}
	}
}

// runSafely recovers a panic from fn so one broken background pass cannot
// crash the process; it is logged and the loop continues on the next tick.
func runSafely(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("datasetcache: %s loop recovered from panic: %v", name, r)
		}
	}()
	fn()
}
