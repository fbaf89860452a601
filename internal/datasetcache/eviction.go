package datasetcache

import (
	"os"
	"sort"
	"time"

	"github.com/bijux/atlas-cache/internal/datasetid"
	"github.com/bijux/atlas-cache/internal/layout"
)

// evictionCandidate is a scored entry considered for removal by the
// cost-aware eviction pass.
type evictionCandidate struct {
	id    datasetid.ID
	score float64
}

// EvictBackground runs one eviction pass: first an idle-TTL sweep removing
// any unpinned dataset untouched for longer than IdleTTL, then — only if the
// cache still exceeds its dataset-count or disk-size bound — a cost-aware
// sweep removing the lowest-value datasets until both bounds are satisfied.
func (m *Manager) EvictBackground() {
	now := time.Now()

	m.mu.Lock()
	var idleVictims []datasetid.ID
	for id, e := range m.entries {
		if m.pinned[id] {
			continue
		}
		if now.Sub(e.lastAccess) > m.cfg.IdleTTL {
			idleVictims = append(idleVictims, id)
		}
	}
	m.mu.Unlock()

	for _, id := range idleVictims {
		m.evict(id)
	}

	m.mu.Lock()
	count := len(m.entries)
	var totalBytes uint64
	for _, e := range m.entries {
		totalBytes += e.sizeBytes
	}
	overCount := count > m.cfg.MaxDatasetCount
	overBytes := totalBytes > m.cfg.MaxDiskBytes
	m.mu.Unlock()

	if !overCount && !overBytes {
		m.updateCapacityGauges()
		return
	}

	for {
		m.mu.Lock()
		count = len(m.entries)
		totalBytes = 0
		var candidates []evictionCandidate
		for id, e := range m.entries {
			totalBytes += e.sizeBytes
			if m.pinned[id] {
				continue
			}
			candidates = append(candidates, evictionCandidate{id: id, score: evictionScore(now, e)})
		}
		overCount = count > m.cfg.MaxDatasetCount
		overBytes = totalBytes > m.cfg.MaxDiskBytes
		m.mu.Unlock()

		if (!overCount && !overBytes) || len(candidates) == 0 {
			break
		}

		sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
		m.evict(candidates[0].id)
	}

	m.updateCapacityGauges()
}

// evictionScore ranks candidates by age times size over last download
// latency: stale, large, cheaply-refetched datasets are evicted first.
// score = age_seconds * size_bytes / max(last_download_latency_ns, 1).
func evictionScore(now time.Time, e *entry) float64 {
	age := now.Sub(e.lastAccess).Seconds()
	if age < 1 {
		age = 1
	}
	latency := e.lastDownloadLatencyNs
	if latency < 1 {
		latency = 1
	}
	return age * float64(e.sizeBytes) / float64(latency)
}

// evict removes id's entry and on-disk files.
func (m *Manager) evict(id datasetid.ID) {
	m.mu.Lock()
	e, ok := m.entries[id]
	if ok {
		delete(m.entries, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if e.db != nil {
		e.db.Close()
	}

	paths := layout.For(m.cfg.DiskRoot, id)
	os.Remove(paths.ArtifactPath)
	os.Remove(paths.ManifestPath)
	os.Remove(paths.VerifiedMarkerPath)
	for _, p := range e.shardPaths {
		os.Remove(p)
	}
	os.Remove(layout.ShardsDir(m.cfg.DiskRoot, id))
	os.Remove(paths.DerivedDir)

	m.metrics.DatasetEvictedTotal.Inc()
}

func (m *Manager) updateCapacityGauges() {
	m.mu.Lock()
	count := len(m.entries)
	var totalBytes uint64
	for _, e := range m.entries {
		totalBytes += e.sizeBytes
	}
	m.mu.Unlock()
	m.metrics.DatasetCount.Set(float64(count))
	m.metrics.DiskUsageBytes.Set(float64(totalBytes))
}
