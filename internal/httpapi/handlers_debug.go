package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/bijux/atlas-cache/internal/genequery"
)

// handleDebugDatasets exposes cached-dataset sizes and last-access times.
// Gated behind enable_debug_datasets (off by default in production
// profiles); no write capability.
func (s *Server) handleDebugDatasets(w http.ResponseWriter, r *http.Request) {
	s.admit(w, r, "/debug/datasets", genequery.Cheap, "", "", func(ctx context.Context) ([]byte, error) {
		summaries := s.manager.CachedDatasetsDebug()
		out := make([]map[string]any, 0, len(summaries))
		for _, sum := range summaries {
			out = append(out, map[string]any{
				"dataset":           sum.Dataset,
				"size_bytes":        sum.SizeBytes,
				"last_access":       sum.LastAccess.Format(time.RFC3339),
				"pinned":            sum.Pinned,
			})
		}
		return json.Marshal(map[string]any{
			"datasets": out,
			"registry": s.manager.Health(),
		})
	})
}

// handleDebugDatasetHealth exposes a per-dataset health snapshot: cached,
// size_bytes, last_open_seconds_ago, pinned.
func (s *Server) handleDebugDatasetHealth(w http.ResponseWriter, r *http.Request) {
	id, err := datasetIDFromQuery(r)
	if err != nil {
		s.writeComputeError(w, err)
		return
	}
	s.admit(w, r, "/debug/dataset-health", genequery.Cheap, id.Canonical(), "", func(ctx context.Context) ([]byte, error) {
		summaries := s.manager.CachedDatasetsDebug()
		canonical := id.Canonical()
		for _, sum := range summaries {
			if sum.Dataset != canonical {
				continue
			}
			// A registered entry is checksum-verified by construction: the
			// manager never registers an artifact whose hash or marker failed.
			return json.Marshal(map[string]any{
				"dataset":               canonical,
				"cached":                true,
				"checksum_verified":     true,
				"size_bytes":            sum.SizeBytes,
				"last_open_seconds_ago": time.Since(sum.LastAccess).Seconds(),
				"pinned":                sum.Pinned,
			})
		}
		return json.Marshal(map[string]any{
			"dataset": canonical,
			"cached":  false,
		})
	})
}
