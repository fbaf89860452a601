package httpapi

import (
	"encoding/json"
	"net/http"
	"time"
)

// handleHealthz is the pure liveness probe: 200 always, regardless of
// draining, readiness, or store health.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":         "alive",
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleHealthzOverload reflects the current shedding verdict alongside the
// draining flag, cached-only mode, and the emergency-breaker config flag —
// distinct from /readyz, which reflects catalog presence.
func (s *Server) handleHealthzOverload(w http.ResponseWriter, r *http.Request) {
	overloaded := s.shed.Overloaded() || s.draining.Load() || s.cfg.EmergencyGlobalBreaker
	status := http.StatusOK
	if overloaded {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"overloaded":        overloaded,
		"draining":          s.draining.Load(),
		"cached_only_mode":  s.manager.CachedOnlyMode(),
		"emergency_breaker": s.cfg.EmergencyGlobalBreaker,
	})
}

// handleReadyz reports 200 once the ready flag is set and, if
// readiness_requires_catalog is configured, the catalog is non-empty. A
// cached-only pod never refreshes the catalog, so it is exempt from the
// catalog requirement and reports ready on its cached datasets alone.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ready := s.ready.Load()
	if ready && s.cfg.ReadinessRequiresCatalog && !s.manager.CachedOnlyMode() {
		ready = len(s.manager.CurrentCatalog().Entries) > 0
	}
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]bool{"ready": ready})
}
