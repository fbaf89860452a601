package metrics

import "testing"

func TestNewRegistry_populatesEveryMetricGroup(t *testing.T) {
	r := NewRegistry()
	if r.Cache == nil || r.Request == nil {
		t.Fatal("expected both metric groups to be populated")
	}
	r.Cache.DatasetHits.Inc()
	r.Cache.DatasetCount.Set(3)
	r.Request.RequestsTotal.WithLabelValues("/v1/genes", "200").Inc()
	r.Request.RequestDuration.WithLabelValues("/v1/genes").Observe(0.01)
}

func TestHandler_returnsNonNil(t *testing.T) {
	r := NewRegistry()
	r.Cache.DatasetHits.Inc()
	h := r.Handler()
	if h == nil {
		t.Fatal("expected non-nil handler")
	}
}
