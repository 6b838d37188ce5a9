package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_Observe(t *testing.T) {
	c := New()
	c.ObserveSplit("LAB", "ok", 10, 2)
	c.ObserveLookup("ECG", "ambiguous")
	c.ObserveLookup("ECG", "ambiguous")
	c.ObserveReport("ok", 5, 2*time.Second)

	if got := testutil.ToFloat64(c.lookupsTotal.WithLabelValues("ECG", "ambiguous")); got != 2 {
		t.Errorf("lookups = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.splitPages.WithLabelValues("LAB", "unmatched")); got != 2 {
		t.Errorf("unmatched pages = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.mergedPages); got != 5 {
		t.Errorf("merged pages = %v, want 5", got)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	c.ObserveReport("failed", 0, time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `medreport_reports_total{status="failed"} 1`) {
		t.Errorf("missing report counter in output")
	}
}

func TestCollector_Nil(t *testing.T) {
	var c *Collector
	c.ObserveSplit("LAB", "ok", 1, 0)
	c.ObserveLookup("LAB", "found")
	c.ObserveReport("ok", 1, time.Second)
	if c.Registry() != nil {
		t.Error("nil collector has no registry")
	}
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
