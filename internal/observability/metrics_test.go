package observability

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	c.AddProxies(3)
	c.AddDeleted(2)
	c.IncResolved()
	c.IncUnresolved()
	c.IncCacheHit()
	c.IncCacheHit()
	c.SetActivities(17)

	checks := map[string]struct {
		got, want float64
	}{
		"proxies_created_total":   {testutil.ToFloat64(c.ProxiesCreated), 3},
		"datasets_deleted_total":  {testutil.ToFloat64(c.DatasetsDeleted), 2},
		"relink_resolved_total":   {testutil.ToFloat64(c.RelinkResolved), 1},
		"relink_unresolved_total": {testutil.ToFloat64(c.RelinkUnresolved), 1},
		"relink_cache_hits_total": {testutil.ToFloat64(c.RelinkCacheHits), 2},
		"graph_activities":        {testutil.ToFloat64(c.GraphActivities), 17},
	}
	for name, v := range checks {
		if v.got != v.want {
			t.Errorf("%s = %v, want %v", name, v.got, v.want)
		}
	}
}

func TestCollectorReRegistrationReturnsExisting(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	first.AddProxies(1)

	second, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("second NewCollector: %v", err)
	}
	if got := testutil.ToFloat64(second.ProxiesCreated); got != 1 {
		t.Fatalf("proxies_created_total via second collector = %v, want 1", got)
	}
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.AddProxies(1)
	c.IncResolved()
	c.ObserveDerivation("market_shares", time.Now())
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	c.ObserveDerivation("efficiency", time.Now().Add(-time.Millisecond))

	path := filepath.Join(t.TempDir(), "run.prom")
	if err := c.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(raw), `derivation_duration_seconds_count{cube="efficiency"} 1`) {
		t.Fatalf("textfile missing histogram sample:\n%s", raw)
	}
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	ctx, span := StartSpan(context.Background(), "noop")
	EndSpan(span, nil)
	ShutdownWithTimeout(ctx, shutdown, nil)
}
