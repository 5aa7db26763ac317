package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector bundles the Prometheus metrics of one pipeline run. A nil
// *Collector is valid and records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	ProxiesCreated   prometheus.Counter
	DatasetsDeleted  prometheus.Counter
	RelinkResolved   prometheus.Counter
	RelinkUnresolved prometheus.Counter
	RelinkCacheHits  prometheus.Counter

	GraphActivities prometheus.Gauge

	DerivationDurations *prometheus.HistogramVec
}

// NewCollector registers the pipeline metrics against reg, defaulting to the
// global registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	counter := func(name, help string) (prometheus.Counter, error) {
		return registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help}), name)
	}

	proxies, err := counter("proxies_created_total", "Regional proxy activities created from templates.")
	if err != nil {
		return nil, err
	}
	deleted, err := counter("datasets_deleted_total", "Template activities removed after replication.")
	if err != nil {
		return nil, err
	}
	resolved, err := counter("relink_resolved_total", "Dangling exchange groups relinked to an existing supplier.")
	if err != nil {
		return nil, err
	}
	unresolved, err := counter("relink_unresolved_total", "Dangling exchange groups left without a supplier.")
	if err != nil {
		return nil, err
	}
	hits, err := counter("relink_cache_hits_total", "Relink resolutions served from the per-run cache.")
	if err != nil {
		return nil, err
	}

	activities, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "graph_activities",
		Help: "Current number of activities in the graph.",
	}), "graph_activities")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "derivation_duration_seconds",
		Help:    "Time spent deriving each scenario cube.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"cube"})
	durations, err = registerHistogramVec(reg, durations, "derivation_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:            gatherer,
		ProxiesCreated:      proxies,
		DatasetsDeleted:     deleted,
		RelinkResolved:      resolved,
		RelinkUnresolved:    unresolved,
		RelinkCacheHits:     hits,
		GraphActivities:     activities,
		DerivationDurations: durations,
	}, nil
}

// Gatherer returns the gatherer backing the registerer the collector was
// built with.
func (c *Collector) Gatherer() prometheus.Gatherer {
	if c == nil || c.gatherer == nil {
		return prometheus.DefaultGatherer
	}
	return c.gatherer
}

func (c *Collector) AddProxies(n int) {
	if c == nil {
		return
	}
	c.ProxiesCreated.Add(float64(n))
}

func (c *Collector) AddDeleted(n int) {
	if c == nil {
		return
	}
	c.DatasetsDeleted.Add(float64(n))
}

func (c *Collector) IncResolved() {
	if c == nil {
		return
	}
	c.RelinkResolved.Inc()
}

func (c *Collector) IncUnresolved() {
	if c == nil {
		return
	}
	c.RelinkUnresolved.Inc()
}

func (c *Collector) IncCacheHit() {
	if c == nil {
		return
	}
	c.RelinkCacheHits.Inc()
}

func (c *Collector) SetActivities(n int) {
	if c == nil {
		return
	}
	c.GraphActivities.Set(float64(n))
}

// ObserveDerivation records how long the named cube took since start.
func (c *Collector) ObserveDerivation(cube string, start time.Time) {
	if c == nil {
		return
	}
	c.DerivationDurations.WithLabelValues(cube).Observe(time.Since(start).Seconds())
}

// WriteTextfile dumps every gathered metric to path in the text exposition
// format, for node_exporter's textfile collector.
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.Gatherer()); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
