package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/samcharles93/arbor/internal/kvcache"
)

// Adapter implements kvcache.Metrics and exports Prometheus counters and
// gauges. Safe for concurrent use; all Prometheus metric types are
// goroutine-safe.
type Adapter struct {
	inserted prometheus.Counter
	erased   prometheus.Counter
	hits     prometheus.Counter
	misses   prometheus.Counter
	nodes    prometheus.Gauge
	ops      *prometheus.CounterVec
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns:           Prometheus namespace
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		inserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "cache",
			Name:        "nodes_inserted_total",
			Help:        "Cache nodes registered",
			ConstLabels: constLabels,
		}),
		erased: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "cache",
			Name:        "nodes_erased_total",
			Help:        "Cache handles erased after their last release",
			ConstLabels: constLabels,
		}),
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "cache",
			Name:        "resolve_hits_total",
			Help:        "Handle lookups that resolved",
			ConstLabels: constLabels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "cache",
			Name:        "resolve_misses_total",
			Help:        "Handle lookups that failed",
			ConstLabels: constLabels,
		}),
		nodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   "cache",
			Name:        "nodes",
			Help:        "Registered cache nodes",
			ConstLabels: constLabels,
		}),
		ops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "engine",
				Name:        "operations_total",
				Help:        "Engine operations by kind and result status",
				ConstLabels: constLabels,
			},
			[]string{"op", "status"},
		),
	}
	reg.MustRegister(a.inserted, a.erased, a.hits, a.misses, a.nodes, a.ops)
	return a
}

// NodeInserted increments the insert counter.
func (a *Adapter) NodeInserted() { a.inserted.Inc() }

// NodeErased increments the erase counter.
func (a *Adapter) NodeErased() { a.erased.Inc() }

// ResolveHit increments the resolve hit counter.
func (a *Adapter) ResolveHit() { a.hits.Inc() }

// ResolveMiss increments the resolve miss counter.
func (a *Adapter) ResolveMiss() { a.misses.Inc() }

// SetNodes updates the registered node gauge.
func (a *Adapter) SetNodes(n int) { a.nodes.Set(float64(n)) }

// ObserveOp counts one engine operation with its result status label.
func (a *Adapter) ObserveOp(op, status string) {
	a.ops.WithLabelValues(op, status).Inc()
}

// Compile-time check: ensure Adapter implements kvcache.Metrics.
var _ kvcache.Metrics = (*Adapter)(nil)
