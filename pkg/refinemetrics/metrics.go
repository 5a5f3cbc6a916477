// Package refinemetrics exports Prometheus instrumentation for the
// refinement engine and the index facade, using promauto for
// registration.
package refinemetrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every counter/histogram/gauge the refinement engine and
// the facade publish. A Metrics value is safe to share across every Index
// built against the same prometheus.Registerer; obtain one with New (the
// facade calls New with Config.Registerer).
type Metrics struct {
	CompileRuns        *prometheus.CounterVec
	CompileDuration    *prometheus.HistogramVec
	EpochsRun          *prometheus.HistogramVec
	ConvergenceRatio   *prometheus.GaugeVec
	ErrorRatio         *prometheus.GaugeVec
	ItemsIndexed       *prometheus.GaugeVec
	DistanceEvaluation *prometheus.CounterVec
}

var (
	instancesMu sync.Mutex
	instances   = make(map[prometheus.Registerer]*Metrics)
)

// New returns the Metrics registered against reg, creating and registering
// it on first use. Passing nil registers against the default global
// registry, matching promauto's own default behavior. Every Index built
// against the same registerer shares one Metrics instance — collector
// names are fixed, so registering them twice against one registerer would
// panic, and multiple indexes commonly share the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	instancesMu.Lock()
	defer instancesMu.Unlock()
	if m, ok := instances[reg]; ok {
		return m
	}

	m := newMetrics(reg)
	instances[reg] = m
	return m
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promautoFactory(reg)

	return &Metrics{
		CompileRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nndescent_compile_runs_total",
				Help: "Total number of compile() calls, labeled by outcome.",
			},
			[]string{"index", "outcome"},
		),
		CompileDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nndescent_compile_duration_seconds",
				Help:    "Wall-clock duration of successful compile() calls.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"index"},
		),
		EpochsRun: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nndescent_compile_epochs",
				Help:    "Number of refinement epochs a compile() call ran before converging.",
				Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
			},
			[]string{"index"},
		),
		ConvergenceRatio: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nndescent_last_epoch_improvement_ratio",
				Help: "Improvement ratio (c/N) observed on the final epoch of the last compile().",
			},
			[]string{"index"},
		),
		ErrorRatio: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nndescent_error_ratio",
				Help: "Most recently measured error_ratio() value.",
			},
			[]string{"index"},
		),
		ItemsIndexed: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nndescent_items_indexed",
				Help: "Number of items currently in the item store.",
			},
			[]string{"index"},
		),
		DistanceEvaluation: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nndescent_distance_evaluations_total",
				Help: "Total number of distance function invocations, labeled by phase.",
			},
			[]string{"index", "phase"},
		),
	}
}
