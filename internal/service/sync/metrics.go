package sync

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once

	loadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracker",
		Subsystem: "sync",
		Name:      "loads_total",
		Help:      "Count of full-load attempts by result",
	}, []string{"result"})

	fallbacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracker",
		Subsystem: "sync",
		Name:      "fallbacks_total",
		Help:      "Count of fallback loads by source",
	}, []string{"source"})

	debouncedReloads = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tracker",
		Subsystem: "sync",
		Name:      "debounced_reloads_total",
		Help:      "Reloads triggered by coalesced change notifications",
	})

	loadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tracker",
		Subsystem: "sync",
		Name:      "load_duration_seconds",
		Help:      "Latency of successful full loads",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})
)

func registerMetrics() {
	metricsOnce.Do(func() {
		registerCollectors(prometheus.DefaultRegisterer)
	})
}

// registerCollectors registers the sync collectors, adopting any collector that
// is already present so duplicate registration never discards recorded samples.
func registerCollectors(reg prometheus.Registerer) {
	collectors := []prometheus.Collector{loadsTotal, fallbacksTotal, debouncedReloads, loadDuration}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			are, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				// Metrics are best-effort; a registration failure must not
				// keep the sync core from starting.
				continue
			}
			switch v := are.ExistingCollector.(type) {
			case *prometheus.CounterVec:
				if collector == loadsTotal {
					loadsTotal = v
				} else if collector == fallbacksTotal {
					fallbacksTotal = v
				}
			case prometheus.Counter:
				debouncedReloads = v
			case prometheus.Histogram:
				loadDuration = v
			}
		}
	}
}
