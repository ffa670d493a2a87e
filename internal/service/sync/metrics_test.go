package sync

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterCollectorsAdoptsExisting(t *testing.T) {
	reg := prometheus.NewRegistry()
	registerCollectors(reg)

	first := struct {
		loads     *prometheus.CounterVec
		fallbacks *prometheus.CounterVec
		debounced prometheus.Counter
		durations prometheus.Histogram
	}{loadsTotal, fallbacksTotal, debouncedReloads, loadDuration}

	// Fresh collectors with the same names clash with the registered ones;
	// registration must swap back to the collectors the registry already holds.
	loadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracker", Subsystem: "sync", Name: "loads_total",
		Help: "Count of full-load attempts by result",
	}, []string{"result"})
	fallbacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracker", Subsystem: "sync", Name: "fallbacks_total",
		Help: "Count of fallback loads by source",
	}, []string{"source"})
	debouncedReloads = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tracker", Subsystem: "sync", Name: "debounced_reloads_total",
		Help: "Reloads triggered by coalesced change notifications",
	})
	loadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tracker", Subsystem: "sync", Name: "load_duration_seconds",
		Help:    "Latency of successful full loads",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	registerCollectors(reg)

	if loadsTotal != first.loads {
		t.Fatal("loadsTotal was not adopted from the registry")
	}
	if fallbacksTotal != first.fallbacks {
		t.Fatal("fallbacksTotal was not adopted from the registry")
	}
	if debouncedReloads != first.debounced {
		t.Fatal("debouncedReloads was not adopted from the registry")
	}
	if loadDuration != first.durations {
		t.Fatal("loadDuration was not adopted from the registry")
	}
}
