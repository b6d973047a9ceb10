package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOperation identifies the snapshot cache method being instrumented.
type CacheOperation string

const (
	CacheOperationLookup CacheOperation = "lookup"
	CacheOperationStore  CacheOperation = "store"
)

// CacheLookupOutcome captures the result of a snapshot cache lookup.
type CacheLookupOutcome string

const (
	CacheLookupHit   CacheLookupOutcome = "hit"
	CacheLookupMiss  CacheLookupOutcome = "miss"
	CacheLookupError CacheLookupOutcome = "error"
)

// Recorder publishes Prometheus metrics for overlay and reconciler activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	upstreamRequests *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec

	cacheOperations *prometheus.CounterVec

	fallbackActive prometheus.Gauge
	fallbackTrips  prometheus.Counter

	reconcileTriggers *prometheus.CounterVec
	stockCorrections  *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist without
// conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	upstreamRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stocklink",
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "Upstream product fetches by classified outcome.",
	}, []string{"outcome"})

	upstreamLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "stocklink",
		Subsystem: "upstream",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for upstream product fetches.",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
	}, []string{"outcome"})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stocklink",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Snapshot cache operations executed by the overlay.",
	}, []string{"operation", "result"})

	fallbackActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stocklink",
		Subsystem: "fallback",
		Name:      "active",
		Help:      "Whether fallback mode is currently gating upstream calls.",
	})

	fallbackTrips := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stocklink",
		Subsystem: "fallback",
		Name:      "trips_total",
		Help:      "Times the consecutive-failure threshold tripped fallback mode.",
	})

	reconcileTriggers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stocklink",
		Subsystem: "reconcile",
		Name:      "triggers_total",
		Help:      "Purchase-funnel reconciliation triggers by outcome.",
	}, []string{"trigger", "outcome"})

	stockCorrections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stocklink",
		Subsystem: "reconcile",
		Name:      "stock_corrections_total",
		Help:      "Host stock record corrections by reason.",
	}, []string{"reason"})

	reg.MustRegister(upstreamRequests, upstreamLatency, cacheOperations,
		fallbackActive, fallbackTrips, reconcileTriggers, stockCorrections)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:          reg,
		handler:           handler,
		upstreamRequests:  upstreamRequests,
		upstreamLatency:   upstreamLatency,
		cacheOperations:   cacheOperations,
		fallbackActive:    fallbackActive,
		fallbackTrips:     fallbackTrips,
		reconcileTriggers: reconcileTriggers,
		stockCorrections:  stockCorrections,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveUpstream records a completed upstream fetch attempt.
func (r *Recorder) ObserveUpstream(outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	label := normalizeLabel(outcome)
	r.upstreamRequests.WithLabelValues(label).Inc()
	r.upstreamLatency.WithLabelValues(label).Observe(duration.Seconds())
}

// ObserveCacheLookup records the result of a snapshot cache lookup.
func (r *Recorder) ObserveCacheLookup(result CacheLookupOutcome) {
	if r == nil {
		return
	}
	r.cacheOperations.WithLabelValues(string(CacheOperationLookup), normalizeLabel(string(result))).Inc()
}

// ObserveCacheStore records the result of a snapshot cache store attempt.
func (r *Recorder) ObserveCacheStore(err error) {
	if r == nil {
		return
	}
	result := "stored"
	if err != nil {
		result = "error"
	}
	r.cacheOperations.WithLabelValues(string(CacheOperationStore), result).Inc()
}

// SetFallbackActive mirrors the tracker's fallback flag onto the gauge and
// counts activations.
func (r *Recorder) SetFallbackActive(active bool) {
	if r == nil {
		return
	}
	if active {
		r.fallbackActive.Set(1)
		r.fallbackTrips.Inc()
		return
	}
	r.fallbackActive.Set(0)
}

// ObserveReconcile records a purchase-funnel trigger and its outcome.
func (r *Recorder) ObserveReconcile(trigger, outcome string) {
	if r == nil {
		return
	}
	r.reconcileTriggers.WithLabelValues(normalizeLabel(trigger), normalizeLabel(outcome)).Inc()
}

// ObserveStockCorrection counts a host stock record write by reason.
func (r *Recorder) ObserveStockCorrection(reason string) {
	if r == nil {
		return
	}
	r.stockCorrections.WithLabelValues(normalizeLabel(reason)).Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
