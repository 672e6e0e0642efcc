package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AvailabilityMetrics exposes counters/histograms for slot queries and the conflict oracle.
type AvailabilityMetrics struct {
	oracleTotal     *prometheus.CounterVec
	oracleLatency   prometheus.Histogram
	queryTotal      *prometheus.CounterVec
	queryLatency    *prometheus.HistogramVec
	slotsReturned   prometheus.Histogram
	windowMutations *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
}

func NewAvailabilityMetrics(reg prometheus.Registerer) *AvailabilityMetrics {
	m := &AvailabilityMetrics{
		oracleTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peerhours",
			Subsystem: "oracle",
			Name:      "checks_total",
			Help:      "Conflict oracle answers by result",
		}, []string{"result"}),
		oracleLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "peerhours",
			Subsystem: "oracle",
			Name:      "check_latency_seconds",
			Help:      "Latency of a single conflict oracle check",
			Buckets:   prometheus.DefBuckets,
		}),
		queryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peerhours",
			Subsystem: "availability",
			Name:      "queries_total",
			Help:      "Availability queries by kind and outcome",
		}, []string{"query", "status"}),
		queryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "peerhours",
			Subsystem: "availability",
			Name:      "query_latency_seconds",
			Help:      "End-to-end latency of availability queries",
			Buckets:   prometheus.DefBuckets,
		}, []string{"query"}),
		slotsReturned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "peerhours",
			Subsystem: "availability",
			Name:      "slots_returned",
			Help:      "Open slots returned per listing",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		windowMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peerhours",
			Subsystem: "windows",
			Name:      "mutations_total",
			Help:      "Window mutations by operation and outcome",
		}, []string{"op", "status"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peerhours",
			Subsystem: "directory",
			Name:      "cache_lookups_total",
			Help:      "Provider directory cache lookups by result",
		}, []string{"result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.oracleTotal, m.oracleLatency, m.queryTotal, m.queryLatency, m.slotsReturned, m.windowMutations, m.cacheLookups)
	return m
}

func (m *AvailabilityMetrics) ObserveOracle(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.oracleTotal.WithLabelValues(result).Inc()
	m.oracleLatency.Observe(d.Seconds())
}

func (m *AvailabilityMetrics) ObserveQuery(query string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.queryTotal.WithLabelValues(query, statusLabel(err)).Inc()
	m.queryLatency.WithLabelValues(query).Observe(d.Seconds())
}

func (m *AvailabilityMetrics) ObserveSlots(n int) {
	if m == nil {
		return
	}
	m.slotsReturned.Observe(float64(n))
}

func (m *AvailabilityMetrics) ObserveMutation(op string, err error) {
	if m == nil {
		return
	}
	m.windowMutations.WithLabelValues(op, statusLabel(err)).Inc()
}

func (m *AvailabilityMetrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	label := "miss"
	if hit {
		label = "hit"
	}
	m.cacheLookups.WithLabelValues(label).Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
