package storage

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CacheMetrics exports window cache activity to Prometheus.
// A nil *CacheMetrics is valid and records nothing.
type CacheMetrics struct {
	requests       *prometheus.CounterVec
	fetches        prometheus.Counter
	fetchErrors    prometheus.Counter
	fetchedSamples prometheus.Counter
}

// NewCacheMetrics creates the cache collectors and registers them with reg
func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	m := &CacheMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "homemonitor",
			Subsystem: "window_cache",
			Name:      "requests_total",
			Help:      "Window cache queries by result (hit, extend, miss).",
		}, []string{"result"}),
		fetches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "homemonitor",
			Subsystem: "window_cache",
			Name:      "fetches_total",
			Help:      "Range fetches issued to the underlying sources.",
		}),
		fetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "homemonitor",
			Subsystem: "window_cache",
			Name:      "fetch_errors_total",
			Help:      "Range fetches that failed.",
		}),
		fetchedSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "homemonitor",
			Subsystem: "window_cache",
			Name:      "fetched_samples_total",
			Help:      "Samples received from the underlying sources.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.requests, m.fetches, m.fetchErrors, m.fetchedSamples)
	}

	return m
}

func (m *CacheMetrics) observeRequest(result string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(result).Inc()
}

func (m *CacheMetrics) observeFetch(samples int, err error) {
	if m == nil {
		return
	}
	m.fetches.Inc()
	if err != nil {
		m.fetchErrors.Inc()
		return
	}
	m.fetchedSamples.Add(float64(samples))
}
