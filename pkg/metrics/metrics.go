package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kpi_dashboard"

// Metrics groups the collectors of the service on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
	computeTime   *prometheus.HistogramVec
	computeErrors *prometheus.CounterVec
	ingested      *prometheus.CounterVec
	rejected      *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_hits_total",
			Help: "KPI result cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_misses_total",
			Help: "KPI result cache misses.",
		}),
		computeTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "kpi_compute_seconds",
			Help:    "Time spent evaluating a KPI.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"kpi", "strategy"}),
		computeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "kpi_compute_errors_total",
			Help: "Failed KPI evaluations by error class.",
		}, []string{"kpi", "strategy", "class"}),
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ingested_records_total",
			Help: "Records written by the ingestion pipeline.",
		}, []string{"entity", "mode"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rejected_batches_total",
			Help: "Ingestion batches rejected before writing.",
		}, []string{"entity"}),
	}
	m.reg.MustRegister(
		m.cacheHits, m.cacheMisses, m.computeTime, m.computeErrors, m.ingested, m.rejected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// CacheHit implements cache.Observer.
func (m *Metrics) CacheHit() { m.cacheHits.Inc() }

// CacheMiss implements cache.Observer.
func (m *Metrics) CacheMiss() { m.cacheMisses.Inc() }

// ObserveCompute records one evaluation; class is "ok" on success.
func (m *Metrics) ObserveCompute(kpi, strategy, class string, d time.Duration) {
	m.computeTime.WithLabelValues(kpi, strategy).Observe(d.Seconds())
	if class != "ok" {
		m.computeErrors.WithLabelValues(kpi, strategy, class).Inc()
	}
}

// ObserveLoad records an ingestion batch.
func (m *Metrics) ObserveLoad(entity, mode string, loaded int, ok bool) {
	if !ok {
		m.rejected.WithLabelValues(entity).Inc()
		return
	}
	m.ingested.WithLabelValues(entity, mode).Add(float64(loaded))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }
