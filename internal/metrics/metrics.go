// Package metrics exposes the Statistics surface
// and provider/chain-driver health as Prometheus
// collectors, via a ChainMetrics interface (record ops, aggregate
// getters, a HealthStatus with degradation criteria, Export, Reset)
// generalized from transaction build/sign/broadcast counters to
// price-engine and provider-health counters, which are this domain's
// equivalent "operations". It backs that interface with real
// github.com/prometheus/client_golang collectors instead of a hand-rolled
// text exporter, and adds the NoOpMetrics fallback for when
// MetricsConfig.Enabled is false.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yourusername/portfoliod/internal/aggregator"
	"github.com/yourusername/portfoliod/internal/priceengine"
)

// Reporter is the interface the rest of the module depends on, so callers
// never need to know whether metrics are actually wired up (NoOpMetrics
// satisfies it too).
type Reporter interface {
	RecordDiscoveryRun(chain string, duration time.Duration, tokensFound int, success bool)
	RecordValuationRun(duration time.Duration, assetCount int, success bool)
	Handler() http.Handler
}

// Metrics is the real, client_golang-backed Reporter. One instance is
// constructed at startup and threaded into the discovery engine, the
// valuation engine and the scheduler, plus polled on each scrape
// for price-engine statistics and provider health via the registered
// collector below.
type Metrics struct {
	registry *prometheus.Registry

	discoveryRuns     *prometheus.CounterVec
	discoveryDuration *prometheus.HistogramVec
	discoveryTokens   *prometheus.HistogramVec

	valuationRuns     *prometheus.CounterVec
	valuationDuration prometheus.Histogram
	valuationAssets   prometheus.Histogram
}

// New constructs a Metrics instance with its own registry, registers the
// static counters plus a pull collector for price-engine statistics and
// provider health, and returns it ready to serve /metrics.
func New(prices *priceengine.Engine, agg *aggregator.Aggregator) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		discoveryRuns: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "portfoliod",
			Subsystem: "discovery",
			Name:      "runs_total",
			Help:      "Token discovery runs, labeled by chain and outcome.",
		}, []string{"chain", "result"}),
		discoveryDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "portfoliod",
			Subsystem: "discovery",
			Name:      "duration_seconds",
			Help:      "Token discovery run latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"chain"}),
		discoveryTokens: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "portfoliod",
			Subsystem: "discovery",
			Name:      "tokens_found",
			Help:      "Tokens returned per discovery run.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
		}, []string{"chain"}),
		valuationRuns: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "portfoliod",
			Subsystem: "valuation",
			Name:      "runs_total",
			Help:      "Asset valuation runs, labeled by outcome.",
		}, []string{"result"}),
		valuationDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "portfoliod",
			Subsystem: "valuation",
			Name:      "duration_seconds",
			Help:      "Asset valuation run latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		valuationAssets: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "portfoliod",
			Subsystem: "valuation",
			Name:      "assets_valued",
			Help:      "Assets valued per valuation run.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250},
		}),
	}

	reg.MustRegister(&pullCollector{prices: prices, agg: agg})
	return m
}

func (m *Metrics) RecordDiscoveryRun(chain string, duration time.Duration, tokensFound int, success bool) {
	m.discoveryRuns.WithLabelValues(chain, resultLabel(success)).Inc()
	m.discoveryDuration.WithLabelValues(chain).Observe(duration.Seconds())
	m.discoveryTokens.WithLabelValues(chain).Observe(float64(tokensFound))
}

func (m *Metrics) RecordValuationRun(duration time.Duration, assetCount int, success bool) {
	m.valuationRuns.WithLabelValues(resultLabel(success)).Inc()
	m.valuationDuration.Observe(duration.Seconds())
	m.valuationAssets.Observe(float64(assetCount))
}

// Handler serves the exposition endpoint the scheduler's process exposes at
// MetricsConfig.Addr.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// pullCollector reads priceengine.Statistics and aggregator provider health
// live on every scrape instead of mirroring them into a background-updated
// gauge, avoiding a staleness window between scrapes.
type pullCollector struct {
	prices *priceengine.Engine
	agg    *aggregator.Aggregator
}

func newPullDescs() (
	requests, cacheHits, rateLimit, networkErrs, success, batch, providerHealthy *prometheus.Desc,
) {
	ns := "portfoliod_priceengine_"
	requests = prometheus.NewDesc(ns+"requests_total", "Total price engine requests served.", nil, nil)
	cacheHits = prometheus.NewDesc(ns+"cache_hits_total", "Price engine cache hits.", nil, nil)
	rateLimit = prometheus.NewDesc(ns+"rate_limit_hits_total", "Price engine upstream rate-limit responses.", nil, nil)
	networkErrs = prometheus.NewDesc(ns+"network_errors_total", "Price engine network/transport errors.", nil, nil)
	success = prometheus.NewDesc(ns+"successful_requests_total", "Price engine requests that resolved a price.", nil, nil)
	batch = prometheus.NewDesc(ns+"batch_requests_total", "Price engine batch (multi-symbol) requests.", nil, nil)
	providerHealthy = prometheus.NewDesc("portfoliod_provider_healthy", "1 if the data provider is currently healthy, else 0.", []string{"provider"}, nil)
	return
}

func (c *pullCollector) Describe(ch chan<- *prometheus.Desc) {
	requests, cacheHits, rateLimit, networkErrs, success, batch, providerHealthy := newPullDescs()
	ch <- requests
	ch <- cacheHits
	ch <- rateLimit
	ch <- networkErrs
	ch <- success
	ch <- batch
	ch <- providerHealthy
}

func (c *pullCollector) Collect(ch chan<- prometheus.Metric) {
	requests, cacheHits, rateLimit, networkErrs, success, batch, providerHealthy := newPullDescs()

	snap := c.prices.Stats()
	ch <- prometheus.MustNewConstMetric(requests, prometheus.CounterValue, float64(snap.TotalRequests))
	ch <- prometheus.MustNewConstMetric(cacheHits, prometheus.CounterValue, float64(snap.CacheHits))
	ch <- prometheus.MustNewConstMetric(rateLimit, prometheus.CounterValue, float64(snap.RateLimitHits))
	ch <- prometheus.MustNewConstMetric(networkErrs, prometheus.CounterValue, float64(snap.NetworkErrors))
	ch <- prometheus.MustNewConstMetric(success, prometheus.CounterValue, float64(snap.SuccessfulRequests))
	ch <- prometheus.MustNewConstMetric(batch, prometheus.CounterValue, float64(snap.BatchRequests))

	for _, ps := range c.agg.Status() {
		v := 0.0
		if ps.Healthy {
			v = 1.0
		}
		ch <- prometheus.MustNewConstMetric(providerHealthy, prometheus.GaugeValue, v, ps.Name)
	}
}

// NoOpMetrics satisfies Reporter without registering any collector, used
// when MetricsConfig.Enabled is false (the ChainMetrics package's NoOpMetrics
// idiom, generalized).
type NoOpMetrics struct{}

func (NoOpMetrics) RecordDiscoveryRun(string, time.Duration, int, bool) {}
func (NoOpMetrics) RecordValuationRun(time.Duration, int, bool)        {}
func (NoOpMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "metrics disabled", http.StatusNotFound)
	})
}
