package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "floodwatch"

// Metrics holds the Prometheus collectors for the report pipeline.
type Metrics struct {
	// HTTP surface.
	HTTPRequests        *prometheus.CounterVec   // labels: method, status
	HTTPRequestDuration *prometheus.HistogramVec // labels: method

	// Submission pipeline.
	ReportsSubmitted *prometheus.CounterVec // labels: write={full,minimal}, verdict={waterlogged,not_waterlogged,unknown}
	ImageUploads     *prometheus.CounterVec // labels: kind={original,derived}, outcome={success,error,inline,dropped}

	// Detector.
	DetectorRequests *prometheus.CounterVec // labels: outcome={waterlogged,not_waterlogged,unknown,error,timeout}
	DetectorDuration prometheus.Histogram

	// Moderation and trust.
	ModerationActions *prometheus.CounterVec // labels: action={approve,reject,reprocess,cleanup}
	TrustRecomputes   *prometheus.CounterVec // labels: outcome={success,error}
	ListingCache      *prometheus.CounterVec // labels: result={hit,miss,error}

	// Moderation feed.
	FeedConnections prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 30, 180},
		}, []string{"method"}),
		ReportsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_submitted_total",
			Help:      "Persisted report submissions by write path and detector verdict.",
		}, []string{"write", "verdict"}),
		ImageUploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_uploads_total",
			Help:      "Image store operations by image kind and outcome.",
		}, []string{"kind", "outcome"}),
		DetectorRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_requests_total",
			Help:      "Detector calls by outcome.",
		}, []string{"outcome"}),
		DetectorDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detector_duration_seconds",
			Help:      "Detector call duration in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 180},
		}),
		ModerationActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "moderation_actions_total",
			Help:      "Successful moderation actions by kind.",
		}, []string{"action"}),
		TrustRecomputes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trust_recomputes_total",
			Help:      "Per-user trust recomputations by outcome.",
		}, []string{"outcome"}),
		ListingCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listing_cache_total",
			Help:      "Approved listing cache lookups by result.",
		}, []string{"result"}),
		FeedConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_connections",
			Help:      "Moderation feed websocket connections on this instance.",
		}),
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.HTTPRequests,
		m.HTTPRequestDuration,
		m.ReportsSubmitted,
		m.ImageUploads,
		m.DetectorRequests,
		m.DetectorDuration,
		m.ModerationActions,
		m.TrustRecomputes,
		m.ListingCache,
		m.FeedConnections,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics so tests can build
// as many instances as they need.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
