package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const (
	namespace = "rujing"
)

// Metrics holds all application metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Store metrics
	StoreOperationDuration *prometheus.HistogramVec
	StoreOperationErrors   *prometheus.CounterVec
	StoreEventsPublished   *prometheus.CounterVec
	StoreSubscriptions     prometheus.Gauge

	// Comment engine metrics
	LikeTogglesTotal     *prometheus.CounterVec
	LikeRollbacksTotal   prometheus.Counter
	ViewsActive          prometheus.Gauge
	ViewRefetchesTotal   prometheus.Counter
	LikeCountsReconciled prometheus.Counter

	logger *zap.Logger
}

// New creates and registers all metrics with the default registry.
func New(logger *zap.Logger) *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer, logger)
}

// NewWithRegistry creates and registers all metrics with a custom registry.
func NewWithRegistry(registerer prometheus.Registerer, logger *zap.Logger) *Metrics {
	factory := promauto.With(registerer)
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		StoreOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_operation_duration_seconds",
				Help:      "Remote store operation duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"collection", "op"},
		),
		StoreOperationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_operation_errors_total",
				Help:      "Total number of failed remote store operations",
			},
			[]string{"collection", "op"},
		),
		StoreEventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_events_published_total",
				Help:      "Total number of change events published",
			},
			[]string{"collection", "type"},
		),
		StoreSubscriptions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "store_subscriptions",
				Help:      "Number of open change subscriptions",
			},
		),
		LikeTogglesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "comment_like_toggles_total",
				Help:      "Total number of like toggles by outcome",
			},
			[]string{"result"},
		),
		LikeRollbacksTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "comment_like_rollbacks_total",
				Help:      "Total number of optimistic like updates rolled back",
			},
		),
		ViewsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "comment_view_active",
				Help:      "Number of live comment views",
			},
		),
		ViewRefetchesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "comment_view_refetches_total",
				Help:      "Total number of refetches triggered by change events",
			},
		),
		LikeCountsReconciled: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "comment_like_counts_reconciled_total",
				Help:      "Total number of like counters rewritten by the reconciliation job",
			},
		),
		logger: logger,
	}
}

func (m *Metrics) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if path == "" {
		path = "unmatched"
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func (m *Metrics) RecordStoreOp(collection, op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.StoreOperationDuration.WithLabelValues(collection, op).Observe(d.Seconds())
	if err != nil {
		m.StoreOperationErrors.WithLabelValues(collection, op).Inc()
		m.logger.Debug("store operation failed",
			zap.String("collection", collection),
			zap.String("op", op),
			zap.Error(err),
		)
	}
}

func (m *Metrics) RecordEvent(collection, eventType string) {
	if m == nil {
		return
	}
	m.StoreEventsPublished.WithLabelValues(collection, eventType).Inc()
}

func (m *Metrics) SubscriptionOpened() {
	if m == nil {
		return
	}
	m.StoreSubscriptions.Inc()
}

func (m *Metrics) SubscriptionClosed() {
	if m == nil {
		return
	}
	m.StoreSubscriptions.Dec()
}

func (m *Metrics) RecordLikeToggle(result string) {
	if m == nil {
		return
	}
	m.LikeTogglesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordRollback() {
	if m == nil {
		return
	}
	m.LikeRollbacksTotal.Inc()
}

func (m *Metrics) ViewOpened() {
	if m == nil {
		return
	}
	m.ViewsActive.Inc()
}

func (m *Metrics) ViewClosed() {
	if m == nil {
		return
	}
	m.ViewsActive.Dec()
}

func (m *Metrics) RecordRefetch() {
	if m == nil {
		return
	}
	m.ViewRefetchesTotal.Inc()
}

func (m *Metrics) RecordReconciled(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.LikeCountsReconciled.Add(float64(n))
}
