package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	Namespace = "irma"

	MetricVenueReadSeconds = "read_seconds"
	MetricVenueReadErrors  = "read_errors_total"

	MetricPublisherAcksTotal = "acks_total"
	MetricPublisherErrors    = "errors_total"

	MetricIntakeProcessedTotal = "processed_total"
	MetricIntakeRejectedTotal  = "rejected_total"
	MetricIntakeLagSeconds     = "lag_seconds"

	MetricCrankRunsTotal  = "runs_total"
	MetricCrankRebalances = "rebalances_total"

	MetricWatcherUpdatesTotal = "account_updates_total"
	MetricWatcherSlot         = "highest_slot"

	MetricAPIRequestsTotal = "requests_total"
)

// Metrics bundles the engine-wide collectors shared by the connector,
// publisher, crank and watcher. A nil *Metrics records nothing.
type Metrics struct {
	venueRead      *prometheus.HistogramVec
	venueErrors    *prometheus.CounterVec
	publisherAcks  *prometheus.CounterVec
	publisherErrs  *prometheus.CounterVec
	crankRuns      *prometheus.CounterVec
	crankShifts    prometheus.Counter
	watcherUpdates *prometheus.CounterVec
	watcherSlot    prometheus.Gauge
	apiRequests    *prometheus.CounterVec

	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// Registries resolves a registerer/gatherer pair. When both are nil an
// isolated registry is used to avoid duplicate registrations in tests.
func Registries(reg prometheus.Registerer, gatherer prometheus.Gatherer) (prometheus.Registerer, prometheus.Gatherer) {
	switch {
	case reg == nil && gatherer == nil:
		registry := prometheus.NewRegistry()
		return registry, registry
	case reg != nil && gatherer == nil:
		if g, ok := reg.(prometheus.Gatherer); ok {
			return reg, g
		}
		return reg, prometheus.DefaultGatherer
	case reg == nil && gatherer != nil:
		if r, ok := gatherer.(prometheus.Registerer); ok {
			return r, gatherer
		}
		registry := prometheus.NewRegistry()
		return registry, registry
	}
	return reg, gatherer
}

// NewMetrics registers the shared collectors.
func NewMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	reg, gatherer = Registries(reg, gatherer)
	factory := promauto.With(reg)
	return &Metrics{
		venueRead: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "connector",
			Name:      MetricVenueReadSeconds,
			Help:      "Latency of liquidity pair reads by venue.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"venue"}),
		venueErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "connector",
			Name:      MetricVenueReadErrors,
			Help:      "Failed liquidity pair reads by venue.",
		}, []string{"venue"}),
		publisherAcks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "publisher",
			Name:      MetricPublisherAcksTotal,
			Help:      "Events acknowledged by JetStream.",
		}, []string{"kind"}),
		publisherErrs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "publisher",
			Name:      MetricPublisherErrors,
			Help:      "Events that failed to publish.",
		}, []string{"kind"}),
		crankRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "crank",
			Name:      MetricCrankRunsTotal,
			Help:      "Crank passes by outcome.",
		}, []string{"result"}),
		crankShifts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "crank",
			Name:      MetricCrankRebalances,
			Help:      "Position shifts decided by crank passes.",
		}),
		watcherUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "watcher",
			Name:      MetricWatcherUpdatesTotal,
			Help:      "Account updates received from the geyser stream.",
		}, []string{"applied"}),
		watcherSlot: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "watcher",
			Name:      MetricWatcherSlot,
			Help:      "Highest slot seen on the geyser stream.",
		}),
		apiRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "api",
			Name:      MetricAPIRequestsTotal,
			Help:      "Instruction API requests by route and status class.",
		}, []string{"route", "status"}),
		Registerer: reg,
		Gatherer:   gatherer,
	}
}

// Handler serves the gathered metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.Gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveVenueRead(venue string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.venueRead.WithLabelValues(venue).Observe(elapsed.Seconds())
	if err != nil {
		m.venueErrors.WithLabelValues(venue).Inc()
	}
}

func (m *Metrics) PublisherAck(kind string) {
	if m == nil {
		return
	}
	m.publisherAcks.WithLabelValues(kind).Inc()
}

func (m *Metrics) PublisherError(kind string) {
	if m == nil {
		return
	}
	m.publisherErrs.WithLabelValues(kind).Inc()
}

func (m *Metrics) CrankRun(err error, rebalances int) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.crankRuns.WithLabelValues(result).Inc()
	m.crankShifts.Add(float64(rebalances))
}

func (m *Metrics) WatcherUpdate(applied bool, slot uint64) {
	if m == nil {
		return
	}
	label := "false"
	if applied {
		label = "true"
	}
	m.watcherUpdates.WithLabelValues(label).Inc()
	m.watcherSlot.Set(float64(slot))
}

func (m *Metrics) APIRequest(route string, status int) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(route, statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
