// Package metrics holds the Prometheus instruments of the dispatch pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"notifyd/internal/notify"
)

// Metrics is registered once at startup and shared by pointer.
type Metrics struct {
	Submitted      prometheus.Counter
	Deduplicated   prometheus.Counter
	Drained        prometheus.Counter
	QueueDepth     prometheus.Gauge
	Deliveries     *prometheus.CounterVec
	DeliverySecond *prometheus.HistogramVec
	HistoryErrors  prometheus.Counter
}

// New registers every instrument with reg. Tests pass a fresh
// prometheus.NewRegistry() to stay isolated.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "notifyd",
			Name:      "submitted_total",
			Help:      "Notifications accepted into the queue.",
		}),
		Deduplicated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "notifyd",
			Name:      "deduplicated_total",
			Help:      "Submissions dropped because an identical notification was seen within the dedup window.",
		}),
		Drained: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "notifyd",
			Name:      "drained_total",
			Help:      "Queue items handed to the router.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "notifyd",
			Name:      "queue_depth",
			Help:      "Notifications waiting to be dispatched.",
		}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notifyd",
			Name:      "deliveries_total",
			Help:      "Per-target delivery attempts by channel and result.",
		}, []string{"channel", "result"}),
		DeliverySecond: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "notifyd",
			Name:      "delivery_seconds",
			Help:      "Time spent delivering to one target.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
		HistoryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "notifyd",
			Name:      "history_write_errors_total",
			Help:      "Delivery records that could not be persisted.",
		}),
	}
	reg.MustRegister(
		m.Submitted,
		m.Deduplicated,
		m.Drained,
		m.QueueDepth,
		m.Deliveries,
		m.DeliverySecond,
		m.HistoryErrors,
	)
	return m
}

// ObserveOutcome implements channel.Observer.
func (m *Metrics) ObserveOutcome(o notify.Outcome) {
	result := "ok"
	if !o.OK {
		result = "error"
	}
	m.Deliveries.WithLabelValues(o.Channel, result).Inc()
	m.DeliverySecond.WithLabelValues(o.Channel).Observe(o.Duration.Seconds())
}

func (m *Metrics) ObserveSubmitted(depth int) {
	m.Submitted.Inc()
	m.QueueDepth.Set(float64(depth))
}

func (m *Metrics) ObserveDeduplicated() { m.Deduplicated.Inc() }

func (m *Metrics) ObserveDrained(depth int) {
	m.Drained.Inc()
	m.QueueDepth.Set(float64(depth))
}

func (m *Metrics) ObserveHistoryError() { m.HistoryErrors.Inc() }
