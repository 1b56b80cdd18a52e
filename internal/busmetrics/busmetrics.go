// Package busmetrics instruments the dispatch engine with Prometheus
// counters and gauges. Unlike the teacher's package-level metrics
// singleton, each Bus owns its own registry and Metrics instance —
// spec.md §9 is explicit that the bus holds no process-wide global state.
package busmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the set of counters and gauges one Bus instance maintains.
type Metrics struct {
	ActiveSubscriptions prometheus.Gauge
	ActiveEndpoints     prometheus.Gauge

	PublishTotal    prometheus.Counter
	RetainTotal     prometheus.Counter
	PublishOneTotal prometheus.Counter

	DeliveryAccepted prometheus.Counter
	DeliveryDropped  prometheus.Counter
	DeliveryRejected prometheus.Counter

	NoRouteTotal prometheus.Counter

	MailboxDepth prometheus.Histogram
}

// New builds a Metrics bound to a fresh, private registry so distinct Bus
// instances never collide on metric names or share mutable global state.
func New(namespace string) (*Metrics, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		ActiveSubscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_subscriptions",
			Help:      "Number of currently open lane-A subscriptions.",
		}),
		ActiveEndpoints: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_endpoints",
			Help:      "Number of currently bound lane-B endpoints.",
		}),
		PublishTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_total",
			Help:      "Number of Publish calls (fanout, lane A).",
		}),
		RetainTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retain_total",
			Help:      "Number of Retain calls.",
		}),
		PublishOneTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_one_total",
			Help:      "Number of PublishOne calls (lane B).",
		}),
		DeliveryAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_accepted_total",
			Help:      "Per-subscriber enqueue attempts that succeeded.",
		}),
		DeliveryDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_dropped_total",
			Help:      "Per-subscriber enqueue attempts lost to drop_oldest eviction.",
		}),
		DeliveryRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_rejected_total",
			Help:      "Per-subscriber enqueue attempts refused by reject_newest.",
		}),
		NoRouteTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "no_route_total",
			Help:      "PublishOne calls that found no bound endpoint.",
		}),
		MailboxDepth: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mailbox_depth",
			Help:      "Observed mailbox depth at enqueue time.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
	}
	return m, registry
}
