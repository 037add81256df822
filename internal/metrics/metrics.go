package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "orderevents"

// Metrics holds the pipeline collectors.
type Metrics struct {
	// Producer
	EventsPublished *prometheus.CounterVec
	PublishFailures *prometheus.CounterVec

	// Consumer
	MessagesConsumed *prometheus.CounterVec
	DispatchDuration prometheus.Histogram

	// Send pipeline and store
	NotificationsSent *prometheus.CounterVec
	StoreSize         prometheus.Gauge

	// Fanout
	Subscribers     prometheus.Gauge
	BroadcastFrames *prometheus.CounterVec
	DroppedFrames   prometheus.Counter

	// Broker connection
	BrokerConnected prometheus.Gauge
	Reconnects      prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "events_published_total",
			Help:      "Order events handed to the broker",
		}, []string{"event"}),
		PublishFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "publish_failures_total",
			Help:      "Order events that could not be published",
		}, []string{"reason"}),

		MessagesConsumed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "messages_total",
			Help:      "Broker messages processed by outcome",
		}, []string{"outcome"}),
		DispatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent handling one broker message",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),

		NotificationsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "sent_total",
			Help:      "Notifications produced by status and type",
		}, []string{"status", "type"}),
		StoreSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "store_size",
			Help:      "Notifications currently held in the recent-history store",
		}),

		Subscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "subscribers",
			Help:      "Currently connected realtime subscribers",
		}),
		BroadcastFrames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "broadcasts_total",
			Help:      "Frames broadcast to subscribers by event name",
		}, []string{"event"}),
		DroppedFrames: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "dropped_frames_total",
			Help:      "Frames not delivered because the subscriber was closed or slow",
		}),

		BrokerConnected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "connected",
			Help:      "1 when the broker connection is established",
		}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "reconnect_attempts_total",
			Help:      "Connection attempts made after a disconnect",
		}),
	}
}

// Noop returns collectors registered with a throwaway registry.
func Noop() *Metrics {
	return New(prometheus.NewRegistry())
}
