package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Sample outcomes, matching the rejection taxonomy. Out-of-order rejections
// are counted separately from malformed ones so operators can tell clock
// skew apart from bad producers.
const (
	OutcomeAccepted   = "accepted"
	OutcomeMalformed  = "malformed_sample"
	OutcomeUnknown    = "unknown_slice"
	OutcomeOutOfOrder = "out_of_order_sample"
	OutcomeStoreError = "store_error"
)

var (
	samplesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slicewatch",
			Name:      "samples_total",
			Help:      "Inbound samples partitioned by ingress source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	violationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slicewatch",
			Name:      "sla_violations_total",
			Help:      "SLA violations emitted, partitioned by severity.",
		},
		[]string{"severity"},
	)

	eventsDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slicewatch",
			Name:      "events_dispatched_total",
			Help:      "Events enqueued to subscriber connections, by topic.",
		},
		[]string{"topic"},
	)

	eventsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "slicewatch",
			Name:      "events_dropped_total",
			Help:      "Events discarded from full per-connection outbound queues.",
		},
	)

	deliveryFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "slicewatch",
			Name:      "delivery_failures_total",
			Help:      "Connections dropped after a failed send.",
		},
	)

	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "slicewatch",
			Name:      "active_connections",
			Help:      "Currently registered subscriber connections.",
		},
	)

	ingestDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "slicewatch",
			Name:      "ingest_seconds",
			Help:      "Validate-persist-evaluate-dispatch latency per sample.",
			Buckets:   []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		},
	)
)

// Register attaches pipeline collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		samplesTotal,
		violationsTotal,
		eventsDispatchedTotal,
		eventsDroppedTotal,
		deliveryFailuresTotal,
		activeConnections,
		ingestDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveSample records one inbound sample and its processing latency.
func ObserveSample(source, outcome string, duration time.Duration) {
	samplesTotal.WithLabelValues(source, outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	ingestDurationSeconds.Observe(duration.Seconds())
}

// ObserveViolation counts an emitted SLA violation.
func ObserveViolation(severity string) {
	violationsTotal.WithLabelValues(severity).Inc()
}

// ObserveDispatch counts an event enqueued for a topic subscriber.
func ObserveDispatch(topic string) {
	eventsDispatchedTotal.WithLabelValues(topic).Inc()
}

// ObserveQueueDrop counts an event discarded from a full outbound queue.
func ObserveQueueDrop() {
	eventsDroppedTotal.Inc()
}

// ObserveDeliveryFailure counts a connection removed after a failed send.
func ObserveDeliveryFailure() {
	deliveryFailuresTotal.Inc()
}

// ConnectionOpened and ConnectionClosed track the subscriber gauge.
func ConnectionOpened() { activeConnections.Inc() }

// ConnectionClosed decrements the subscriber gauge.
func ConnectionClosed() { activeConnections.Dec() }
