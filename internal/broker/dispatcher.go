package broker

import (
	"log/slog"

	"github.com/slicewatch/kpi-pipeline/internal/metrics"
	"github.com/slicewatch/kpi-pipeline/internal/models"
)

// Dispatcher fans events out to topic subscribers. Delivery is best-effort
// per connection: a dead connection is removed from the registry and the
// failure is never surfaced to the producer or to other subscribers.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
}

// NewDispatcher constructs a dispatcher over the registry.
func NewDispatcher(registry *Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: registry, logger: logger}
}

// Publish delivers the envelope to every subscriber of the topic.
func (d *Dispatcher) Publish(topic string, env models.Envelope) {
	for _, sub := range d.registry.SubscribersOf(topic) {
		if sub.Enqueue(env) {
			metrics.ObserveDispatch(topic)
			continue
		}
		// Closed connection that has not been dropped yet.
		d.registry.Drop(sub.ID())
		metrics.ObserveDeliveryFailure()
		d.logger.Info("subscriber dropped during dispatch",
			slog.String("connection_id", sub.ID()), slog.String("topic", topic))
	}
}

// PublishSample sends a metric_update for an accepted sample to the
// unscoped metrics topic and to the slice-scoped one. Both deliveries are
// independent: a connection subscribed to both receives two envelopes.
func (d *Dispatcher) PublishSample(sample models.MetricSample) {
	env := models.NewEnvelope(models.EventMetricUpdate, sample)
	d.Publish(models.TopicMetrics, env)
	d.Publish(models.SliceMetricsTopic(sample.SliceID), env)
}

// PublishViolations sends one alert per violation to the alerts and
// dashboard topics.
func (d *Dispatcher) PublishViolations(events []models.ViolationEvent) {
	for _, ev := range events {
		env := models.NewEnvelope(models.EventAlert, models.AlertDataFrom(ev))
		d.Publish(models.TopicAlerts, env)
		d.Publish(models.TopicDashboard, env)
		metrics.ObserveViolation(string(ev.Rule.Severity))
	}
}

// PublishStale announces a quiet producer on the dashboard and slices
// topics.
func (d *Dispatcher) PublishStale(data models.StaleData) {
	env := models.NewEnvelope(models.EventSliceStale, data)
	d.Publish(models.TopicDashboard, env)
	d.Publish(models.TopicSlices, env)
}
