package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/slicewatch/kpi-pipeline/internal/metrics"
	"github.com/slicewatch/kpi-pipeline/internal/models"
	"github.com/slicewatch/kpi-pipeline/internal/utils"
	"github.com/slicewatch/kpi-pipeline/internal/validate"
)

// SampleStore is the history the coordinator persists accepted samples to.
type SampleStore interface {
	Append(sample models.MetricSample) error
	Latest(sliceID string) (models.MetricSample, bool)
}

// Evaluator turns an accepted sample into zero or more violations.
type Evaluator interface {
	Evaluate(ctx context.Context, sample models.MetricSample) ([]models.ViolationEvent, error)
}

// Publisher fans accepted samples and violations out to subscribers.
type Publisher interface {
	PublishSample(sample models.MetricSample)
	PublishViolations(events []models.ViolationEvent)
}

// ViolationRecorder receives every emitted violation for aggregation.
type ViolationRecorder interface {
	Record(ev models.ViolationEvent)
}

// Coordinator drives each inbound sample through
// validate -> persist -> evaluate -> dispatch. Samples for the same slice
// are serialized by a per-slice lock so history ordering can never be
// violated by concurrent producers; samples for different slices proceed
// concurrently.
type Coordinator struct {
	logger    *slog.Logger
	validator *validate.Validator
	store     SampleStore
	evaluator Evaluator
	publisher Publisher
	recorder  ViolationRecorder
	latencies *utils.LatencyTracker

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewCoordinator wires the pipeline stages together.
func NewCoordinator(
	logger *slog.Logger,
	validator *validate.Validator,
	store SampleStore,
	evaluator Evaluator,
	publisher Publisher,
	recorder ViolationRecorder,
) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		logger:    logger,
		validator: validator,
		store:     store,
		evaluator: evaluator,
		publisher: publisher,
		recorder:  recorder,
		latencies: utils.NewLatencyTracker(1024),
		locks:     make(map[string]*sync.Mutex),
	}
}

// Ingest processes one raw sample end to end. The returned error is a
// *validate.RejectionError for dropped samples and a plain error for a
// store failure; both are local to this sample and never affect others.
func (c *Coordinator) Ingest(ctx context.Context, msg models.IngressMessage, source string) error {
	start := time.Now()

	// An empty slice id cannot be serialized per slice; reject up front.
	if msg.SliceID == "" {
		_, err := c.validator.Validate(msg, time.Time{})
		c.observeRejection(err, source, start)
		return err
	}

	lock := c.sliceLock(msg.SliceID)
	lock.Lock()
	defer lock.Unlock()

	var lastAccepted time.Time
	if last, ok := c.store.Latest(msg.SliceID); ok {
		lastAccepted = last.Timestamp
	}

	sample, err := c.validator.Validate(msg, lastAccepted)
	if err != nil {
		c.observeRejection(err, source, start)
		return err
	}

	if err := c.store.Append(sample); err != nil {
		// Fatal for this sample: no evaluation, no partial broadcast.
		metrics.ObserveSample(source, metrics.OutcomeStoreError, time.Since(start))
		c.logger.Error("sample persist failed",
			slog.String("slice_id", sample.SliceID),
			slog.Time("timestamp", sample.Timestamp),
			slog.Any("error", err))
		return fmt.Errorf("persist sample for slice %s: %w", sample.SliceID, err)
	}

	events, err := c.evaluator.Evaluate(ctx, sample)
	if err != nil {
		// Degrade to a plain update with zero violations, but leave a trace.
		c.logger.Warn("sla evaluation failed, dispatching without violations",
			slog.String("slice_id", sample.SliceID), slog.Any("error", err))
		events = nil
	}

	c.publisher.PublishSample(sample)
	if len(events) > 0 {
		c.publisher.PublishViolations(events)
		if c.recorder != nil {
			for _, ev := range events {
				c.recorder.Record(ev)
			}
		}
	}

	elapsed := time.Since(start)
	metrics.ObserveSample(source, metrics.OutcomeAccepted, elapsed)
	c.latencies.Observe(elapsed)
	if count := c.latencies.Count(); count >= 100 && count%100 == 0 {
		c.logger.Debug("ingest latency",
			slog.Duration("p95", c.latencies.Percentile(95)), slog.Int("samples", count))
	}
	return nil
}

// LatencyP95 returns the current p95 ingest latency.
func (c *Coordinator) LatencyP95() time.Duration {
	return c.latencies.Percentile(95)
}

func (c *Coordinator) observeRejection(err error, source string, start time.Time) {
	outcome := metrics.OutcomeMalformed
	var rej *validate.RejectionError
	if errors.As(err, &rej) {
		switch rej.Reason {
		case validate.ReasonUnknownSlice:
			outcome = metrics.OutcomeUnknown
		case validate.ReasonOutOfOrder:
			outcome = metrics.OutcomeOutOfOrder
		}
	}
	metrics.ObserveSample(source, outcome, time.Since(start))
	c.logger.Debug("sample rejected", slog.String("source", source), slog.Any("error", err))
}

func (c *Coordinator) sliceLock(sliceID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[sliceID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[sliceID] = lock
	}
	return lock
}
