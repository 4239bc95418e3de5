package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/slicewatch/kpi-pipeline/internal/models"
	"github.com/slicewatch/kpi-pipeline/internal/store"
	"github.com/slicewatch/kpi-pipeline/internal/validate"
)

type fakeStore struct {
	mu      sync.Mutex
	samples map[string][]models.MetricSample
	failing bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{samples: make(map[string][]models.MetricSample)}
}

func (f *fakeStore) Append(sample models.MetricSample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("store unavailable")
	}
	f.samples[sample.SliceID] = append(f.samples[sample.SliceID], sample)
	return nil
}

func (f *fakeStore) Latest(sliceID string) (models.MetricSample, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	history := f.samples[sliceID]
	if len(history) == 0 {
		return models.MetricSample{}, false
	}
	return history[len(history)-1], true
}

func (f *fakeStore) history(sliceID string) []models.MetricSample {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.MetricSample(nil), f.samples[sliceID]...)
}

type fakeEvaluator struct {
	rules []models.SlaRule
	err   error
}

func (f *fakeEvaluator) Evaluate(_ context.Context, sample models.MetricSample) ([]models.ViolationEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	var events []models.ViolationEvent
	for _, rule := range f.rules {
		observed, ok := sample.Value(rule.Metric)
		if ok && rule.Comparator.Breaches(observed, rule.Threshold) {
			events = append(events, models.NewViolationEvent(sample, rule, observed))
		}
	}
	return events, nil
}

type fakePublisher struct {
	mu         sync.Mutex
	samples    []models.MetricSample
	violations []models.ViolationEvent
}

func (f *fakePublisher) PublishSample(sample models.MetricSample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, sample)
}

func (f *fakePublisher) PublishViolations(events []models.ViolationEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.violations = append(f.violations, events...)
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []models.ViolationEvent
}

func (f *fakeRecorder) Record(ev models.ViolationEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func ptr(v float64) *float64 { return &v }

func ingressAt(sliceID string, ts string, latency float64) models.IngressMessage {
	return models.IngressMessage{
		SliceID:   sliceID,
		Timestamp: json.RawMessage(fmt.Sprintf("%q", ts)),
		Metrics: models.IngressMetrics{
			LatencyMs:      ptr(latency),
			JitterMs:       ptr(1),
			ThroughputMbps: ptr(200),
			PacketLossRate: ptr(0.001),
		},
	}
}

func newTestCoordinator(store *fakeStore, evaluator Evaluator, publisher *fakePublisher, recorder *fakeRecorder) *Coordinator {
	validator := validate.NewValidator(validate.NewStaticDirectory([]string{"slice-embb-01"}), 0, time.Hour)
	return NewCoordinator(nil, validator, store, evaluator, publisher, recorder)
}

func TestIngestAcceptedSampleFlowsEndToEnd(t *testing.T) {
	store := newFakeStore()
	publisher := &fakePublisher{}
	recorder := &fakeRecorder{}
	evaluator := &fakeEvaluator{rules: []models.SlaRule{{
		SliceID:    "slice-embb-01",
		Metric:     models.MetricLatencyMs,
		Comparator: models.ComparatorGT,
		Threshold:  100,
		Severity:   models.SeverityCritical,
	}}}
	c := newTestCoordinator(store, evaluator, publisher, recorder)

	err := c.Ingest(context.Background(), ingressAt("slice-embb-01", "2026-01-01T10:00:00Z", 150), "http")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if len(store.history("slice-embb-01")) != 1 {
		t.Fatal("sample not persisted")
	}
	if len(publisher.samples) != 1 {
		t.Fatal("metric update not published")
	}
	if len(publisher.violations) != 1 {
		t.Fatalf("expected one violation, got %d", len(publisher.violations))
	}
	if len(recorder.events) != 1 {
		t.Fatal("violation not recorded for the alert summary")
	}
	if publisher.violations[0].Observed != 150 {
		t.Fatalf("unexpected violation: %+v", publisher.violations[0])
	}
}

func TestIngestRejectionLeavesNoTrace(t *testing.T) {
	store := newFakeStore()
	publisher := &fakePublisher{}
	c := newTestCoordinator(store, &fakeEvaluator{}, publisher, nil)

	msg := ingressAt("slice-ghost", "2026-01-01T10:00:00Z", 10)
	err := c.Ingest(context.Background(), msg, "http")
	var rej *validate.RejectionError
	if !errors.As(err, &rej) || rej.Reason != validate.ReasonUnknownSlice {
		t.Fatalf("expected unknown_slice rejection, got %v", err)
	}
	if len(store.history("slice-ghost")) != 0 || len(publisher.samples) != 0 {
		t.Fatal("rejected sample must not persist or dispatch")
	}
}

func TestIngestEmptySliceID(t *testing.T) {
	c := newTestCoordinator(newFakeStore(), &fakeEvaluator{}, &fakePublisher{}, nil)
	err := c.Ingest(context.Background(), ingressAt("", "2026-01-01T10:00:00Z", 10), "udp")
	var rej *validate.RejectionError
	if !errors.As(err, &rej) || rej.Reason != validate.ReasonMalformed {
		t.Fatalf("expected malformed rejection, got %v", err)
	}
}

func TestIngestOutOfOrderRejected(t *testing.T) {
	store := newFakeStore()
	publisher := &fakePublisher{}
	c := newTestCoordinator(store, &fakeEvaluator{}, publisher, nil)

	if err := c.Ingest(context.Background(), ingressAt("slice-embb-01", "2026-01-01T10:00:05Z", 10), "http"); err != nil {
		t.Fatalf("first sample: %v", err)
	}
	err := c.Ingest(context.Background(), ingressAt("slice-embb-01", "2026-01-01T10:00:01Z", 10), "http")
	var rej *validate.RejectionError
	if !errors.As(err, &rej) || rej.Reason != validate.ReasonOutOfOrder {
		t.Fatalf("expected out_of_order rejection, got %v", err)
	}
	if len(store.history("slice-embb-01")) != 1 {
		t.Fatal("regressed sample must not be stored")
	}
}

func TestIngestStoreFailureIsFatalForSample(t *testing.T) {
	store := newFakeStore()
	store.failing = true
	publisher := &fakePublisher{}
	c := newTestCoordinator(store, &fakeEvaluator{}, publisher, nil)

	err := c.Ingest(context.Background(), ingressAt("slice-embb-01", "2026-01-01T10:00:00Z", 10), "http")
	if err == nil {
		t.Fatal("expected store failure to surface")
	}
	var rej *validate.RejectionError
	if errors.As(err, &rej) {
		t.Fatal("store failure must not masquerade as a rejection")
	}
	if len(publisher.samples) != 0 || len(publisher.violations) != 0 {
		t.Fatal("nothing may be dispatched after a store failure")
	}
}

func TestIngestEvaluatorFailureDegrades(t *testing.T) {
	store := newFakeStore()
	publisher := &fakePublisher{}
	recorder := &fakeRecorder{}
	c := newTestCoordinator(store, &fakeEvaluator{err: errors.New("rules unavailable")}, publisher, recorder)

	if err := c.Ingest(context.Background(), ingressAt("slice-embb-01", "2026-01-01T10:00:00Z", 500), "http"); err != nil {
		t.Fatalf("evaluator failure must not fail the sample: %v", err)
	}
	if len(store.history("slice-embb-01")) != 1 {
		t.Fatal("sample must still persist")
	}
	if len(publisher.samples) != 1 {
		t.Fatal("metric update must still go out")
	}
	if len(publisher.violations) != 0 || len(recorder.events) != 0 {
		t.Fatal("no violations may be fabricated on evaluator failure")
	}
}

func TestIngestConcurrentSameSliceKeepsOrder(t *testing.T) {
	store := newFakeStore()
	publisher := &fakePublisher{}
	c := newTestCoordinator(store, &fakeEvaluator{}, publisher, nil)

	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ts := base.Add(time.Duration(i) * time.Second).Format(time.RFC3339)
			_ = c.Ingest(context.Background(), ingressAt("slice-embb-01", ts, 10), "http")
		}(i)
	}
	wg.Wait()

	history := store.history("slice-embb-01")
	if len(history) == 0 {
		t.Fatal("no samples accepted")
	}
	for i := 1; i < len(history); i++ {
		if history[i].Timestamp.Before(history[i-1].Timestamp) {
			t.Fatalf("history out of order at %d: %v before %v",
				i, history[i].Timestamp, history[i-1].Timestamp)
		}
	}
}

func TestIngestPastSkewToleranceKeepsHistorySorted(t *testing.T) {
	history := store.New(store.Config{MaxSamples: 100})
	validator := validate.NewValidator(validate.NewStaticDirectory([]string{"slice-embb-01"}), 10*time.Second, time.Hour)
	c := NewCoordinator(nil, validator, history, &fakeEvaluator{}, &fakePublisher{}, nil)

	// A producer delivering T, T+8s, then T+3s stays inside the 10s past
	// tolerance, so all three are accepted; history must still come back
	// in timestamp order.
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	for _, offset := range []time.Duration{0, 8 * time.Second, 3 * time.Second} {
		ts := base.Add(offset).Format(time.RFC3339)
		if err := c.Ingest(context.Background(), ingressAt("slice-embb-01", ts, 10), "http"); err != nil {
			t.Fatalf("sample at %s: %v", ts, err)
		}
	}

	got := history.History("slice-embb-01", time.Time{}, 0)
	if len(got) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(got))
	}
	for i, offset := range []time.Duration{0, 3 * time.Second, 8 * time.Second} {
		if want := base.Add(offset); !got[i].Timestamp.Equal(want) {
			t.Fatalf("history[%d] = %v, want %v", i, got[i].Timestamp, want)
		}
	}
}

func TestIngestConcurrentAcrossSlicesCompletePerSlice(t *testing.T) {
	history := store.New(store.Config{MaxSamples: 1000})
	sliceIDs := make([]string, 10)
	for i := range sliceIDs {
		sliceIDs[i] = fmt.Sprintf("slice-%d", i)
	}
	// Past skew wide enough that scheduling order cannot reject a sample.
	validator := validate.NewValidator(validate.NewStaticDirectory(sliceIDs), time.Minute, time.Hour)
	c := NewCoordinator(nil, validator, history, &fakeEvaluator{}, &fakePublisher{}, nil)

	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	const perSlice = 20
	var wg sync.WaitGroup
	for _, id := range sliceIDs {
		for i := 0; i < perSlice; i++ {
			wg.Add(1)
			go func(id string, i int) {
				defer wg.Done()
				ts := base.Add(time.Duration(i) * time.Second).Format(time.RFC3339)
				if err := c.Ingest(context.Background(), ingressAt(id, ts, 10), "udp"); err != nil {
					t.Errorf("ingest %s sample %d: %v", id, i, err)
				}
			}(id, i)
		}
	}
	wg.Wait()

	for _, id := range sliceIDs {
		got := history.History(id, time.Time{}, 0)
		if len(got) != perSlice {
			t.Fatalf("slice %s: expected %d samples, got %d", id, perSlice, len(got))
		}
		for i := range got {
			if want := base.Add(time.Duration(i) * time.Second); !got[i].Timestamp.Equal(want) {
				t.Fatalf("slice %s history[%d] = %v, want %v", id, i, got[i].Timestamp, want)
			}
		}
	}
}
