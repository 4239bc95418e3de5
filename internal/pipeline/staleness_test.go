package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/slicewatch/kpi-pipeline/internal/models"
)

type fakeHistoryClock struct {
	appends map[string]time.Time
}

func (f *fakeHistoryClock) Slices() []string {
	ids := make([]string, 0, len(f.appends))
	for id := range f.appends {
		ids = append(ids, id)
	}
	return ids
}

func (f *fakeHistoryClock) LastAppend(sliceID string) (time.Time, bool) {
	t, ok := f.appends[sliceID]
	return t, ok
}

type fakeStalePublisher struct {
	mu     sync.Mutex
	events []models.StaleData
}

func (f *fakeStalePublisher) PublishStale(data models.StaleData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, data)
}

func TestStalenessTransition(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	history := &fakeHistoryClock{appends: map[string]time.Time{
		"quiet": now.Add(-time.Minute),
		"fresh": now.Add(-time.Second),
	}}
	publisher := &fakeStalePublisher{}
	w := NewStalenessWatcher(nil, history, publisher, time.Second, 30*time.Second)
	w.now = func() time.Time { return now }

	w.sweep()
	if !w.IsStale("quiet") {
		t.Fatal("quiet slice should be stale")
	}
	if w.IsStale("fresh") {
		t.Fatal("fresh slice should not be stale")
	}
	if len(publisher.events) != 1 || publisher.events[0].SliceID != "quiet" {
		t.Fatalf("expected one stale event for quiet, got %v", publisher.events)
	}

	// A repeated sweep with no changes publishes nothing new.
	w.sweep()
	if len(publisher.events) != 1 {
		t.Fatalf("stale event must fire once per transition, got %d", len(publisher.events))
	}
}

func TestStalenessRecovery(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	history := &fakeHistoryClock{appends: map[string]time.Time{
		"s1": now.Add(-time.Minute),
	}}
	w := NewStalenessWatcher(nil, history, &fakeStalePublisher{}, time.Second, 30*time.Second)
	w.now = func() time.Time { return now }

	w.sweep()
	if !w.IsStale("s1") {
		t.Fatal("s1 should be stale")
	}

	// A fresh append clears the flag on the next sweep.
	history.appends["s1"] = now
	w.sweep()
	if w.IsStale("s1") {
		t.Fatal("s1 should have recovered")
	}
}

func TestStalenessUnknownSlice(t *testing.T) {
	w := NewStalenessWatcher(nil, &fakeHistoryClock{appends: map[string]time.Time{}}, nil, time.Second, time.Second)
	if w.IsStale("nope") {
		t.Fatal("unknown slice must not be stale")
	}
}
