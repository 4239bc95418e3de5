package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/slicewatch/kpi-pipeline/internal/models"
)

// HistoryClock exposes the per-slice append times the watcher inspects.
type HistoryClock interface {
	Slices() []string
	LastAppend(sliceID string) (time.Time, bool)
}

// StalePublisher announces staleness transitions to subscribers.
type StalePublisher interface {
	PublishStale(data models.StaleData)
}

// StalenessWatcher flags slices whose producer has gone quiet beyond the
// configured interval. Staleness is a dashboard-facing annotation only:
// history is never evicted and ingestion is unaffected; a fresh sample
// clears the flag.
type StalenessWatcher struct {
	logger     *slog.Logger
	history    HistoryClock
	publisher  StalePublisher
	interval   time.Duration
	staleAfter time.Duration
	now        func() time.Time

	mu    sync.RWMutex
	stale map[string]bool
}

// NewStalenessWatcher builds a watcher; it does nothing until Run is called.
func NewStalenessWatcher(logger *slog.Logger, history HistoryClock, publisher StalePublisher, interval, staleAfter time.Duration) *StalenessWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &StalenessWatcher{
		logger:     logger,
		history:    history,
		publisher:  publisher,
		interval:   interval,
		staleAfter: staleAfter,
		now:        time.Now,
		stale:      make(map[string]bool),
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (w *StalenessWatcher) Run(ctx context.Context) {
	if w.interval <= 0 || w.staleAfter <= 0 {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

// IsStale reports the current staleness flag for a slice.
func (w *StalenessWatcher) IsStale(sliceID string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stale[sliceID]
}

func (w *StalenessWatcher) sweep() {
	now := w.now()
	for _, sliceID := range w.history.Slices() {
		last, ok := w.history.LastAppend(sliceID)
		if !ok {
			continue
		}
		quiet := now.Sub(last) > w.staleAfter

		w.mu.Lock()
		was := w.stale[sliceID]
		w.stale[sliceID] = quiet
		w.mu.Unlock()

		if quiet && !was {
			w.logger.Info("slice feed stale",
				slog.String("slice_id", sliceID), slog.Time("last_sample", last))
			if w.publisher != nil {
				w.publisher.PublishStale(models.StaleData{SliceID: sliceID, LastSample: last})
			}
		}
		if !quiet && was {
			w.logger.Info("slice feed recovered", slog.String("slice_id", sliceID))
		}
	}
}
