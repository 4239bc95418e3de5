package store

import (
	"sort"
	"sync"
	"time"

	"github.com/slicewatch/kpi-pipeline/internal/models"
	"github.com/slicewatch/kpi-pipeline/internal/utils"
)

// Config bounds the retained history per slice. Whichever of MaxSamples
// and MaxAge is tighter wins; a non-positive value disables that bound.
type Config struct {
	MaxSamples int
	MaxAge     time.Duration
}

// Store holds one append-only, bounded log per slice. Append is the only
// mutator. Appends for different slices proceed concurrently; appends for
// the same slice are serialized. Reads return copy-on-read snapshots, so
// an in-progress append is never partially visible.
type Store struct {
	cfg  Config
	now  func() time.Time
	mu   sync.RWMutex
	logs map[string]*sliceLog
}

type sliceLog struct {
	mu         sync.Mutex
	samples    []models.MetricSample
	lastAppend time.Time
}

// New creates an empty store with the given retention bounds.
func New(cfg Config) *Store {
	return &Store{
		cfg:  cfg,
		now:  time.Now,
		logs: make(map[string]*sliceLog),
	}
}

// Append adds a sample to its slice history and evicts entries that fall
// outside the retention bounds. Samples arriving within the validator's
// past-skew tolerance may be older than the latest entry, so the sample is
// inserted at its timestamp-sorted position; History and eviction rely on
// the slice staying totally ordered.
func (s *Store) Append(sample models.MetricSample) error {
	if sample.SliceID == "" {
		return utils.NewAppError("store.append", "empty slice id", nil)
	}
	if sample.Timestamp.IsZero() {
		return utils.NewAppError("store.append", "zero timestamp for slice "+sample.SliceID, nil)
	}

	log := s.logFor(sample.SliceID)

	log.mu.Lock()
	defer log.mu.Unlock()

	n := len(log.samples)
	if n == 0 || !sample.Timestamp.Before(log.samples[n-1].Timestamp) {
		log.samples = append(log.samples, sample)
	} else {
		idx := sort.Search(n, func(i int) bool {
			return log.samples[i].Timestamp.After(sample.Timestamp)
		})
		log.samples = append(log.samples, models.MetricSample{})
		copy(log.samples[idx+1:], log.samples[idx:])
		log.samples[idx] = sample
	}
	log.lastAppend = s.now()
	s.evictLocked(log)
	return nil
}

// History returns an ordered snapshot of the slice history. Samples before
// since are excluded; when limit is positive only the most recent limit
// entries are returned, still in ascending timestamp order.
func (s *Store) History(sliceID string, since time.Time, limit int) []models.MetricSample {
	log := s.peek(sliceID)
	if log == nil {
		return nil
	}

	log.mu.Lock()
	defer log.mu.Unlock()

	start := 0
	if !since.IsZero() {
		start = sort.Search(len(log.samples), func(i int) bool {
			return !log.samples[i].Timestamp.Before(since)
		})
	}
	window := log.samples[start:]
	if limit > 0 && len(window) > limit {
		window = window[len(window)-limit:]
	}
	if len(window) == 0 {
		return nil
	}

	out := make([]models.MetricSample, len(window))
	copy(out, window)
	return out
}

// Latest returns the most recently appended sample for the slice.
func (s *Store) Latest(sliceID string) (models.MetricSample, bool) {
	log := s.peek(sliceID)
	if log == nil {
		return models.MetricSample{}, false
	}

	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.samples) == 0 {
		return models.MetricSample{}, false
	}
	return log.samples[len(log.samples)-1], true
}

// LastAppend returns the wall-clock time of the slice's most recent append,
// used by the staleness watcher. History is never evicted for staleness.
func (s *Store) LastAppend(sliceID string) (time.Time, bool) {
	log := s.peek(sliceID)
	if log == nil {
		return time.Time{}, false
	}
	log.mu.Lock()
	defer log.mu.Unlock()
	if log.lastAppend.IsZero() {
		return time.Time{}, false
	}
	return log.lastAppend, true
}

// Slices lists every slice id with recorded history.
func (s *Store) Slices() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.logs))
	for id := range s.logs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) logFor(sliceID string) *sliceLog {
	s.mu.RLock()
	log, ok := s.logs[sliceID]
	s.mu.RUnlock()
	if ok {
		return log
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if log, ok = s.logs[sliceID]; ok {
		return log
	}
	log = &sliceLog{}
	s.logs[sliceID] = log
	return log
}

func (s *Store) peek(sliceID string) *sliceLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logs[sliceID]
}

func (s *Store) evictLocked(log *sliceLog) {
	if s.cfg.MaxAge > 0 {
		cutoff := s.now().Add(-s.cfg.MaxAge)
		idx := sort.Search(len(log.samples), func(i int) bool {
			return log.samples[i].Timestamp.After(cutoff)
		})
		if idx > 0 {
			log.samples = append(log.samples[:0:0], log.samples[idx:]...)
		}
	}
	if s.cfg.MaxSamples > 0 && len(log.samples) > s.cfg.MaxSamples {
		drop := len(log.samples) - s.cfg.MaxSamples
		log.samples = append(log.samples[:0:0], log.samples[drop:]...)
	}
}
