package alerts

import (
	"sort"
	"sync"
	"time"

	"github.com/slicewatch/kpi-pipeline/internal/models"
)

// Summary keeps a rolling window of violations per slice so the dashboard
// can show breach hotspots without replaying the alert stream.
type Summary struct {
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	bySliceID map[string][]entry
}

type entry struct {
	at       time.Time
	metric   models.Metric
	severity models.Severity
}

// SliceSummary aggregates a slice's violations within the window.
type SliceSummary struct {
	SliceID    string                  `json:"slice_id"`
	Total      int                     `json:"total"`
	BySeverity map[models.Severity]int `json:"by_severity"`
	TopMetrics []MetricCount           `json:"top_metrics"`
	LastBreach time.Time               `json:"last_breach"`
}

// MetricCount pairs a KPI with its breach count.
type MetricCount struct {
	Metric models.Metric `json:"metric"`
	Count  int           `json:"count"`
}

// NewSummary creates a summary over the given rolling window.
func NewSummary(window time.Duration) *Summary {
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &Summary{
		window:    window,
		now:       time.Now,
		bySliceID: make(map[string][]entry),
	}
}

// Record adds one violation to the window.
func (s *Summary) Record(ev models.ViolationEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySliceID[ev.SliceID] = append(s.pruneLocked(ev.SliceID), entry{
		at:       s.now(),
		metric:   ev.Rule.Metric,
		severity: ev.Rule.Severity,
	})
}

// Snapshot aggregates the current window, most-breached slices first.
func (s *Summary) Snapshot() []SliceSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	summaries := make([]SliceSummary, 0, len(s.bySliceID))
	for sliceID := range s.bySliceID {
		entries := s.pruneLocked(sliceID)
		if len(entries) == 0 {
			delete(s.bySliceID, sliceID)
			continue
		}
		s.bySliceID[sliceID] = entries

		summary := SliceSummary{
			SliceID:    sliceID,
			Total:      len(entries),
			BySeverity: make(map[models.Severity]int),
		}
		metricCounts := make(map[models.Metric]int)
		for _, e := range entries {
			summary.BySeverity[e.severity]++
			metricCounts[e.metric]++
			if e.at.After(summary.LastBreach) {
				summary.LastBreach = e.at
			}
		}
		summary.TopMetrics = topMetrics(metricCounts, 3)
		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Total != summaries[j].Total {
			return summaries[i].Total > summaries[j].Total
		}
		return summaries[i].SliceID < summaries[j].SliceID
	})
	return summaries
}

func (s *Summary) pruneLocked(sliceID string) []entry {
	cutoff := s.now().Add(-s.window)
	entries := s.bySliceID[sliceID]
	idx := 0
	for idx < len(entries) && !entries[idx].at.After(cutoff) {
		idx++
	}
	return entries[idx:]
}

func topMetrics(counts map[models.Metric]int, limit int) []MetricCount {
	out := make([]MetricCount, 0, len(counts))
	for metric, count := range counts {
		out = append(out, MetricCount{Metric: metric, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Metric < out[j].Metric
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
