package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/slicewatch/kpi-pipeline/internal/alerts"
	"github.com/slicewatch/kpi-pipeline/internal/broker"
	"github.com/slicewatch/kpi-pipeline/internal/models"
)

type fakeHistory struct {
	samples map[string][]models.MetricSample
}

func (f *fakeHistory) History(sliceID string, since time.Time, limit int) []models.MetricSample {
	out := f.samples[sliceID]
	if !since.IsZero() {
		var filtered []models.MetricSample
		for _, s := range out {
			if !s.Timestamp.Before(since) {
				filtered = append(filtered, s)
			}
		}
		out = filtered
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (f *fakeHistory) Latest(sliceID string) (models.MetricSample, bool) {
	history := f.samples[sliceID]
	if len(history) == 0 {
		return models.MetricSample{}, false
	}
	return history[len(history)-1], true
}

type fakeStale struct{ stale map[string]bool }

func (f *fakeStale) IsStale(sliceID string) bool { return f.stale[sliceID] }

func newTestMux(history *fakeHistory, stale *fakeStale, summary *alerts.Summary, registry *broker.Registry) *http.ServeMux {
	if registry == nil {
		registry = broker.NewRegistry()
	}
	mux := http.NewServeMux()
	NewHandlers(nil, history, stale, summary, registry).Register(mux)
	return mux
}

func TestHealthz(t *testing.T) {
	mux := newTestMux(&fakeHistory{}, nil, nil, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	history := &fakeHistory{samples: map[string][]models.MetricSample{
		"slice-a": {
			{SliceID: "slice-a", Timestamp: base},
			{SliceID: "slice-a", Timestamp: base.Add(time.Second)},
			{SliceID: "slice-a", Timestamp: base.Add(2 * time.Second)},
		},
	}}
	mux := newTestMux(history, nil, nil, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/slices/slice-a/history?limit=2", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		SliceID string                `json:"slice_id"`
		Count   int                   `json:"count"`
		Samples []models.MetricSample `json:"samples"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.SliceID != "slice-a" || body.Count != 2 || len(body.Samples) != 2 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestHistoryEndpointBadParams(t *testing.T) {
	mux := newTestMux(&fakeHistory{}, nil, nil, nil)
	for _, target := range []string{
		"/api/v1/slices/slice-a/history?since=yesterday",
		"/api/v1/slices/slice-a/history?limit=-1",
		"/api/v1/slices/slice-a/history?limit=ten",
	} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, rec.Code)
		}
	}
}

func TestLatestEndpoint(t *testing.T) {
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	history := &fakeHistory{samples: map[string][]models.MetricSample{
		"slice-a": {{SliceID: "slice-a", Timestamp: base, LatencyMs: 12}},
	}}
	stale := &fakeStale{stale: map[string]bool{"slice-a": true}}
	mux := newTestMux(history, stale, nil, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/slices/slice-a/latest", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Sample models.MetricSample `json:"sample"`
		Stale  bool                `json:"stale"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Sample.LatencyMs != 12 || !body.Stale {
		t.Fatalf("unexpected body: %+v", body)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/slices/slice-ghost/latest", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown slice, got %d", rec.Code)
	}
}

func TestAlertSummaryEndpoint(t *testing.T) {
	summary := alerts.NewSummary(time.Hour)
	summary.Record(models.ViolationEvent{
		SliceID: "slice-a",
		Rule:    models.SlaRule{SliceID: "slice-a", Metric: models.MetricLatencyMs, Severity: models.SeverityHigh},
	})
	mux := newTestMux(&fakeHistory{}, nil, summary, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alerts/summary", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Slices []alerts.SliceSummary `json:"slices"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Slices) != 1 || body.Slices[0].SliceID != "slice-a" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestConnectionsEndpoint(t *testing.T) {
	registry := broker.NewRegistry()
	registry.Register(&stubSubscriber{id: "c1"})
	if err := registry.Subscribe("c1", models.TopicAlerts); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	mux := newTestMux(&fakeHistory{}, nil, nil, registry)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/connections", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Active  int            `json:"active"`
		ByTopic map[string]int `json:"by_topic"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Active != 1 || body.ByTopic[models.TopicAlerts] != 1 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

type stubSubscriber struct{ id string }

func (s *stubSubscriber) ID() string                   { return s.id }
func (s *stubSubscriber) Enqueue(models.Envelope) bool { return true }
