// Package sim generates synthetic per-slice KPI samples for local
// development, standing in for an ns-3 probe feed.
package sim

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/slicewatch/kpi-pipeline/internal/config"
	"github.com/slicewatch/kpi-pipeline/internal/ingest"
	"github.com/slicewatch/kpi-pipeline/internal/models"
)

// profile bounds the generated KPIs for one slice type.
type profile struct {
	latencyMin, latencyMax       float64 // ms
	jitterMin, jitterMax         float64 // ms
	throughputMin, throughputMax float64 // Mbps
	lossMin, lossMax             float64 // fraction
}

// Slice-type profiles. eMBB trades latency for bandwidth, URLLC is the
// opposite, mMTC is a trickle of tiny sensor payloads.
var profiles = map[string]profile{
	"embb": {
		latencyMin: 10, latencyMax: 40,
		jitterMin: 1, jitterMax: 8,
		throughputMin: 80, throughputMax: 400,
		lossMin: 0, lossMax: 0.01,
	},
	"urllc": {
		latencyMin: 0.5, latencyMax: 5,
		jitterMin: 0.05, jitterMax: 1,
		throughputMin: 5, throughputMax: 50,
		lossMin: 0, lossMax: 0.001,
	},
	"mmtc": {
		latencyMin: 20, latencyMax: 120,
		jitterMin: 2, jitterMax: 20,
		throughputMin: 0.1, throughputMax: 5,
		lossMin: 0, lossMax: 0.05,
	},
}

var defaultProfile = profiles["embb"]

// breachChance is the per-sample probability of a deliberate KPI spike so
// the alert path gets exercised during development.
const breachChance = 0.05

// Simulator feeds generated samples straight into the ingestion sink at a
// fixed interval, one sample per configured slice per tick.
type Simulator struct {
	sink     ingest.Sink
	slices   []config.SliceConfig
	interval time.Duration
	logger   *slog.Logger
}

// New builds a simulator for the configured slices.
func New(sink ingest.Sink, slices []config.SliceConfig, interval time.Duration, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Simulator{sink: sink, slices: slices, interval: interval, logger: logger}
}

// Run emits samples until the context is cancelled.
func (s *Simulator) Run(ctx context.Context) {
	if len(s.slices) == 0 {
		s.logger.Warn("simulator enabled but no slices configured")
		return
	}
	s.logger.Info("simulator started",
		slog.Int("slices", len(s.slices)), slog.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("simulator stopped")
			return
		case <-ticker.C:
			now := time.Now().UTC()
			for _, slice := range s.slices {
				msg := s.generate(slice, now)
				if err := s.sink.Ingest(ctx, msg, ingest.SourceSimulator); err != nil {
					s.logger.Debug("simulated sample rejected",
						slog.String("slice_id", slice.ID), slog.Any("error", err))
				}
			}
		}
	}
}

func (s *Simulator) generate(slice config.SliceConfig, now time.Time) models.IngressMessage {
	p, ok := profiles[slice.Type]
	if !ok {
		p = defaultProfile
	}

	latency := uniform(p.latencyMin, p.latencyMax)
	jitter := uniform(p.jitterMin, p.jitterMax)
	throughput := uniform(p.throughputMin, p.throughputMax)
	loss := uniform(p.lossMin, p.lossMax)

	if rand.Float64() < breachChance {
		// Spike one KPI well past its normal band.
		switch rand.IntN(3) {
		case 0:
			latency *= 5
		case 1:
			throughput = p.throughputMin * 0.2
		default:
			loss = min(1, loss*10+0.05)
		}
	}

	ts := strconv.FormatFloat(float64(now.UnixNano())/1e9, 'f', 3, 64)
	return models.IngressMessage{
		SliceID:   slice.ID,
		Timestamp: json.RawMessage(ts),
		Metrics: models.IngressMetrics{
			LatencyMs:      &latency,
			JitterMs:       &jitter,
			ThroughputMbps: &throughput,
			PacketLossRate: &loss,
		},
	}
}

func uniform(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + rand.Float64()*(hi-lo)
}
