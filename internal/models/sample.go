package models

import (
	"fmt"
	"time"
)

// MetricSample is one validated KPI observation for a slice. Immutable once
// accepted by the pipeline.
type MetricSample struct {
	SliceID        string    `json:"slice_id"`
	Timestamp      time.Time `json:"timestamp"`
	LatencyMs      float64   `json:"latency_ms"`
	JitterMs       float64   `json:"jitter_ms"`
	ThroughputMbps float64   `json:"throughput_mbps"`
	PacketLossRate float64   `json:"packet_loss_rate"`
}

// Metric enumerates the KPIs a rule can target.
type Metric string

const (
	MetricLatencyMs      Metric = "latency_ms"
	MetricJitterMs       Metric = "jitter_ms"
	MetricThroughputMbps Metric = "throughput_mbps"
	MetricPacketLossRate Metric = "packet_loss_rate"
)

// KnownMetric reports whether name is a recognised KPI.
func KnownMetric(name Metric) bool {
	switch name {
	case MetricLatencyMs, MetricJitterMs, MetricThroughputMbps, MetricPacketLossRate:
		return true
	}
	return false
}

// Value returns the named KPI from the sample.
func (s MetricSample) Value(name Metric) (float64, bool) {
	switch name {
	case MetricLatencyMs:
		return s.LatencyMs, true
	case MetricJitterMs:
		return s.JitterMs, true
	case MetricThroughputMbps:
		return s.ThroughputMbps, true
	case MetricPacketLossRate:
		return s.PacketLossRate, true
	}
	return 0, false
}

// Comparator is the breach condition operator of an SLA rule.
type Comparator string

const (
	ComparatorGT  Comparator = ">"
	ComparatorLT  Comparator = "<"
	ComparatorGTE Comparator = ">="
	ComparatorLTE Comparator = "<="
)

// Breaches reports whether the observed value violates a threshold under
// this comparator. >= and <= are inclusive at the boundary; > and < are not.
func (c Comparator) Breaches(observed, threshold float64) bool {
	switch c {
	case ComparatorGT:
		return observed > threshold
	case ComparatorLT:
		return observed < threshold
	case ComparatorGTE:
		return observed >= threshold
	case ComparatorLTE:
		return observed <= threshold
	}
	return false
}

// Valid reports whether the comparator is one of the supported operators.
func (c Comparator) Valid() bool {
	switch c {
	case ComparatorGT, ComparatorLT, ComparatorGTE, ComparatorLTE:
		return true
	}
	return false
}

// Severity captures impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SlaRule is a threshold condition on a single KPI. Rule sets are owned by
// the slice configuration collaborator; the pipeline only reads them.
type SlaRule struct {
	SliceID    string     `json:"slice_id" yaml:"slice_id"`
	Metric     Metric     `json:"metric" yaml:"metric"`
	Comparator Comparator `json:"comparator" yaml:"comparator"`
	Threshold  float64    `json:"threshold" yaml:"threshold"`
	Severity   Severity   `json:"severity" yaml:"severity"`
}

// ViolationEvent is a single rule breach derived from an accepted sample.
// It is emitted on the alert stream and not persisted by the pipeline.
type ViolationEvent struct {
	SliceID   string    `json:"slice_id"`
	Rule      SlaRule   `json:"rule"`
	Observed  float64   `json:"observed_value"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// NewViolationEvent derives the violation for a rule the sample breached.
func NewViolationEvent(sample MetricSample, rule SlaRule, observed float64) ViolationEvent {
	return ViolationEvent{
		SliceID:   sample.SliceID,
		Rule:      rule,
		Observed:  observed,
		Timestamp: sample.Timestamp,
		Message: fmt.Sprintf("%s %s %s %g (observed %g)",
			sample.SliceID, rule.Metric, rule.Comparator, rule.Threshold, observed),
	}
}
