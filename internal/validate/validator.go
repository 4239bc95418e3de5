package validate

import (
	"fmt"
	"math"
	"time"

	"github.com/slicewatch/kpi-pipeline/internal/models"
	"github.com/slicewatch/kpi-pipeline/internal/utils"
)

// Reason classifies why a sample was rejected.
type Reason string

const (
	ReasonMalformed    Reason = "malformed_sample"
	ReasonUnknownSlice Reason = "unknown_slice"
	ReasonOutOfOrder   Reason = "out_of_order_sample"
)

// RejectionError is the typed outcome for a dropped sample. Rejected
// samples are never queued or retried.
type RejectionError struct {
	Reason Reason
	Field  string
	Msg    string
}

func (e *RejectionError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Reason, e.Field, e.Msg)
}

func reject(reason Reason, field, msg string) error {
	return &RejectionError{Reason: reason, Field: field, Msg: msg}
}

// SliceDirectory answers the referential check for inbound slice ids.
type SliceDirectory interface {
	Known(sliceID string) bool
}

// Validator normalises inbound metric messages into MetricSamples or typed
// rejections. It is stateless; the caller supplies the last accepted
// timestamp for the slice so the monotonicity check runs under the same
// serialization point as the append.
type Validator struct {
	directory  SliceDirectory
	pastSkew   time.Duration
	futureSkew time.Duration
	now        func() time.Time
}

// NewValidator builds a validator with the given skew tolerances. A
// pastSkew of zero enforces strict non-decreasing timestamps per slice.
func NewValidator(directory SliceDirectory, pastSkew, futureSkew time.Duration) *Validator {
	return &Validator{
		directory:  directory,
		pastSkew:   pastSkew,
		futureSkew: futureSkew,
		now:        time.Now,
	}
}

// Validate checks the raw message in order: schema, ranges, slice
// reference, monotonicity. lastAccepted is the zero time when the slice
// has no history yet.
func (v *Validator) Validate(msg models.IngressMessage, lastAccepted time.Time) (models.MetricSample, error) {
	if msg.SliceID == "" {
		return models.MetricSample{}, reject(ReasonMalformed, "slice_id", "required")
	}

	ts, err := utils.ParseTimestamp(msg.Timestamp)
	if err != nil {
		return models.MetricSample{}, reject(ReasonMalformed, "timestamp", err.Error())
	}

	fields := []struct {
		name  string
		value *float64
	}{
		{"metrics.latency_ms", msg.Metrics.LatencyMs},
		{"metrics.jitter_ms", msg.Metrics.JitterMs},
		{"metrics.throughput_mbps", msg.Metrics.ThroughputMbps},
		{"metrics.packet_loss_rate", msg.Metrics.PacketLossRate},
	}
	for _, f := range fields {
		if f.value == nil {
			return models.MetricSample{}, reject(ReasonMalformed, f.name, "required")
		}
		if math.IsNaN(*f.value) || math.IsInf(*f.value, 0) {
			return models.MetricSample{}, reject(ReasonMalformed, f.name, "not a finite number")
		}
		if *f.value < 0 {
			return models.MetricSample{}, reject(ReasonMalformed, f.name, "must be non-negative")
		}
	}
	if *msg.Metrics.PacketLossRate > 1 {
		return models.MetricSample{}, reject(ReasonMalformed, "metrics.packet_loss_rate", "must be within [0,1]")
	}

	if v.directory == nil || !v.directory.Known(msg.SliceID) {
		return models.MetricSample{}, reject(ReasonUnknownSlice, "slice_id", fmt.Sprintf("slice %q is not registered", msg.SliceID))
	}

	now := v.now()
	if ts.After(now.Add(v.futureSkew)) {
		return models.MetricSample{}, reject(ReasonOutOfOrder, "timestamp",
			fmt.Sprintf("timestamp %s is ahead of now beyond tolerance %s", ts.Format(time.RFC3339Nano), v.futureSkew))
	}
	if !lastAccepted.IsZero() && ts.Before(lastAccepted.Add(-v.pastSkew)) {
		return models.MetricSample{}, reject(ReasonOutOfOrder, "timestamp",
			fmt.Sprintf("timestamp %s is older than last accepted %s beyond tolerance %s",
				ts.Format(time.RFC3339Nano), lastAccepted.Format(time.RFC3339Nano), v.pastSkew))
	}

	return models.MetricSample{
		SliceID:        msg.SliceID,
		Timestamp:      ts,
		LatencyMs:      *msg.Metrics.LatencyMs,
		JitterMs:       *msg.Metrics.JitterMs,
		ThroughputMbps: *msg.Metrics.ThroughputMbps,
		PacketLossRate: *msg.Metrics.PacketLossRate,
	}, nil
}
