package models

import (
	"encoding/json"
	"time"
)

// IngressMessage is the wire shape producers send, before validation. All
// transports (HTTP, UDP, WebSocket) decode into this one structure.
// Metric fields are pointers so the validator can distinguish a missing
// field from an explicit zero.
type IngressMessage struct {
	SliceID   string          `json:"slice_id"`
	Timestamp json.RawMessage `json:"timestamp"`
	Metrics   IngressMetrics  `json:"metrics"`
}

// IngressMetrics carries the raw KPI values of an ingress message.
type IngressMetrics struct {
	LatencyMs      *float64 `json:"latency_ms"`
	JitterMs       *float64 `json:"jitter_ms"`
	ThroughputMbps *float64 `json:"throughput_mbps"`
	PacketLossRate *float64 `json:"packet_loss_rate"`
}

// EventType enumerates envelope kinds pushed to subscribers.
type EventType string

const (
	EventMetricUpdate EventType = "metric_update"
	EventAlert        EventType = "alert"
	EventSliceStale   EventType = "slice_stale"
	EventError        EventType = "error"
	EventPong         EventType = "pong"
)

// Envelope is the egress frame for every subscriber-facing event.
type Envelope struct {
	EventType EventType `json:"event_type"`
	Data      any       `json:"data,omitempty"`
	Timestamp string    `json:"timestamp"`
}

// NewEnvelope stamps an envelope with the current UTC time.
func NewEnvelope(eventType EventType, data any) Envelope {
	return Envelope{
		EventType: eventType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// AlertData is the payload of an alert envelope.
type AlertData struct {
	SliceID   string   `json:"slice_id"`
	Metric    Metric   `json:"metric"`
	Value     float64  `json:"value"`
	Threshold float64  `json:"threshold"`
	Severity  Severity `json:"severity"`
	Message   string   `json:"message"`
}

// AlertDataFrom maps a violation onto the alert wire payload.
func AlertDataFrom(ev ViolationEvent) AlertData {
	return AlertData{
		SliceID:   ev.SliceID,
		Metric:    ev.Rule.Metric,
		Value:     ev.Observed,
		Threshold: ev.Rule.Threshold,
		Severity:  ev.Rule.Severity,
		Message:   ev.Message,
	}
}

// ErrorData is the payload of an error envelope sent for rejected
// subscription control messages. The connection stays open.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StaleData announces a slice whose producer has gone quiet.
type StaleData struct {
	SliceID    string    `json:"slice_id"`
	LastSample time.Time `json:"last_sample"`
}

// ControlMessage is the subscriber-to-pipeline control frame.
type ControlMessage struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

// Control actions accepted from subscribers.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionPing        = "ping"
)
