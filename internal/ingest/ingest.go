// Package ingest adapts the producer-facing transports (HTTP POST, UDP
// datagrams, WebSocket) onto the ingestion coordinator. All three decode
// the same message shape; none is privileged.
package ingest

import (
	"context"

	"github.com/slicewatch/kpi-pipeline/internal/models"
)

// Ingress source labels used for the per-source sample counters.
const (
	SourceHTTP      = "http"
	SourceUDP       = "udp"
	SourceWebSocket = "websocket"
	SourceSimulator = "simulator"
)

// Sink consumes decoded ingress messages; implemented by the coordinator.
type Sink interface {
	Ingest(ctx context.Context, msg models.IngressMessage, source string) error
}
