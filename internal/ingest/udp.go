package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/slicewatch/kpi-pipeline/internal/models"
)

const maxDatagramSize = 64 * 1024

// UDPListener ingests one JSON metric message per datagram. UDP producers
// get no feedback; rejections are counted and logged only.
type UDPListener struct {
	addr   string
	sink   Sink
	logger *slog.Logger
	conn   net.PacketConn
}

// NewUDPListener binds the ingress socket immediately so configuration
// errors surface at startup rather than at first sample.
func NewUDPListener(addr string, sink Sink, logger *slog.Logger) (*UDPListener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", addr, err)
	}
	return &UDPListener{addr: addr, sink: sink, logger: logger, conn: conn}, nil
}

// Addr exposes the bound address (useful for tests).
func (l *UDPListener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// Run reads datagrams until the context is cancelled.
func (l *UDPListener) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		_ = l.conn.Close()
	}()

	l.logger.Info("udp ingress listening", slog.String("address", l.Addr().String()))
	buf := make([]byte, maxDatagramSize)
	for {
		n, remote, err := l.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Warn("udp read failed", slog.Any("error", err))
			continue
		}

		var msg models.IngressMessage
		if err := json.Unmarshal(buf[:n], &msg); err != nil {
			l.logger.Debug("udp datagram not valid JSON",
				slog.String("remote", remote.String()), slog.Any("error", err))
			continue
		}
		// Rejections are already counted and logged by the coordinator.
		_ = l.sink.Ingest(ctx, msg, SourceUDP)
	}
}
