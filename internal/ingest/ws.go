package ingest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/slicewatch/kpi-pipeline/internal/models"
	"github.com/slicewatch/kpi-pipeline/internal/validate"
)

const (
	producerReadLimit    = 128 * 1024
	producerReadTimeout  = 90 * time.Second
	producerWriteTimeout = 5 * time.Second
)

// WSHandler upgrades producer connections (the ns-3 simulator speaks this
// transport) and ingests one metric message per frame. A rejected sample
// gets an error envelope back; the connection stays open.
type WSHandler struct {
	sink     Sink
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler builds the producer WebSocket endpoint.
func NewWSHandler(sink Sink, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		sink:   sink,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Producers are trusted processes on the operator network.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("producer upgrade failed", slog.Any("error", err))
		return
	}
	defer sock.Close()

	sock.SetReadLimit(producerReadLimit)
	_ = sock.SetReadDeadline(time.Now().Add(producerReadTimeout))
	sock.SetPongHandler(func(string) error {
		return sock.SetReadDeadline(time.Now().Add(producerReadTimeout))
	})

	remote := r.RemoteAddr
	h.logger.Info("producer connected", slog.String("remote", remote))

	for {
		_, frame, err := sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("producer read failed", slog.String("remote", remote), slog.Any("error", err))
			} else {
				h.logger.Info("producer disconnected", slog.String("remote", remote))
			}
			return
		}
		_ = sock.SetReadDeadline(time.Now().Add(producerReadTimeout))

		var msg models.IngressMessage
		if err := json.Unmarshal(frame, &msg); err != nil {
			h.writeError(sock, string(validate.ReasonMalformed), "invalid JSON payload")
			continue
		}

		if err := h.sink.Ingest(r.Context(), msg, SourceWebSocket); err != nil {
			var rej *validate.RejectionError
			if errors.As(err, &rej) {
				h.writeError(sock, string(rej.Reason), rej.Error())
				continue
			}
			h.writeError(sock, "store_error", "sample could not be persisted")
		}
	}
}

func (h *WSHandler) writeError(sock *websocket.Conn, code, message string) {
	env := models.NewEnvelope(models.EventError, models.ErrorData{Code: code, Message: message})
	_ = sock.SetWriteDeadline(time.Now().Add(producerWriteTimeout))
	if err := sock.WriteJSON(env); err != nil {
		h.logger.Debug("producer error reply failed", slog.Any("error", err))
	}
}
