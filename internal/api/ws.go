package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/slicewatch/kpi-pipeline/internal/broker"
	"github.com/slicewatch/kpi-pipeline/internal/config"
	"github.com/slicewatch/kpi-pipeline/internal/metrics"
	"github.com/slicewatch/kpi-pipeline/internal/models"
)

const (
	subscriberReadLimit   = 16 * 1024
	subscriberReadTimeout = 90 * time.Second
)

// SubscriberHandler upgrades dashboard and tooling connections and speaks
// the subscribe/unsubscribe/ping control protocol. Every connection gets
// its own bounded outbox drained by a single write pump.
type SubscriberHandler struct {
	registry     *broker.Registry
	logger       *slog.Logger
	queueDepth   int
	writeTimeout time.Duration
	pingPeriod   time.Duration
	upgrader     websocket.Upgrader
}

// NewSubscriberHandler builds the subscriber WebSocket endpoint.
func NewSubscriberHandler(registry *broker.Registry, cfg config.DispatchConfig, logger *slog.Logger) *SubscriberHandler {
	if logger == nil {
		logger = slog.Default()
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	pingPeriod := cfg.PingInterval
	if pingPeriod <= 0 {
		pingPeriod = 30 * time.Second
	}
	return &SubscriberHandler{
		registry:     registry,
		logger:       logger,
		queueDepth:   cfg.QueueDepth,
		writeTimeout: writeTimeout,
		pingPeriod:   pingPeriod,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *SubscriberHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("subscriber upgrade failed", slog.Any("error", err))
		return
	}

	client := &wsClient{
		id:           uuid.NewString(),
		sock:         sock,
		out:          broker.NewOutbox(h.queueDepth),
		registry:     h.registry,
		logger:       h.logger,
		writeTimeout: h.writeTimeout,
		pingPeriod:   h.pingPeriod,
	}
	h.registry.Register(client)
	metrics.ConnectionOpened()
	h.logger.Info("subscriber connected",
		slog.String("connection_id", client.id),
		slog.String("remote", r.RemoteAddr))

	go client.writePump()
	client.readPump()
}

// wsClient is one subscriber connection. The registry holds it through the
// Subscriber interface; the publish path only ever touches Enqueue.
type wsClient struct {
	id           string
	sock         *websocket.Conn
	out          *broker.Outbox
	registry     *broker.Registry
	logger       *slog.Logger
	writeTimeout time.Duration
	pingPeriod   time.Duration
	closeOnce    sync.Once
}

// ID implements broker.Subscriber.
func (c *wsClient) ID() string { return c.id }

// Enqueue implements broker.Subscriber. It never blocks; a full queue
// sheds its oldest event inside the outbox.
func (c *wsClient) Enqueue(env models.Envelope) bool {
	return c.out.Put(env)
}

// readPump consumes control frames until the connection dies. It runs on
// the ServeHTTP goroutine.
func (c *wsClient) readPump() {
	defer c.close()

	c.sock.SetReadLimit(subscriberReadLimit)
	_ = c.sock.SetReadDeadline(time.Now().Add(subscriberReadTimeout))
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(subscriberReadTimeout))
	})

	for {
		_, frame, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("subscriber read failed",
					slog.String("connection_id", c.id), slog.Any("error", err))
			} else {
				c.logger.Info("subscriber disconnected", slog.String("connection_id", c.id))
			}
			return
		}
		_ = c.sock.SetReadDeadline(time.Now().Add(subscriberReadTimeout))

		var ctrl models.ControlMessage
		if err := json.Unmarshal(frame, &ctrl); err != nil {
			c.sendError("malformed_control", "control frame is not valid JSON")
			continue
		}
		c.handleControl(ctrl)
	}
}

func (c *wsClient) handleControl(ctrl models.ControlMessage) {
	switch ctrl.Action {
	case models.ActionSubscribe:
		valid := ctrl.Channels[:0:0]
		for _, ch := range ctrl.Channels {
			if !models.ValidTopic(ch) {
				c.sendError("unknown_channel", "unknown channel: "+ch)
				continue
			}
			valid = append(valid, ch)
		}
		if len(valid) == 0 {
			return
		}
		if err := c.registry.Subscribe(c.id, valid...); err != nil {
			c.logger.Warn("subscribe failed",
				slog.String("connection_id", c.id), slog.Any("error", err))
		}
	case models.ActionUnsubscribe:
		c.registry.Unsubscribe(c.id, ctrl.Channels...)
	case models.ActionPing:
		c.out.Put(models.NewEnvelope(models.EventPong, nil))
	default:
		c.sendError("unknown_action", "unknown action: "+ctrl.Action)
	}
}

// sendError pushes an error envelope through the normal outbox. The
// connection stays open; bad control frames are a client bug, not a
// transport failure.
func (c *wsClient) sendError(code, message string) {
	c.out.Put(models.NewEnvelope(models.EventError, models.ErrorData{Code: code, Message: message}))
}

// writePump drains the outbox onto the socket and keeps the connection
// alive with pings. It is the only goroutine writing to the socket.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case env, ok := <-c.out.C():
			if !ok {
				_ = c.sock.SetWriteDeadline(time.Now().Add(c.writeTimeout))
				_ = c.sock.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			_ = c.sock.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.sock.WriteJSON(env); err != nil {
				c.logger.Debug("subscriber write failed",
					slog.String("connection_id", c.id), slog.Any("error", err))
				return
			}
		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close tears the connection down exactly once, from whichever pump fails
// first. Late calls are no-ops; the registry drop is idempotent too.
func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		c.registry.Drop(c.id)
		c.out.Close()
		_ = c.sock.Close()
		metrics.ConnectionClosed()
		if n := c.out.Dropped(); n > 0 {
			c.logger.Info("subscriber closed with overflow drops",
				slog.String("connection_id", c.id), slog.Uint64("dropped", n))
		}
	})
}
