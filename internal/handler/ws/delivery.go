package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/webitel/im-realtime-bench/config"
	"github.com/webitel/im-realtime-bench/internal/adapter/pubsub"
	"github.com/webitel/im-realtime-bench/internal/domain/metrics"
	"github.com/webitel/im-realtime-bench/internal/domain/model"
	wsmarshaller "github.com/webitel/im-realtime-bench/internal/handler/marshaller/ws"
)

// maxMessageSize bounds inbound frames; clients only send control frames.
const maxMessageSize = 4096

// Stream opens a per-session push subscription.
type Stream interface {
	SubscribeLocal(ctx context.Context) (<-chan *message.Message, error)
}

// Broadcaster publishes onto the push topic. pubsub.EventDispatcher satisfies it.
type Broadcaster interface {
	Publish(ctx context.Context, n model.Notification) error
}

// ClientFrame is what a session may send: a message relayed to every session.
type ClientFrame struct {
	Message string `json:"message"`
}

type WSHandler struct {
	logger      *slog.Logger
	stream      Stream
	broadcaster Broadcaster
	metrics     metrics.Recorder
	upgrader websocket.Upgrader

	writeWait  time.Duration
	pingPeriod time.Duration
	pongWait   time.Duration

	// frames holds encoded frames by notification id, shared by all sessions.
	frames   *lru.Cache[int64, []byte]
	sessions atomic.Int64
	now      func() time.Time
}

func NewWSHandler(logger *slog.Logger, stream Stream, broadcaster Broadcaster, rec metrics.Recorder, cfg config.WSConfig) (*WSHandler, error) {
	frames, err := lru.New[int64, []byte](max(cfg.FrameCacheSize, 1))
	if err != nil {
		return nil, err
	}
	ping := cfg.PingInterval
	if ping <= 0 {
		ping = 30 * time.Second
	}
	writeWait := cfg.WriteTimeout
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}
	return &WSHandler{
		logger:      logger,
		stream:      stream,
		broadcaster: broadcaster,
		metrics:     rec,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // CORS is open on every route
		},
		writeWait:  writeWait,
		pingPeriod: ping,
		// pingPeriod must be less than pongWait.
		pongWait: ping * 10 / 9,
		frames:   frames,
		now:      time.Now,
	}, nil
}

// Sessions is the number of open push sessions.
func (h *WSHandler) Sessions() int64 { return h.sessions.Load() }

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 1. UPGRADE TO WEBSOCKET
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WS_UPGRADE_FAILED", "err", err)
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. SUBSCRIBE TO THE PUSH TOPIC
	msgs, err := h.stream.SubscribeLocal(ctx)
	if err != nil {
		h.logger.Error("WS_SUBSCRIBE_FAILED", "conn_id", connID, "err", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"),
			time.Now().Add(h.writeWait))
		return
	}

	h.sessions.Add(1)
	defer h.sessions.Add(-1)
	h.logger.Info("WS_OPENED", "conn_id", connID, "remote", r.RemoteAddr)

	var wg sync.WaitGroup
	wg.Go(func() {
		defer cancel()
		h.readPump(ctx, conn, connID)
	})

	// 3. MAIN WS PUMP LOOP
	h.writePump(ctx, conn, connID, msgs)

	cancel()
	_ = conn.Close() // unblocks the read pump
	wg.Wait()
	h.logger.Info("WS_CLOSED", "conn_id", connID)
}

// readPump handles pongs, detects close and relays client text frames.
func (h *WSHandler) readPump(ctx context.Context, conn *websocket.Conn, connID string) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Debug("WS_READ_FAILED", "conn_id", connID, "err", err)
			}
			return
		}
		if kind == websocket.TextMessage {
			h.relay(ctx, connID, data)
		}
	}
}

// relay broadcasts a client frame on the push topic without persisting it.
// Invalid frames are logged and dropped; the session stays open.
func (h *WSHandler) relay(ctx context.Context, connID string, data []byte) {
	start := h.now()

	var frame ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		h.logger.Warn("WS_CLIENT_FRAME_MALFORMED", "conn_id", connID, "err", err)
		return
	}
	n, err := model.NewNotification(frame.Message, start)
	if err != nil {
		h.logger.Warn("WS_CLIENT_FRAME_REJECTED", "conn_id", connID, "err", err)
		return
	}

	if err := h.broadcaster.Publish(ctx, n); err != nil {
		h.logger.Warn("WS_CLIENT_BROADCAST_FAILED", "conn_id", connID, "err", err)
		return
	}
	h.metrics.RecordRequest(ctx, model.ChannelPush, h.now().Sub(start))
	h.logger.Debug("WS_CLIENT_BROADCAST", "conn_id", connID, "bytes", len(data))
}

func (h *WSHandler) writePump(ctx context.Context, conn *websocket.Conn, connID string, msgs <-chan *message.Message) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.writeWait))
			return

		case msg, ok := <-msgs:
			if !ok {
				// Bus closed.
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(h.writeWait))
				return
			}

			n, err := pubsub.DecodeNotification(msg)
			msg.Ack()
			if err != nil {
				h.logger.Warn("WS_DECODE_FAILED", "conn_id", connID, "err", err)
				continue
			}

			data, err := h.frame(n)
			if err != nil {
				h.logger.Error("WS_MARSHAL_FAILED", "conn_id", connID, "err", err)
				continue
			}

			_ = conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("WS_SEND_FAILED", "conn_id", connID, "err", err)
				return
			}
			h.metrics.RecordRequest(ctx, model.ChannelPush, h.now().Sub(n.CreatedAt))

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// frame encodes n. Relayed client frames carry no id and bypass the cache.
func (h *WSHandler) frame(n model.Notification) ([]byte, error) {
	if n.ID <= 0 {
		return wsmarshaller.MarshallNotification(n)
	}
	if data, ok := h.frames.Get(n.ID); ok {
		return data, nil
	}
	data, err := wsmarshaller.MarshallNotification(n)
	if err != nil {
		return nil, err
	}
	h.frames.Add(n.ID, data)
	return data, nil
}
