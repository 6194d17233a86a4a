package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hackgods/campus-care-coordination/internal/hub"
)

const (
	writeWait       = 10 * time.Second
	snapshotTimeout = 15 * time.Second
	maxClientFrame  = 4096
)

// Client frame types.
const (
	frameSubscribe = "subscribe"
	frameSnapshot  = "snapshot"
	framePing      = "ping"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // tokens, not cookies, authenticate the handshake
	},
}

type ClientFrame struct {
	Type  string `json:"type"`
	Topic string `json:"topic,omitempty"`
}

// WSHandler upgrades authenticated requests and pumps frames between the
// connection and its hub session.
type WSHandler struct {
	hub          *hub.Hub
	pingInterval time.Duration
	log          zerolog.Logger
}

func NewWSHandler(h *hub.Hub, pingInterval time.Duration, logger zerolog.Logger) *WSHandler {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &WSHandler{
		hub:          h,
		pingInterval: pingInterval,
		log:          logger.With().Str("component", "ws").Logger(),
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	s := h.hub.Connect(actor)
	ctx := context.WithoutCancel(r.Context())

	go h.writePump(conn, s)
	go h.readPump(ctx, conn, s)
}

func (h *WSHandler) readPump(ctx context.Context, conn *websocket.Conn, s *hub.Session) {
	defer func() {
		h.hub.Disconnect(s)
		conn.Close()
	}()

	pongWait := 2 * h.pingInterval
	conn.SetReadLimit(maxClientFrame)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Str("session_id", s.ID).Msg("websocket read")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg ClientFrame
		if err := json.Unmarshal(data, &msg); err != nil {
			s.WriteFrame(hub.Frame{Type: hub.FrameError, Error: "malformed frame"})
			continue
		}
		h.handle(ctx, s, msg)
	}
}

func (h *WSHandler) handle(ctx context.Context, s *hub.Session, msg ClientFrame) {
	switch msg.Type {
	case frameSubscribe:
		if err := h.hub.Subscribe(s, msg.Topic); err != nil {
			s.WriteFrame(hub.Frame{Type: hub.FrameError, Topic: msg.Topic, Error: err.Error()})
		}
	case frameSnapshot:
		ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
		defer cancel()
		if err := h.hub.Snapshot(ctx, s); err != nil {
			h.log.Warn().Err(err).Str("session_id", s.ID).Msg("snapshot failed")
			s.WriteFrame(hub.Frame{Type: hub.FrameError, Error: err.Error()})
		}
	case framePing:
		s.WriteFrame(hub.Frame{Type: hub.FramePong})
	default:
		s.WriteFrame(hub.Frame{Type: hub.FrameError, Error: "unknown frame type " + msg.Type})
	}
}

// writePump is the only writer on conn.
func (h *WSHandler) writePump(conn *websocket.Conn, s *hub.Session) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.Send():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
