package emitter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/xkeyC/fl-caption/pkg/transcript"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Format selects the wire encoding of a Hub client.
type Format string

const (
	// JSON sends each batch as a text frame holding a JSON array.
	JSON Format = "json"
	// MsgPack sends each batch as a binary frame holding a msgpack array.
	MsgPack Format = "msgpack"
)

const (
	hubSendQueue  = 16
	hubWriteWait  = 5 * time.Second
	hubPongWait   = 60 * time.Second
	hubPingPeriod = hubPongWait * 9 / 10
)

// Hub broadcasts segments to websocket clients. Clients choose the wire
// format with the "format" query parameter; JSON is the default. A client
// that falls behind loses batches rather than slowing the session.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	closed  bool
}

type hubClient struct {
	conn   *websocket.Conn
	format Format
	send   chan []byte
}

var _ Emitter = (*Hub)(nil)

// NewHub returns an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  logger.With("component", "emitter.hub"),
		clients: make(map[*hubClient]struct{}),
	}
}

// ServeHTTP upgrades the request and streams segments until the client
// disconnects or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	format := Format(r.URL.Query().Get("format"))
	switch format {
	case "":
		format = JSON
	case JSON, MsgPack:
	default:
		http.Error(w, "unknown format "+string(format), http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &hubClient{conn: conn, format: format, send: make(chan []byte, hubSendQueue)}
	if !h.add(c) {
		conn.Close()
		return
	}
	h.logger.Info("client connected", "remote", r.RemoteAddr, "format", format, "clients", h.Clients())

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) add(c *hubClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// readPump discards client messages and detects disconnects.
func (h *Hub) readPump(c *hubClient) {
	defer func() {
		h.remove(c)
		c.conn.Close()
		h.logger.Info("client disconnected", "clients", h.Clients())
	}()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(hubPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(hubPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *hubClient) {
	ticker := time.NewTicker(hubPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	kind := websocket.TextMessage
	if c.format == MsgPack {
		kind = websocket.BinaryMessage
	}
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(kind, msg); err != nil {
				h.logger.Warn("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Emit implements Emitter.
func (h *Hub) Emit(segments []transcript.Segment) {
	if len(segments) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	encoded := map[Format][]byte{}
	for c := range h.clients {
		msg, ok := encoded[c.format]
		if !ok {
			var err error
			msg, err = encode(c.format, segments)
			if err != nil {
				h.logger.Error("encode segments", "format", c.format, "error", err)
				continue
			}
			encoded[c.format] = msg
		}
		select {
		case c.send <- msg:
		default:
			h.logger.Debug("client queue full, batch dropped")
		}
	}
}

func encode(f Format, segments []transcript.Segment) ([]byte, error) {
	if f == MsgPack {
		return msgpack.Marshal(segments)
	}
	return json.Marshal(segments)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
