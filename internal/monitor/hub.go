// Package monitor streams run events to websocket clients so a run can be
// watched live. The hub only emits; it accepts no commands.
package monitor

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/BetterCallFirewall/llmitm/internal/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope every client receives.
type Message struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

// Hub fans run events out to every connected client. Clients that cannot
// keep up are dropped rather than allowed to stall the run.
type Hub struct {
	logger     *zap.Logger
	clients    map[*client]struct{}
	broadcast  chan []byte
	register   chan *client
	unregister chan *client

	mu      sync.RWMutex
	started bool
}

// NewHub builds a hub; call Run in a goroutine before serving connections.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:     logger,
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan []byte, sendBuffer),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Run owns the client set. It never returns; run it in its own goroutine.
func (h *Hub) Run() {
	h.mu.Lock()
	h.started = true
	h.mu.Unlock()

	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.logger.Info("monitor client connected", zap.Int("clients", len(h.clients)))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.logger.Info("monitor client disconnected", zap.Int("clients", len(h.clients)))
			}

		case message := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					delete(h.clients, c)
					close(c.send)
					h.logger.Warn("dropping slow monitor client")
				}
			}
		}
	}
}

// Emit implements events.Emitter: marshal, enqueue, never block the run.
func (h *Hub) Emit(e events.Event) {
	h.mu.RLock()
	started := h.started
	h.mu.RUnlock()
	if !started {
		return
	}

	payload, err := json.Marshal(Message{
		Type:      string(e.Type),
		Data:      e.Data,
		Timestamp: e.Timestamp.Unix(),
	})
	if err != nil {
		h.logger.Warn("marshalling monitor message", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn("monitor broadcast queue full, dropping event", zap.String("type", string(e.Type)))
	}
}

// ServeWS upgrades an HTTP request into a monitored connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

// readPump only watches for the client going away; inbound frames are
// discarded.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("monitor read", zap.Error(err))
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
