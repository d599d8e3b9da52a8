// Package realtime streams registry and tenant events to WebSocket clients.
//
// The hub is an events.Publisher: wire it next to the NATS publisher and
// every catalog mutation reaches connected browsers. Each connection is
// bound to the tenant resolved for its upgrade request and only sees that
// tenant's events plus shared ones; admins see everything.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbd888/agentplatform/internal/events"
	"github.com/mbd888/agentplatform/internal/metrics"
)

// Connection tuning.
const (
	MaxClients = 10000

	sendBuffer   = 256
	readLimit    = 64 * 1024
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

// Viewer is the identity a connection was opened with.
type Viewer struct {
	TenantID string
	Admin    bool
}

// Subscription narrows what a client receives. Empty lists match all.
// Clients replace it by sending a JSON Subscription message.
type Subscription struct {
	Resources []string `json:"resources"`
	Types     []string `json:"types"`
}

// Client is one WebSocket connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	viewer Viewer

	mu  sync.RWMutex
	sub Subscription
}

// Hub fans events out to connected clients.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan events.Event
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	logger     *slog.Logger
	maxClients int

	delivered atomic.Int64
	dropped   atomic.Int64
}

// NewHub creates a hub. allowedOrigins lists browser origins allowed to
// connect besides the serving host; "*" allows any.
func NewHub(logger *slog.Logger, allowedOrigins ...string) *Hub {
	h := &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan events.Event, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
		maxClients: MaxClients,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin) {
				return true
			}
			return origin == "http://"+r.Host || origin == "https://"+r.Host
		},
	}
	return h
}

// Publish queues e for delivery. It never blocks; events are dropped when
// the hub is saturated or stopped.
func (h *Hub) Publish(_ context.Context, e events.Event) {
	select {
	case <-h.done:
		return
	default:
	}
	select {
	case h.broadcast <- e:
	default:
		h.dropped.Add(1)
		h.logger.Warn("realtime queue full, dropping event", "resource", e.Resource, "type", e.Type, "id", e.ID)
	}
}

// Run delivers events until ctx ends, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Debug("realtime client connected", "tenant_id", c.viewer.TenantID, "total", n)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))

		case e := <-h.broadcast:
			h.deliver(e)
		}
	}
}

func (h *Hub) deliver(e events.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		h.logger.Warn("failed to encode realtime event", "error", err)
		return
	}

	var slow []*Client
	h.mu.RLock()
	for c := range h.clients {
		if !c.wants(e) {
			continue
		}
		select {
		case c.send <- payload:
			h.delivered.Add(1)
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, c := range slow {
		if _, ok := h.clients[c]; ok {
			close(c.send)
			delete(h.clients, c)
		}
	}
	h.mu.Unlock()
}

// wants applies the tenant boundary first, then the subscription.
func (c *Client) wants(e events.Event) bool {
	if !c.viewer.Admin && e.TenantID != "" && e.TenantID != c.viewer.TenantID {
		return false
	}
	c.mu.RLock()
	sub := c.sub
	c.mu.RUnlock()
	if len(sub.Resources) > 0 && !slices.Contains(sub.Resources, e.Resource) {
		return false
	}
	if len(sub.Types) > 0 && !slices.Contains(sub.Types, e.Type) {
		return false
	}
	return true
}

// Stats reports connection and delivery counters.
func (h *Hub) Stats() map[string]any {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	return map[string]any{
		"connected_clients": n,
		"delivered":         h.delivered.Load(),
		"dropped":           h.dropped.Load(),
	}
}

// ServeWS upgrades the request and binds the connection to v.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, v Viewer) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), viewer: v}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Debug("websocket read error", "error", err)
			}
			return
		}
		var sub Subscription
		if json.Unmarshal(msg, &sub) == nil {
			c.mu.Lock()
			c.sub = sub
			c.mu.Unlock()
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
