// Package ws pushes market events and request status changes to browser
// clients over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/kittymarket/internal/domain"
	"github.com/alanyoungcy/kittymarket/internal/metrics"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
	sendBufferSize = 256
)

// Channels are the bus channels forwarded to clients.
var Channels = []string{domain.ChannelMarket, domain.ChannelStatus, domain.ChannelBirth}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// envelope is the frame sent to clients.
type envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// subscribeMsg is what a client sends to change its channel set.
type subscribeMsg struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	subs map[string]bool
}

// Hub fans payloads out to connected clients. It is also an in-process
// domain.SignalBus, so services can publish to it directly when no Redis bus
// is configured.
type Hub struct {
	logger   *slog.Logger
	snapshot func() any

	mu      sync.RWMutex
	clients map[*client]bool

	lmu       sync.Mutex
	listeners map[string][]chan []byte
}

// NewHub creates a Hub. snapshot, when non-nil, is sent to each client on
// connect so it can render request statuses before any event arrives.
func NewHub(logger *slog.Logger, snapshot func() any) *Hub {
	return &Hub{
		logger:    logger.With(slog.String("component", "ws_hub")),
		snapshot:  snapshot,
		clients:   make(map[*client]bool),
		listeners: make(map[string][]chan []byte),
	}
}

// Publish broadcasts payload to every client subscribed to channel and to
// in-process listeners.
func (h *Hub) Publish(_ context.Context, channel string, payload []byte) error {
	h.broadcast(channel, payload)

	h.lmu.Lock()
	defer h.lmu.Unlock()
	for _, l := range h.listeners[channel] {
		select {
		case l <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns an in-process feed of payloads published on channel. The
// feed is closed when ctx is done.
func (h *Hub) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	out := make(chan []byte, sendBufferSize)
	h.lmu.Lock()
	h.listeners[channel] = append(h.listeners[channel], out)
	h.lmu.Unlock()

	go func() {
		<-ctx.Done()
		h.lmu.Lock()
		ls := h.listeners[channel]
		for i, l := range ls {
			if l == out {
				h.listeners[channel] = append(ls[:i:i], ls[i+1:]...)
				break
			}
		}
		close(out)
		h.lmu.Unlock()
	}()
	return out, nil
}

// Relay forwards the given bus channels to clients until ctx is done. Use it
// when services publish to a remote bus such as Redis.
func (h *Hub) Relay(ctx context.Context, bus domain.SignalBus, channels ...string) error {
	var wg sync.WaitGroup
	for _, ch := range channels {
		feed, err := bus.Subscribe(ctx, ch)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func(channel string, feed <-chan []byte) {
			defer wg.Done()
			for data := range feed {
				h.broadcast(channel, data)
			}
		}(ch, feed)
		h.logger.Info("ws: relaying channel", slog.String("channel", ch))
	}
	wg.Wait()
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	metrics.WebSocketClients.Set(0)
}

func (h *Hub) broadcast(channel string, payload []byte) {
	frame, err := json.Marshal(envelope{Channel: channel, Data: payload})
	if err != nil {
		h.logger.Warn("ws: encode frame failed", slog.String("error", err.Error()))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.isSubscribed(channel) {
			continue
		}
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("ws: dropping message for slow client", slog.String("channel", channel))
		}
	}
}

// HandleWS upgrades the request and registers the client for every channel.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool, len(Channels)),
	}
	for _, ch := range Channels {
		c.subs[ch] = true
	}

	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(float64(n))
	h.logger.Info("ws: client connected", slog.Int("total_clients", n))

	c.sendSnapshot()
	go c.writePump()
	go c.readPump()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(float64(n))
	h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
}

// isSubscribed matches exact names and "prefix*" patterns.
func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.subs[channel] {
		return true
	}
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

func (c *client) sendSnapshot() {
	if c.hub.snapshot == nil {
		return
	}
	data, err := json.Marshal(c.hub.snapshot())
	if err != nil {
		return
	}
	frame, err := json.Marshal(envelope{Channel: "snapshot", Data: data})
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
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
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

var _ domain.SignalBus = (*Hub)(nil)
