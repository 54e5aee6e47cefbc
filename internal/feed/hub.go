// Package feed is the WebSocket hub with topic fan-out for real-time
// market data.
//
// Publish is fire-and-forget relative to the matching path: per-client
// buffered channels absorb bursts and a client whose buffer is full is
// dropped, never waited on.
package feed

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pmx/exchange-engine/internal/engine"
	"github.com/pmx/exchange-engine/internal/metrics"
	"github.com/pmx/exchange-engine/internal/model"
)

const clientBuffer = 64

// client is one websocket connection with its subscriptions.
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{} // closed on drop; send stays open so Publish never panics
	userID string
}

// Hub manages websocket clients and routes published messages to topic
// subscribers. It implements engine.Listener, so wiring it into the
// engine is a single AddListener call.
type Hub struct {
	mu      sync.RWMutex
	topics  map[string]map[*client]bool
	clients map[*client]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		topics:  make(map[string]map[*client]bool),
		clients: make(map[*client]bool),
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish sends a message to every subscriber of the topic. Non-blocking:
// subscribers that cannot keep up are disconnected.
func (h *Hub) Publish(topic string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("ws marshal failed", "topic", topic, "err", err)
		return
	}

	h.mu.RLock()
	subs := make([]*client, 0, len(h.topics[topic]))
	for c := range h.topics[topic] {
		subs = append(subs, c)
	}
	h.mu.RUnlock()

	for _, c := range subs {
		select {
		case c.send <- data:
		default:
			// Slow subscriber: drop rather than block the matching path.
			h.drop(c)
		}
	}
}

// --- engine.Listener ---

func (h *Hub) OnBookUpdate(snap model.BookSnapshot) {
	h.Publish(OrderBookTopic(snap.MarketID), orderBookUpdateMsg{
		Type:      "ORDERBOOK_UPDATE",
		Timestamp: snap.Timestamp.UnixMilli(),
		MarketID:  snap.MarketID,
		OrderBook: BookResponse(snap, ""),
	})
}

func (h *Hub) OnTrade(t model.Trade) {
	h.Publish(TradesTopic(t.MarketID), tradeMsg{
		Type:      "TRADE",
		Timestamp: t.Timestamp.UnixMilli(),
		MarketID:  t.MarketID,
		Price:     t.Price.String(),
		Size:      t.Size.String(),
		TakerSide: takerSide(t.TakerSide),
	})
}

func (h *Hub) OnOrderUpdate(u engine.OrderUpdate) {
	h.Publish(UserOrdersTopic(u.Order.OwnerID), newOrderUpdateMsg(u, time.Now().UTC()))
}

func (h *Hub) OnMarketStatus(m model.MarketInfo) {
	h.Publish(StatusTopic(m.ID), marketStatusMsg{
		Type:            "MARKET_STATUS",
		Timestamp:       time.Now().UTC().UnixMilli(),
		MarketID:        m.ID,
		Status:          string(m.Status),
		ResolvedOutcome: m.ResolvedOutcome,
	})
}

func (h *Hub) OnNewMarket(m model.MarketInfo) {
	h.Publish(TopicMarkets, newMarketMsg{
		Type:      "NEW_MARKET",
		Timestamp: m.CreatedAt.UnixMilli(),
		MarketID:  m.ID,
		Title:     m.Title,
	})
}

// --- Connection handling ---

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // CORS enforcement happens at the HTTP layer.
	},
}

// subscribeCommand is the client→server protocol: subscribe/unsubscribe
// to a topic. The private topic "user:orders" is rewritten to the
// caller's own queue; clients cannot subscribe to other users' orders.
type subscribeCommand struct {
	Action string `json:"action"` // subscribe | unsubscribe
	Topic  string `json:"topic"`
}

// HandleWS upgrades the connection for an authenticated user and serves
// it until disconnect.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, clientBuffer),
		done:   make(chan struct{}),
		userID: userID,
	}
	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketClients.Inc()
	slog.Info("ws client connected", "user", userID, "total", total)

	go h.writePump(c)
	go h.readPump(c)
}

// resolveTopic maps the "user:orders" alias to the caller's own queue.
// Every other user-scoped topic is the caller's own or nothing: a client
// must never reach another user's private stream, and an unauthenticated
// socket gets no private topics at all.
func (c *client) resolveTopic(topic string) (string, bool) {
	if !strings.HasPrefix(topic, "user:") {
		return topic, true
	}
	if c.userID == "" {
		return "", false
	}
	own := UserOrdersTopic(c.userID)
	if topic == "user:orders" || topic == own {
		return own, true
	}
	return "", false
}

func (h *Hub) subscribe(c *client, topic string) {
	resolved, ok := c.resolveTopic(topic)
	if !ok {
		slog.Warn("ws subscribe rejected", "user", c.userID, "topic", topic)
		return
	}
	h.mu.Lock()
	if h.topics[resolved] == nil {
		h.topics[resolved] = make(map[*client]bool)
	}
	h.topics[resolved][c] = true
	h.mu.Unlock()
}

func (h *Hub) unsubscribe(c *client, topic string) {
	resolved, ok := c.resolveTopic(topic)
	if !ok {
		return
	}
	topic = resolved
	h.mu.Lock()
	if subs, ok := h.topics[topic]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
	h.mu.Unlock()
}

// drop removes the client from every topic and shuts its connection down
// exactly once.
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for topic, subs := range h.topics {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
	h.mu.Unlock()

	metrics.WebSocketClients.Dec()
	close(c.done)
	c.conn.Close()
}

// readPump processes subscribe commands and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer h.drop(c)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd subscribeCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			continue
		}
		switch cmd.Action {
		case "subscribe":
			h.subscribe(c, cmd.Topic)
		case "unsubscribe":
			h.unsubscribe(c, cmd.Topic)
		}
	}
}

// writePump drains the send channel and keeps the connection alive
// through proxies with periodic pings.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case data := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.drop(c)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(c)
				return
			}
		case <-c.done:
			return
		}
	}
}
