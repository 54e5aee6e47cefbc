package feed

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/pmx/exchange-engine/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestTopics(t *testing.T) {
	if got := OrderBookTopic("m1"); got != "market:m1:orderbook" {
		t.Errorf("orderbook topic: %s", got)
	}
	if got := TradesTopic("m1"); got != "market:m1:trades" {
		t.Errorf("trades topic: %s", got)
	}
	if got := StatusTopic("m1"); got != "market:m1:status" {
		t.Errorf("status topic: %s", got)
	}
	if got := UserOrdersTopic("u1"); got != "user:u1:orders" {
		t.Errorf("user orders topic: %s", got)
	}
}

func TestBookResponse(t *testing.T) {
	bid, ask := d(0.48), d(0.52)
	spread := d(0.04)
	last := d(0.50)
	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	snap := model.BookSnapshot{
		MarketID: "m1",
		Version:  7,
		Bids: []model.BookLevel{
			{Price: d(0.48), Size: d(10), OrderCount: 2, IsMarketMaker: true},
		},
		Asks: []model.BookLevel{
			{Price: d(0.52), Size: d(5), OrderCount: 1},
		},
		BestBid:        &bid,
		BestAsk:        &ask,
		Spread:         &spread,
		LastTradePrice: &last,
		RecentTrades: []model.Trade{
			{Price: d(0.50), Size: d(3), TakerSide: model.SellYes, Timestamp: ts},
		},
		Timestamp: ts,
	}

	dto := BookResponse(snap, "Rain tomorrow?")
	if dto.MarketID != "m1" || dto.MarketTitle != "Rain tomorrow?" || dto.Version != 7 {
		t.Errorf("header wrong: %+v", dto)
	}
	if dto.BestBid == nil || *dto.BestBid != "0.48" {
		t.Errorf("best bid: %v", dto.BestBid)
	}
	if dto.Spread == nil || *dto.Spread != "0.04" {
		t.Errorf("spread: %v", dto.Spread)
	}
	if len(dto.Bids) != 1 || !dto.Bids[0].IsMarketMaker || dto.Bids[0].Size != "10" {
		t.Errorf("bid level: %+v", dto.Bids)
	}
	if len(dto.RecentTrades) != 1 || dto.RecentTrades[0].Side != "SELL" {
		t.Errorf("recent trades: %+v", dto.RecentTrades)
	}
	if dto.Timestamp != ts.UnixMilli() {
		t.Errorf("timestamp: %d", dto.Timestamp)
	}
}

func TestBookResponse_EmptyBook(t *testing.T) {
	dto := BookResponse(model.BookSnapshot{MarketID: "m1"}, "")
	if dto.BestBid != nil || dto.BestAsk != nil || dto.Spread != nil || dto.LastTradePrice != nil {
		t.Errorf("empty book must have nil prices: %+v", dto)
	}
	if dto.Bids == nil || dto.Asks == nil || dto.RecentTrades == nil {
		t.Error("slices must be empty, not null, on the wire")
	}
}

func TestPublish_OnlySubscribersReceive(t *testing.T) {
	h := NewHub()
	sub := &client{send: make(chan []byte, 4), done: make(chan struct{})}
	other := &client{send: make(chan []byte, 4), done: make(chan struct{})}
	h.subscribe(sub, "market:m1:trades")
	h.subscribe(other, "market:m2:trades")

	h.Publish("market:m1:trades", map[string]string{"hello": "world"})

	select {
	case msg := <-sub.send:
		if !strings.Contains(string(msg), "hello") {
			t.Errorf("unexpected payload: %s", msg)
		}
	default:
		t.Fatal("subscriber did not receive the message")
	}
	select {
	case <-other.send:
		t.Fatal("other topic must not receive the message")
	default:
	}
}

func TestUnsubscribe(t *testing.T) {
	h := NewHub()
	c := &client{send: make(chan []byte, 4), done: make(chan struct{})}
	h.subscribe(c, "markets")
	h.unsubscribe(c, "markets")

	h.Publish("markets", map[string]string{"x": "y"})
	select {
	case <-c.send:
		t.Fatal("unsubscribed client must not receive messages")
	default:
	}
}

func TestSubscribe_PrivateTopicRewrittenToOwnQueue(t *testing.T) {
	h := NewHub()
	alice := &client{send: make(chan []byte, 4), done: make(chan struct{}), userID: "alice"}
	mallory := &client{send: make(chan []byte, 4), done: make(chan struct{}), userID: "mallory"}
	h.subscribe(alice, "user:orders")
	h.subscribe(mallory, "user:orders")

	h.Publish(UserOrdersTopic("alice"), map[string]string{"order": "1"})

	select {
	case <-alice.send:
	default:
		t.Fatal("alice must receive her own order update")
	}
	select {
	case <-mallory.send:
		t.Fatal("mallory must not see alice's orders")
	default:
	}
}

func TestSubscribe_RejectsOtherUsersQualifiedTopic(t *testing.T) {
	h := NewHub()
	victim := &client{send: make(chan []byte, 4), done: make(chan struct{}), userID: "victim"}
	attacker := &client{send: make(chan []byte, 4), done: make(chan struct{}), userID: "attacker"}
	anon := &client{send: make(chan []byte, 4), done: make(chan struct{})}

	h.subscribe(victim, "user:orders")
	// Naming the victim's queue directly must not grant access.
	h.subscribe(attacker, UserOrdersTopic("victim"))
	h.subscribe(attacker, "user:victim:orders")
	// Unauthenticated sockets get no private topics, aliased or not.
	h.subscribe(anon, "user:orders")
	h.subscribe(anon, UserOrdersTopic("victim"))

	h.Publish(UserOrdersTopic("victim"), map[string]string{"order": "1"})

	select {
	case <-victim.send:
	default:
		t.Fatal("victim must receive their own order update")
	}
	select {
	case <-attacker.send:
		t.Fatal("attacker must not see the victim's orders")
	default:
	}
	select {
	case <-anon.send:
		t.Fatal("unauthenticated socket must not see private streams")
	default:
	}

	// The caller's own qualified name still resolves to their queue.
	bob := &client{send: make(chan []byte, 4), done: make(chan struct{}), userID: "bob"}
	h.subscribe(bob, UserOrdersTopic("bob"))
	h.Publish(UserOrdersTopic("bob"), map[string]string{"order": "2"})
	select {
	case <-bob.send:
	default:
		t.Fatal("own qualified topic must still deliver")
	}
}

func TestHandleWS_SubscribeAndReceive(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.HandleWS(w, r, "u1")
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(subscribeCommand{Action: "subscribe", Topic: "market:m1:trades"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// The subscribe command is processed asynchronously by the read pump.
	deadline := time.Now().Add(2 * time.Second)
	for {
		h.mu.RLock()
		n := len(h.topics["market:m1:trades"])
		h.mu.RUnlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("subscription never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.OnTrade(model.Trade{
		MarketID:  "m1",
		Price:     d(0.52),
		Size:      d(10),
		TakerSide: model.BuyYes,
		Timestamp: time.Now().UTC(),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg struct {
		Type      string `json:"type"`
		MarketID  string `json:"marketId"`
		Price     string `json:"price"`
		TakerSide string `json:"takerSide"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != "TRADE" || msg.MarketID != "m1" || msg.Price != "0.52" || msg.TakerSide != "BUY" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestDrop_SlowClientRemoved(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.HandleWS(w, r, "u1")
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.mu.RLock()
	var c *client
	for cl := range h.clients {
		c = cl
	}
	h.mu.RUnlock()

	h.drop(c)
	h.drop(c) // idempotent
	if h.ClientCount() != 0 {
		t.Errorf("expected 0 clients after drop, got %d", h.ClientCount())
	}
}
