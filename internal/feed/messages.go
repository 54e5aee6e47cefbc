// Wire messages and topic names for the push channel.
package feed

import (
	"time"

	"github.com/pmx/exchange-engine/internal/engine"
	"github.com/pmx/exchange-engine/internal/model"
)

// Topic names. Per-market topics carry book depth, trade ticks, and
// status changes; "markets" announces new markets; the user-orders topic
// is private to one authenticated user.
const TopicMarkets = "markets"

func OrderBookTopic(marketID string) string { return "market:" + marketID + ":orderbook" }

func TradesTopic(marketID string) string { return "market:" + marketID + ":trades" }

func StatusTopic(marketID string) string { return "market:" + marketID + ":status" }

func UserOrdersTopic(userID string) string { return "user:" + userID + ":orders" }

// BookLevelDTO is one aggregated depth level on the wire.
type BookLevelDTO struct {
	Price         string `json:"price"`
	Size          string `json:"size"`
	OrderCount    int    `json:"orderCount"`
	IsMarketMaker bool   `json:"isMarketMaker"`
}

// RecentTradeDTO is one trade in the book snapshot's recent window.
type RecentTradeDTO struct {
	Price     string `json:"price"`
	Size      string `json:"size"`
	Side      string `json:"side"` // BUY | SELL (taker side)
	Timestamp int64  `json:"timestamp"`
}

// BookDTO is the order-book snapshot on the wire.
type BookDTO struct {
	MarketID       string           `json:"marketId"`
	MarketTitle    string           `json:"marketTitle,omitempty"`
	Version        uint64           `json:"version"`
	LastTradePrice *string          `json:"lastTradePrice"`
	BestBid        *string          `json:"bestBid"`
	BestAsk        *string          `json:"bestAsk"`
	Spread         *string          `json:"spread"`
	Bids           []BookLevelDTO   `json:"bids"`
	Asks           []BookLevelDTO   `json:"asks"`
	RecentTrades   []RecentTradeDTO `json:"recentTrades"`
	Timestamp      int64            `json:"timestamp"`
}

// BookResponse converts an engine snapshot to its wire form.
func BookResponse(snap model.BookSnapshot, marketTitle string) BookDTO {
	dto := BookDTO{
		MarketID:    snap.MarketID,
		MarketTitle: marketTitle,
		Version:     snap.Version,
		Bids:        levels(snap.Bids),
		Asks:        levels(snap.Asks),
		Timestamp:   snap.Timestamp.UnixMilli(),
	}
	if snap.LastTradePrice != nil {
		s := snap.LastTradePrice.String()
		dto.LastTradePrice = &s
	}
	if snap.BestBid != nil {
		s := snap.BestBid.String()
		dto.BestBid = &s
	}
	if snap.BestAsk != nil {
		s := snap.BestAsk.String()
		dto.BestAsk = &s
	}
	if snap.Spread != nil {
		s := snap.Spread.String()
		dto.Spread = &s
	}
	dto.RecentTrades = make([]RecentTradeDTO, 0, len(snap.RecentTrades))
	for _, t := range snap.RecentTrades {
		dto.RecentTrades = append(dto.RecentTrades, RecentTradeDTO{
			Price:     t.Price.String(),
			Size:      t.Size.String(),
			Side:      takerSide(t.TakerSide),
			Timestamp: t.Timestamp.UnixMilli(),
		})
	}
	return dto
}

func levels(in []model.BookLevel) []BookLevelDTO {
	out := make([]BookLevelDTO, 0, len(in))
	for _, l := range in {
		out = append(out, BookLevelDTO{
			Price:         l.Price.String(),
			Size:          l.Size.String(),
			OrderCount:    l.OrderCount,
			IsMarketMaker: l.IsMarketMaker,
		})
	}
	return out
}

func takerSide(s model.Side) string {
	if s == model.BuyYes {
		return "BUY"
	}
	return "SELL"
}

// --- Push messages ---

type orderBookUpdateMsg struct {
	Type      string  `json:"type"` // ORDERBOOK_UPDATE
	Timestamp int64   `json:"timestamp"`
	MarketID  string  `json:"marketId"`
	OrderBook BookDTO `json:"orderBook"`
}

type tradeMsg struct {
	Type      string `json:"type"` // TRADE
	Timestamp int64  `json:"timestamp"`
	MarketID  string `json:"marketId"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	TakerSide string `json:"takerSide"` // BUY | SELL
}

type orderUpdateMsg struct {
	Type          string  `json:"type"` // ORDER_UPDATE
	Timestamp     int64   `json:"timestamp"`
	OrderID       string  `json:"orderId"`
	MarketID      string  `json:"marketId"`
	Status        string  `json:"status"`
	FilledQty     string  `json:"filledQuantity"`
	RemainingQty  string  `json:"remainingQuantity"`
	LastFillPrice *string `json:"lastFillPrice,omitempty"`
	LastFillSize  *string `json:"lastFillSize,omitempty"`
}

type marketStatusMsg struct {
	Type            string         `json:"type"` // MARKET_STATUS
	Timestamp       int64          `json:"timestamp"`
	MarketID        string         `json:"marketId"`
	Status          string         `json:"status"`
	ResolvedOutcome *model.Outcome `json:"resolvedOutcome,omitempty"`
}

type newMarketMsg struct {
	Type      string `json:"type"` // NEW_MARKET
	Timestamp int64  `json:"timestamp"`
	MarketID  string `json:"marketId"`
	Title     string `json:"title"`
}

func newOrderUpdateMsg(u engine.OrderUpdate, now time.Time) orderUpdateMsg {
	msg := orderUpdateMsg{
		Type:         "ORDER_UPDATE",
		Timestamp:    now.UnixMilli(),
		OrderID:      u.Order.ID,
		MarketID:     u.Order.MarketID,
		Status:       string(u.Order.Status),
		FilledQty:    u.Order.Filled.String(),
		RemainingQty: u.Order.Remaining().String(),
	}
	if u.LastFillPrice != nil {
		s := u.LastFillPrice.String()
		msg.LastFillPrice = &s
	}
	if u.LastFillSize != nil {
		s := u.LastFillSize.String()
		msg.LastFillSize = &s
	}
	return msg
}
