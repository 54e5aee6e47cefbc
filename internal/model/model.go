// Package model defines the core domain types shared across the exchange
// engine. All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// PriceScale is the number of decimal places for prices.
	PriceScale int32 = 8
	// QuantityScale is the number of decimal places for share quantities.
	QuantityScale int32 = 8
	// CashScale is the number of decimal places for cash amounts.
	CashScale int32 = 8
)

// MarketStatus is the lifecycle state of a market. Transitions are
// one-directional: OPEN → CLOSED → {RESOLVED, VOID}.
type MarketStatus string

const (
	MarketOpen     MarketStatus = "OPEN"
	MarketClosed   MarketStatus = "CLOSED"
	MarketResolved MarketStatus = "RESOLVED"
	MarketVoid     MarketStatus = "VOID"
)

// Outcome is the resolution of a binary market.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// Side is the direction of an order. Markets trade a single YES contract;
// selling NO is expressed as SELL_YES.
type Side string

const (
	BuyYes  Side = "BUY_YES"
	SellYes Side = "SELL_YES"
)

// OrderType distinguishes resting-capable limit orders from
// immediate-or-discard market orders.
type OrderType string

const (
	Limit  OrderType = "LIMIT"
	Market OrderType = "MARKET"
)

// OrderStatus tracks an order through its life.
type OrderStatus string

const (
	OrderOpen      OrderStatus = "OPEN"
	OrderPartial   OrderStatus = "PARTIAL"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// Terminal reports whether the status admits no further fills or cancels.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCancelled
}

// MarketInfo is the descriptive state of one binary market.
type MarketInfo struct {
	ID              string          `json:"id" db:"id"`
	Title           string          `json:"title" db:"title"`
	Description     string          `json:"description" db:"description"`
	Status          MarketStatus    `json:"status" db:"status"`
	ResolvedOutcome *Outcome        `json:"resolvedOutcome,omitempty" db:"resolved_outcome"`
	OpensAt         time.Time       `json:"opensAt" db:"opens_at"`
	ClosesAt        time.Time       `json:"closesAt" db:"closes_at"`
	InitialYesProb  decimal.Decimal `json:"initialYesProbability" db:"initial_yes_prob"`
	CreatedBy       string          `json:"createdBy" db:"created_by"`
	CreatedAt       time.Time       `json:"createdAt" db:"created_at"`
}

// TradeableAt reports whether orders are accepted at the given instant:
// status OPEN and now within [opensAt, closesAt).
func (m *MarketInfo) TradeableAt(now time.Time) bool {
	return m.Status == MarketOpen &&
		!now.Before(m.OpensAt) &&
		now.Before(m.ClosesAt)
}

// Order is a request to trade YES shares. Owned exclusively by the book
// engine of its market; mutated only through match or cancel.
type Order struct {
	ID        string          `json:"orderId" db:"id"`
	MarketID  string          `json:"marketId" db:"market_id"`
	OwnerID   string          `json:"-" db:"owner_id"`
	Side      Side            `json:"side" db:"side"`
	Type      OrderType       `json:"type" db:"type"`
	Price     decimal.Decimal `json:"price" db:"price"` // limit price, zero for MARKET
	Quantity  decimal.Decimal `json:"quantity" db:"quantity"`
	Filled    decimal.Decimal `json:"filledQuantity" db:"filled_quantity"`
	Status    OrderStatus     `json:"status" db:"status"`
	Seq       uint64          `json:"-" db:"seq"` // monotonic arrival sequence, FIFO tie-break
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
}

// Remaining is quantity − filledQuantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.Filled)
}

// Trade is an immutable record of one match, priced at the resting
// (maker) order's price.
type Trade struct {
	ID           string          `json:"id" db:"id"`
	MarketID     string          `json:"marketId" db:"market_id"`
	Price        decimal.Decimal `json:"price" db:"price"`
	Size         decimal.Decimal `json:"size" db:"size"`
	TakerSide    Side            `json:"takerSide" db:"taker_side"`
	TakerID      string          `json:"-" db:"taker_id"`
	MakerID      string          `json:"-" db:"maker_id"`
	TakerOrderID string          `json:"-" db:"taker_order_id"`
	MakerOrderID string          `json:"-" db:"maker_order_id"`
	Fee          decimal.Decimal `json:"-" db:"fee"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// BookLevel is one aggregated price level of book depth.
type BookLevel struct {
	Price         decimal.Decimal `json:"price"`
	Size          decimal.Decimal `json:"size"`
	OrderCount    int             `json:"orderCount"`
	IsMarketMaker bool            `json:"isMarketMaker"`
}

// BookSnapshot is the derived view of one market's book, versioned
// monotonically per market so subscribers can discard stale updates.
type BookSnapshot struct {
	MarketID       string           `json:"marketId"`
	Version        uint64           `json:"version"`
	Bids           []BookLevel      `json:"bids"`
	Asks           []BookLevel      `json:"asks"`
	BestBid        *decimal.Decimal `json:"bestBid"`
	BestAsk        *decimal.Decimal `json:"bestAsk"`
	Spread         *decimal.Decimal `json:"spread"`
	LastTradePrice *decimal.Decimal `json:"lastTradePrice"`
	RecentTrades   []Trade          `json:"recentTrades"`
	Timestamp      time.Time        `json:"timestamp"`
}

// Mid returns (bestBid+bestAsk)/2, or nil when either side is empty.
func (s *BookSnapshot) Mid() *decimal.Decimal {
	if s.BestBid == nil || s.BestAsk == nil {
		return nil
	}
	mid := s.BestBid.Add(*s.BestAsk).Div(decimal.NewFromInt(2))
	return &mid
}

// Position is a user's aggregate holding in one market. YesShares is
// signed: positive = long YES. Only privileged participants can go short.
type Position struct {
	UserID    string          `json:"-"`
	MarketID  string          `json:"marketId"`
	YesShares decimal.Decimal `json:"yesShares"`
	CostBasis decimal.Decimal `json:"costBasis"` // net cash paid for the current holding
}

// Account is a user's cash ledger account.
type Account struct {
	UserID      string          `json:"userId"`
	Username    string          `json:"username"`
	CashBalance decimal.Decimal `json:"cashBalance"`
}

// MMState is the market maker's per-market bookkeeping snapshot.
type MMState struct {
	MarketID      string          `json:"marketId"`
	FairPrice     decimal.Decimal `json:"fairPrice"`
	CurrentSpread decimal.Decimal `json:"currentSpread"`
	NetInventory  decimal.Decimal `json:"netInventory"`
	RealizedPnL   decimal.Decimal `json:"realizedPnL"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnL"`
	FeesEarned    decimal.Decimal `json:"feesEarned"`
}

// TotalPnL is realized + unrealized.
func (s MMState) TotalPnL() decimal.Decimal {
	return s.RealizedPnL.Add(s.UnrealizedPnL)
}
