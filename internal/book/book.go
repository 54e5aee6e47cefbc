// Package book implements a central limit order book for one market.
//
// The book holds resting limit orders on two price-time-ordered sides and
// matches incoming orders against them at the resting (maker) order's
// price. It is a pure data structure: it never touches balances or emits
// events, and it is not safe for concurrent use; the engine serializes
// access per market.
package book

import (
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pmx/exchange-engine/internal/model"
)

// RecentTradeWindow bounds the trade history kept for book snapshots.
const RecentTradeWindow = 20

var (
	// ErrCrossedBook signals that a resting bid price reached a resting
	// ask price, which the matching loop must make impossible. The engine
	// treats it as fatal for the market.
	ErrCrossedBook = errors.New("book: resting bid crosses resting ask")

	// ErrDuplicateOrder is returned when an order ID is added twice.
	ErrDuplicateOrder = errors.New("book: duplicate order id")

	// ErrSkipMaker is returned (or wrapped) by an ApplyFunc when the
	// resting maker can no longer settle the fill. Match cancels that
	// maker, removes it from the book and moves on to the next level
	// instead of stopping.
	ErrSkipMaker = errors.New("book: maker cannot settle")
)

// Fill is one match between a taker and a resting maker order, priced at
// the maker's limit price.
type Fill struct {
	Maker *model.Order
	Price decimal.Decimal
	Size  decimal.Decimal
}

// ApplyFunc settles one fill. Returning an error leaves the fill
// unapplied: neither order is mutated. An error wrapping ErrSkipMaker
// cancels the maker and matching continues; any other error stops it.
type ApplyFunc func(f Fill) error

// Book is the resting-order state for a single market.
type Book struct {
	marketID string
	mmOwner  string // owner id flagged as market maker in depth levels

	bids []*model.Order // price desc, seq asc
	asks []*model.Order // price asc, seq asc
	byID map[string]*model.Order

	version        uint64
	lastTradePrice *decimal.Decimal
	recentTrades   []model.Trade // newest first, capped at RecentTradeWindow
}

// New creates an empty book for the market. Orders owned by mmOwner are
// flagged as market-maker liquidity in depth snapshots.
func New(marketID, mmOwner string) *Book {
	return &Book{
		marketID: marketID,
		mmOwner:  mmOwner,
		byID:     make(map[string]*model.Order),
	}
}

// MarketID returns the owning market's id.
func (b *Book) MarketID() string { return b.marketID }

// Version returns the current book version, bumped on every mutation.
func (b *Book) Version() uint64 { return b.version }

// Get returns the resting order with the given id, or nil.
func (b *Book) Get(orderID string) *model.Order {
	return b.byID[orderID]
}

// Rest places a limit order's remainder on the book. The caller must have
// matched it first; resting a crossing order is a bug surfaced by
// CheckUncrossed.
func (b *Book) Rest(o *model.Order) error {
	if _, ok := b.byID[o.ID]; ok {
		return ErrDuplicateOrder
	}
	switch o.Side {
	case model.BuyYes:
		b.bids = insertSorted(b.bids, o, bidBefore)
	case model.SellYes:
		b.asks = insertSorted(b.asks, o, askBefore)
	}
	b.byID[o.ID] = o
	b.version++
	return nil
}

// Remove takes an order off the book (cancel or external cleanup). It does
// not change the order's status; that is the engine's job.
func (b *Book) Remove(orderID string) *model.Order {
	o, ok := b.byID[orderID]
	if !ok {
		return nil
	}
	delete(b.byID, orderID)
	if o.Side == model.BuyYes {
		b.bids = removeOrder(b.bids, orderID)
	} else {
		b.asks = removeOrder(b.asks, orderID)
	}
	b.version++
	return o
}

// OrdersOwnedBy returns the resting orders of one owner, oldest first.
func (b *Book) OrdersOwnedBy(ownerID string) []*model.Order {
	var out []*model.Order
	for _, o := range b.bids {
		if o.OwnerID == ownerID {
			out = append(out, o)
		}
	}
	for _, o := range b.asks {
		if o.OwnerID == ownerID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// AllOrders returns every resting order.
func (b *Book) AllOrders() []*model.Order {
	out := make([]*model.Order, 0, len(b.byID))
	out = append(out, b.bids...)
	out = append(out, b.asks...)
	return out
}

// OpenSellRemaining sums the unfilled quantity of ownerID's resting asks.
// Used to reserve shares against further sells.
func (b *Book) OpenSellRemaining(ownerID string) decimal.Decimal {
	total := decimal.Zero
	for _, o := range b.asks {
		if o.OwnerID == ownerID {
			total = total.Add(o.Remaining())
		}
	}
	return total
}

// BestBid returns the highest resting bid price, or nil.
func (b *Book) BestBid() *decimal.Decimal {
	if len(b.bids) == 0 {
		return nil
	}
	p := b.bids[0].Price
	return &p
}

// BestAsk returns the lowest resting ask price, or nil.
func (b *Book) BestAsk() *decimal.Decimal {
	if len(b.asks) == 0 {
		return nil
	}
	p := b.asks[0].Price
	return &p
}

// Match walks the side opposite the taker in price-time order, applying
// fills through apply. Each fill settles at the maker's price. Matching
// stops when the taker is filled, the opposite side is exhausted, the next
// price no longer crosses a LIMIT taker, the optional cap (positive =
// maximum total fill quantity) is reached, or apply rejects a fill with
// an error other than ErrSkipMaker.
//
// Orders are mutated only for fills that apply accepted, so a rejected
// fill leaves both sides at their pre-match state.
func (b *Book) Match(taker *model.Order, cap decimal.Decimal, apply ApplyFunc) ([]Fill, error) {
	var fills []Fill
	consumed := decimal.Zero

	for taker.Remaining().IsPositive() {
		allowed := taker.Remaining()
		if cap.IsPositive() {
			room := cap.Sub(consumed)
			if !room.IsPositive() {
				break
			}
			allowed = decimal.Min(allowed, room)
		}

		maker := b.bestOpposite(taker.Side)
		if maker == nil {
			break
		}
		if taker.Type == model.Limit && !crosses(taker, maker) {
			break
		}

		size := decimal.Min(allowed, maker.Remaining())
		fill := Fill{Maker: maker, Price: maker.Price, Size: size}

		if err := apply(fill); err != nil {
			if errors.Is(err, ErrSkipMaker) {
				maker.Status = model.OrderCancelled
				b.Remove(maker.ID)
				continue
			}
			return fills, err
		}

		taker.Filled = taker.Filled.Add(size)
		maker.Filled = maker.Filled.Add(size)
		consumed = consumed.Add(size)
		if maker.Remaining().IsZero() {
			maker.Status = model.OrderFilled
			b.Remove(maker.ID)
		} else {
			maker.Status = model.OrderPartial
			b.version++
		}

		fills = append(fills, fill)
	}

	return fills, nil
}

// CostToFill walks the asks and returns the cash needed to buy quantity
// shares at current depth, plus the quantity actually available. Used to
// size MARKET BUY orders against the taker's balance.
func (b *Book) CostToFill(quantity decimal.Decimal) (cost, available decimal.Decimal) {
	remaining := quantity
	for _, ask := range b.asks {
		if !remaining.IsPositive() {
			break
		}
		size := decimal.Min(remaining, ask.Remaining())
		cost = cost.Add(size.Mul(ask.Price))
		available = available.Add(size)
		remaining = remaining.Sub(size)
	}
	return cost, available
}

// AffordableQuantity returns the largest buy quantity (≤ quantity) whose
// depth-walk cost does not exceed cash.
func (b *Book) AffordableQuantity(quantity, cash decimal.Decimal) decimal.Decimal {
	remaining := quantity
	budget := cash
	affordable := decimal.Zero
	for _, ask := range b.asks {
		if !remaining.IsPositive() || !budget.IsPositive() {
			break
		}
		size := decimal.Min(remaining, ask.Remaining())
		cost := size.Mul(ask.Price)
		if cost.GreaterThan(budget) {
			// Partial level: take what the budget covers.
			size = budget.DivRound(ask.Price, model.QuantityScale)
			if size.GreaterThan(remaining) {
				size = remaining
			}
			cost = size.Mul(ask.Price)
			if cost.GreaterThan(budget) {
				break
			}
		}
		affordable = affordable.Add(size)
		budget = budget.Sub(cost)
		remaining = remaining.Sub(size)
	}
	return affordable
}

// NoteTrade records a trade for the snapshot's recent-trade window and
// last-trade price.
func (b *Book) NoteTrade(t model.Trade) {
	p := t.Price
	b.lastTradePrice = &p
	b.recentTrades = append([]model.Trade{t}, b.recentTrades...)
	if len(b.recentTrades) > RecentTradeWindow {
		b.recentTrades = b.recentTrades[:RecentTradeWindow]
	}
	b.version++
}

// LastTradePrice returns the most recent trade price, or nil.
func (b *Book) LastTradePrice() *decimal.Decimal {
	if b.lastTradePrice == nil {
		return nil
	}
	p := *b.lastTradePrice
	return &p
}

// CheckUncrossed verifies the at-rest invariant: no bid price ≥ any ask
// price. The engine calls this after every mutation and halts the market
// on failure.
func (b *Book) CheckUncrossed() error {
	if len(b.bids) == 0 || len(b.asks) == 0 {
		return nil
	}
	if b.bids[0].Price.GreaterThanOrEqual(b.asks[0].Price) {
		return ErrCrossedBook
	}
	return nil
}

// Snapshot builds the aggregated depth view with recent trades.
func (b *Book) Snapshot(now time.Time) model.BookSnapshot {
	snap := model.BookSnapshot{
		MarketID:       b.marketID,
		Version:        b.version,
		Bids:           b.aggregate(b.bids),
		Asks:           b.aggregate(b.asks),
		BestBid:        b.BestBid(),
		BestAsk:        b.BestAsk(),
		LastTradePrice: b.LastTradePrice(),
		RecentTrades:   append([]model.Trade(nil), b.recentTrades...),
		Timestamp:      now,
	}
	if snap.BestBid != nil && snap.BestAsk != nil {
		spread := snap.BestAsk.Sub(*snap.BestBid)
		snap.Spread = &spread
	}
	return snap
}

// aggregate sums consecutive same-price orders into depth levels.
func (b *Book) aggregate(side []*model.Order) []model.BookLevel {
	levels := []model.BookLevel{}
	for _, o := range side {
		if n := len(levels); n > 0 && levels[n-1].Price.Equal(o.Price) {
			levels[n-1].Size = levels[n-1].Size.Add(o.Remaining())
			levels[n-1].OrderCount++
			levels[n-1].IsMarketMaker = levels[n-1].IsMarketMaker || o.OwnerID == b.mmOwner
			continue
		}
		levels = append(levels, model.BookLevel{
			Price:         o.Price,
			Size:          o.Remaining(),
			OrderCount:    1,
			IsMarketMaker: o.OwnerID == b.mmOwner,
		})
	}
	return levels
}

func (b *Book) bestOpposite(takerSide model.Side) *model.Order {
	if takerSide == model.BuyYes {
		if len(b.asks) == 0 {
			return nil
		}
		return b.asks[0]
	}
	if len(b.bids) == 0 {
		return nil
	}
	return b.bids[0]
}

// crosses reports whether a LIMIT taker's price satisfies the maker's.
func crosses(taker, maker *model.Order) bool {
	if taker.Side == model.BuyYes {
		return maker.Price.LessThanOrEqual(taker.Price)
	}
	return maker.Price.GreaterThanOrEqual(taker.Price)
}

// bidBefore orders bids by price descending, then arrival sequence.
func bidBefore(a, b *model.Order) bool {
	if !a.Price.Equal(b.Price) {
		return a.Price.GreaterThan(b.Price)
	}
	return a.Seq < b.Seq
}

// askBefore orders asks by price ascending, then arrival sequence.
func askBefore(a, b *model.Order) bool {
	if !a.Price.Equal(b.Price) {
		return a.Price.LessThan(b.Price)
	}
	return a.Seq < b.Seq
}

func insertSorted(side []*model.Order, o *model.Order, before func(a, b *model.Order) bool) []*model.Order {
	idx := sort.Search(len(side), func(i int) bool { return before(o, side[i]) })
	side = append(side, nil)
	copy(side[idx+1:], side[idx:])
	side[idx] = o
	return side
}

func removeOrder(side []*model.Order, orderID string) []*model.Order {
	for i, o := range side {
		if o.ID == orderID {
			return append(side[:i], side[i+1:]...)
		}
	}
	return side
}
