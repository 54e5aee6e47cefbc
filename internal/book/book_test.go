package book

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pmx/exchange-engine/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var testSeq uint64

func limitOrder(owner string, side model.Side, price, qty float64) *model.Order {
	testSeq++
	return &model.Order{
		ID:       fmt.Sprintf("o-%d", testSeq),
		MarketID: "m1",
		OwnerID:  owner,
		Side:     side,
		Type:     model.Limit,
		Price:    d(price),
		Quantity: d(qty),
		Status:   model.OrderOpen,
		Seq:      testSeq,
	}
}

func marketOrder(owner string, side model.Side, qty float64) *model.Order {
	testSeq++
	return &model.Order{
		ID:       fmt.Sprintf("o-%d", testSeq),
		MarketID: "m1",
		OwnerID:  owner,
		Side:     side,
		Type:     model.Market,
		Quantity: d(qty),
		Status:   model.OrderOpen,
		Seq:      testSeq,
	}
}

func acceptAll(Fill) error { return nil }

func mustRest(t *testing.T, b *Book, o *model.Order) {
	t.Helper()
	if err := b.Rest(o); err != nil {
		t.Fatalf("rest %s: %v", o.ID, err)
	}
}

// --- Resting and ordering ---

func TestRest_BidsSortedPriceDescThenSeq(t *testing.T) {
	b := New("m1", "mm")
	first := limitOrder("u1", model.BuyYes, 0.40, 10)
	second := limitOrder("u2", model.BuyYes, 0.45, 10)
	third := limitOrder("u3", model.BuyYes, 0.45, 10)
	mustRest(t, b, first)
	mustRest(t, b, second)
	mustRest(t, b, third)

	if !b.BestBid().Equal(d(0.45)) {
		t.Errorf("expected best bid 0.45, got %s", b.BestBid())
	}
	// Same price: the earlier arrival must be ahead.
	taker := limitOrder("t", model.SellYes, 0.45, 10)
	fills, err := b.Match(taker, decimal.Zero, acceptAll)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(fills) != 1 || fills[0].Maker.ID != second.ID {
		t.Errorf("expected fill against first-arrived order at 0.45, got %+v", fills)
	}
}

func TestRest_DuplicateID(t *testing.T) {
	b := New("m1", "mm")
	o := limitOrder("u1", model.BuyYes, 0.40, 10)
	mustRest(t, b, o)
	if err := b.Rest(o); err != ErrDuplicateOrder {
		t.Errorf("expected ErrDuplicateOrder, got %v", err)
	}
}

// --- Matching ---

func TestMatch_ExecutesAtMakerPrice(t *testing.T) {
	b := New("m1", "mm")
	mustRest(t, b, limitOrder("maker", model.SellYes, 0.52, 10))

	taker := limitOrder("taker", model.BuyYes, 0.60, 10)
	fills, err := b.Match(taker, decimal.Zero, acceptAll)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(fills))
	}
	if !fills[0].Price.Equal(d(0.52)) {
		t.Errorf("fill price must be the maker's 0.52, got %s", fills[0].Price)
	}
	if !taker.Remaining().IsZero() {
		t.Errorf("taker should be fully filled, remaining=%s", taker.Remaining())
	}
}

func TestMatch_WalksLevelsInPriceOrder(t *testing.T) {
	b := New("m1", "mm")
	mustRest(t, b, limitOrder("a", model.SellYes, 0.55, 5))
	mustRest(t, b, limitOrder("b", model.SellYes, 0.52, 5))
	mustRest(t, b, limitOrder("c", model.SellYes, 0.58, 5))

	taker := marketOrder("t", model.BuyYes, 12)
	fills, _ := b.Match(taker, decimal.Zero, acceptAll)
	if len(fills) != 3 {
		t.Fatalf("expected 3 fills, got %d", len(fills))
	}
	want := []float64{0.52, 0.55, 0.58}
	for i, f := range fills {
		if !f.Price.Equal(d(want[i])) {
			t.Errorf("fill %d: expected price %v, got %s", i, want[i], f.Price)
		}
	}
	if !fills[2].Size.Equal(d(2)) {
		t.Errorf("last fill should be partial (2), got %s", fills[2].Size)
	}
}

func TestMatch_LimitStopsAtNonCrossingPrice(t *testing.T) {
	b := New("m1", "mm")
	mustRest(t, b, limitOrder("a", model.SellYes, 0.50, 5))
	mustRest(t, b, limitOrder("b", model.SellYes, 0.60, 5))

	taker := limitOrder("t", model.BuyYes, 0.55, 10)
	fills, _ := b.Match(taker, decimal.Zero, acceptAll)
	if len(fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(fills))
	}
	if !taker.Remaining().Equal(d(5)) {
		t.Errorf("expected remainder 5, got %s", taker.Remaining())
	}
}

func TestMatch_CapBoundsTotalFill(t *testing.T) {
	b := New("m1", "mm")
	mustRest(t, b, limitOrder("a", model.SellYes, 0.50, 10))

	taker := marketOrder("t", model.BuyYes, 10)
	fills, _ := b.Match(taker, d(4), acceptAll)
	if len(fills) != 1 || !fills[0].Size.Equal(d(4)) {
		t.Fatalf("expected single fill of 4, got %+v", fills)
	}
	if !taker.Filled.Equal(d(4)) {
		t.Errorf("taker filled should be 4, got %s", taker.Filled)
	}
}

func TestMatch_ApplyRejectionLeavesOrdersUntouched(t *testing.T) {
	b := New("m1", "mm")
	maker := limitOrder("a", model.SellYes, 0.50, 10)
	mustRest(t, b, maker)

	taker := limitOrder("t", model.BuyYes, 0.55, 5)
	rejection := fmt.Errorf("no funds")
	fills, err := b.Match(taker, decimal.Zero, func(Fill) error { return rejection })
	if err != rejection {
		t.Fatalf("expected apply error back, got %v", err)
	}
	if len(fills) != 0 {
		t.Errorf("rejected fill must not be reported, got %d", len(fills))
	}
	if !taker.Filled.IsZero() || !maker.Filled.IsZero() {
		t.Errorf("rejected fill must not mutate orders: taker=%s maker=%s", taker.Filled, maker.Filled)
	}
	if b.Get(maker.ID) == nil {
		t.Error("maker must remain on the book")
	}
}

func TestMatch_SkipMakerCancelsAndContinues(t *testing.T) {
	b := New("m1", "mm")
	dead := limitOrder("a", model.BuyYes, 0.60, 10)
	live := limitOrder("b", model.BuyYes, 0.55, 10)
	mustRest(t, b, dead)
	mustRest(t, b, live)

	taker := limitOrder("t", model.SellYes, 0.50, 8)
	fills, err := b.Match(taker, decimal.Zero, func(f Fill) error {
		if f.Maker.ID == dead.ID {
			return fmt.Errorf("%w: no funds", ErrSkipMaker)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("skip must not abort matching: %v", err)
	}
	if len(fills) != 1 || fills[0].Maker.ID != live.ID || !fills[0].Price.Equal(d(0.55)) {
		t.Fatalf("expected one fill against the live bid, got %+v", fills)
	}
	if dead.Status != model.OrderCancelled || b.Get(dead.ID) != nil {
		t.Errorf("skipped maker must be cancelled off the book, got %s", dead.Status)
	}
	if !dead.Filled.IsZero() {
		t.Errorf("skipped maker must not fill, got %s", dead.Filled)
	}
	if !taker.Filled.Equal(d(8)) || taker.Status != model.OrderOpen {
		t.Errorf("taker should fill 8 against the live bid, got %s/%s", taker.Filled, taker.Status)
	}
}

func TestMatch_FilledMakerRemovedPartialStays(t *testing.T) {
	b := New("m1", "mm")
	full := limitOrder("a", model.SellYes, 0.50, 5)
	partial := limitOrder("b", model.SellYes, 0.51, 10)
	mustRest(t, b, full)
	mustRest(t, b, partial)

	taker := marketOrder("t", model.BuyYes, 8)
	b.Match(taker, decimal.Zero, acceptAll)

	if b.Get(full.ID) != nil {
		t.Error("fully filled maker must leave the book")
	}
	if full.Status != model.OrderFilled {
		t.Errorf("expected FILLED, got %s", full.Status)
	}
	if b.Get(partial.ID) == nil {
		t.Error("partially filled maker must stay on the book")
	}
	if partial.Status != model.OrderPartial {
		t.Errorf("expected PARTIAL, got %s", partial.Status)
	}
}

// --- Affordability ---

func TestCostToFill(t *testing.T) {
	b := New("m1", "mm")
	mustRest(t, b, limitOrder("a", model.SellYes, 0.50, 10))
	mustRest(t, b, limitOrder("b", model.SellYes, 0.60, 10))

	cost, available := b.CostToFill(d(15))
	// 10×0.50 + 5×0.60 = 8.00
	if !cost.Equal(d(8)) {
		t.Errorf("expected cost 8, got %s", cost)
	}
	if !available.Equal(d(15)) {
		t.Errorf("expected 15 available, got %s", available)
	}

	_, available = b.CostToFill(d(100))
	if !available.Equal(d(20)) {
		t.Errorf("expected depth-limited availability 20, got %s", available)
	}
}

func TestAffordableQuantity_PartialLevel(t *testing.T) {
	b := New("m1", "mm")
	mustRest(t, b, limitOrder("a", model.SellYes, 0.50, 10))

	// 3.00 of cash buys exactly 6 shares at 0.50.
	got := b.AffordableQuantity(d(10), d(3))
	if !got.Equal(d(6)) {
		t.Errorf("expected 6 affordable, got %s", got)
	}
}

func TestAffordableQuantity_FullBudget(t *testing.T) {
	b := New("m1", "mm")
	mustRest(t, b, limitOrder("a", model.SellYes, 0.50, 10))

	got := b.AffordableQuantity(d(10), d(100))
	if !got.Equal(d(10)) {
		t.Errorf("expected full 10 affordable, got %s", got)
	}
}

// --- Invariants and snapshots ---

func TestCheckUncrossed(t *testing.T) {
	b := New("m1", "mm")
	mustRest(t, b, limitOrder("a", model.BuyYes, 0.45, 10))
	mustRest(t, b, limitOrder("b", model.SellYes, 0.55, 10))
	if err := b.CheckUncrossed(); err != nil {
		t.Errorf("unexpected crossed book: %v", err)
	}

	mustRest(t, b, limitOrder("c", model.BuyYes, 0.55, 10))
	if err := b.CheckUncrossed(); err != ErrCrossedBook {
		t.Errorf("expected ErrCrossedBook, got %v", err)
	}
}

func TestSnapshot_AggregatesLevelsAndFlagsMM(t *testing.T) {
	b := New("m1", "mm")
	mustRest(t, b, limitOrder("u1", model.BuyYes, 0.45, 10))
	mustRest(t, b, limitOrder("mm", model.BuyYes, 0.45, 5))
	mustRest(t, b, limitOrder("u2", model.BuyYes, 0.40, 3))
	mustRest(t, b, limitOrder("mm", model.SellYes, 0.55, 8))

	snap := b.Snapshot(time.Now())
	if len(snap.Bids) != 2 {
		t.Fatalf("expected 2 bid levels, got %d", len(snap.Bids))
	}
	top := snap.Bids[0]
	if !top.Size.Equal(d(15)) || top.OrderCount != 2 || !top.IsMarketMaker {
		t.Errorf("top bid level wrong: %+v", top)
	}
	if snap.Bids[1].IsMarketMaker {
		t.Error("0.40 level has no MM order")
	}
	if !snap.Asks[0].IsMarketMaker {
		t.Error("ask level should be flagged MM")
	}
	if snap.Spread == nil || !snap.Spread.Equal(d(0.10)) {
		t.Errorf("expected spread 0.10, got %v", snap.Spread)
	}
}

func TestNoteTrade_WindowAndLastPrice(t *testing.T) {
	b := New("m1", "mm")
	for i := 0; i < RecentTradeWindow+5; i++ {
		b.NoteTrade(model.Trade{
			ID:    fmt.Sprintf("t-%d", i),
			Price: d(0.50).Add(decimal.NewFromInt(int64(i)).Div(decimal.NewFromInt(1000))),
		})
	}
	snap := b.Snapshot(time.Now())
	if len(snap.RecentTrades) != RecentTradeWindow {
		t.Errorf("expected window of %d, got %d", RecentTradeWindow, len(snap.RecentTrades))
	}
	if snap.RecentTrades[0].ID != fmt.Sprintf("t-%d", RecentTradeWindow+4) {
		t.Errorf("newest trade must be first, got %s", snap.RecentTrades[0].ID)
	}
	if snap.LastTradePrice == nil || !snap.LastTradePrice.Equal(d(0.524)) {
		t.Errorf("expected last trade price 0.524, got %v", snap.LastTradePrice)
	}
}

func TestOpenSellRemaining(t *testing.T) {
	b := New("m1", "mm")
	a := limitOrder("u1", model.SellYes, 0.55, 10)
	a.Filled = d(4)
	mustRest(t, b, a)
	mustRest(t, b, limitOrder("u1", model.SellYes, 0.60, 5))
	mustRest(t, b, limitOrder("u2", model.SellYes, 0.60, 7))

	if got := b.OpenSellRemaining("u1"); !got.Equal(d(11)) {
		t.Errorf("expected 11 reserved, got %s", got)
	}
}
