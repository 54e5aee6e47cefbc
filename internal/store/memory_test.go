package store

import (
	"context"
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

func testMarket(id string, createdAt time.Time) *model.MarketInfo {
	return &model.MarketInfo{
		ID:             id,
		Title:          "market " + id,
		Status:         model.MarketOpen,
		OpensAt:        createdAt,
		ClosesAt:       createdAt.Add(24 * time.Hour),
		InitialYesProb: d(0.5),
		CreatedAt:      createdAt,
	}
}

func TestMemoryStore_MarketRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	if err := s.CreateMarket(ctx, testMarket("m1", base)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateMarket(ctx, testMarket("m1", base)); err == nil {
		t.Error("duplicate create must fail")
	}

	markets, err := s.ListMarkets(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(markets) != 1 || markets[0].Title != "market m1" {
		t.Errorf("unexpected markets: %+v", markets)
	}
}

func TestMemoryStore_ListMarketsNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	s.CreateMarket(ctx, testMarket("old", base))
	s.CreateMarket(ctx, testMarket("new", base.Add(time.Hour)))

	markets, err := s.ListMarkets(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(markets) != 2 || markets[0].ID != "new" {
		t.Errorf("expected newest first, got %+v", markets)
	}
}

func TestMemoryStore_UpdateMarketStatus(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.CreateMarket(ctx, testMarket("m1", time.Now()))

	outcome := model.OutcomeYes
	if err := s.UpdateMarketStatus(ctx, "m1", model.MarketResolved, &outcome); err != nil {
		t.Fatalf("update: %v", err)
	}
	markets, _ := s.ListMarkets(ctx)
	if len(markets) != 1 {
		t.Fatalf("expected one market, got %d", len(markets))
	}
	m := markets[0]
	if m.Status != model.MarketResolved || m.ResolvedOutcome == nil || *m.ResolvedOutcome != model.OutcomeYes {
		t.Errorf("status not persisted: %+v", m)
	}

	if err := s.UpdateMarketStatus(ctx, "nope", model.MarketClosed, nil); err == nil {
		t.Error("missing market must error")
	}
}

func TestMemoryStore_SaveOrderUpserts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	o := &model.Order{ID: "o1", MarketID: "m1", OwnerID: "alice", Quantity: d(10), Status: model.OrderOpen, Seq: 1}
	s.SaveOrder(ctx, o)

	o.Filled = d(4)
	o.Status = model.OrderPartial
	s.SaveOrder(ctx, o)

	orders, err := s.ListOrdersByOwner(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("upsert must not duplicate, got %d", len(orders))
	}
	if orders[0].Status != model.OrderPartial || !orders[0].Filled.Equal(d(4)) {
		t.Errorf("latest state not kept: %+v", orders[0])
	}
}

func TestMemoryStore_ListOrdersByOwnerNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		s.SaveOrder(ctx, &model.Order{ID: fmt.Sprintf("o%d", i), OwnerID: "alice", Seq: uint64(i)})
	}
	s.SaveOrder(ctx, &model.Order{ID: "other", OwnerID: "bob", Seq: 4})

	orders, _ := s.ListOrdersByOwner(ctx, "alice")
	if len(orders) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(orders))
	}
	if orders[0].ID != "o3" || orders[2].ID != "o1" {
		t.Errorf("expected newest first, got %+v", orders)
	}
}

func TestMemoryStore_TradesNewestFirstWithLimit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		s.InsertTrade(ctx, &model.Trade{ID: fmt.Sprintf("t%d", i), MarketID: "m1", Price: d(0.5), Size: d(1)})
	}
	s.InsertTrade(ctx, &model.Trade{ID: "other", MarketID: "m2"})

	trades, err := s.ListTradesByMarket(ctx, "m1", 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(trades) != 3 {
		t.Fatalf("expected limit 3, got %d", len(trades))
	}
	if trades[0].ID != "t5" {
		t.Errorf("expected newest first, got %+v", trades)
	}

	all, _ := s.ListTradesByMarket(ctx, "m1", 0)
	if len(all) != 5 {
		t.Errorf("limit 0 means no limit, got %d", len(all))
	}
}
