package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pmx/exchange-engine/internal/engine"
	"github.com/pmx/exchange-engine/internal/ledger"
	"github.com/pmx/exchange-engine/internal/model"
	"github.com/pmx/exchange-engine/internal/store"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	l := ledger.New()
	if err := l.CreateAccount("mm", "Market Maker", d(10000)); err != nil {
		t.Fatalf("create mm: %v", err)
	}
	l.SetPrivileged("mm")
	return engine.New(l, store.NewMemoryStore(), engine.Config{MMOwnerID: "mm"})
}

func TestManager_CloseResolveDelegation(t *testing.T) {
	eng := newEngine(t)
	mgr := NewManager(eng, time.Minute)
	ctx := context.Background()

	m, err := eng.CreateMarket(ctx, engine.CreateMarketParams{
		Title:          "delegation",
		OpensAt:        time.Now().Add(-time.Hour),
		ClosesAt:       time.Now().Add(time.Hour),
		InitialYesProb: d(0.5),
	})
	if err != nil {
		t.Fatalf("create market: %v", err)
	}

	closed, err := mgr.Close(ctx, m.ID)
	if err != nil || closed.Status != model.MarketClosed {
		t.Fatalf("close: %v (%+v)", err, closed)
	}
	resolved, err := mgr.Resolve(ctx, m.ID, model.OutcomeNo)
	if err != nil || resolved.Status != model.MarketResolved {
		t.Fatalf("resolve: %v (%+v)", err, resolved)
	}
	if _, err := mgr.Resolve(ctx, m.ID, model.OutcomeYes); engine.KindOf(err) != engine.KindInvalidTransition {
		t.Errorf("second resolve: expected INVALID_TRANSITION, got %v", err)
	}
}

func TestManager_SweepAutoClosesExpiredMarkets(t *testing.T) {
	eng := newEngine(t)
	mgr := NewManager(eng, 10*time.Millisecond)
	ctx := context.Background()

	expired, err := eng.CreateMarket(ctx, engine.CreateMarketParams{
		Title:          "expired",
		OpensAt:        time.Now().Add(-2 * time.Hour),
		ClosesAt:       time.Now().Add(-time.Hour),
		InitialYesProb: d(0.5),
	})
	if err != nil {
		t.Fatalf("create expired: %v", err)
	}
	live, err := eng.CreateMarket(ctx, engine.CreateMarketParams{
		Title:          "live",
		OpensAt:        time.Now().Add(-time.Hour),
		ClosesAt:       time.Now().Add(time.Hour),
		InitialYesProb: d(0.5),
	})
	if err != nil {
		t.Fatalf("create live: %v", err)
	}

	go mgr.Run()
	defer mgr.Stop()

	deadline := time.After(2 * time.Second)
	for {
		m, _ := eng.Market(expired.ID)
		if m.Status == model.MarketClosed {
			break
		}
		select {
		case <-deadline:
			t.Fatal("sweeper never closed the expired market")
		case <-time.After(10 * time.Millisecond):
		}
	}

	m, _ := eng.Market(live.ID)
	if m.Status != model.MarketOpen {
		t.Errorf("live market must stay open, got %s", m.Status)
	}
}
