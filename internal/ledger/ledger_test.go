package ledger

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/pmx/exchange-engine/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newFunded(t *testing.T, users ...string) *Ledger {
	t.Helper()
	l := New()
	for _, u := range users {
		if err := l.CreateAccount(u, u, d(1000)); err != nil {
			t.Fatalf("create %s: %v", u, err)
		}
	}
	return l
}

func fill(buyer, seller string, price, size float64) FillLegs {
	return FillLegs{
		MarketID: "m1",
		BuyerID:  buyer,
		SellerID: seller,
		Price:    d(price),
		Size:     d(size),
	}
}

// totalCash sums every account's balance; fills must conserve it.
func totalCash(l *Ledger) decimal.Decimal {
	accounts, _ := l.Snapshot()
	total := decimal.Zero
	for _, a := range accounts {
		total = total.Add(a.CashBalance)
	}
	return total
}

func TestCreateAccount_Duplicate(t *testing.T) {
	l := newFunded(t, "alice")
	if err := l.CreateAccount("alice", "alice", d(1000)); err != ErrAccountExists {
		t.Errorf("expected ErrAccountExists, got %v", err)
	}
}

func TestApplyFill_MovesCashAndShares(t *testing.T) {
	l := newFunded(t, "buyer", "seller")
	l.SetPrivileged("seller") // seller has no shares, sells short

	if err := l.ApplyFill(fill("buyer", "seller", 0.60, 10)); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if got := l.Balance("buyer"); !got.Equal(d(994)) {
		t.Errorf("buyer balance: expected 994, got %s", got)
	}
	if got := l.Balance("seller"); !got.Equal(d(1006)) {
		t.Errorf("seller balance: expected 1006, got %s", got)
	}
	if got := l.Position("buyer", "m1").YesShares; !got.Equal(d(10)) {
		t.Errorf("buyer shares: expected 10, got %s", got)
	}
	if got := l.Position("seller", "m1").YesShares; !got.Equal(d(-10)) {
		t.Errorf("seller shares: expected -10, got %s", got)
	}
}

func TestApplyFill_ConservesCash(t *testing.T) {
	l := newFunded(t, "a", "b", "c")
	l.SetPrivileged("c")

	before := totalCash(l)
	l.ApplyFill(fill("a", "c", 0.52, 7))
	l.ApplyFill(fill("b", "c", 0.48, 3))
	l.ApplyFill(fill("c", "a", 0.55, 4))
	if after := totalCash(l); !after.Equal(before) {
		t.Errorf("cash not conserved: before=%s after=%s", before, after)
	}
}

func TestApplyFill_InsufficientCashRejectsBothLegs(t *testing.T) {
	l := New()
	l.CreateAccount("poor", "poor", d(1))
	l.CreateAccount("seller", "seller", d(1000))
	l.SetPrivileged("seller")

	err := l.ApplyFill(fill("poor", "seller", 0.60, 100))
	if err != ErrInsufficientCash {
		t.Fatalf("expected ErrInsufficientCash, got %v", err)
	}
	if got := l.Balance("poor"); !got.Equal(d(1)) {
		t.Errorf("buyer balance must be untouched, got %s", got)
	}
	if got := l.Balance("seller"); !got.Equal(d(1000)) {
		t.Errorf("seller balance must be untouched, got %s", got)
	}
	if !l.Position("seller", "m1").YesShares.IsZero() {
		t.Error("no shares may move on a rejected fill")
	}
}

func TestApplyFill_PrivilegedBuyerMayGoNegative(t *testing.T) {
	l := New()
	l.CreateAccount("mm", "mm", d(0))
	l.CreateAccount("seller", "seller", d(1000))
	l.SetPrivileged("mm")
	l.SetPrivileged("seller")

	if err := l.ApplyFill(fill("mm", "seller", 0.50, 10)); err != nil {
		t.Fatalf("privileged buyer should not be cash-checked: %v", err)
	}
	if got := l.Balance("mm"); !got.Equal(d(-5)) {
		t.Errorf("expected -5, got %s", got)
	}
}

func TestApplyFill_FeeLeg(t *testing.T) {
	l := newFunded(t, "buyer", "mm")
	l.SetPrivileged("mm")

	legs := fill("buyer", "mm", 0.50, 10)
	legs.Fee = d(0.05)
	legs.FeePayer = "buyer"
	legs.FeeCollector = "mm"
	if err := l.ApplyFill(legs); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := l.Balance("buyer"); !got.Equal(d(994.95)) {
		t.Errorf("buyer: expected 994.95, got %s", got)
	}
	if got := l.Balance("mm"); !got.Equal(d(1005.05)) {
		t.Errorf("mm: expected 1005.05, got %s", got)
	}
}

func TestPosition_CostBasisTracksWeightedEntry(t *testing.T) {
	l := newFunded(t, "u", "mm")
	l.SetPrivileged("mm")

	l.ApplyFill(fill("u", "mm", 0.50, 10)) // basis 5.00
	l.ApplyFill(fill("u", "mm", 0.60, 10)) // basis 11.00

	p := l.Position("u", "m1")
	if !p.YesShares.Equal(d(20)) || !p.CostBasis.Equal(d(11)) {
		t.Fatalf("expected 20 shares basis 11, got %s / %s", p.YesShares, p.CostBasis)
	}

	// Selling half releases half the basis.
	l.ApplyFill(fill("mm", "u", 0.70, 10))
	p = l.Position("u", "m1")
	if !p.YesShares.Equal(d(10)) || !p.CostBasis.Equal(d(5.5)) {
		t.Errorf("expected 10 shares basis 5.5, got %s / %s", p.YesShares, p.CostBasis)
	}
}

func TestPosition_ClosedPositionIsRemoved(t *testing.T) {
	l := newFunded(t, "u", "mm")
	l.SetPrivileged("mm")

	l.ApplyFill(fill("u", "mm", 0.50, 10))
	l.ApplyFill(fill("mm", "u", 0.50, 10))
	if got := l.PositionsFor("u"); len(got) != 0 {
		t.Errorf("flat position should be dropped, got %+v", got)
	}
}

func TestHoldingsAvailable(t *testing.T) {
	l := newFunded(t, "u", "mm")
	l.SetPrivileged("mm")
	l.ApplyFill(fill("u", "mm", 0.50, 10))

	if got := l.HoldingsAvailable("u", "m1", d(4)); !got.Equal(d(6)) {
		t.Errorf("expected 6 available, got %s", got)
	}
}

func TestSettle_YesPaysLongsChargesShorts(t *testing.T) {
	l := newFunded(t, "long", "mm")
	l.SetPrivileged("mm")
	l.ApplyFill(fill("long", "mm", 0.60, 10)) // long 994, mm 1006 short 10

	l.Settle("m1", model.OutcomeYes)
	if got := l.Balance("long"); !got.Equal(d(1004)) {
		t.Errorf("long: expected 1004, got %s", got)
	}
	if got := l.Balance("mm"); !got.Equal(d(996)) {
		t.Errorf("mm short pays out: expected 996, got %s", got)
	}
	if got := l.PositionsInMarket("m1"); len(got) != 0 {
		t.Errorf("positions must be cleared, got %+v", got)
	}
}

func TestSettle_NoPaysNothing(t *testing.T) {
	l := newFunded(t, "long", "mm")
	l.SetPrivileged("mm")
	l.ApplyFill(fill("long", "mm", 0.60, 10))

	l.Settle("m1", model.OutcomeNo)
	if got := l.Balance("long"); !got.Equal(d(994)) {
		t.Errorf("long keeps only remaining cash: expected 994, got %s", got)
	}
	if got := l.PositionsInMarket("m1"); len(got) != 0 {
		t.Errorf("positions must be cleared, got %+v", got)
	}
}

func TestVoid_RefundsCostBasis(t *testing.T) {
	l := newFunded(t, "u", "mm")
	l.SetPrivileged("mm")
	l.ApplyFill(fill("u", "mm", 0.60, 10)) // u 994 basis 6, mm 1006 basis -6

	before := totalCash(l)
	l.Void("m1")
	if got := l.Balance("u"); !got.Equal(d(1000)) {
		t.Errorf("long refunded to starting cash, got %s", got)
	}
	if got := l.Balance("mm"); !got.Equal(d(1000)) {
		t.Errorf("short returns proceeds, got %s", got)
	}
	if after := totalCash(l); !after.Equal(before) {
		t.Errorf("void must conserve cash: before=%s after=%s", before, after)
	}
}

func TestSettle_OnlyTargetMarket(t *testing.T) {
	l := newFunded(t, "u", "mm")
	l.SetPrivileged("mm")
	l.ApplyFill(fill("u", "mm", 0.50, 10))
	other := fill("u", "mm", 0.50, 5)
	other.MarketID = "m2"
	l.ApplyFill(other)

	l.Settle("m1", model.OutcomeYes)
	if got := l.Position("u", "m2").YesShares; !got.Equal(d(5)) {
		t.Errorf("unrelated market must be untouched, got %s", got)
	}
}
