// Package quote implements the market maker's quote math for binary
// outcome markets.
//
// Quotes are a two-sided ladder around a fair-price estimate:
//
//	mid   = fairPrice − skew
//	bid_i = mid − spread/2 − i·levelStep
//	ask_i = mid + spread/2 + i·levelStep
//
// where skew grows with net inventory to bias quotes back toward flat.
// Holding long inventory lowers both sides (encouraging sells to the MM to
// stop and buys from it to resume); short inventory raises them.
//
// All monetary values use shopspring/decimal, never float64.
package quote

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/pmx/exchange-engine/internal/model"
)

var (
	// ErrInvalidFairPrice is returned when fairPrice is outside (0, 1).
	ErrInvalidFairPrice = errors.New("quote: fair price must be in (0, 1)")

	// ErrInvalidSpread is returned when the configured spread is not
	// positive.
	ErrInvalidSpread = errors.New("quote: spread must be positive")

	// MinPrice is the lowest quotable price (probability floor).
	// Prevents degenerate quotes where shares look worthless.
	MinPrice = decimal.NewFromFloat(0.01)

	// MaxPrice is the highest quotable price (probability ceiling).
	// Prevents degenerate quotes where the outcome looks certain.
	MaxPrice = decimal.NewFromFloat(0.99)
)

// Level is one rung of a quote ladder.
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Ladder is a full two-sided quote: bids best-first, asks best-first.
type Ladder struct {
	Bids []Level
	Asks []Level
}

// BestBid returns the top bid price, or zero when the bid side is empty.
func (l Ladder) BestBid() decimal.Decimal {
	if len(l.Bids) == 0 {
		return decimal.Zero
	}
	return l.Bids[0].Price
}

// BestAsk returns the top ask price, or zero when the ask side is empty.
func (l Ladder) BestAsk() decimal.Decimal {
	if len(l.Asks) == 0 {
		return decimal.Zero
	}
	return l.Asks[0].Price
}

// Quoter computes quote ladders. It is stateless: fair price and
// inventory are passed as arguments, not stored.
type Quoter struct {
	spread       decimal.Decimal // full bid/ask spread at level 0
	skewPerShare decimal.Decimal // price shift per share of net inventory
	maxSkew      decimal.Decimal // absolute cap on the skew shift
	baseSize     decimal.Decimal // shares per level
	levels       int             // rungs per side
	levelStep    decimal.Decimal // extra distance per deeper rung
}

// NewQuoter creates a quoter with the given base spread and inventory
// sensitivity. Skew is capped at one full spread so inventory pressure
// can shift quotes but never invert them.
func NewQuoter(spread, skewPerShare, baseSize decimal.Decimal, levels int, levelStep decimal.Decimal) (*Quoter, error) {
	if spread.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidSpread
	}
	if levels < 1 {
		levels = 1
	}
	return &Quoter{
		spread:       spread,
		skewPerShare: skewPerShare,
		maxSkew:      spread,
		baseSize:     baseSize,
		levels:       levels,
		levelStep:    levelStep,
	}, nil
}

// Spread returns the configured base spread.
func (q *Quoter) Spread() decimal.Decimal { return q.spread }

// Skew returns the inventory-driven price shift, clamped to ±maxSkew.
func (q *Quoter) Skew(netInventory decimal.Decimal) decimal.Decimal {
	skew := q.skewPerShare.Mul(netInventory)
	if skew.GreaterThan(q.maxSkew) {
		return q.maxSkew
	}
	if skew.LessThan(q.maxSkew.Neg()) {
		return q.maxSkew.Neg()
	}
	return skew
}

// Compute builds the quote ladder for the given fair price and inventory.
// Rungs whose price clamps outside [MinPrice, MaxPrice] are dropped, so a
// heavily skewed book may be one-sided.
func (q *Quoter) Compute(fairPrice, netInventory decimal.Decimal) (Ladder, error) {
	if fairPrice.LessThanOrEqual(decimal.Zero) || fairPrice.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return Ladder{}, ErrInvalidFairPrice
	}

	half := q.spread.Div(decimal.NewFromInt(2))
	mid := fairPrice.Sub(q.Skew(netInventory))

	var ladder Ladder
	for i := 0; i < q.levels; i++ {
		offset := half.Add(q.levelStep.Mul(decimal.NewFromInt(int64(i))))

		bid := mid.Sub(offset).Round(model.PriceScale)
		if bid.GreaterThanOrEqual(MinPrice) && bid.LessThanOrEqual(MaxPrice) {
			ladder.Bids = append(ladder.Bids, Level{Price: bid, Size: q.baseSize})
		}

		ask := mid.Add(offset).Round(model.PriceScale)
		if ask.GreaterThanOrEqual(MinPrice) && ask.LessThanOrEqual(MaxPrice) {
			ladder.Asks = append(ladder.Asks, Level{Price: ask, Size: q.baseSize})
		}
	}
	return ladder, nil
}

// Drift measures how far the market has moved from a previously quoted
// mid: |newMid − oldMid|. The agent requotes when drift exceeds its
// tolerance.
func Drift(oldMid, newMid decimal.Decimal) decimal.Decimal {
	return newMid.Sub(oldMid).Abs()
}
