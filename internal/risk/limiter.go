// Package risk enforces inventory limits for the market maker.
//
// The MM is exempt from the ordinary cash and share-holding checks, so its
// exposure is bounded here instead: an absolute cap per market and an
// aggregate cap across every market it quotes.
package risk

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrPerMarketLimitExceeded is returned when a fill would push the net
	// inventory in a single market beyond the per-market maximum.
	ErrPerMarketLimitExceeded = errors.New("risk: per-market inventory limit exceeded")

	// ErrAggregateLimitExceeded is returned when a fill would push total
	// absolute inventory across all markets beyond the aggregate maximum.
	ErrAggregateLimitExceeded = errors.New("risk: aggregate inventory limit exceeded")
)

// InventoryLimiter validates market-maker exposure against configured caps.
type InventoryLimiter struct {
	// MaxPerMarket is the maximum absolute net YES inventory in any single
	// market.
	MaxPerMarket decimal.Decimal

	// MaxAggregate is the maximum sum of absolute net inventory across all
	// markets.
	MaxAggregate decimal.Decimal
}

// NewInventoryLimiter creates a limiter with the given caps.
func NewInventoryLimiter(maxPerMarket, maxAggregate decimal.Decimal) *InventoryLimiter {
	return &InventoryLimiter{
		MaxPerMarket: maxPerMarket,
		MaxAggregate: maxAggregate,
	}
}

// CheckLimit validates a prospective inventory change.
//
// Parameters:
//   - targetMarket: market whose inventory would change
//   - inventoryDelta: signed change in net YES inventory
//   - existing: map of market id → current net inventory
//
// Returns nil if within limits, or an error naming the violated cap.
func (l *InventoryLimiter) CheckLimit(
	targetMarket string,
	inventoryDelta decimal.Decimal,
	existing map[string]decimal.Decimal,
) error {
	newPosition := existing[targetMarket].Add(inventoryDelta)

	if newPosition.Abs().GreaterThan(l.MaxPerMarket) {
		return ErrPerMarketLimitExceeded
	}

	totalAbs := newPosition.Abs()
	for marketID, inv := range existing {
		if marketID == targetMarket {
			continue // already counted via newPosition above
		}
		totalAbs = totalAbs.Add(inv.Abs())
	}
	if totalAbs.GreaterThan(l.MaxAggregate) {
		return ErrAggregateLimitExceeded
	}
	return nil
}

// QuotableSize caps a prospective quote size so a full fill stays inside
// both the per-market limit and the aggregate limit, given the exposure
// already held in other markets. Returns zero when no room remains in the
// given direction.
func (l *InventoryLimiter) QuotableSize(
	targetMarket string,
	direction int, // +1 = quote would add inventory (bid), -1 = shed (ask)
	desired decimal.Decimal,
	existing map[string]decimal.Decimal,
) decimal.Decimal {
	current := existing[targetMarket]

	othersAbs := decimal.Zero
	for marketID, inv := range existing {
		if marketID != targetMarket {
			othersAbs = othersAbs.Add(inv.Abs())
		}
	}
	// Aggregate room left for this market once the others are counted.
	aggCap := l.MaxAggregate.Sub(othersAbs)

	var room decimal.Decimal
	if direction >= 0 {
		room = decimal.Min(l.MaxPerMarket, aggCap).Sub(current)
	} else {
		room = decimal.Min(l.MaxPerMarket, aggCap).Add(current)
	}
	if !room.IsPositive() {
		return decimal.Zero
	}
	return decimal.Min(desired, room)
}
