package engine

import (
	"github.com/shopspring/decimal"

	"github.com/pmx/exchange-engine/internal/model"
)

// OrderUpdate notifies an order's owner about a state change, including
// the fill that caused it when there was one.
type OrderUpdate struct {
	Order         model.Order
	LastFillPrice *decimal.Decimal
	LastFillSize  *decimal.Decimal
}

// Listener receives engine events. Callbacks run on the mutating
// goroutine while the market lock is held, so per-market delivery order
// matches apply order. Implementations must be non-blocking and must not
// call back into the engine synchronously; hand work to a channel for
// anything heavier than a buffered send.
type Listener interface {
	OnBookUpdate(snap model.BookSnapshot)
	OnTrade(t model.Trade)
	OnOrderUpdate(u OrderUpdate)
	OnMarketStatus(m model.MarketInfo)
	OnNewMarket(m model.MarketInfo)
}
