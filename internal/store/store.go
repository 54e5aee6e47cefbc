// Package store defines the persistence interface for the exchange.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and single-node development).
//
// The matching engine is authoritative in memory; the store is a
// write-through journal of markets, orders, and trades for durability and
// history queries.
package store

import (
	"context"

	"github.com/pmx/exchange-engine/internal/model"
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Market records ---

	// CreateMarket persists a new market.
	CreateMarket(ctx context.Context, m *model.MarketInfo) error

	// ListMarkets returns all markets, newest first. The engine restores
	// its registry from this at startup.
	ListMarkets(ctx context.Context) ([]model.MarketInfo, error)

	// UpdateMarketStatus records a lifecycle transition.
	UpdateMarketStatus(ctx context.Context, id string, status model.MarketStatus, outcome *model.Outcome) error

	// --- Orders ---

	// SaveOrder upserts an order's current state.
	SaveOrder(ctx context.Context, o *model.Order) error

	// ListOrdersByOwner returns all orders ever placed by an owner,
	// newest first.
	ListOrdersByOwner(ctx context.Context, ownerID string) ([]model.Order, error)

	// --- Immutable trade ledger ---

	// InsertTrade appends an immutable trade record.
	InsertTrade(ctx context.Context, t *model.Trade) error

	// ListTradesByMarket returns up to limit trades for a market, newest
	// first.
	ListTradesByMarket(ctx context.Context, marketID string, limit int) ([]model.Trade, error)
}
