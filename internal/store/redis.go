package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pmx/exchange-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. A short TTL bounds
// staleness for read endpoints that tolerate it.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) SaveOrder(ctx context.Context, o *model.Order) error {
	if err := s.primary.SaveOrder(ctx, o); err != nil {
		return err
	}
	s.rdb.Del(ctx, ownerOrdersKey(o.OwnerID))
	return nil
}

func (s *CachedStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	return s.primary.InsertTrade(ctx, t)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) ListOrdersByOwner(ctx context.Context, ownerID string) ([]model.Order, error) {
	data, err := s.rdb.Get(ctx, ownerOrdersKey(ownerID)).Bytes()
	if err == nil {
		var orders []model.Order
		if json.Unmarshal(data, &orders) == nil {
			return orders, nil
		}
	}

	orders, err := s.primary.ListOrdersByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(orders); err == nil {
		s.rdb.Set(ctx, ownerOrdersKey(ownerID), data, s.ttl)
	}
	return orders, nil
}

// ListTradesByMarket caches per market and limit. Fresh trades reach
// clients over the websocket feed, so the history endpoint tolerates TTL
// staleness and needs no invalidation on insert.
func (s *CachedStore) ListTradesByMarket(ctx context.Context, marketID string, limit int) ([]model.Trade, error) {
	key := marketTradesKey(marketID, limit)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var trades []model.Trade
		if json.Unmarshal(data, &trades) == nil {
			return trades, nil
		}
	}

	trades, err := s.primary.ListTradesByMarket(ctx, marketID, limit)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(trades); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return trades, nil
}

// --- Passthrough (markets are served from the engine's registry) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.MarketInfo) error {
	return s.primary.CreateMarket(ctx, m)
}

func (s *CachedStore) UpdateMarketStatus(ctx context.Context, id string, status model.MarketStatus, outcome *model.Outcome) error {
	return s.primary.UpdateMarketStatus(ctx, id, status, outcome)
}

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.MarketInfo, error) {
	return s.primary.ListMarkets(ctx)
}

// --- Cache keys ---

func ownerOrdersKey(uid string) string { return fmt.Sprintf("orders:%s", uid) }

func marketTradesKey(id string, limit int) string {
	return fmt.Sprintf("trades:%s:%d", id, limit)
}
