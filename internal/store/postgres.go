package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pmx/exchange-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.MarketInfo) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, title, description, status, resolved_outcome, opens_at, closes_at, initial_yes_prob, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9, $10)`,
		m.ID, m.Title, m.Description, m.Status, outcomeText(m.ResolvedOutcome),
		m.OpensAt, m.ClosesAt, m.InitialYesProb.String(), m.CreatedBy, m.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.MarketInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, description, status, resolved_outcome,
		        opens_at, closes_at, initial_yes_prob::TEXT, created_by, created_at
		 FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.MarketInfo
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) UpdateMarketStatus(ctx context.Context, id string, status model.MarketStatus, outcome *model.Outcome) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE markets SET status = $2, resolved_outcome = $3 WHERE id = $1`,
		id, status, outcomeText(outcome),
	)
	return err
}

func (s *PostgresStore) SaveOrder(ctx context.Context, o *model.Order) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders (id, market_id, owner_id, side, type, price, quantity, filled_quantity, status, seq, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET filled_quantity = EXCLUDED.filled_quantity, status = EXCLUDED.status`,
		o.ID, o.MarketID, o.OwnerID, o.Side, o.Type,
		o.Price.String(), o.Quantity.String(), o.Filled.String(),
		o.Status, o.Seq, o.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListOrdersByOwner(ctx context.Context, ownerID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, owner_id, side, type,
		        price::TEXT, quantity::TEXT, filled_quantity::TEXT, status, seq, created_at
		 FROM orders WHERE owner_id = $1 ORDER BY seq DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var o model.Order
		var priceS, qtyS, filledS string
		if err := rows.Scan(&o.ID, &o.MarketID, &o.OwnerID, &o.Side, &o.Type,
			&priceS, &qtyS, &filledS, &o.Status, &o.Seq, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.Price, _ = decimal.NewFromString(priceS)
		o.Quantity, _ = decimal.NewFromString(qtyS)
		o.Filled, _ = decimal.NewFromString(filledS)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades (id, market_id, price, size, taker_side, taker_id, maker_id, taker_order_id, maker_order_id, fee, timestamp)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6, $7, $8, $9, $10::NUMERIC, $11)`,
		t.ID, t.MarketID, t.Price.String(), t.Size.String(), t.TakerSide,
		t.TakerID, t.MakerID, t.TakerOrderID, t.MakerOrderID,
		t.Fee.String(), t.Timestamp,
	)
	return err
}

func (s *PostgresStore) ListTradesByMarket(ctx context.Context, marketID string, limit int) ([]model.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, price::TEXT, size::TEXT, taker_side,
		        taker_id, maker_id, taker_order_id, maker_order_id, fee::TEXT, timestamp
		 FROM trades WHERE market_id = $1 ORDER BY timestamp DESC LIMIT $2`, marketID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var priceS, sizeS, feeS string
		if err := rows.Scan(&t.ID, &t.MarketID, &priceS, &sizeS, &t.TakerSide,
			&t.TakerID, &t.MakerID, &t.TakerOrderID, &t.MakerOrderID, &feeS, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Price, _ = decimal.NewFromString(priceS)
		t.Size, _ = decimal.NewFromString(sizeS)
		t.Fee, _ = decimal.NewFromString(feeS)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// scanner abstracts pgx.Row and pgx.Rows for shared market scanning.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMarket(row scanner) (*model.MarketInfo, error) {
	var m model.MarketInfo
	var probS string
	var outcome *string

	if err := row.Scan(&m.ID, &m.Title, &m.Description, &m.Status, &outcome,
		&m.OpensAt, &m.ClosesAt, &probS, &m.CreatedBy, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.InitialYesProb, _ = decimal.NewFromString(probS)
	if outcome != nil {
		o := model.Outcome(*outcome)
		m.ResolvedOutcome = &o
	}
	return &m, nil
}

func outcomeText(o *model.Outcome) *string {
	if o == nil {
		return nil
	}
	s := string(*o)
	return &s
}
