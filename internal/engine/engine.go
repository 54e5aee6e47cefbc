// Package engine is the exchange core: it owns the market registry, runs
// order validation and matching, applies ledger effects per match, and
// emits book/trade/order events.
//
// Concurrency model: every mutating operation on a market runs under that
// market's exclusive lock, so price-time priority and ledger atomicity
// hold per market while different markets proceed in parallel. Events are
// emitted while the lock is held, which gives subscribers the same order
// the mutations were applied in; listeners must therefore never block.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pmx/exchange-engine/internal/book"
	"github.com/pmx/exchange-engine/internal/ledger"
	"github.com/pmx/exchange-engine/internal/metrics"
	"github.com/pmx/exchange-engine/internal/model"
	"github.com/pmx/exchange-engine/internal/store"
)

// Config carries engine-level settings.
type Config struct {
	// MMOwnerID is the synthetic market-maker account. It is privileged:
	// exempt from cash/share checks (bounded by risk caps instead) and
	// flagged in book depth.
	MMOwnerID string

	// FeeRate is the taker fee as a fraction of trade notional, credited
	// to the MM account. Zero disables fees.
	FeeRate decimal.Decimal

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// PlaceOrderParams are the validated-at-the-edge inputs to PlaceOrder.
type PlaceOrderParams struct {
	MarketID string
	Side     model.Side
	Type     model.OrderType
	Price    decimal.Decimal // required for LIMIT, ignored for MARKET
	Quantity decimal.Decimal
}

// marketState bundles everything guarded by one market's lock.
type marketState struct {
	mu     sync.Mutex
	info   model.MarketInfo
	book   *book.Book
	orders map[string]*model.Order // every order ever routed here, incl. terminal
	halted bool                    // set on invariant violation, refuses further matching
}

// Engine is the trading core shared by the HTTP layer, the MM agent, and
// the lifecycle manager.
type Engine struct {
	mu      sync.RWMutex
	markets map[string]*marketState
	orderIx map[string]string // orderID → marketID

	ledger    *ledger.Ledger
	store     store.Store
	listeners []Listener
	seq       atomic.Uint64

	mmOwner string
	feeRate decimal.Decimal
	now     func() time.Time
}

// New creates an engine over the given ledger and store.
func New(l *ledger.Ledger, st store.Store, cfg Config) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		markets: make(map[string]*marketState),
		orderIx: make(map[string]string),
		ledger:  l,
		store:   st,
		mmOwner: cfg.MMOwnerID,
		feeRate: cfg.FeeRate,
		now:     now,
	}
}

// AddListener registers an event listener. Not safe to call once trading
// has started.
func (e *Engine) AddListener(l Listener) {
	e.listeners = append(e.listeners, l)
}

// Ledger exposes the account store for read-side aggregation.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// MMOwnerID returns the synthetic market-maker account id.
func (e *Engine) MMOwnerID() string { return e.mmOwner }

// --- Market registry ---

// CreateMarketParams are the admin inputs to CreateMarket.
type CreateMarketParams struct {
	Title          string
	Description    string
	OpensAt        time.Time
	ClosesAt       time.Time
	InitialYesProb decimal.Decimal // in (0.01, 0.99)
	CreatedBy      string
}

var (
	minInitialProb = decimal.NewFromFloat(0.01)
	maxInitialProb = decimal.NewFromFloat(0.99)
)

// CreateMarket registers a new OPEN market and announces it.
func (e *Engine) CreateMarket(ctx context.Context, p CreateMarketParams) (model.MarketInfo, error) {
	if strings.TrimSpace(p.Title) == "" {
		return model.MarketInfo{}, E(KindInvalidOrderParameters, "title is required")
	}
	if !p.ClosesAt.After(p.OpensAt) {
		return model.MarketInfo{}, E(KindInvalidOrderParameters, "closesAt must be after opensAt")
	}
	if p.InitialYesProb.LessThanOrEqual(minInitialProb) || p.InitialYesProb.GreaterThanOrEqual(maxInitialProb) {
		return model.MarketInfo{}, E(KindInvalidOrderParameters, "initial YES probability must be in (0.01, 0.99)")
	}

	info := model.MarketInfo{
		ID:             uuid.New().String(),
		Title:          p.Title,
		Description:    p.Description,
		Status:         model.MarketOpen,
		OpensAt:        p.OpensAt,
		ClosesAt:       p.ClosesAt,
		InitialYesProb: p.InitialYesProb,
		CreatedBy:      p.CreatedBy,
		CreatedAt:      e.now().UTC(),
	}

	ms := &marketState{
		info:   info,
		book:   book.New(info.ID, e.mmOwner),
		orders: make(map[string]*model.Order),
	}

	e.mu.Lock()
	e.markets[info.ID] = ms
	e.mu.Unlock()

	if err := e.store.CreateMarket(ctx, &info); err != nil {
		slog.Error("persist market failed", "market", info.ID, "err", err)
	}

	metrics.OpenMarkets.Inc()
	slog.Info("market created", "id", info.ID, "title", info.Title, "initial_prob", info.InitialYesProb.String())
	for _, l := range e.listeners {
		l.OnNewMarket(info)
	}
	return info, nil
}

// RestoreMarkets reloads persisted markets into the registry, once at
// startup before trading begins. Books come back empty; resting orders do
// not survive a restart. OPEN markets are announced so the MM agent
// re-seeds their liquidity.
func (e *Engine) RestoreMarkets(ctx context.Context) (int, error) {
	persisted, err := e.store.ListMarkets(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, info := range persisted {
		e.mu.Lock()
		if _, ok := e.markets[info.ID]; ok {
			e.mu.Unlock()
			continue
		}
		e.markets[info.ID] = &marketState{
			info:   info,
			book:   book.New(info.ID, e.mmOwner),
			orders: make(map[string]*model.Order),
		}
		e.mu.Unlock()
		restored++

		if info.Status == model.MarketOpen {
			metrics.OpenMarkets.Inc()
			for _, l := range e.listeners {
				l.OnNewMarket(info)
			}
		}
	}
	if restored > 0 {
		slog.Info("markets restored", "count", restored)
	}
	return restored, nil
}

// Market returns a market's descriptive state.
func (e *Engine) Market(id string) (model.MarketInfo, error) {
	ms, err := e.market(id)
	if err != nil {
		return model.MarketInfo{}, err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.info, nil
}

// ListMarkets returns all markets, newest first, optionally filtered by
// status.
func (e *Engine) ListMarkets(status *model.MarketStatus) []model.MarketInfo {
	e.mu.RLock()
	states := make([]*marketState, 0, len(e.markets))
	for _, ms := range e.markets {
		states = append(states, ms)
	}
	e.mu.RUnlock()

	out := make([]model.MarketInfo, 0, len(states))
	for _, ms := range states {
		ms.mu.Lock()
		info := ms.info
		ms.mu.Unlock()
		if status != nil && info.Status != *status {
			continue
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// ExpiredOpenMarkets returns ids of OPEN markets whose close time has
// passed. Used by the lifecycle sweeper.
func (e *Engine) ExpiredOpenMarkets(now time.Time) []string {
	var ids []string
	for _, info := range e.ListMarkets(nil) {
		if info.Status == model.MarketOpen && !now.Before(info.ClosesAt) {
			ids = append(ids, info.ID)
		}
	}
	return ids
}

func (e *Engine) market(id string) (*marketState, error) {
	e.mu.RLock()
	ms, ok := e.markets[id]
	e.mu.RUnlock()
	if !ok {
		return nil, E(KindNotFound, "market %s not found", id)
	}
	return ms, nil
}

// --- Order placement ---

// PlaceOrder validates, matches, and (for LIMIT remainders) rests an
// order. Returns the resulting order state and the trades it produced.
func (e *Engine) PlaceOrder(ctx context.Context, ownerID string, p PlaceOrderParams) (model.Order, []model.Trade, error) {
	ms, err := e.market(p.MarketID)
	if err != nil {
		return model.Order{}, nil, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.halted {
		return model.Order{}, nil, E(KindInternal, "matching halted on market %s", p.MarketID)
	}
	if !ms.info.TradeableAt(e.now()) {
		return model.Order{}, nil, E(KindMarketNotTradeable, "market %s is not open for trading", p.MarketID)
	}
	if err := validateOrderParams(p); err != nil {
		return model.Order{}, nil, err
	}

	privileged := ownerID == e.mmOwner
	if _, ok := e.ledger.Account(ownerID); !ok {
		return model.Order{}, nil, E(KindNotFound, "unknown account %s", ownerID)
	}

	// Funds / shares preconditions. Checked at entry; cash is debited only
	// per fill, so a resting remainder holds no reservation. Sells reserve
	// against already-resting sell remainders so holdings cannot be sold
	// twice.
	fillCap := decimal.Zero
	if !privileged {
		switch {
		case p.Side == model.SellYes:
			reserved := ms.book.OpenSellRemaining(ownerID)
			available := e.ledger.HoldingsAvailable(ownerID, p.MarketID, reserved)
			if available.LessThan(p.Quantity) {
				return model.Order{}, nil, E(KindInsufficientShares,
					"holding %s YES shares available, need %s", available.String(), p.Quantity.String())
			}
		case p.Type == model.Limit:
			worst := p.Price.Mul(p.Quantity).Round(model.CashScale)
			if e.ledger.Balance(ownerID).LessThan(worst) {
				return model.Order{}, nil, E(KindInsufficientFunds,
					"worst-case cost %s exceeds cash balance", worst.String())
			}
		default: // MARKET BUY: cap fill at what current depth and cash allow.
			if ms.book.BestAsk() == nil {
				return model.Order{}, nil, E(KindInvalidOrderParameters, "no liquidity to fill market order")
			}
			fillCap = ms.book.AffordableQuantity(p.Quantity, e.ledger.Balance(ownerID))
			if fillCap.IsZero() {
				return model.Order{}, nil, E(KindInsufficientFunds, "cash balance cannot cover any fill at current depth")
			}
		}
	}
	if p.Type == model.Market && p.Side == model.SellYes && ms.book.BestBid() == nil {
		return model.Order{}, nil, E(KindInvalidOrderParameters, "no liquidity to fill market order")
	}

	order := &model.Order{
		ID:        uuid.New().String(),
		MarketID:  p.MarketID,
		OwnerID:   ownerID,
		Side:      p.Side,
		Type:      p.Type,
		Price:     p.Price,
		Quantity:  p.Quantity,
		Status:    model.OrderOpen,
		Seq:       e.seq.Add(1),
		CreatedAt: e.now().UTC(),
	}

	trades, err := e.matchLocked(ctx, ms, order, fillCap)
	if err != nil {
		return *order, trades, err
	}

	// Remainder policy: LIMIT rests, MARKET remainder is discarded.
	switch {
	case order.Remaining().IsZero():
		order.Status = model.OrderFilled
	case order.Type == model.Market:
		// MARKET remainder never rests; what depth and cash could not
		// cover is dropped.
		order.Status = model.OrderCancelled
	default:
		if order.Filled.IsPositive() {
			order.Status = model.OrderPartial
		}
		if err := ms.book.Rest(order); err != nil {
			return *order, trades, e.haltLocked(ms, err)
		}
		if err := ms.book.CheckUncrossed(); err != nil {
			return *order, trades, e.haltLocked(ms, err)
		}
	}

	ms.orders[order.ID] = order
	e.mu.Lock()
	e.orderIx[order.ID] = p.MarketID
	e.mu.Unlock()

	if err := e.store.SaveOrder(ctx, order); err != nil {
		slog.Error("persist order failed", "order", order.ID, "err", err)
	}

	slog.Info("order placed",
		"order", order.ID,
		"market", p.MarketID,
		"owner", ownerID,
		"side", p.Side,
		"type", p.Type,
		"qty", p.Quantity.String(),
		"filled", order.Filled.String(),
		"status", order.Status,
	)

	e.emitOrderUpdate(*order, lastFill(trades))
	e.emitBookUpdate(ms)
	return *order, trades, nil
}

// matchLocked runs the matching loop and per-fill ledger application.
// Caller holds the market lock.
func (e *Engine) matchLocked(ctx context.Context, ms *marketState, taker *model.Order, fillCap decimal.Decimal) ([]model.Trade, error) {
	var trades []model.Trade
	var cancelled []*model.Order

	_, err := ms.book.Match(taker, fillCap, func(f book.Fill) error {
		legs := ledger.FillLegs{
			MarketID: ms.info.ID,
			Price:    f.Price,
			Size:     f.Size,
		}
		if taker.Side == model.BuyYes {
			legs.BuyerID, legs.SellerID = taker.OwnerID, f.Maker.OwnerID
		} else {
			legs.BuyerID, legs.SellerID = f.Maker.OwnerID, taker.OwnerID
		}
		if e.feeRate.IsPositive() && taker.OwnerID != e.mmOwner {
			legs.Fee = f.Price.Mul(f.Size).Mul(e.feeRate).Round(model.CashScale)
			legs.FeePayer = taker.OwnerID
			legs.FeeCollector = e.mmOwner
		}
		if err := e.ledger.ApplyFill(legs); err != nil {
			// A maker-side buyer may have spent the cash backing its bid
			// elsewhere since the order rested. That bid is dead weight:
			// cancel it and keep matching against the next level.
			if taker.Side == model.SellYes && errors.Is(err, ledger.ErrInsufficientCash) {
				cancelled = append(cancelled, f.Maker)
				return fmt.Errorf("%w: %v", book.ErrSkipMaker, err)
			}
			return err
		}

		trade := model.Trade{
			ID:           uuid.New().String(),
			MarketID:     ms.info.ID,
			Price:        f.Price,
			Size:         f.Size,
			TakerSide:    taker.Side,
			TakerID:      taker.OwnerID,
			MakerID:      f.Maker.OwnerID,
			TakerOrderID: taker.ID,
			MakerOrderID: f.Maker.ID,
			Fee:          legs.Fee,
			Timestamp:    e.now().UTC(),
		}
		trades = append(trades, trade)
		return nil
	})

	// A ledger rejection stops matching; fills already applied stand and
	// the unapplied fill left both orders untouched.
	if err != nil {
		slog.Warn("matching stopped by ledger", "market", ms.info.ID, "taker", taker.ID, "err", err)
	}

	for _, maker := range cancelled {
		slog.Warn("cancelled underfunded resting bid",
			"market", ms.info.ID, "order", maker.ID, "owner", maker.OwnerID)
		if err := e.store.SaveOrder(ctx, maker); err != nil {
			slog.Error("persist order failed", "order", maker.ID, "err", err)
		}
		e.emitOrderUpdate(*maker, nil)
	}

	for i := range trades {
		t := trades[i]
		ms.book.NoteTrade(t)
		if err := e.store.InsertTrade(ctx, &t); err != nil {
			slog.Error("persist trade failed", "trade", t.ID, "err", err)
		}

		maker := ms.orders[t.MakerOrderID]
		if maker != nil {
			if err := e.store.SaveOrder(ctx, maker); err != nil {
				slog.Error("persist order failed", "order", maker.ID, "err", err)
			}
			e.emitOrderUpdate(*maker, &t)
		}
		for _, l := range e.listeners {
			l.OnTrade(t)
		}
	}

	if err := ms.book.CheckUncrossed(); err != nil {
		return trades, e.haltLocked(ms, err)
	}
	return trades, nil
}

// validateOrderParams checks quantity/price/side/type.
func validateOrderParams(p PlaceOrderParams) error {
	if p.Side != model.BuyYes && p.Side != model.SellYes {
		return E(KindInvalidOrderParameters, "side must be BUY_YES or SELL_YES")
	}
	if p.Type != model.Limit && p.Type != model.Market {
		return E(KindInvalidOrderParameters, "type must be LIMIT or MARKET")
	}
	if !p.Quantity.IsPositive() {
		return E(KindInvalidOrderParameters, "quantity must be positive")
	}
	if p.Type == model.Limit {
		if p.Price.LessThanOrEqual(decimal.Zero) || p.Price.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return E(KindInvalidOrderParameters, "limit price must be in (0, 1)")
		}
	}
	return nil
}

// --- Cancellation ---

// CancelOrder removes an order's resting remainder from the book.
func (e *Engine) CancelOrder(ctx context.Context, orderID, ownerID string) (model.Order, error) {
	e.mu.RLock()
	marketID, ok := e.orderIx[orderID]
	e.mu.RUnlock()
	if !ok {
		return model.Order{}, E(KindNotFound, "order %s not found", orderID)
	}
	ms, err := e.market(marketID)
	if err != nil {
		return model.Order{}, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	order, ok := ms.orders[orderID]
	if !ok {
		return model.Order{}, E(KindNotFound, "order %s not found", orderID)
	}
	if order.OwnerID != ownerID {
		return *order, E(KindNotOwner, "order %s is not owned by caller", orderID)
	}
	if order.Status.Terminal() {
		return *order, E(KindAlreadyTerminal, "order %s is already %s", orderID, order.Status)
	}

	e.cancelRestingLocked(ctx, ms, order)
	slog.Info("order cancelled", "order", orderID, "market", marketID, "owner", ownerID)
	e.emitBookUpdate(ms)
	return *order, nil
}

// CancelOwnerOrders cancels every resting order of one owner in a market.
// Used by the MM's cancel-and-replace requote. Returns the cancelled
// orders.
func (e *Engine) CancelOwnerOrders(ctx context.Context, marketID, ownerID string) ([]model.Order, error) {
	ms, err := e.market(marketID)
	if err != nil {
		return nil, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	resting := ms.book.OrdersOwnedBy(ownerID)
	out := make([]model.Order, 0, len(resting))
	for _, o := range resting {
		e.cancelRestingLocked(ctx, ms, o)
		out = append(out, *o)
	}
	if len(out) > 0 {
		e.emitBookUpdate(ms)
	}
	return out, nil
}

// cancelRestingLocked removes one resting order, marks it cancelled, and
// emits its private update. Caller holds the market lock.
func (e *Engine) cancelRestingLocked(ctx context.Context, ms *marketState, order *model.Order) {
	ms.book.Remove(order.ID)
	order.Status = model.OrderCancelled
	if err := e.store.SaveOrder(ctx, order); err != nil {
		slog.Error("persist order failed", "order", order.ID, "err", err)
	}
	e.emitOrderUpdate(*order, nil)
}

// --- Lifecycle transitions ---

// CloseMarket moves OPEN → CLOSED. Resting orders stay on the book.
func (e *Engine) CloseMarket(ctx context.Context, marketID string) (model.MarketInfo, error) {
	ms, err := e.market(marketID)
	if err != nil {
		return model.MarketInfo{}, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.info.Status != model.MarketOpen {
		return ms.info, E(KindInvalidTransition, "cannot close market in status %s", ms.info.Status)
	}
	ms.info.Status = model.MarketClosed
	e.persistStatusLocked(ctx, ms)
	e.emitStatusLocked(ms)
	metrics.OpenMarkets.Dec()
	slog.Info("market closed", "market", marketID)
	return ms.info, nil
}

// ResolveMarket moves CLOSED → RESOLVED, cancels all resting orders, and
// settles every position: YES shares pay 1 cash each on YES, 0 on NO;
// short exposure settles inversely. Resolving twice is rejected.
func (e *Engine) ResolveMarket(ctx context.Context, marketID string, outcome model.Outcome) (model.MarketInfo, error) {
	ms, err := e.market(marketID)
	if err != nil {
		return model.MarketInfo{}, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.info.Status != model.MarketClosed {
		return ms.info, E(KindInvalidTransition, "cannot resolve market in status %s", ms.info.Status)
	}

	e.cancelAllRestingLocked(ctx, ms)
	paid := e.ledger.Settle(marketID, outcome)

	ms.info.Status = model.MarketResolved
	ms.info.ResolvedOutcome = &outcome
	e.persistStatusLocked(ctx, ms)
	e.emitStatusLocked(ms)
	e.emitBookUpdate(ms)
	slog.Info("market resolved", "market", marketID, "outcome", outcome, "paid_out", paid.String())
	return ms.info, nil
}

// VoidMarket moves OPEN/CLOSED → VOID: refunds cost basis to all position
// holders and cancels all resting orders. A no-fault unwind.
func (e *Engine) VoidMarket(ctx context.Context, marketID string) (model.MarketInfo, error) {
	ms, err := e.market(marketID)
	if err != nil {
		return model.MarketInfo{}, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.info.Status != model.MarketOpen && ms.info.Status != model.MarketClosed {
		return ms.info, E(KindInvalidTransition, "cannot void market in status %s", ms.info.Status)
	}
	if ms.info.Status == model.MarketOpen {
		metrics.OpenMarkets.Dec()
	}

	e.cancelAllRestingLocked(ctx, ms)
	refunded := e.ledger.Void(marketID)

	ms.info.Status = model.MarketVoid
	e.persistStatusLocked(ctx, ms)
	e.emitStatusLocked(ms)
	e.emitBookUpdate(ms)
	slog.Info("market voided", "market", marketID, "refunded", refunded.String())
	return ms.info, nil
}

func (e *Engine) cancelAllRestingLocked(ctx context.Context, ms *marketState) {
	for _, o := range ms.book.AllOrders() {
		e.cancelRestingLocked(ctx, ms, o)
	}
}

func (e *Engine) persistStatusLocked(ctx context.Context, ms *marketState) {
	if err := e.store.UpdateMarketStatus(ctx, ms.info.ID, ms.info.Status, ms.info.ResolvedOutcome); err != nil {
		slog.Error("persist market status failed", "market", ms.info.ID, "err", err)
	}
}

// --- Read side ---

// BookSnapshot returns the aggregated depth view for a market.
func (e *Engine) BookSnapshot(marketID string) (model.BookSnapshot, error) {
	ms, err := e.market(marketID)
	if err != nil {
		return model.BookSnapshot{}, err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.book.Snapshot(e.now().UTC()), nil
}

// CurrentPrice derives the market's observable YES price: book mid, else
// last trade price, else the initial probability. Used for
// mark-to-market.
func (e *Engine) CurrentPrice(marketID string) (decimal.Decimal, error) {
	ms, err := e.market(marketID)
	if err != nil {
		return decimal.Zero, err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	snap := ms.book.Snapshot(e.now().UTC())
	if mid := snap.Mid(); mid != nil {
		return *mid, nil
	}
	if last := ms.book.LastTradePrice(); last != nil {
		return *last, nil
	}
	return ms.info.InitialYesProb, nil
}

// OpenOrdersFor returns the caller's non-terminal orders, optionally
// limited to one market, newest first.
func (e *Engine) OpenOrdersFor(ownerID, marketID string) []model.Order {
	e.mu.RLock()
	states := make([]*marketState, 0, len(e.markets))
	for id, ms := range e.markets {
		if marketID != "" && id != marketID {
			continue
		}
		states = append(states, ms)
	}
	e.mu.RUnlock()

	var out []model.Order
	for _, ms := range states {
		ms.mu.Lock()
		for _, o := range ms.orders {
			if o.OwnerID == ownerID && !o.Status.Terminal() {
				out = append(out, *o)
			}
		}
		ms.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	return out
}

// --- Internals ---

// haltLocked marks the market unmatched-able after an internal invariant
// violation. Operator intervention required; existing ledger state stands.
func (e *Engine) haltLocked(ms *marketState, cause error) error {
	ms.halted = true
	slog.Error("market halted on invariant violation", "market", ms.info.ID, "err", cause)
	return E(KindInternal, "market %s halted: %v", ms.info.ID, cause)
}

func (e *Engine) emitBookUpdate(ms *marketState) {
	snap := ms.book.Snapshot(e.now().UTC())
	for _, l := range e.listeners {
		l.OnBookUpdate(snap)
	}
}

func (e *Engine) emitStatusLocked(ms *marketState) {
	for _, l := range e.listeners {
		l.OnMarketStatus(ms.info)
	}
}

func (e *Engine) emitOrderUpdate(o model.Order, t *model.Trade) {
	u := OrderUpdate{Order: o}
	if t != nil {
		price, size := t.Price, t.Size
		u.LastFillPrice, u.LastFillSize = &price, &size
	}
	for _, l := range e.listeners {
		l.OnOrderUpdate(u)
	}
}

func lastFill(trades []model.Trade) *model.Trade {
	if len(trades) == 0 {
		return nil
	}
	return &trades[len(trades)-1]
}
