// Package marketmaker runs the privileged liquidity agent: one quoted
// two-sided book per market, centered on a fair-price estimate, skewed by
// inventory, refreshed by cancel-and-replace requotes.
package marketmaker

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/pmx/exchange-engine/internal/engine"
	"github.com/pmx/exchange-engine/internal/metrics"
	"github.com/pmx/exchange-engine/internal/model"
	"github.com/pmx/exchange-engine/internal/quote"
	"github.com/pmx/exchange-engine/internal/risk"
)

// ErrUnknownMarket is returned for MM operations on markets the agent has
// never seen.
var ErrUnknownMarket = errors.New("marketmaker: unknown market")

// Phase is the agent's per-market state machine:
// UNINITIALIZED → ACTIVE ⇄ REQUOTING, with ACTIVE → RETIRED when the
// market leaves OPEN.
type Phase string

const (
	PhaseUninitialized Phase = "UNINITIALIZED"
	PhaseActive        Phase = "ACTIVE"
	PhaseRequoting     Phase = "REQUOTING"
	PhaseRetired       Phase = "RETIRED"
)

// SeedOrder is one explicit admin-provided quote rung.
type SeedOrder struct {
	Side  model.Side
	Price decimal.Decimal
	Size  decimal.Decimal
}

// marketMM is per-market bookkeeping. Inventory mirrors the ledger from
// the trade stream and is reconciled against it on every requote.
type marketMM struct {
	phase     Phase
	fairPrice decimal.Decimal

	inventory decimal.Decimal
	costBasis decimal.Decimal
	realized  decimal.Decimal
	fees      decimal.Decimal

	quotedMid decimal.Decimal // mid of the last ladder placed
	hasQuotes bool
}

// Agent is the market maker. All event processing happens on the Run
// goroutine; admin calls are serialized with it through the mutex.
type Agent struct {
	engine    *engine.Engine
	quoter    *quote.Quoter
	limiter   *risk.InventoryLimiter
	ownerID   string
	tolerance decimal.Decimal // quoted-mid drift that forces a requote

	mu     sync.Mutex
	states map[string]*marketMM

	trades    chan model.Trade
	statusCh  chan model.MarketInfo
	newMarket chan model.MarketInfo
	done      chan struct{}
}

// New creates the agent. ownerID must match the engine's MM account.
func New(eng *engine.Engine, q *quote.Quoter, limiter *risk.InventoryLimiter, tolerance decimal.Decimal) *Agent {
	return &Agent{
		engine:    eng,
		quoter:    q,
		limiter:   limiter,
		ownerID:   eng.MMOwnerID(),
		tolerance: tolerance,
		states:    make(map[string]*marketMM),
		trades:    make(chan model.Trade, 1024),
		statusCh:  make(chan model.MarketInfo, 64),
		newMarket: make(chan model.MarketInfo, 64),
		done:      make(chan struct{}),
	}
}

// Run processes engine events until Stop. Must be called in a goroutine.
func (a *Agent) Run() {
	for {
		select {
		case t := <-a.trades:
			a.handleTrade(t)
		case m := <-a.statusCh:
			a.handleStatus(m)
		case m := <-a.newMarket:
			a.initMarket(m)
		case <-a.done:
			return
		}
	}
}

// Stop terminates the Run loop.
func (a *Agent) Stop() { close(a.done) }

// --- engine.Listener (non-blocking: events are dropped when the queue is
// full; inventory is reconciled from the ledger on requote, so a dropped
// trade cannot corrupt position accounting) ---

func (a *Agent) OnTrade(t model.Trade) {
	select {
	case a.trades <- t:
	default:
	}
}

func (a *Agent) OnMarketStatus(m model.MarketInfo) {
	select {
	case a.statusCh <- m:
	default:
	}
}

func (a *Agent) OnNewMarket(m model.MarketInfo) {
	select {
	case a.newMarket <- m:
	default:
	}
}

func (a *Agent) OnBookUpdate(model.BookSnapshot) {}

func (a *Agent) OnOrderUpdate(engine.OrderUpdate) {}

// --- Admin operations ---

// SetFairPrice overrides the fair-price estimate and requotes.
func (a *Agent) SetFairPrice(ctx context.Context, marketID string, price decimal.Decimal) error {
	if price.LessThanOrEqual(decimal.Zero) || price.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return quote.ErrInvalidFairPrice
	}
	a.mu.Lock()
	st, ok := a.states[marketID]
	if !ok {
		a.mu.Unlock()
		return ErrUnknownMarket
	}
	st.fairPrice = price
	a.mu.Unlock()

	slog.Info("mm fair price set", "market", marketID, "price", price.String())
	a.Requote(ctx, marketID)
	return nil
}

// Seed places an explicit admin ladder (after cancelling existing MM
// quotes), optionally updating the fair price first. With no explicit
// orders it behaves like a forced requote.
func (a *Agent) Seed(ctx context.Context, marketID string, fairPrice *decimal.Decimal, orders []SeedOrder) error {
	a.mu.Lock()
	st, ok := a.states[marketID]
	if !ok {
		a.mu.Unlock()
		return ErrUnknownMarket
	}
	if fairPrice != nil {
		st.fairPrice = *fairPrice
	}
	a.mu.Unlock()

	if len(orders) == 0 {
		a.Requote(ctx, marketID)
		return nil
	}

	if _, err := a.engine.CancelOwnerOrders(ctx, marketID, a.ownerID); err != nil {
		return err
	}
	for _, o := range orders {
		_, _, err := a.engine.PlaceOrder(ctx, a.ownerID, engine.PlaceOrderParams{
			MarketID: marketID,
			Side:     o.Side,
			Type:     model.Limit,
			Price:    o.Price,
			Quantity: o.Size,
		})
		if err != nil {
			slog.Warn("mm seed order rejected", "market", marketID, "side", o.Side, "price", o.Price.String(), "err", err)
		}
	}
	return nil
}

// Requote cancels the MM's resting orders and places a fresh ladder from
// the current fair price and inventory. Failures are logged and retried
// on the next trigger, never fatal to the market.
func (a *Agent) Requote(ctx context.Context, marketID string) {
	a.mu.Lock()
	st, ok := a.states[marketID]
	if !ok || st.phase == PhaseRetired {
		a.mu.Unlock()
		return
	}
	st.phase = PhaseRequoting
	// Reconcile with the ledger: it is the source of truth for inventory.
	st.inventory = a.engine.Ledger().Position(a.ownerID, marketID).YesShares
	fair := st.fairPrice
	inventory := st.inventory
	exposures := a.exposuresLocked()
	a.mu.Unlock()

	ladder, err := a.quoter.Compute(fair, inventory)
	if err != nil {
		slog.Warn("mm quote computation failed", "market", marketID, "err", err)
		a.setPhase(marketID, PhaseActive)
		return
	}

	if _, err := a.engine.CancelOwnerOrders(ctx, marketID, a.ownerID); err != nil {
		slog.Warn("mm cancel failed", "market", marketID, "err", err)
		a.setPhase(marketID, PhaseActive)
		return
	}

	// Size each rung against the worst case of every shallower rung filling
	// too, so a full sweep of the ladder stays inside the caps.
	placed := 0
	quotedLong := decimal.Zero
	for _, lvl := range ladder.Bids {
		exposures[marketID] = inventory.Add(quotedLong)
		size := a.limiter.QuotableSize(marketID, +1, lvl.Size, exposures)
		if !size.IsPositive() {
			continue
		}
		if a.placeQuote(ctx, marketID, model.BuyYes, lvl.Price, size) {
			placed++
			quotedLong = quotedLong.Add(size)
		}
	}
	quotedShort := decimal.Zero
	for _, lvl := range ladder.Asks {
		exposures[marketID] = inventory.Sub(quotedShort)
		size := a.limiter.QuotableSize(marketID, -1, lvl.Size, exposures)
		if !size.IsPositive() {
			continue
		}
		if a.placeQuote(ctx, marketID, model.SellYes, lvl.Price, size) {
			placed++
			quotedShort = quotedShort.Add(size)
		}
	}

	a.mu.Lock()
	if st, ok := a.states[marketID]; ok && st.phase == PhaseRequoting {
		st.phase = PhaseActive
		st.hasQuotes = placed > 0
		st.quotedMid = fair.Sub(a.quoter.Skew(inventory))
	}
	a.mu.Unlock()

	metrics.RequotesTotal.WithLabelValues(marketID).Inc()
	slog.Info("mm requoted", "market", marketID, "fair", fair.String(), "inventory", inventory.String(), "levels", placed)
}

func (a *Agent) placeQuote(ctx context.Context, marketID string, side model.Side, price, size decimal.Decimal) bool {
	_, _, err := a.engine.PlaceOrder(ctx, a.ownerID, engine.PlaceOrderParams{
		MarketID: marketID,
		Side:     side,
		Type:     model.Limit,
		Price:    price,
		Quantity: size,
	})
	if err != nil {
		slog.Warn("mm quote rejected", "market", marketID, "side", side, "price", price.String(), "err", err)
		return false
	}
	return true
}

// State returns the MM snapshot for one market. Read-only.
func (a *Agent) State(marketID string) (model.MMState, error) {
	a.mu.Lock()
	st, ok := a.states[marketID]
	if !ok {
		a.mu.Unlock()
		return model.MMState{}, ErrUnknownMarket
	}
	snapshot := *st
	a.mu.Unlock()

	return a.buildState(marketID, snapshot), nil
}

// States returns MM snapshots for every market the agent has seen, sorted
// by market id.
func (a *Agent) States() []model.MMState {
	a.mu.Lock()
	ids := make([]string, 0, len(a.states))
	snaps := make(map[string]marketMM, len(a.states))
	for id, st := range a.states {
		ids = append(ids, id)
		snaps[id] = *st
	}
	a.mu.Unlock()

	sort.Strings(ids)
	out := make([]model.MMState, 0, len(ids))
	for _, id := range ids {
		out = append(out, a.buildState(id, snaps[id]))
	}
	return out
}

func (a *Agent) buildState(marketID string, st marketMM) model.MMState {
	inventory := a.engine.Ledger().Position(a.ownerID, marketID).YesShares
	unrealized := decimal.Zero
	if !inventory.IsZero() {
		if price, err := a.engine.CurrentPrice(marketID); err == nil {
			unrealized = price.Mul(inventory).Sub(st.costBasis).Round(model.CashScale)
		}
	}
	return model.MMState{
		MarketID:      marketID,
		FairPrice:     st.fairPrice,
		CurrentSpread: a.quoter.Spread(),
		NetInventory:  inventory,
		RealizedPnL:   st.realized,
		UnrealizedPnL: unrealized,
		FeesEarned:    st.fees,
	}
}

// PhaseOf returns the per-market state-machine phase.
func (a *Agent) PhaseOf(marketID string) Phase {
	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok := a.states[marketID]; ok {
		return st.phase
	}
	return PhaseUninitialized
}

// --- Event handling (Run goroutine) ---

// initMarket starts quoting a newly created market at its initial
// probability.
func (a *Agent) initMarket(m model.MarketInfo) {
	a.mu.Lock()
	if _, ok := a.states[m.ID]; ok {
		a.mu.Unlock()
		return
	}
	a.states[m.ID] = &marketMM{
		phase:     PhaseActive,
		fairPrice: m.InitialYesProb,
	}
	a.mu.Unlock()

	a.Requote(context.Background(), m.ID)
}

// handleStatus retires the agent on any transition out of OPEN.
func (a *Agent) handleStatus(m model.MarketInfo) {
	if m.Status == model.MarketOpen {
		return
	}
	a.mu.Lock()
	if st, ok := a.states[m.ID]; ok {
		st.phase = PhaseRetired
	}
	a.mu.Unlock()
	slog.Info("mm retired from market", "market", m.ID, "status", m.Status)
}

// handleTrade updates PnL/fee accounting from every trade in a quoted
// market and requotes when the MM's own fills moved inventory or the
// market drifted beyond tolerance.
func (a *Agent) handleTrade(t model.Trade) {
	a.mu.Lock()
	st, ok := a.states[t.MarketID]
	if !ok || st.phase == PhaseRetired {
		a.mu.Unlock()
		return
	}

	st.fees = st.fees.Add(t.Fee)

	mmInvolved := t.TakerID == a.ownerID || t.MakerID == a.ownerID
	if mmInvolved {
		delta := t.Size
		bought := (t.TakerSide == model.BuyYes && t.TakerID == a.ownerID) ||
			(t.TakerSide == model.SellYes && t.MakerID == a.ownerID)
		if !bought {
			delta = delta.Neg()
		}
		a.applyFillLocked(st, delta, t.Price)
	}

	drift := quote.Drift(st.quotedMid, t.Price)
	needRequote := st.hasQuotes && (mmInvolved || drift.GreaterThan(a.tolerance))
	a.mu.Unlock()

	if needRequote {
		a.Requote(context.Background(), t.MarketID)
	}
}

// applyFillLocked moves the MM's mirrored position, realizing PnL on the
// closing portion at its weighted entry cost. Caller holds a.mu.
func (a *Agent) applyFillLocked(st *marketMM, delta, price decimal.Decimal) {
	shares := st.inventory
	closing := decimal.Zero
	if shares.Sign() != 0 && shares.Sign() != delta.Sign() {
		closing = decimal.Min(delta.Abs(), shares.Abs())
	}
	if closing.IsPositive() {
		entry := st.costBasis.DivRound(shares, model.CashScale) // per-share entry cost, sign-correct
		pnl := price.Sub(entry).Mul(closing).Round(model.CashScale)
		if shares.Sign() < 0 {
			pnl = pnl.Neg()
		}
		st.realized = st.realized.Add(pnl)
		released := st.costBasis.Mul(closing).DivRound(shares.Abs(), model.CashScale)
		st.costBasis = st.costBasis.Sub(released)
	}
	opening := delta.Abs().Sub(closing)
	if opening.IsPositive() {
		cost := opening.Mul(price).Round(model.CashScale)
		if delta.Sign() < 0 {
			cost = cost.Neg()
		}
		st.costBasis = st.costBasis.Add(cost)
	}
	st.inventory = shares.Add(delta)
}

// exposuresLocked snapshots net inventory per market for limiter checks.
// Caller holds a.mu.
func (a *Agent) exposuresLocked() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(a.states))
	for id := range a.states {
		out[id] = a.engine.Ledger().Position(a.ownerID, id).YesShares
	}
	return out
}

func (a *Agent) setPhase(marketID string, p Phase) {
	a.mu.Lock()
	if st, ok := a.states[marketID]; ok && st.phase != PhaseRetired {
		st.phase = p
	}
	a.mu.Unlock()
}
