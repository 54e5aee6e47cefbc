// Package ledger owns cash balances and per-market share positions.
//
// A fill touching two accounts is applied under one lock as a single
// atomic unit: either both legs (cash and shares, both parties) apply or
// neither does. Reads take a snapshot under the same lock, so net worth is
// never observed torn across markets.
package ledger

import (
	"errors"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/pmx/exchange-engine/internal/model"
)

var (
	// ErrUnknownAccount is returned for operations on accounts that were
	// never created.
	ErrUnknownAccount = errors.New("ledger: unknown account")

	// ErrAccountExists is returned when creating a duplicate account.
	ErrAccountExists = errors.New("ledger: account already exists")

	// ErrInsufficientCash is returned when a debit would take a
	// non-privileged account negative.
	ErrInsufficientCash = errors.New("ledger: insufficient cash")
)

// FillLegs describes the atomic effect of one match on the ledger.
type FillLegs struct {
	MarketID string
	BuyerID  string
	SellerID string
	Price    decimal.Decimal
	Size     decimal.Decimal

	// Fee is paid by FeePayer to FeeCollector on top of the trade cash.
	// Zero fee skips the fee legs entirely.
	Fee          decimal.Decimal
	FeePayer     string
	FeeCollector string
}

// Ledger is the in-memory account and position store.
type Ledger struct {
	mu         sync.RWMutex
	accounts   map[string]*model.Account
	positions  map[string]map[string]*model.Position // userID → marketID → position
	privileged map[string]bool                       // may hold negative cash/shares
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		accounts:   make(map[string]*model.Account),
		positions:  make(map[string]map[string]*model.Position),
		privileged: make(map[string]bool),
	}
}

// CreateAccount registers a user with a starting cash balance.
func (l *Ledger) CreateAccount(userID, username string, startingCash decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.accounts[userID]; ok {
		return ErrAccountExists
	}
	l.accounts[userID] = &model.Account{
		UserID:      userID,
		Username:    username,
		CashBalance: startingCash,
	}
	return nil
}

// SetPrivileged marks an account as exempt from the non-negative cash and
// share checks. Used for the market maker's synthetic account.
func (l *Ledger) SetPrivileged(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.privileged[userID] = true
}

// Account returns a copy of the account, or false if unknown.
func (l *Ledger) Account(userID string) (model.Account, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.accounts[userID]
	if !ok {
		return model.Account{}, false
	}
	return *a, true
}

// Balance returns the account's cash balance, zero if unknown.
func (l *Ledger) Balance(userID string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if a, ok := l.accounts[userID]; ok {
		return a.CashBalance
	}
	return decimal.Zero
}

// Position returns a copy of the user's position in the market; a zero
// position if none exists.
func (l *Ledger) Position(userID, marketID string) model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if p, ok := l.positions[userID][marketID]; ok {
		return *p
	}
	return model.Position{UserID: userID, MarketID: marketID}
}

// PositionsFor returns copies of all of a user's open positions, sorted by
// market id for stable output.
func (l *Ledger) PositionsFor(userID string) []model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Position, 0, len(l.positions[userID]))
	for _, p := range l.positions[userID] {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out
}

// Snapshot returns all accounts and positions in one consistent view.
func (l *Ledger) Snapshot() ([]model.Account, map[string][]model.Position) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	accounts := make([]model.Account, 0, len(l.accounts))
	for _, a := range l.accounts {
		accounts = append(accounts, *a)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].UserID < accounts[j].UserID })

	positions := make(map[string][]model.Position, len(l.positions))
	for uid, byMarket := range l.positions {
		for _, p := range byMarket {
			positions[uid] = append(positions[uid], *p)
		}
		sort.Slice(positions[uid], func(i, j int) bool {
			return positions[uid][i].MarketID < positions[uid][j].MarketID
		})
	}
	return accounts, positions
}

// PositionsInMarket returns copies of every position in one market.
func (l *Ledger) PositionsInMarket(marketID string) []model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []model.Position
	for _, byMarket := range l.positions {
		if p, ok := byMarket[marketID]; ok {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// ApplyFill applies one match atomically: buyer pays price×size to seller,
// size YES shares move from seller to buyer, and the optional fee leg
// transfers from payer to collector. If any leg would violate a balance
// constraint the whole fill is rejected with no mutation.
func (l *Ledger) ApplyFill(f FillLegs) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	buyer, ok := l.accounts[f.BuyerID]
	if !ok {
		return ErrUnknownAccount
	}
	seller, ok := l.accounts[f.SellerID]
	if !ok {
		return ErrUnknownAccount
	}

	cost := f.Price.Mul(f.Size).Round(model.CashScale)

	// Validate every leg before mutating anything.
	buyerDebit := cost
	if f.Fee.IsPositive() && f.FeePayer == f.BuyerID {
		buyerDebit = buyerDebit.Add(f.Fee)
	}
	if !l.privileged[f.BuyerID] && buyer.CashBalance.LessThan(buyerDebit) {
		return ErrInsufficientCash
	}

	buyer.CashBalance = buyer.CashBalance.Sub(cost)
	seller.CashBalance = seller.CashBalance.Add(cost)
	l.applyToPosition(f.BuyerID, f.MarketID, f.Size, f.Price)
	l.applyToPosition(f.SellerID, f.MarketID, f.Size.Neg(), f.Price)

	if f.Fee.IsPositive() {
		if payer, ok := l.accounts[f.FeePayer]; ok {
			payer.CashBalance = payer.CashBalance.Sub(f.Fee)
		}
		if collector, ok := l.accounts[f.FeeCollector]; ok {
			collector.CashBalance = collector.CashBalance.Add(f.Fee)
		}
	}
	return nil
}

// applyToPosition moves a signed share delta through a position at the
// given price, keeping CostBasis as the weighted entry cost of the
// remaining holding. Closing trades remove basis proportionally; opening
// trades add signed cost. Caller holds the lock.
func (l *Ledger) applyToPosition(userID, marketID string, delta, price decimal.Decimal) {
	byMarket, ok := l.positions[userID]
	if !ok {
		byMarket = make(map[string]*model.Position)
		l.positions[userID] = byMarket
	}
	p, ok := byMarket[marketID]
	if !ok {
		p = &model.Position{UserID: userID, MarketID: marketID}
		byMarket[marketID] = p
	}

	shares := p.YesShares
	closing := decimal.Zero
	if shares.Sign() != 0 && shares.Sign() != delta.Sign() {
		closing = decimal.Min(delta.Abs(), shares.Abs())
	}
	if closing.IsPositive() {
		released := p.CostBasis.Mul(closing).DivRound(shares.Abs(), model.CashScale)
		p.CostBasis = p.CostBasis.Sub(released)
	}
	opening := delta.Abs().Sub(closing)
	if opening.IsPositive() {
		signedCost := opening.Mul(price).Round(model.CashScale)
		if delta.Sign() < 0 {
			signedCost = signedCost.Neg()
		}
		p.CostBasis = p.CostBasis.Add(signedCost)
	}
	p.YesShares = shares.Add(delta)

	if p.YesShares.IsZero() && p.CostBasis.IsZero() {
		delete(byMarket, marketID)
	}
}

// HoldingsAvailable returns the YES shares the user can still sell in the
// market after subtracting reserved (already resting) sell quantity.
func (l *Ledger) HoldingsAvailable(userID, marketID string, reserved decimal.Decimal) decimal.Decimal {
	return l.Position(userID, marketID).YesShares.Sub(reserved)
}

// Settle pays out every position in the market at resolution: each YES
// share is worth 1 cash if outcome is YES, 0 if NO. Short holders pay the
// inverse. Positions in the market are removed. Returns the total cash
// credited (net, signed).
func (l *Ledger) Settle(marketID string, outcome model.Outcome) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := decimal.Zero
	for uid, byMarket := range l.positions {
		p, ok := byMarket[marketID]
		if !ok {
			continue
		}
		if outcome == model.OutcomeYes {
			payout := p.YesShares // signed: shorts pay
			l.accounts[uid].CashBalance = l.accounts[uid].CashBalance.Add(payout)
			total = total.Add(payout)
		}
		delete(byMarket, marketID)
	}
	return total
}

// Void unwinds every position in the market at cost: each holder is
// refunded their remaining cost basis (shorts return the cash they
// received). Positions are removed. Returns total refunded (net, signed).
func (l *Ledger) Void(marketID string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := decimal.Zero
	for uid, byMarket := range l.positions {
		p, ok := byMarket[marketID]
		if !ok {
			continue
		}
		l.accounts[uid].CashBalance = l.accounts[uid].CashBalance.Add(p.CostBasis)
		total = total.Add(p.CostBasis)
		delete(byMarket, marketID)
	}
	return total
}
