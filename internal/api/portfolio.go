package api

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/pmx/exchange-engine/internal/model"
)

// positionView is one holding marked to the market's current price.
type positionView struct {
	MarketID      string `json:"marketId"`
	MarketTitle   string `json:"marketTitle"`
	MarketStatus  string `json:"marketStatus"`
	YesShares     string `json:"yesShares"`
	CostBasis     string `json:"costBasis"`
	CurrentPrice  string `json:"currentPrice"`
	MarketValue   string `json:"marketValue"`
	UnrealizedPnL string `json:"unrealizedPnL"`
}

type portfolioResponse struct {
	UserID      string         `json:"userId"`
	Username    string         `json:"username"`
	CashBalance string         `json:"cashBalance"`
	Positions   []positionView `json:"positions"`
	NetWorth    string         `json:"netWorth"`
}

// markPositions values positions at each market's current YES price and
// returns the views plus the summed market value.
func (s *Service) markPositions(positions []model.Position) ([]positionView, decimal.Decimal) {
	views := make([]positionView, 0, len(positions))
	total := decimal.Zero
	for _, p := range positions {
		price := decimal.Zero
		title, status := "", ""
		if m, err := s.engine.Market(p.MarketID); err == nil {
			title, status = m.Title, string(m.Status)
			if cp, err := s.engine.CurrentPrice(p.MarketID); err == nil {
				price = cp
			}
		}
		value := p.YesShares.Mul(price)
		total = total.Add(value)
		views = append(views, positionView{
			MarketID:      p.MarketID,
			MarketTitle:   title,
			MarketStatus:  status,
			YesShares:     p.YesShares.String(),
			CostBasis:     p.CostBasis.String(),
			CurrentPrice:  price.String(),
			MarketValue:   value.String(),
			UnrealizedPnL: value.Sub(p.CostBasis).String(),
		})
	}
	return views, total
}

// Me returns the caller's account, marked positions, and net worth.
func (s *Service) Me(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	acct, ok := s.engine.Ledger().Account(u.ID)
	if !ok {
		writeError(w, "NOT_FOUND", "no ledger account for user", http.StatusNotFound)
		return
	}
	views, value := s.markPositions(s.engine.Ledger().PositionsFor(u.ID))
	writeJSON(w, http.StatusOK, portfolioResponse{
		UserID:      acct.UserID,
		Username:    acct.Username,
		CashBalance: acct.CashBalance.String(),
		Positions:   views,
		NetWorth:    acct.CashBalance.Add(value).String(),
	})
}

type leaderboardEntry struct {
	Rank        int    `json:"rank"`
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	CashBalance string `json:"cashBalance"`
	NetWorth    string `json:"netWorth"`

	netWorth decimal.Decimal
}

// Leaderboard ranks all user accounts by net worth with dense 1-based
// ranks: ties share a rank and the next distinct value gets rank+1.
// The market maker account is excluded.
func (s *Service) Leaderboard(w http.ResponseWriter, r *http.Request) {
	accounts, positions := s.engine.Ledger().Snapshot()

	entries := make([]leaderboardEntry, 0, len(accounts))
	for _, acct := range accounts {
		if acct.UserID == s.engine.MMOwnerID() {
			continue
		}
		_, value := s.markPositions(positions[acct.UserID])
		net := acct.CashBalance.Add(value)
		entries = append(entries, leaderboardEntry{
			UserID:      acct.UserID,
			Username:    acct.Username,
			CashBalance: acct.CashBalance.String(),
			NetWorth:    net.String(),
			netWorth:    net,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].netWorth.Equal(entries[j].netWorth) {
			return entries[i].netWorth.GreaterThan(entries[j].netWorth)
		}
		return entries[i].Username < entries[j].Username
	})

	rank := 0
	for i := range entries {
		if i == 0 || !entries[i].netWorth.Equal(entries[i-1].netWorth) {
			rank++
		}
		entries[i].Rank = rank
	}

	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 && n < len(entries) {
			entries = entries[:n]
		}
	}
	writeJSON(w, http.StatusOK, entries)
}
