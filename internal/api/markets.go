package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/pmx/exchange-engine/internal/engine"
	"github.com/pmx/exchange-engine/internal/feed"
	"github.com/pmx/exchange-engine/internal/model"
)

// marketView is a market plus its derived trading state. Prices come from
// the book mid, falling back to last trade, then the initial probability.
type marketView struct {
	model.MarketInfo
	YesPrice  string `json:"yesPrice"`
	NoPrice   string `json:"noPrice"`
	Tradeable bool   `json:"tradeable"`
}

var one = decimal.NewFromInt(1)

func (s *Service) marketView(m model.MarketInfo, now time.Time) marketView {
	yes, err := s.engine.CurrentPrice(m.ID)
	if err != nil {
		yes = m.InitialYesProb
	}
	return marketView{
		MarketInfo: m,
		YesPrice:   yes.String(),
		NoPrice:    one.Sub(yes).String(),
		Tradeable:  m.TradeableAt(now),
	}
}

// ListMarkets returns all markets, optionally filtered by ?status= or the
// shorthand ?open=true.
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	var filter *model.MarketStatus
	if q := r.URL.Query().Get("status"); q != "" {
		st := model.MarketStatus(q)
		switch st {
		case model.MarketOpen, model.MarketClosed, model.MarketResolved, model.MarketVoid:
			filter = &st
		default:
			writeError(w, "INVALID_ORDER_PARAMETERS", "unknown status filter: "+q, http.StatusBadRequest)
			return
		}
	}
	if r.URL.Query().Get("open") == "true" {
		st := model.MarketOpen
		filter = &st
	}

	now := s.now()
	markets := s.engine.ListMarkets(filter)
	out := make([]marketView, 0, len(markets))
	for _, m := range markets {
		out = append(out, s.marketView(m, now))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := s.engine.Market(chi.URLParam(r, "marketID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.marketView(m, s.now()))
}

// GetMarketTrades returns the most recent trades in a market, newest first.
func (s *Service) GetMarketTrades(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	if _, err := s.engine.Market(marketID); err != nil {
		writeEngineError(w, err)
		return
	}
	trades, err := s.store.ListTradesByMarket(r.Context(), marketID, 50)
	if err != nil {
		writeError(w, "INTERNAL_INVARIANT_VIOLATION", "failed to load trades", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Service) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	m, err := s.engine.Market(marketID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	snap, err := s.engine.BookSnapshot(marketID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, feed.BookResponse(snap, m.Title))
}

type createMarketRequest struct {
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	OpensAt        *string `json:"opensAt"`
	ClosesAt       string  `json:"closesAt"`
	InitialYesProb string  `json:"initialYesProbability"`
}

func (req createMarketRequest) params(createdBy string, now time.Time) (engine.CreateMarketParams, error) {
	p := engine.CreateMarketParams{
		Title:       req.Title,
		Description: req.Description,
		OpensAt:     now,
		CreatedBy:   createdBy,
	}
	if req.OpensAt != nil {
		t, err := time.Parse(time.RFC3339, *req.OpensAt)
		if err != nil {
			return p, engine.E(engine.KindInvalidOrderParameters, "opensAt is not RFC 3339")
		}
		p.OpensAt = t
	}
	closes, err := time.Parse(time.RFC3339, req.ClosesAt)
	if err != nil {
		return p, engine.E(engine.KindInvalidOrderParameters, "closesAt is not RFC 3339")
	}
	p.ClosesAt = closes
	prob, err := decimal.NewFromString(req.InitialYesProb)
	if err != nil {
		return p, engine.E(engine.KindInvalidOrderParameters, "initialYesProbability is not a decimal")
	}
	p.InitialYesProb = prob
	return p, nil
}

func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	var req createMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "INVALID_ORDER_PARAMETERS", "invalid request body", http.StatusBadRequest)
		return
	}
	p, err := req.params(u.ID, s.now())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	m, err := s.engine.CreateMarket(r.Context(), p)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.marketView(m, s.now()))
}

type bulkCreateRequest struct {
	BaseTitle   string  `json:"baseTitle"`
	Description string  `json:"description"`
	OpensAt     *string `json:"opensAt"`
	ClosesAt    string  `json:"closesAt"`
	Options     []struct {
		Value          string `json:"value"`
		Label          string `json:"label"`
		InitialYesProb string `json:"initialYesProbability"`
	} `json:"options"`
}

// CreateMarketsBulk creates one market per option, titled
// "baseTitle: label". Creation is not transactional: each option reports
// its own success or failure.
func (s *Service) CreateMarketsBulk(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	var req bulkCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "INVALID_ORDER_PARAMETERS", "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Options) == 0 {
		writeError(w, "INVALID_ORDER_PARAMETERS", "options are required", http.StatusBadRequest)
		return
	}

	type bulkResult struct {
		Label  string      `json:"label"`
		Market *marketView `json:"market,omitempty"`
		Error  string      `json:"error,omitempty"`
	}
	now := s.now()
	results := make([]bulkResult, 0, len(req.Options))
	created := 0
	for _, opt := range req.Options {
		res := bulkResult{Label: opt.Label}
		entry := createMarketRequest{
			Title:          req.BaseTitle + ": " + opt.Label,
			Description:    req.Description,
			OpensAt:        req.OpensAt,
			ClosesAt:       req.ClosesAt,
			InitialYesProb: opt.InitialYesProb,
		}
		p, err := entry.params(u.ID, now)
		if err == nil {
			var m model.MarketInfo
			m, err = s.engine.CreateMarket(r.Context(), p)
			if err == nil {
				v := s.marketView(m, now)
				res.Market = &v
				created++
			}
		}
		if err != nil {
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	writeJSON(w, http.StatusOK, map[string]any{"created": created, "results": results})
}

func (s *Service) CloseMarket(w http.ResponseWriter, r *http.Request) {
	m, err := s.lifecycle.Close(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Service) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Outcome string `json:"outcome"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "INVALID_ORDER_PARAMETERS", "invalid request body", http.StatusBadRequest)
		return
	}
	outcome := model.Outcome(req.Outcome)
	if outcome != model.OutcomeYes && outcome != model.OutcomeNo {
		writeError(w, "INVALID_ORDER_PARAMETERS", "outcome must be YES or NO", http.StatusBadRequest)
		return
	}
	m, err := s.lifecycle.Resolve(r.Context(), chi.URLParam(r, "marketID"), outcome)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Service) VoidMarket(w http.ResponseWriter, r *http.Request) {
	m, err := s.lifecycle.Void(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
