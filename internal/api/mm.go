package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/pmx/exchange-engine/internal/marketmaker"
	"github.com/pmx/exchange-engine/internal/model"
	"github.com/pmx/exchange-engine/internal/quote"
)

// mmStateView is the public shape of a per-market market-maker state.
type mmStateView struct {
	model.MMState
	Phase    string `json:"phase"`
	TotalPnL string `json:"totalPnL"`
}

func (s *Service) mmView(st model.MMState) mmStateView {
	return mmStateView{
		MMState:  st,
		Phase:    string(s.agent.PhaseOf(st.MarketID)),
		TotalPnL: st.TotalPnL().String(),
	}
}

// MMSummary aggregates market-maker performance across all markets.
func (s *Service) MMSummary(w http.ResponseWriter, r *http.Request) {
	states := s.agent.States()
	realized, unrealized, fees := decimal.Zero, decimal.Zero, decimal.Zero
	active := 0
	for _, st := range states {
		realized = realized.Add(st.RealizedPnL)
		unrealized = unrealized.Add(st.UnrealizedPnL)
		fees = fees.Add(st.FeesEarned)
		if s.agent.PhaseOf(st.MarketID) == marketmaker.PhaseActive {
			active++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"markets":       len(states),
		"activeMarkets": active,
		"cashBalance":   s.engine.Ledger().Balance(s.engine.MMOwnerID()).String(),
		"realizedPnL":   realized.String(),
		"unrealizedPnL": unrealized.String(),
		"totalPnL":      realized.Add(unrealized).String(),
		"feesEarned":    fees.String(),
	})
}

func (s *Service) MMMarket(w http.ResponseWriter, r *http.Request) {
	s.mmStateResponse(w, chi.URLParam(r, "marketID"))
}

func (s *Service) MMState(w http.ResponseWriter, r *http.Request) {
	s.mmStateResponse(w, chi.URLParam(r, "marketID"))
}

func (s *Service) mmStateResponse(w http.ResponseWriter, marketID string) {
	st, err := s.agent.State(marketID)
	if err != nil {
		if errors.Is(err, marketmaker.ErrUnknownMarket) {
			writeError(w, "NOT_FOUND", "market maker has no state for market", http.StatusNotFound)
			return
		}
		writeError(w, "INTERNAL_INVARIANT_VIOLATION", "failed to load state", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s.mmView(st))
}

func (s *Service) MMStates(w http.ResponseWriter, r *http.Request) {
	states := s.agent.States()
	out := make([]mmStateView, 0, len(states))
	for _, st := range states {
		out = append(out, s.mmView(st))
	}
	writeJSON(w, http.StatusOK, out)
}

// writeAgentError maps market-maker admin errors onto the wire.
func writeAgentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, marketmaker.ErrUnknownMarket):
		writeError(w, "NOT_FOUND", "market maker has no state for market", http.StatusNotFound)
	case errors.Is(err, quote.ErrInvalidFairPrice), errors.Is(err, quote.ErrInvalidSpread):
		writeError(w, "INVALID_ORDER_PARAMETERS", err.Error(), http.StatusBadRequest)
	default:
		writeEngineError(w, err)
	}
}

type mmSeedRequest struct {
	MarketID  string  `json:"marketId"`
	FairPrice *string `json:"fairPrice,omitempty"`
	Orders    []struct {
		Side  string `json:"side"`
		Price string `json:"price"`
		Size  string `json:"size"`
	} `json:"orders"`
}

// MMSeed places an explicit set of market-maker orders in a market,
// optionally pinning the fair price first.
func (s *Service) MMSeed(w http.ResponseWriter, r *http.Request) {
	var req mmSeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "INVALID_ORDER_PARAMETERS", "invalid request body", http.StatusBadRequest)
		return
	}

	var fair *decimal.Decimal
	if req.FairPrice != nil {
		f, err := decimal.NewFromString(*req.FairPrice)
		if err != nil {
			writeError(w, "INVALID_ORDER_PARAMETERS", "fairPrice is not a decimal", http.StatusBadRequest)
			return
		}
		fair = &f
	}

	orders := make([]marketmaker.SeedOrder, 0, len(req.Orders))
	for _, o := range req.Orders {
		price, err := decimal.NewFromString(o.Price)
		if err != nil {
			writeError(w, "INVALID_ORDER_PARAMETERS", "order price is not a decimal", http.StatusBadRequest)
			return
		}
		size, err := decimal.NewFromString(o.Size)
		if err != nil {
			writeError(w, "INVALID_ORDER_PARAMETERS", "order size is not a decimal", http.StatusBadRequest)
			return
		}
		orders = append(orders, marketmaker.SeedOrder{
			Side:  model.Side(o.Side),
			Price: price,
			Size:  size,
		})
	}

	if err := s.agent.Seed(r.Context(), req.MarketID, fair, orders); err != nil {
		writeAgentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "seeded"})
}

// MMSetFairPrice accepts the new price either as ?price= or as a JSON
// body with a fairPrice field.
func (s *Service) MMSetFairPrice(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("price")
	if raw == "" {
		var req struct {
			FairPrice string `json:"fairPrice"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "INVALID_ORDER_PARAMETERS", "invalid request body", http.StatusBadRequest)
			return
		}
		raw = req.FairPrice
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		writeError(w, "INVALID_ORDER_PARAMETERS", "fairPrice is not a decimal", http.StatusBadRequest)
		return
	}
	if err := s.agent.SetFairPrice(r.Context(), chi.URLParam(r, "marketID"), price); err != nil {
		writeAgentError(w, err)
		return
	}
	s.mmStateResponse(w, chi.URLParam(r, "marketID"))
}

func (s *Service) MMRequote(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	if s.agent.PhaseOf(marketID) == marketmaker.PhaseUninitialized {
		writeError(w, "NOT_FOUND", "market maker has no state for market", http.StatusNotFound)
		return
	}
	s.agent.Requote(r.Context(), marketID)
	s.mmStateResponse(w, marketID)
}
