package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/pmx/exchange-engine/internal/engine"
	"github.com/pmx/exchange-engine/internal/metrics"
	"github.com/pmx/exchange-engine/internal/model"
)

type placeOrderRequest struct {
	MarketID string `json:"marketId"`
	Side     string `json:"side"`
	Type     string `json:"type"`
	Price    string `json:"price,omitempty"`
	Quantity string `json:"quantity"`
}

// fillView is one execution reported back to the taker.
type fillView struct {
	Price     string `json:"price"`
	Size      string `json:"size"`
	Timestamp int64  `json:"timestamp"`
}

type placeOrderResponse struct {
	Order model.Order `json:"order"`
	Fills []fillView  `json:"fills"`
}

func (s *Service) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "INVALID_ORDER_PARAMETERS", "invalid request body", http.StatusBadRequest)
		return
	}

	params := engine.PlaceOrderParams{
		MarketID: req.MarketID,
		Side:     model.Side(req.Side),
		Type:     model.OrderType(req.Type),
	}
	if req.Quantity != "" {
		q, err := decimal.NewFromString(req.Quantity)
		if err != nil {
			writeError(w, "INVALID_ORDER_PARAMETERS", "quantity is not a decimal", http.StatusBadRequest)
			return
		}
		params.Quantity = q
	}
	if req.Price != "" {
		p, err := decimal.NewFromString(req.Price)
		if err != nil {
			writeError(w, "INVALID_ORDER_PARAMETERS", "price is not a decimal", http.StatusBadRequest)
			return
		}
		params.Price = p
	}

	start := time.Now()
	order, trades, err := s.engine.PlaceOrder(r.Context(), u.ID, params)
	if err != nil {
		metrics.OrdersRejectedTotal.WithLabelValues(string(engine.KindOf(err))).Inc()
		writeEngineError(w, err)
		return
	}
	metrics.MatchLatency.Observe(time.Since(start).Seconds())
	metrics.OrdersPlacedTotal.WithLabelValues(string(order.Side), string(order.Type)).Inc()

	fills := make([]fillView, 0, len(trades))
	for _, t := range trades {
		metrics.TradesTotal.WithLabelValues(string(t.TakerSide)).Inc()
		metrics.MarketVolume.WithLabelValues(t.MarketID).Add(t.Size.InexactFloat64())
		fills = append(fills, fillView{
			Price:     t.Price.String(),
			Size:      t.Size.String(),
			Timestamp: t.Timestamp.UnixMilli(),
		})
	}
	writeJSON(w, http.StatusCreated, placeOrderResponse{Order: order, Fills: fills})
}

func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	order, err := s.engine.CancelOrder(r.Context(), chi.URLParam(r, "orderID"), u.ID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// MyOrders returns the caller's open orders, newest first, optionally
// scoped to one market with ?marketId=.
func (s *Service) MyOrders(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	orders := s.engine.OpenOrdersFor(u.ID, r.URL.Query().Get("marketId"))
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// OrderHistory returns every order the caller ever placed, terminal ones
// included, newest first. Served from the store rather than the engine's
// in-memory registry.
func (s *Service) OrderHistory(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	orders, err := s.store.ListOrdersByOwner(r.Context(), u.ID)
	if err != nil {
		writeError(w, "INTERNAL_INVARIANT_VIOLATION", "failed to load orders", http.StatusInternalServerError)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}
