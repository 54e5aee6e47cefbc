// Package api exposes the exchange over HTTP. Handlers translate wire
// requests into engine calls and map engine error kinds onto status codes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pmx/exchange-engine/internal/auth"
	"github.com/pmx/exchange-engine/internal/engine"
	"github.com/pmx/exchange-engine/internal/feed"
	"github.com/pmx/exchange-engine/internal/lifecycle"
	"github.com/pmx/exchange-engine/internal/marketmaker"
	"github.com/pmx/exchange-engine/internal/store"
)

// Service bundles the collaborators the HTTP layer needs.
type Service struct {
	engine    *engine.Engine
	lifecycle *lifecycle.Manager
	agent     *marketmaker.Agent
	hub       *feed.Hub
	store     store.Store
	auth      auth.Authenticator
	now       func() time.Time
}

func NewService(eng *engine.Engine, lc *lifecycle.Manager, agent *marketmaker.Agent, hub *feed.Hub, st store.Store, a auth.Authenticator) *Service {
	return &Service{
		engine:    eng,
		lifecycle: lc,
		agent:     agent,
		hub:       hub,
		store:     st,
		auth:      a,
		now:       time.Now,
	}
}

// Routes mounts the full API surface on a chi router.
func (s *Service) Routes(r chi.Router) {
	r.Get("/ws", s.HandleWS)

	r.Get("/markets", s.ListMarkets)
	r.Get("/markets/{marketID}", s.GetMarket)
	r.Get("/markets/{marketID}/trades", s.GetMarketTrades)
	r.Get("/orders/book/{marketID}", s.GetOrderBook)

	// Authenticated trading and portfolio surface.
	r.Group(func(r chi.Router) {
		r.Use(s.RequireUser)
		r.Post("/orders", s.PlaceOrder)
		r.Delete("/orders/{orderID}", s.CancelOrder)
		r.Get("/orders/my", s.MyOrders)
		r.Get("/orders/history", s.OrderHistory)
		r.Get("/me", s.Me)
	})

	r.Get("/leaderboard", s.Leaderboard)
	r.Get("/mm/summary", s.MMSummary)
	r.Get("/mm/markets/{marketID}", s.MMMarket)

	// Admin surface.
	r.Route("/admin", func(r chi.Router) {
		r.Use(s.RequireUser, s.RequireAdmin)
		r.Post("/markets", s.CreateMarket)
		r.Post("/markets/bulk", s.CreateMarketsBulk)
		r.Post("/markets/{marketID}/close", s.CloseMarket)
		r.Post("/markets/{marketID}/resolve", s.ResolveMarket)
		r.Post("/markets/{marketID}/void", s.VoidMarket)

		r.Get("/mm/all", s.MMStates)
		r.Get("/mm/{marketID}/state", s.MMState)
		r.Post("/mm/seed", s.MMSeed)
		r.Post("/mm/{marketID}/fair-price", s.MMSetFairPrice)
		r.Post("/mm/{marketID}/requote", s.MMRequote)
	})
}

type ctxKey int

const userKey ctxKey = 0

// userFrom returns the authenticated caller placed by RequireUser.
func userFrom(ctx context.Context) (auth.User, bool) {
	u, ok := ctx.Value(userKey).(auth.User)
	return u, ok
}

// RequireUser authenticates the bearer token and attaches the user to the
// request context.
func (s *Service) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, "UNAUTHENTICATED", "missing bearer token", http.StatusUnauthorized)
			return
		}
		u, ok := s.auth.Authenticate(token)
		if !ok {
			writeError(w, "UNAUTHENTICATED", "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, u)))
	})
}

// RequireAdmin rejects non-admin callers. Must run after RequireUser.
func (s *Service) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := userFrom(r.Context())
		if !ok || !u.IsAdmin() {
			writeError(w, "FORBIDDEN", "admin role required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HandleWS upgrades to a WebSocket. The token rides a query parameter
// because browser WebSocket clients cannot set headers; unauthenticated
// connections still get public topics, just no private order queue.
func (s *Service) HandleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = auth.BearerToken(r.Header.Get("Authorization"))
	}
	var userID string
	if u, ok := s.auth.Authenticate(token); ok {
		userID = u.ID
	}
	s.hub.HandleWS(w, r, userID)
}

// statusFor maps engine error kinds onto HTTP status codes.
func statusFor(kind engine.Kind) int {
	switch kind {
	case engine.KindInvalidOrderParameters:
		return http.StatusBadRequest
	case engine.KindNotFound:
		return http.StatusNotFound
	case engine.KindNotOwner:
		return http.StatusForbidden
	case engine.KindMarketNotTradeable,
		engine.KindInsufficientFunds,
		engine.KindInsufficientShares,
		engine.KindAlreadyTerminal,
		engine.KindInvalidTransition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeEngineError maps a classified engine error onto the wire.
func writeEngineError(w http.ResponseWriter, err error) {
	kind := engine.KindOf(err)
	msg := err.Error()
	var e *engine.Error
	if errors.As(err, &e) {
		msg = e.Message
	}
	if kind == engine.KindInternal {
		slog.Error("internal error", "err", err)
		msg = "internal error"
	}
	writeError(w, string(kind), msg, statusFor(kind))
}

// writeError writes a JSON error response with a stable machine code.
func writeError(w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"code": code, "error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
