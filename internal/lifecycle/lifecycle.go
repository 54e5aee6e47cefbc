// Package lifecycle drives market state transitions: admin close/resolve/
// void commands and the sweeper that auto-closes markets past their close
// time. The transition mechanics themselves live in the engine, where
// they are atomic with the book and ledger.
package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/pmx/exchange-engine/internal/engine"
	"github.com/pmx/exchange-engine/internal/model"
)

// Manager owns lifecycle policy for all markets.
type Manager struct {
	engine *engine.Engine
	sweep  time.Duration
	done   chan struct{}
}

// NewManager creates a manager sweeping for expired markets at the given
// interval.
func NewManager(eng *engine.Engine, sweepInterval time.Duration) *Manager {
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Second
	}
	return &Manager{
		engine: eng,
		sweep:  sweepInterval,
		done:   make(chan struct{}),
	}
}

// Close moves an OPEN market to CLOSED. Resting orders stay on the book
// until the market is resolved or voided.
func (m *Manager) Close(ctx context.Context, marketID string) (model.MarketInfo, error) {
	return m.engine.CloseMarket(ctx, marketID)
}

// Resolve settles a CLOSED market at the given outcome and cancels all
// resting orders. Idempotence is enforced by the transition check:
// resolving twice fails with InvalidTransition.
func (m *Manager) Resolve(ctx context.Context, marketID string, outcome model.Outcome) (model.MarketInfo, error) {
	return m.engine.ResolveMarket(ctx, marketID, outcome)
}

// Void unwinds an OPEN or CLOSED market at cost basis.
func (m *Manager) Void(ctx context.Context, marketID string) (model.MarketInfo, error) {
	return m.engine.VoidMarket(ctx, marketID)
}

// Run auto-closes OPEN markets whose close time has passed. Must be
// called in a goroutine; stops on Stop.
func (m *Manager) Run() {
	ticker := time.NewTicker(m.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweepExpired()
		case <-m.done:
			return
		}
	}
}

// Stop terminates the Run loop.
func (m *Manager) Stop() { close(m.done) }

func (m *Manager) sweepExpired() {
	now := time.Now().UTC()
	for _, id := range m.engine.ExpiredOpenMarkets(now) {
		if _, err := m.engine.CloseMarket(context.Background(), id); err != nil {
			// Lost a race with an admin close; nothing to do.
			if engine.KindOf(err) == engine.KindInvalidTransition {
				continue
			}
			slog.Error("auto-close failed", "market", id, "err", err)
			continue
		}
		slog.Info("market auto-closed", "market", id)
	}
}
