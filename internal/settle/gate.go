// Package settle guards the transition between an open and a settled
// ledger. Settling is only allowed when the ledger balances; both
// transitions fan the canonical result out to every live viewer.
package settle

import (
	"context"
	"log/slog"

	"github.com/splitpot/splitpot/internal/hub"
	"github.com/splitpot/splitpot/internal/models"
	"github.com/splitpot/splitpot/internal/storage"
)

// Gate performs settle and unsettle against the store and publishes the
// resulting snapshot to the ledger's room. The hub may be nil, in which
// case only persistence happens.
type Gate struct {
	store storage.LedgerStore
	hub   *hub.Hub
}

// New creates a gate over the given store and hub.
func New(store storage.LedgerStore, h *hub.Hub) *Gate {
	return &Gate{store: store, hub: h}
}

// Settle marks the ledger settled. The store validates the settlement
// preconditions: the rows must sum to zero within tolerance, at least one
// row must carry a name and a non-zero amount, and no two named rows may
// share a name. Settling an already settled ledger succeeds without effect.
func (g *Gate) Settle(ctx context.Context, token string) (*models.Ledger, error) {
	ledger, err := g.store.Settle(ctx, token)
	if err != nil {
		return nil, err
	}
	slog.Info("ledger settled", "token", token)
	g.publish(token, ledger)
	return ledger, nil
}

// Unsettle reopens a settled ledger for editing. Idempotent on an already
// open ledger.
func (g *Gate) Unsettle(ctx context.Context, token string) (*models.Ledger, error) {
	ledger, err := g.store.Unsettle(ctx, token)
	if err != nil {
		return nil, err
	}
	slog.Info("ledger reopened", "token", token)
	g.publish(token, ledger)
	return ledger, nil
}

func (g *Gate) publish(token string, ledger *models.Ledger) {
	if g.hub != nil {
		g.hub.PublishSnapshot(token, ledger)
	}
}
