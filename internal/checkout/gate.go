package checkout

import (
	"context"

	"github.com/fjod/go_storefront/internal/domain"
	"github.com/fjod/go_storefront/internal/session"
)

// Gate drives the checkout-access state machine on top of session storage:
// NoGate -> Gated -> InCheckout -> {Completed, Abandoned}. Presence of the
// gate is the sole authorization to render checkout; it is not authentication.
type Gate struct {
	sessions session.Store
}

func NewGate(sessions session.Store) *Gate {
	return &Gate{sessions: sessions}
}

// BuyNow stores the ephemeral intent, then grants the gate. The intent never
// touches the persistent cart.
func (g *Gate) BuyNow(ctx context.Context, sessionID string, items []domain.Line) error {
	if err := g.sessions.SetIntent(ctx, sessionID, items); err != nil {
		return err
	}
	return g.grant(ctx, sessionID)
}

// Proceed grants the gate for a regular checkout from a non-empty cart.
func (g *Gate) Proceed(ctx context.Context, sessionID string, cart []domain.Line) error {
	if !domain.HasPositiveLine(cart) {
		return ErrEmptyCart
	}
	return g.grant(ctx, sessionID)
}

func (g *Gate) grant(ctx context.Context, sessionID string) error {
	// Granting an already-granted gate is a no-op, not an error: the user
	// may bounce between product pages and checkout entry points.
	if g.sessions.GateStatus(ctx, sessionID) != domain.GateStatusNone {
		return nil
	}
	return g.sessions.GrantGate(ctx, sessionID)
}

// Enter checks the hard precondition for the checkout view: gate present AND
// a non-empty effective line set. Anything else redirects to the cart.
func (g *Gate) Enter(ctx context.Context, sessionID string, cart []domain.Line) error {
	status := g.sessions.GateStatus(ctx, sessionID)
	if status == domain.GateStatusInCheckout {
		return nil // re-render of the checkout view
	}
	if !domain.CanTransitionTo(status, domain.GateStatusInCheckout) {
		return ErrRedirectToCart
	}

	if intent := g.sessions.GetIntent(ctx, sessionID); intent == nil && !domain.HasPositiveLine(cart) {
		return ErrRedirectToCart
	}
	return g.sessions.MarkInCheckout(ctx, sessionID)
}

// EffectiveLines resolves what checkout is actually for: the buy-now intent
// when present, the persistent cart otherwise.
func (g *Gate) EffectiveLines(ctx context.Context, sessionID string, cart []domain.Line) []domain.Line {
	if intent := g.sessions.GetIntent(ctx, sessionID); intent != nil {
		return intent.Items
	}
	return domain.NormalizeLines(cart)
}

// Complete ends a successful checkout: intent cleared, gate revoked.
func (g *Gate) Complete(ctx context.Context, sessionID string) error {
	status := g.sessions.GateStatus(ctx, sessionID)
	if status != domain.GateStatusNone && !domain.CanTransitionTo(status, domain.GateStatusCompleted) {
		return ErrIllegalTransition
	}
	if err := g.sessions.ClearIntent(ctx, sessionID); err != nil {
		return err
	}
	return g.sessions.RevokeGate(ctx, sessionID)
}

// Abandon handles explicit navigation away. Navigating back to the cart also
// clears the intent so a buy-now selection cannot bleed into a later cart
// checkout.
func (g *Gate) Abandon(ctx context.Context, sessionID string, toCart bool) error {
	if toCart {
		if err := g.sessions.ClearIntent(ctx, sessionID); err != nil {
			return err
		}
	}
	return g.sessions.RevokeGate(ctx, sessionID)
}
