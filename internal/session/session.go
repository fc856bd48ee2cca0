// Package session holds per-browsing-session commerce state: the checkout
// gate, the buy-now intent and the promo-code cache. Nothing here outlives
// the session TTL or reaches durable storage.
package session

import (
	"context"

	"github.com/fjod/go_storefront/internal/domain"
)

type Store interface {
	GrantGate(ctx context.Context, sessionID string) error
	MarkInCheckout(ctx context.Context, sessionID string) error
	GateStatus(ctx context.Context, sessionID string) domain.GateStatus
	HasGate(ctx context.Context, sessionID string) bool
	RevokeGate(ctx context.Context, sessionID string) error

	SetIntent(ctx context.Context, sessionID string, items []domain.Line) error
	GetIntent(ctx context.Context, sessionID string) *domain.Intent
	ClearIntent(ctx context.Context, sessionID string) error

	SetPromo(ctx context.Context, sessionID, productID, code string) error
	Promos(ctx context.Context, sessionID string) map[string]string
}
