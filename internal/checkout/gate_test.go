package checkout

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/go_storefront/internal/domain"
)

func TestEnter_WithoutGateRedirectsToCart(t *testing.T) {
	sessions := newMemorySession()
	gate := NewGate(sessions)
	ctx := context.Background()

	// Regardless of cart contents.
	err := gate.Enter(ctx, "s1", nil)
	require.ErrorIs(t, err, ErrRedirectToCart)

	err = gate.Enter(ctx, "s1", []domain.Line{{ID: "A", Qty: 2}})
	require.ErrorIs(t, err, ErrRedirectToCart)
}

func TestEnter_GatedWithEmptySelectionRedirects(t *testing.T) {
	sessions := newMemorySession()
	gate := NewGate(sessions)
	ctx := context.Background()

	require.NoError(t, sessions.GrantGate(ctx, "s1"))

	err := gate.Enter(ctx, "s1", []domain.Line{{ID: "A", Qty: 0}})
	require.ErrorIs(t, err, ErrRedirectToCart)
}

func TestEnter_GatedWithCartLineSucceeds(t *testing.T) {
	sessions := newMemorySession()
	gate := NewGate(sessions)
	ctx := context.Background()

	require.NoError(t, gate.Proceed(ctx, "s1", []domain.Line{{ID: "A", Qty: 1}}))
	require.NoError(t, gate.Enter(ctx, "s1", []domain.Line{{ID: "A", Qty: 1}}))
	assert.Equal(t, domain.GateStatusInCheckout, sessions.GateStatus(ctx, "s1"))

	// Re-entering the checkout view is fine.
	require.NoError(t, gate.Enter(ctx, "s1", []domain.Line{{ID: "A", Qty: 1}}))
}

func TestBuyNow_SetsIntentThenGate(t *testing.T) {
	sessions := newMemorySession()
	gate := NewGate(sessions)
	ctx := context.Background()

	require.NoError(t, gate.BuyNow(ctx, "s1", []domain.Line{{ID: "A", Qty: 1}}))

	assert.True(t, sessions.HasGate(ctx, "s1"))
	intent := sessions.GetIntent(ctx, "s1")
	require.NotNil(t, intent)
	assert.Equal(t, []domain.Line{{ID: "A", Qty: 1}}, intent.Items)

	// Intent wins over the cart, without mutating it.
	cart := []domain.Line{{ID: "B", Qty: 4}}
	assert.Equal(t, intent.Items, gate.EffectiveLines(ctx, "s1", cart))
	require.NoError(t, gate.Enter(ctx, "s1", nil), "intent alone satisfies the entry precondition")
}

func TestProceed_EmptyCartRejected(t *testing.T) {
	gate := NewGate(newMemorySession())
	err := gate.Proceed(context.Background(), "s1", nil)
	require.ErrorIs(t, err, ErrEmptyCart)
}

func TestComplete_ClearsIntentAndRevokesGate(t *testing.T) {
	sessions := newMemorySession()
	gate := NewGate(sessions)
	ctx := context.Background()

	require.NoError(t, gate.BuyNow(ctx, "s1", []domain.Line{{ID: "A", Qty: 1}}))
	require.NoError(t, gate.Enter(ctx, "s1", nil))
	require.NoError(t, gate.Complete(ctx, "s1"))

	assert.False(t, sessions.HasGate(ctx, "s1"))
	assert.Nil(t, sessions.GetIntent(ctx, "s1"))

	// Gate is gone now: checkout entry redirects again.
	require.ErrorIs(t, gate.Enter(ctx, "s1", nil), ErrRedirectToCart)
}

func TestAbandon_ToCartClearsIntent(t *testing.T) {
	sessions := newMemorySession()
	gate := NewGate(sessions)
	ctx := context.Background()

	require.NoError(t, gate.BuyNow(ctx, "s1", []domain.Line{{ID: "A", Qty: 1}}))
	require.NoError(t, gate.Abandon(ctx, "s1", true))

	assert.False(t, sessions.HasGate(ctx, "s1"))
	assert.Nil(t, sessions.GetIntent(ctx, "s1"), "no intent bleed into a later cart checkout")
}

func TestAbandon_ElsewhereKeepsIntent(t *testing.T) {
	sessions := newMemorySession()
	gate := NewGate(sessions)
	ctx := context.Background()

	require.NoError(t, gate.BuyNow(ctx, "s1", []domain.Line{{ID: "A", Qty: 1}}))
	require.NoError(t, gate.Abandon(ctx, "s1", false))

	assert.False(t, sessions.HasGate(ctx, "s1"))
	assert.NotNil(t, sessions.GetIntent(ctx, "s1"), "intent survives until cart arrival or completion")
}
