package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/fjod/go_storefront/internal/domain"
	"github.com/fjod/go_storefront/internal/session"
	"github.com/fjod/go_storefront/internal/upstream"
)

type Method string

const (
	MethodFree   Method = "free"
	MethodCard   Method = "card"
	MethodCrypto Method = "crypto"
)

// Marketplace is the slice of the upstream API the orchestrator needs.
type Marketplace interface {
	BatchProducts(ctx context.Context, ids []string) ([]domain.ProductRef, error)
	ListingOwner(ctx context.Context, productID string) (shopID, ownerID string, err error)
	ValidatePromo(ctx context.Context, cred, productID, code string) (int64, error)
	CreateFreeOrder(ctx context.Context, cred string, items []domain.Line) (string, error)
	CreateCardPayment(ctx context.Context, cred string, items []domain.Line, promos map[string]string) (string, error)
	CreateCryptoPayment(ctx context.Context, cred string, items []domain.Line, promos map[string]string) (*domain.CryptoPaymentRef, error)
}

type QuoteLine struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	UnitPrice int64  `json:"unitPrice"`
	Qty       int    `json:"qty"`
	ShopID    string `json:"shopId"`
	OwnerID   string `json:"ownerId"`
}

// Quote is the orchestrator's resolved view of one checkout attempt. Failures
// are state on the quote, never panics, so submit buttons and disabled states
// stay consistent.
type Quote struct {
	Lines          []QuoteLine `json:"lines"`
	Subtotal       int64       `json:"subtotal"`
	Discount       int64       `json:"discount"`
	Total          int64       `json:"total"`
	IsFree         bool        `json:"isFree"`
	SelfOwned      []string    `json:"selfOwned,omitempty"`
	CryptoEligible bool        `json:"cryptoEligible"`
	Err            string      `json:"error,omitempty"`
}

// Submittable is false whenever any blocking condition holds, on every
// payment path including free orders.
func (q *Quote) Submittable() bool {
	return q.Err == "" && len(q.Lines) > 0 && len(q.SelfOwned) == 0
}

func (q *Quote) lineItems() []domain.Line {
	items := make([]domain.Line, 0, len(q.Lines))
	for _, l := range q.Lines {
		items = append(items, domain.Line{ID: l.ID, Qty: l.Qty})
	}
	return items
}

// Receipt describes where the user goes after a successful dispatch.
type Receipt struct {
	OrderID     string                   `json:"orderId,omitempty"`
	RedirectURL string                   `json:"redirectUrl,omitempty"`
	Crypto      *domain.CryptoPaymentRef `json:"crypto,omitempty"`
	HandoffURL  string                   `json:"handoffUrl,omitempty"`
	RouteTo     string                   `json:"routeTo"`
}

type Orchestrator struct {
	api      Marketplace
	sessions session.Store
	gate     *Gate

	// cryptoAllow lists shop/owner ids cleared for manual crypto transfer.
	cryptoAllow map[string]struct{}
	// messagingURL is the external channel carrying the payment reference
	// for off-band proof submission.
	messagingURL string
}

func NewOrchestrator(api Marketplace, sessions session.Store, gate *Gate, cryptoAllowList []string, messagingURL string) *Orchestrator {
	allow := make(map[string]struct{}, len(cryptoAllowList))
	for _, id := range cryptoAllowList {
		if id != "" {
			allow[id] = struct{}{}
		}
	}
	return &Orchestrator{
		api:          api,
		sessions:     sessions,
		gate:         gate,
		cryptoAllow:  allow,
		messagingURL: messagingURL,
	}
}

// BuildQuote resolves the effective line set against authoritative catalog
// data: unknown ids are dropped, requested quantities win (clamped >= 1),
// ownership and crypto eligibility are checked per line, promo codes are
// revalidated server-side.
func (o *Orchestrator) BuildQuote(ctx context.Context, sessionID, cred, userID, renewProductID string, cart []domain.Line) *Quote {
	requested := o.resolveRequested(ctx, sessionID, renewProductID, cart)
	if len(requested) == 0 {
		return &Quote{Err: "there is nothing to check out"}
	}

	ids := make([]string, 0, len(requested))
	for _, l := range requested {
		ids = append(ids, l.ID)
	}

	refs, err := o.api.BatchProducts(ctx, ids)
	if err != nil {
		log.Printf("price resolution failed: %v", err)
		return &Quote{Err: "could not load prices, please retry"}
	}

	refByID := make(map[string]domain.ProductRef, len(refs))
	for _, ref := range refs {
		refByID[ref.ID] = ref
	}

	quote := &Quote{CryptoEligible: true}
	for _, req := range requested {
		ref, ok := refByID[req.ID]
		if !ok {
			continue // catalog drift: dropped, never blocks checkout
		}

		qty := req.Qty
		if qty < 1 {
			qty = 1
		}

		line := QuoteLine{
			ID:        ref.ID,
			Title:     ref.Title,
			UnitPrice: ref.Price,
			Qty:       qty,
			ShopID:    ref.ShopID,
			OwnerID:   ref.OwnerID,
		}
		if line.OwnerID == "" {
			// Ownership may resolve later than pricing; fetch it now so
			// the guards below see it.
			if shopID, ownerID, errOwner := o.api.ListingOwner(ctx, ref.ID); errOwner == nil {
				line.ShopID = shopID
				line.OwnerID = ownerID
			} else {
				log.Printf("owner resolution failed for %s: %v", ref.ID, errOwner)
			}
		}

		quote.Lines = append(quote.Lines, line)
		quote.Subtotal += line.UnitPrice * int64(qty)

		if line.OwnerID != "" && line.OwnerID == userID {
			quote.SelfOwned = append(quote.SelfOwned, line.Title)
		}
		if !o.cryptoAllowed(line) {
			// One ineligible line disables crypto for the whole order.
			quote.CryptoEligible = false
		}
	}

	if len(quote.Lines) == 0 {
		return &Quote{Err: "the selected products are no longer available"}
	}

	quote.Discount = o.resolveDiscount(ctx, sessionID, cred, quote)
	quote.Total = quote.Subtotal - quote.Discount
	if quote.Total < 0 {
		quote.Total = 0
	}
	quote.IsFree = quote.Subtotal <= 0
	return quote
}

func (o *Orchestrator) resolveRequested(ctx context.Context, sessionID, renewProductID string, cart []domain.Line) []domain.Line {
	// A renewal override forces a single-item re-purchase regardless of
	// intent and cart.
	if renewProductID != "" {
		return []domain.Line{{ID: renewProductID, Qty: 1}}
	}
	return o.gate.EffectiveLines(ctx, sessionID, cart)
}

func (o *Orchestrator) resolveDiscount(ctx context.Context, sessionID, cred string, quote *Quote) int64 {
	promos := o.sessions.Promos(ctx, sessionID)
	if len(promos) == 0 {
		return 0
	}

	var discount int64
	for _, line := range quote.Lines {
		code, ok := promos[line.ID]
		if !ok {
			continue
		}
		// The client-side cache is never trusted for pricing; only the
		// server's answer counts. A rejected code simply does not discount.
		d, err := o.api.ValidatePromo(ctx, cred, line.ID, code)
		if err != nil {
			log.Printf("promo %q rejected for %s: %v", code, line.ID, err)
			continue
		}
		discount += d
	}
	return discount
}

func (o *Orchestrator) cryptoAllowed(line QuoteLine) bool {
	if _, ok := o.cryptoAllow[line.ShopID]; ok && line.ShopID != "" {
		return true
	}
	if _, ok := o.cryptoAllow[line.OwnerID]; ok && line.OwnerID != "" {
		return true
	}
	return false
}

// Submit dispatches exactly one payment path. The self-purchase guard runs
// again here against live data: disabling must hold at submission time, not
// just at render. Gate and intent are cleared on entry into payment and on
// terminal success; on failure the gate survives so the user can retry.
func (o *Orchestrator) Submit(ctx context.Context, sessionID, cred, userID string, quote *Quote, method Method) (*Receipt, error) {
	if cred == "" {
		return nil, domain.ErrAuthRequired
	}
	// Submission is only legal from inside the checkout view; a granted gate
	// that never entered checkout must not dispatch, or completion would be
	// an illegal transition and the intent would leak into the next checkout.
	if o.sessions.GateStatus(ctx, sessionID) != domain.GateStatusInCheckout {
		return nil, ErrNotSubmittable
	}
	if quote == nil || !quote.Submittable() {
		return nil, ErrNotSubmittable
	}
	if err := o.recheckOwnership(ctx, userID, quote); err != nil {
		return nil, err
	}

	items := quote.lineItems()
	promos := o.submittedPromos(ctx, sessionID, quote)

	switch {
	case quote.IsFree:
		// Free orders bypass every payment provider.
		orderID, err := o.api.CreateFreeOrder(ctx, cred, items)
		if err != nil {
			return nil, providerFacing(err)
		}
		o.finish(ctx, sessionID)
		return &Receipt{OrderID: orderID, RouteTo: "/orders"}, nil

	case method == MethodCard:
		redirectURL, err := o.api.CreateCardPayment(ctx, cred, items, promos)
		if err != nil {
			return nil, providerFacing(err)
		}
		o.finish(ctx, sessionID)
		return &Receipt{RedirectURL: redirectURL, RouteTo: redirectURL}, nil

	case method == MethodCrypto:
		if !quote.CryptoEligible {
			return nil, ErrCryptoIneligible
		}
		ref, err := o.api.CreateCryptoPayment(ctx, cred, items, promos)
		if err != nil {
			return nil, providerFacing(err)
		}
		o.finish(ctx, sessionID)
		// The hand-off is client-initiated and uncertain until settlement
		// is independently confirmed; the user lands on orders right away.
		return &Receipt{
			OrderID:    ref.OrderID,
			Crypto:     ref,
			HandoffURL: o.handoffURL(ref),
			RouteTo:    "/orders",
		}, nil

	case method == MethodFree:
		return nil, ErrWrongPaymentMethod

	default:
		return nil, fmt.Errorf("unknown payment method %q", method)
	}
}

func (o *Orchestrator) recheckOwnership(ctx context.Context, userID string, quote *Quote) error {
	for _, line := range quote.Lines {
		ownerID := line.OwnerID
		if _, liveOwner, err := o.api.ListingOwner(ctx, line.ID); err == nil && liveOwner != "" {
			ownerID = liveOwner
		}
		if ownerID != "" && ownerID == userID {
			return fmt.Errorf("%w: %s", ErrSelfPurchase, line.Title)
		}
	}
	return nil
}

func (o *Orchestrator) submittedPromos(ctx context.Context, sessionID string, quote *Quote) map[string]string {
	cached := o.sessions.Promos(ctx, sessionID)
	promos := make(map[string]string)
	for _, line := range quote.Lines {
		if code, ok := cached[line.ID]; ok {
			promos[line.ID] = code
		}
	}
	return promos
}

func (o *Orchestrator) finish(ctx context.Context, sessionID string) {
	if err := o.gate.Complete(ctx, sessionID); err != nil {
		log.Printf("gate completion failed: %v", err)
	}
}

func (o *Orchestrator) handoffURL(ref *domain.CryptoPaymentRef) string {
	if o.messagingURL == "" {
		return ""
	}
	text := fmt.Sprintf("Payment proof for reference %s (amount %d)", ref.Reference, ref.Amount)
	sep := "?"
	if strings.Contains(o.messagingURL, "?") {
		sep = "&"
	}
	return o.messagingURL + sep + "text=" + url.QueryEscape(text)
}

// providerFacing keeps provider rejections verbatim where a message exists
// and falls back to a generic line otherwise. Auth expiry passes through.
func providerFacing(err error) error {
	if errors.Is(err, domain.ErrAuthRequired) {
		return err
	}
	var provErr *upstream.ProviderError
	if errors.As(err, &provErr) {
		return provErr
	}
	return fmt.Errorf("payment could not be started: %w", err)
}
