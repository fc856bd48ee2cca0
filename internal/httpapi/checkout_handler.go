package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/fjod/go_storefront/internal/checkout"
	"github.com/fjod/go_storefront/internal/domain"
	"github.com/fjod/go_storefront/internal/session"
	"github.com/fjod/go_storefront/internal/store"
	"github.com/fjod/go_storefront/internal/upstream"
)

// IdentityResolver maps a credential to the marketplace user behind it.
type IdentityResolver interface {
	Me(ctx context.Context, cred string) (string, error)
}

type CheckoutHandler struct {
	gate     *checkout.Gate
	orch     *checkout.Orchestrator
	stores   *store.Manager
	sessions session.Store
	identity IdentityResolver
	timeout  time.Duration
}

func NewCheckoutHandler(gate *checkout.Gate, orch *checkout.Orchestrator, stores *store.Manager, sessions session.Store, identity IdentityResolver, timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{
		gate:     gate,
		orch:     orch,
		stores:   stores,
		sessions: sessions,
		identity: identity,
		timeout:  timeout,
	}
}

type BuyNowRequestDTO struct {
	Items []domain.Line `json:"items"`
}

type SubmitRequestDTO struct {
	Method string `json:"method"`
	Renew  string `json:"renew,omitempty"`
}

type LeaveRequestDTO struct {
	ToCart bool `json:"toCart"`
}

// BuyNow stores the ephemeral intent and grants the gate. Works for guests
// too: the intent lives in the session and survives the login redirect.
func (h *CheckoutHandler) BuyNow(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req BuyNowRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if err := h.gate.BuyNow(ctx, getSessionID(r.Context()), req.Items); err != nil {
		if errors.Is(err, session.ErrEmptyIntent) {
			respondError(w, http.StatusBadRequest, "invalid_items", "buy now needs at least one positive-quantity line")
			return
		}
		log.Printf("buy now failed: %v", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"next": "/checkout"})
}

func (h *CheckoutHandler) Proceed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sid := getSessionID(r.Context())
	cart := h.stores.Get(sid, upstream.CollectionCart).Read()

	if err := h.gate.Proceed(ctx, sid, cart); err != nil {
		if errors.Is(err, checkout.ErrEmptyCart) {
			respondError(w, http.StatusBadRequest, "empty_cart", err.Error())
			return
		}
		log.Printf("proceed to checkout failed: %v", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"next": "/checkout"})
}

// Enter renders the checkout view data. Without the gate this is a hard
// redirect to the cart, regardless of cart contents.
func (h *CheckoutHandler) Enter(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sid := getSessionID(r.Context())
	cred := getCred(r.Context())
	cart := h.stores.Get(sid, upstream.CollectionCart).Read()

	if err := h.gate.Enter(ctx, sid, cart); err != nil {
		http.Redirect(w, r, "/cart", http.StatusSeeOther)
		return
	}

	// Rendering degrades without an identity; the guard is re-run with a
	// resolved identity at submission time.
	userID, err := h.resolveUserID(ctx, cred)
	if err != nil {
		log.Printf("identity resolution failed: %v", err)
	}

	quote := h.orch.BuildQuote(ctx, sid, cred, userID, r.URL.Query().Get("renew"), cart)
	respondJSON(w, http.StatusOK, quote)
}

func (h *CheckoutHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req SubmitRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	sid := getSessionID(r.Context())
	cred := getCred(r.Context())

	// Without a resolved identity the self-purchase guard cannot run, so an
	// identity failure blocks submission instead of waving it through.
	userID, err := h.resolveUserID(ctx, cred)
	if err != nil {
		log.Printf("identity resolution failed: %v", err)
		respondError(w, http.StatusServiceUnavailable, "identity_unavailable", "could not verify your account, please retry")
		return
	}
	cart := h.stores.Get(sid, upstream.CollectionCart).Read()

	// The quote is rebuilt server-side at submission time; the client's
	// displayed numbers are never trusted.
	quote := h.orch.BuildQuote(ctx, sid, cred, userID, req.Renew, cart)
	receipt, err := h.orch.Submit(ctx, sid, cred, userID, quote, checkout.Method(req.Method))
	if err != nil {
		h.respondSubmitError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, receipt)
}

func (h *CheckoutHandler) Leave(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req LeaveRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if err := h.gate.Abandon(ctx, getSessionID(r.Context()), req.ToCart); err != nil {
		log.Printf("checkout abandon failed: %v", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

func (h *CheckoutHandler) resolveUserID(ctx context.Context, cred string) (string, error) {
	if cred == "" {
		return "", nil
	}
	return h.identity.Me(ctx, cred)
}

func (h *CheckoutHandler) respondSubmitError(w http.ResponseWriter, err error) {
	var provErr *upstream.ProviderError
	switch {
	case errors.Is(err, domain.ErrAuthRequired):
		respondError(w, http.StatusUnauthorized, "login_required", "sign in to complete the purchase")
	case errors.Is(err, checkout.ErrSelfPurchase):
		respondError(w, http.StatusConflict, "self_purchase", err.Error())
	case errors.Is(err, checkout.ErrCryptoIneligible):
		respondError(w, http.StatusConflict, "crypto_unavailable", err.Error())
	case errors.Is(err, checkout.ErrNotSubmittable):
		respondError(w, http.StatusConflict, "not_submittable", err.Error())
	case errors.As(err, &provErr):
		respondError(w, http.StatusBadGateway, "provider_rejected", provErr.Error())
	default:
		respondError(w, http.StatusBadGateway, "payment_failed", err.Error())
	}
}
