package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fjod/go_storefront/internal/domain"
	"github.com/fjod/go_storefront/internal/session"
	"github.com/fjod/go_storefront/internal/store"
	"github.com/fjod/go_storefront/internal/upstream"
)

// StoreHandler exposes one synced collection (cart or wishlist) over HTTP.
type StoreHandler struct {
	stores  *store.Manager
	col     upstream.Collection
	timeout time.Duration
}

func NewStoreHandler(stores *store.Manager, col upstream.Collection, timeout time.Duration) *StoreHandler {
	return &StoreHandler{
		stores:  stores,
		col:     col,
		timeout: timeout,
	}
}

type SetQuantityRequestDTO struct {
	Qty int `json:"qty"`
}

type AddItemRequestDTO struct {
	ID    string `json:"id"`
	Delta int    `json:"delta"`
}

type ToggleRequestDTO struct {
	ID string `json:"id"`
}

type CollectionResponseDTO struct {
	Items     []domain.Line `json:"items"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

func (h *StoreHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s := h.stores.Get(getSessionID(r.Context()), h.col)

	// Best-effort refresh; the last known-good snapshot always answers.
	if cred := getCred(r.Context()); cred != "" {
		if err := s.Sync(ctx, cred); err != nil {
			log.Printf("%s sync failed: %v", h.col, err)
		}
	}

	respondJSON(w, http.StatusOK, CollectionResponseDTO{
		Items:     s.Read(),
		UpdatedAt: s.UpdatedAt(),
	})
}

func (h *StoreHandler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id := chi.URLParam(r, "product_id")

	var req SetQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	s := h.stores.Get(getSessionID(r.Context()), h.col)
	err := s.SetQuantity(ctx, getCred(r.Context()), id, req.Qty)
	h.respondAfterMutation(w, s, err)
}

func (h *StoreHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Delta == 0 {
		req.Delta = 1
	}

	s := h.stores.Get(getSessionID(r.Context()), h.col)
	err := s.Add(ctx, getCred(r.Context()), req.ID, req.Delta)
	h.respondAfterMutation(w, s, err)
}

func (h *StoreHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id := chi.URLParam(r, "product_id")
	delta := 1
	if q := r.URL.Query().Get("delta"); q != "" {
		parsed, err := strconv.Atoi(q)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_delta", "delta must be a positive integer")
			return
		}
		delta = parsed
	}

	s := h.stores.Get(getSessionID(r.Context()), h.col)
	err := s.Remove(ctx, getCred(r.Context()), id, delta)
	h.respondAfterMutation(w, s, err)
}

func (h *StoreHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req ToggleRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	s := h.stores.Get(getSessionID(r.Context()), h.col)
	err := s.Toggle(ctx, getCred(r.Context()), req.ID)
	h.respondAfterMutation(w, s, err)
}

func (h *StoreHandler) Clear(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s := h.stores.Get(getSessionID(r.Context()), h.col)
	err := s.Clear(ctx, getCred(r.Context()))
	h.respondAfterMutation(w, s, err)
}

func (h *StoreHandler) respondAfterMutation(w http.ResponseWriter, s *store.Store, err error) {
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, CollectionResponseDTO{Items: s.Read(), UpdatedAt: s.UpdatedAt()})
	case errors.Is(err, domain.ErrAuthRequired):
		// The prompt, not an inline error.
		respondError(w, http.StatusUnauthorized, "login_required", "sign in to keep items across visits")
	case errors.Is(err, domain.ErrEmptyID):
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product id must not be empty")
	case errors.Is(err, store.ErrReplicationFailed):
		// Optimistic state is preserved; the client may retry.
		respondError(w, http.StatusBadGateway, "sync_failed", "could not reach the marketplace, please retry")
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// PromoHandler caches promo codes entered on product pages. They are only
// read again at submission time and never trusted for pricing.
type PromoHandler struct {
	sessions session.Store
}

func NewPromoHandler(sessions session.Store) *PromoHandler {
	return &PromoHandler{sessions: sessions}
}

type PromoRequestDTO struct {
	Code string `json:"code"`
}

func (h *PromoHandler) Set(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "product_id")

	var req PromoRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "code must not be empty")
		return
	}

	if err := h.sessions.SetPromo(r.Context(), getSessionID(r.Context()), productID, req.Code); err != nil {
		log.Printf("promo cache write failed: %v", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cached"})
}
