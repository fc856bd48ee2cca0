package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Handlers struct {
	Cart     *StoreHandler
	Wishlist *StoreHandler
	Promo    *PromoHandler
	Checkout *CheckoutHandler
	Payment  *PaymentHandler
}

func NewRouter(h Handlers, requestTimeout time.Duration) chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Compress(5))
	r.Use(SessionMiddleware)
	r.Use(BearerMiddleware)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.Cart.Get)
			r.Post("/items", h.Cart.AddItem)
			r.Put("/items/{product_id}", h.Cart.SetQuantity)
			r.Delete("/items/{product_id}", h.Cart.RemoveItem)
			r.Delete("/", h.Cart.Clear)
		})

		r.Route("/wishlist", func(r chi.Router) {
			r.Get("/", h.Wishlist.Get)
			r.Post("/toggle", h.Wishlist.Toggle)
			r.Delete("/", h.Wishlist.Clear)
		})

		r.Post("/products/{product_id}/promo", h.Promo.Set)

		r.Route("/checkout", func(r chi.Router) {
			r.Post("/buy-now", h.Checkout.BuyNow)
			r.Post("/proceed", h.Checkout.Proceed)
			r.Get("/", h.Checkout.Enter)
			r.Post("/submit", h.Checkout.Submit)
			r.Post("/leave", h.Checkout.Leave)
		})
	})

	// External providers return the user here; no timeout middleware, the
	// settlement poll can outlive the API budget.
	r.Get("/payment/result", h.Payment.Result)

	return r
}
