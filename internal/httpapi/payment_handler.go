package httpapi

import (
	"net/http"

	"github.com/fjod/go_storefront/internal/confirm"
)

// PaymentHandler owns the payment-result route the external providers send
// the user back to.
type PaymentHandler struct {
	confirmer *confirm.Confirmer
}

func NewPaymentHandler(confirmer *confirm.Confirmer) *PaymentHandler {
	return &PaymentHandler{confirmer: confirmer}
}

type ConfirmationResponseDTO struct {
	Error        string `json:"error"`
	RedirectTo   string `json:"redirectTo"`
	AfterSeconds int    `json:"afterSeconds"`
}

// Result runs the confirmation state machine. The loop is bound to the
// request context: a closed connection cancels it mid-poll.
func (h *PaymentHandler) Result(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res := h.confirmer.Run(r.Context(), confirm.Params{
		Provider:  q.Get("provider"),
		Reference: q.Get("reference"),
		OrderID:   q.Get("order"),
		Status:    q.Get("status"),
		Cred:      getCred(r.Context()),
	})

	switch res.Outcome {
	case confirm.OutcomeRedirect, confirm.OutcomeRelogin:
		http.Redirect(w, r, res.Location, http.StatusSeeOther)
	default:
		respondJSON(w, http.StatusAccepted, ConfirmationResponseDTO{
			Error:        res.Message,
			RedirectTo:   res.Location,
			AfterSeconds: int(res.RedirectAfter.Seconds()),
		})
	}
}
