package checkout

import "errors"

var (
	ErrEmptyCart          = errors.New("cart is empty, nothing to check out")
	ErrRedirectToCart     = errors.New("checkout gate missing, go back to the cart")
	ErrSelfPurchase       = errors.New("cannot purchase your own listing")
	ErrCryptoIneligible   = errors.New("crypto payment is not available for this selection")
	ErrNotSubmittable     = errors.New("checkout is not in a submittable state")
	ErrWrongPaymentMethod = errors.New("selected payment method does not match the order")
	ErrIllegalTransition  = errors.New("illegal transition of checkout gate status")
)
