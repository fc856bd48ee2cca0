package domain

import "errors"

var (
	// ErrAuthRequired marks operations that need a signed-in user. Handlers
	// surface it as a login prompt, not an inline error.
	ErrAuthRequired = errors.New("authentication required")

	// ErrEmptyID rejects mutations addressed to no product.
	ErrEmptyID = errors.New("product id is empty")
)
