package upstream

import (
	"encoding/json"
	"fmt"
)

// ProviderError carries a non-success response from order or payment
// creation. The provider's own message is surfaced verbatim when it sent one.
type ProviderError struct {
	Status  int
	Message string
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("request rejected with status %d", e.Status)
}

func newProviderError(status int, body []byte) *ProviderError {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	// Body may not be JSON at all; the generic message covers that.
	_ = json.Unmarshal(body, &payload)

	msg := payload.Error
	if msg == "" {
		msg = payload.Message
	}
	return &ProviderError{Status: status, Message: msg}
}
