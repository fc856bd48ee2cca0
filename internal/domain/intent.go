package domain

import "encoding/json"

const IntentModeBuyNow = "buy_now"

// Intent is the ephemeral buy-now line list. It defines the checkout line set
// when present but never touches the persistent cart.
type Intent struct {
	Mode  string `json:"mode"`
	Items []Line `json:"items"`
}

// NewIntent normalizes items into a buy-now intent. It returns nil if nothing
// positive remains after normalization.
func NewIntent(items []Line) *Intent {
	normalized := NormalizeLines(items)
	if len(normalized) == 0 {
		return nil
	}
	return &Intent{Mode: IntentModeBuyNow, Items: normalized}
}

// DecodeIntent re-parses a stored intent. Stored session data is untrusted, so
// malformed or empty payloads decode to (nil, false) rather than an error.
func DecodeIntent(data []byte) (*Intent, bool) {
	if len(data) == 0 {
		return nil, false
	}

	var raw Intent
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false
	}
	if raw.Mode != IntentModeBuyNow {
		return nil, false
	}

	intent := NewIntent(raw.Items)
	if intent == nil {
		return nil, false
	}
	return intent, true
}
