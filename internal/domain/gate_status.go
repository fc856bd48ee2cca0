package domain

type GateStatus string

const (
	GateStatusNone       GateStatus = "NO_GATE"
	GateStatusGated      GateStatus = "GATED"
	GateStatusInCheckout GateStatus = "IN_CHECKOUT"
	GateStatusCompleted  GateStatus = "COMPLETED"
	GateStatusAbandoned  GateStatus = "ABANDONED"
)

func (s GateStatus) IsTerminal() bool {
	return s == GateStatusCompleted || s == GateStatusAbandoned
}

// String representation (for logging)
func (s GateStatus) String() string {
	return string(s)
}

var gateTransitions = map[GateStatus][]GateStatus{
	GateStatusNone:       {GateStatusGated},
	GateStatusGated:      {GateStatusInCheckout, GateStatusAbandoned},
	GateStatusInCheckout: {GateStatusCompleted, GateStatusAbandoned},
}

// CanTransitionTo reports whether the checkout access state machine permits
// moving from one status to another. Terminal statuses permit nothing.
func CanTransitionTo(from, to GateStatus) bool {
	for _, allowed := range gateTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
