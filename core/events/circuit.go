package events

import "bountyescrow/core/types"

const (
	TypeCircuitOpened     = "circuit.opened"
	TypeCircuitHalfOpen   = "circuit.half_open"
	TypeCircuitClosed     = "circuit.closed"
	TypeCircuitConfigured = "circuit.configured"
)

// CircuitTransition reports a breaker state change. To holds the new state
// name ("closed", "open", "half_open").
type CircuitTransition struct {
	From      string
	To        string
	Reason    string
	Failures  uint32
	Timestamp uint64
}

func (e CircuitTransition) EventType() string {
	switch e.To {
	case "open":
		return TypeCircuitOpened
	case "half_open":
		return TypeCircuitHalfOpen
	default:
		return TypeCircuitClosed
	}
}

func (e CircuitTransition) Event() *types.Event {
	return &types.Event{
		Type: e.EventType(),
		Attributes: map[string]string{
			"from":      e.From,
			"to":        e.To,
			"reason":    e.Reason,
			"failures":  uintToString(uint64(e.Failures)),
			"timestamp": uintToString(e.Timestamp),
		},
	}
}

type CircuitConfigured struct {
	FailureThreshold uint32
	SuccessThreshold uint32
	MaxErrorLog      uint32
}

func (CircuitConfigured) EventType() string { return TypeCircuitConfigured }

func (e CircuitConfigured) Event() *types.Event {
	return &types.Event{
		Type: TypeCircuitConfigured,
		Attributes: map[string]string{
			"failureThreshold": uintToString(uint64(e.FailureThreshold)),
			"successThreshold": uintToString(uint64(e.SuccessThreshold)),
			"maxErrorLog":      uintToString(uint64(e.MaxErrorLog)),
		},
	}
}
