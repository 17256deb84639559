package types

// Event is the flattened form of an engine event: a dotted type such as
// escrow.funds_locked and its attributes rendered as strings. The audit trail
// and the websocket stream both carry this shape.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
