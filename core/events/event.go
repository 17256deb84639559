package events

import "bountyescrow/core/types"

// Event represents a structured state change emitted by the escrow engines.
type Event interface {
	EventType() string
}

// Payload is implemented by events that can flatten themselves into the
// canonical attribute form consumed by audit sinks and streams.
type Payload interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (audit store, streams).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Flatten returns the attribute form of evt. Events that do not implement
// Payload are reduced to their type.
func Flatten(evt Event) *types.Event {
	if evt == nil {
		return nil
	}
	if p, ok := evt.(Payload); ok {
		if out := p.Event(); out != nil {
			return out
		}
	}
	return &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}
