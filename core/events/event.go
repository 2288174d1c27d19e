package events

import "loyaltypay/core/types"

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
}

// Payload is implemented by events that can be rendered into the generic
// receipt form.
type Payload interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (receipts, logs, RPC).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies Emitter while discarding all events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer collects events in emission order. It is not safe for concurrent use.
type Buffer struct {
	events []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.events = append(b.events, evt)
}

// Events returns the collected events.
func (b *Buffer) Events() []Event {
	if b == nil {
		return nil
	}
	return b.events
}

// Reset drops all collected events.
func (b *Buffer) Reset() {
	if b != nil {
		b.events = nil
	}
}

// Render converts the collected payload events into receipt events.
func (b *Buffer) Render() []types.Event {
	if b == nil {
		return nil
	}
	out := make([]types.Event, 0, len(b.events))
	for _, evt := range b.events {
		payload, ok := evt.(Payload)
		if !ok {
			continue
		}
		if rendered := payload.Event(); rendered != nil {
			out = append(out, *rendered)
		}
	}
	return out
}
