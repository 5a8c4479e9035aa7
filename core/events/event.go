package events

// Event represents a structured state change emitted by the escrow engine.
// Attributes carry the observability tags a host or indexer can filter on.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// EventType returns the event's type tag.
func (e *Event) EventType() string {
	if e == nil {
		return ""
	}
	return e.Type
}

// Emitter broadcasts events to downstream subscribers (e.g. hosts, indexers).
type Emitter interface {
	Emit(*Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(*Event) {}

// Collector retains every emitted event in order. Intended for tests and for
// hosts that surface events after a single-shot invocation.
type Collector struct {
	Events []*Event
}

// Emit implements the Emitter interface.
func (c *Collector) Emit(evt *Event) {
	if evt == nil {
		return
	}
	c.Events = append(c.Events, evt)
}

// Reset drops all collected events.
func (c *Collector) Reset() { c.Events = nil }
