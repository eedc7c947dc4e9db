package eventapi

// Filter is a per-device event post-processor. Filters hold a private
// input queue managed by the owning device and may keep accumulator
// state across Process calls.
type Filter interface {
	// ID is unique among all filters attached to a hub.
	ID() FilterID
	// InputTypes declares which events the filter accepts: for each
	// event type, the filter ids whose output it consumes (0 accepts
	// unfiltered events).
	InputTypes() map[Type][]FilterID
	// Process consumes the pending input events and returns zero or
	// more derived events. Returned events are stamped with the
	// filter's id and re-enter the device buffering path. An error
	// discards the pending inputs; it never affects the device buffer.
	Process(events []*Event) ([]*Event, error)
	// Reset clears accumulator state only.
	Reset()
}

// Sink receives finalized events, e.g. the long-term tabular datastore.
// Batching and flush policy belong to the sink.
type Sink interface {
	HandleEvent(e *Event) error
	HandleEvents(events []*Event) error
}
