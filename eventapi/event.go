// Package eventapi defines the fixed-schema event record shared by all
// hub devices, the filter and sink contracts, and the wire codec used by
// the pub/sub bridge.
package eventapi

// Type tags the kind of an event. The tag selects the per-device buffer
// the event lands in and the topic it is published under.
type Type uint16

const (
	TypeUndefined Type = iota
	TypeMessage
	TypeKeyboardPress
	TypeKeyboardRelease
	TypeMouseMove
	TypeMouseButtonPress
	TypeMouseButtonRelease
	TypeMouseScroll
	TypeEyeSample
	TypeAnalogInput
	TypeTabletSample
)

var typeNames = map[Type]string{
	TypeUndefined:          "UNDEFINED",
	TypeMessage:            "MESSAGE",
	TypeKeyboardPress:      "KEYBOARD_PRESS",
	TypeKeyboardRelease:    "KEYBOARD_RELEASE",
	TypeMouseMove:          "MOUSE_MOVE",
	TypeMouseButtonPress:   "MOUSE_BUTTON_PRESS",
	TypeMouseButtonRelease: "MOUSE_BUTTON_RELEASE",
	TypeMouseScroll:        "MOUSE_SCROLL",
	TypeEyeSample:          "EYE_SAMPLE",
	TypeAnalogInput:        "ANALOG_INPUT",
	TypeTabletSample:       "TABLET_SAMPLE",
}

var typesByName = func() map[string]Type {
	m := make(map[string]Type, len(typeNames))
	for t, name := range typeNames {
		m[name] = t
	}
	return m
}()

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "UNDEFINED"
}

// TypeByName resolves an event-kind name as used in config files and
// pub/sub topics.
func TypeByName(name string) (Type, bool) {
	t, ok := typesByName[name]
	return t, ok
}

// Types returns all registered event kinds except TypeUndefined.
func Types() []Type {
	out := make([]Type, 0, len(typeNames)-1)
	for t := range typeNames {
		if t != TypeUndefined {
			out = append(out, t)
		}
	}
	return out
}

// FilterID identifies a filter attached to a device. Zero means the
// event has not passed through any filter.
type FilterID int32

// Event is the hub event record. The first eleven fields form the fixed
// header carried on the wire in positional order; Payload holds the
// event-kind specific values the core never interprets.
type Event struct {
	// ExperimentID and SessionID scope the event to the active session.
	// They are zeroed when an event crosses hub instances.
	ExperimentID uint32
	SessionID    uint32
	// DeviceID is 0 for locally produced events. Events received from a
	// remote hub carry the publisher's configured instance number.
	DeviceID uint16
	// EventID is assigned once per session, strictly increasing, never
	// reused. Remote numbering is discarded on receipt.
	EventID uint64
	Type    Type
	// DeviceTime is the native driver timestamp in the driver's units.
	DeviceTime float64
	// LoggedTime is the local hub clock time at receipt.
	LoggedTime float64
	// HubTime is the shared comparison timebase, device-delay corrected.
	HubTime float64
	// ConfidenceInterval estimates the timing uncertainty of HubTime.
	ConfidenceInterval float64
	// Delay is the estimated occurrence-to-receipt latency.
	Delay float64
	// FilterID is the id of the last filter that produced or forwarded
	// this event, 0 when unfiltered.
	FilterID FilterID

	Payload []float64
}

// Clone returns a deep copy. Filters and the publisher always operate on
// clones so a device buffer entry is never shared.
func (e *Event) Clone() *Event {
	clone := *e
	if e.Payload != nil {
		clone.Payload = make([]float64, len(e.Payload))
		copy(clone.Payload, e.Payload)
	}
	return &clone
}
