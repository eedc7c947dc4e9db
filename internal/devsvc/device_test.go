package devsvc

import (
	"errors"
	"testing"

	"github.com/evhub-io/evhub/eventapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubFilter struct {
	id       eventapi.FilterID
	inputs   map[eventapi.Type][]eventapi.FilterID
	process  func(events []*eventapi.Event) ([]*eventapi.Event, error)
	received []*eventapi.Event
	resets   int
}

func (f *stubFilter) ID() eventapi.FilterID {
	return f.id
}

func (f *stubFilter) InputTypes() map[eventapi.Type][]eventapi.FilterID {
	return f.inputs
}

func (f *stubFilter) Process(events []*eventapi.Event) ([]*eventapi.Event, error) {
	f.received = append(f.received, events...)
	if f.process == nil {
		return nil, nil
	}
	return f.process(events)
}

func (f *stubFilter) Reset() {
	f.resets++
}

func evt(id uint64, typ eventapi.Type, hubTime float64) *eventapi.Event {
	return &eventapi.Event{EventID: id, Type: typ, HubTime: hubTime}
}

func newTestDevice(t *testing.T, bufferLength int) *Device {
	t.Helper()
	return NewDevice("test", bufferLength, NewState(), zap.NewNop())
}

func TestBufferEviction(t *testing.T) {
	// Capacity 3, append ids 1..5: only the 3 most recent remain, in
	// original relative order.
	d := newTestDevice(t, 3)
	for i := 1; i <= 5; i++ {
		d.Append(evt(uint64(i), eventapi.TypeMouseMove, float64(i)))
	}
	events := d.GetEvents(eventapi.TypeUndefined, false, nil)
	require.Len(t, events, 3)
	assert.Equal(t, uint64(3), events[0].EventID)
	assert.Equal(t, uint64(4), events[1].EventID)
	assert.Equal(t, uint64(5), events[2].EventID)
}

func TestBufferPerType(t *testing.T) {
	d := newTestDevice(t, 2)
	d.Append(evt(1, eventapi.TypeMouseMove, 1))
	d.Append(evt(2, eventapi.TypeKeyboardPress, 2))
	d.Append(evt(3, eventapi.TypeMouseMove, 3))

	moves := d.GetEvents(eventapi.TypeMouseMove, false, nil)
	require.Len(t, moves, 2)
	keys := d.GetEvents(eventapi.TypeKeyboardPress, false, nil)
	require.Len(t, keys, 1)
}

func TestGetEventsSortedByHubTime(t *testing.T) {
	d := newTestDevice(t, 8)
	d.Append(evt(1, eventapi.TypeMouseMove, 3.0))
	d.Append(evt(2, eventapi.TypeKeyboardPress, 1.0))
	d.Append(evt(3, eventapi.TypeMouseMove, 2.0))

	events := d.GetEvents(eventapi.TypeUndefined, false, nil)
	require.Len(t, events, 3)
	assert.Equal(t, uint64(2), events[0].EventID)
	assert.Equal(t, uint64(3), events[1].EventID)
	assert.Equal(t, uint64(1), events[2].EventID)
}

func TestGetEventsClear(t *testing.T) {
	d := newTestDevice(t, 8)
	d.Append(evt(1, eventapi.TypeMouseMove, 1))
	d.Append(evt(2, eventapi.TypeMouseMove, 2))

	events := d.GetEvents(eventapi.TypeMouseMove, true, nil)
	require.Len(t, events, 2)
	assert.Empty(t, d.GetEvents(eventapi.TypeMouseMove, false, nil))
}

func TestGetEventsFilterScope(t *testing.T) {
	d := newTestDevice(t, 8)
	raw := evt(1, eventapi.TypeMouseMove, 1)
	filtered := evt(2, eventapi.TypeMouseMove, 2)
	filtered.FilterID = 5
	d.Append(raw)
	d.Append(filtered)

	fid := eventapi.FilterID(5)
	events := d.GetEvents(eventapi.TypeMouseMove, true, &fid)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(2), events[0].EventID)

	// The unfiltered event survives the scoped clear.
	remaining := d.GetEvents(eventapi.TypeMouseMove, false, nil)
	require.Len(t, remaining, 1)
	assert.Equal(t, uint64(1), remaining[0].EventID)
}

func TestReportingDisabled(t *testing.T) {
	d := newTestDevice(t, 4)
	d.EnableReporting(false)
	d.Append(evt(1, eventapi.TypeMouseMove, 1))
	assert.Empty(t, d.GetEvents(eventapi.TypeUndefined, false, nil))

	d.EnableReporting(true)
	d.Append(evt(2, eventapi.TypeMouseMove, 2))
	assert.Len(t, d.GetEvents(eventapi.TypeUndefined, false, nil), 1)
}

func TestFilterRouting(t *testing.T) {
	d := newTestDevice(t, 8)
	f := &stubFilter{
		id:     1,
		inputs: map[eventapi.Type][]eventapi.FilterID{eventapi.TypeMouseMove: {0}},
	}
	d.AttachFilter(f)

	d.Append(evt(1, eventapi.TypeMouseMove, 1))
	d.Append(evt(2, eventapi.TypeKeyboardPress, 2))
	d.ProcessFilters()

	require.Len(t, f.received, 1)
	assert.Equal(t, uint64(1), f.received[0].EventID)
}

func TestFilterReceivesPrivateCopy(t *testing.T) {
	d := newTestDevice(t, 8)
	var seen *eventapi.Event
	f := &stubFilter{
		id:     1,
		inputs: map[eventapi.Type][]eventapi.FilterID{eventapi.TypeMouseMove: {0}},
		process: func(events []*eventapi.Event) ([]*eventapi.Event, error) {
			seen = events[0]
			events[0].Payload[0] = 999
			return nil, nil
		},
	}
	d.AttachFilter(f)

	orig := evt(1, eventapi.TypeMouseMove, 1)
	orig.Payload = []float64{1}
	d.Append(orig)
	d.ProcessFilters()

	require.NotNil(t, seen)
	assert.NotSame(t, orig, seen)
	assert.Equal(t, float64(1), orig.Payload[0])
}

func TestCyclePrevention(t *testing.T) {
	// Two chained filters: derived events cascade from one filter into
	// the other, but an event produced by a filter is never delivered
	// back into its own input queue.
	d := newTestDevice(t, 32)
	var first, second *stubFilter
	first = &stubFilter{
		id: 1,
		inputs: map[eventapi.Type][]eventapi.FilterID{
			eventapi.TypeMouseMove: {0, 2},
		},
		process: func(events []*eventapi.Event) ([]*eventapi.Event, error) {
			out := make([]*eventapi.Event, 0, len(events))
			for _, e := range events {
				d := e.Clone()
				d.Type = eventapi.TypeMouseMove
				out = append(out, d)
			}
			return out, nil
		},
	}
	second = &stubFilter{
		id: 2,
		inputs: map[eventapi.Type][]eventapi.FilterID{
			eventapi.TypeMouseMove: {0, 1},
		},
	}
	d.AttachFilter(first)
	d.AttachFilter(second)

	d.Append(evt(1, eventapi.TypeMouseMove, 1))
	for i := 0; i < 5; i++ {
		d.ProcessFilters()
	}

	for _, e := range first.received {
		assert.NotEqual(t, first.id, e.FilterID, "filter consumed its own output")
	}
	for _, e := range second.received {
		assert.NotEqual(t, second.id, e.FilterID, "filter consumed its own output")
	}
	// The derived event did reach the second filter.
	require.NotEmpty(t, second.received)
	assert.Equal(t, eventapi.FilterID(1), second.received[len(second.received)-1].FilterID)
}

func TestDerivedEventStamping(t *testing.T) {
	d := newTestDevice(t, 8)
	f := &stubFilter{
		id:     7,
		inputs: map[eventapi.Type][]eventapi.FilterID{eventapi.TypeEyeSample: {0}},
		process: func(events []*eventapi.Event) ([]*eventapi.Event, error) {
			return []*eventapi.Event{events[0].Clone()}, nil
		},
	}
	d.AttachFilter(f)

	d.Append(evt(1, eventapi.TypeEyeSample, 1))
	derived := d.ProcessFilters()

	require.Len(t, derived, 1)
	assert.Equal(t, eventapi.FilterID(7), derived[0].FilterID)
	assert.NotZero(t, derived[0].EventID)
	assert.NotEqual(t, uint64(1), derived[0].EventID)
}

func TestFilterErrorDropsPendingOnly(t *testing.T) {
	d := newTestDevice(t, 8)
	failing := &stubFilter{
		id:     1,
		inputs: map[eventapi.Type][]eventapi.FilterID{eventapi.TypeMouseMove: {0}},
		process: func(events []*eventapi.Event) ([]*eventapi.Event, error) {
			return nil, errors.New("boom")
		},
	}
	healthy := &stubFilter{
		id:     2,
		inputs: map[eventapi.Type][]eventapi.FilterID{eventapi.TypeMouseMove: {0}},
		process: func(events []*eventapi.Event) ([]*eventapi.Event, error) {
			return []*eventapi.Event{events[0].Clone()}, nil
		},
	}
	d.AttachFilter(failing)
	d.AttachFilter(healthy)

	d.Append(evt(1, eventapi.TypeMouseMove, 1))
	derived := d.ProcessFilters()

	// The failing filter's inputs are gone, the healthy filter still
	// produced, and the device buffer kept the original event.
	assert.Len(t, derived, 1)
	assert.Len(t, d.GetEvents(eventapi.TypeMouseMove, false, nil), 2)

	// Nothing pending anymore for the failing filter.
	d.ProcessFilters()
	assert.Len(t, failing.received, 1)
}

func TestResetFilters(t *testing.T) {
	d := newTestDevice(t, 8)
	f := &stubFilter{id: 1, inputs: map[eventapi.Type][]eventapi.FilterID{}}
	d.AttachFilter(f)
	d.Append(evt(1, eventapi.TypeMouseMove, 1))
	d.ResetFilters()
	assert.Equal(t, 1, f.resets)
	// Device buffers are untouched by a filter reset.
	assert.Len(t, d.GetEvents(eventapi.TypeUndefined, false, nil), 1)
}
