package devsvc

import (
	"sort"
	"sync"

	"github.com/evhub-io/evhub/eventapi"
	"github.com/evhub-io/evhub/pkg/ring"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Device buffers events of one logical input device. Each event type
// gets its own bounded FIFO buffer; overflow evicts the oldest event.
// Filters attached to the device receive private copies of matching
// events and may synthesize derived events that re-enter the buffers.
//
// The owning service is the only writer. The mutex exists for readers
// (GetEvents from other goroutines), not for concurrent appends.
type Device struct {
	name         string
	bufferLength int
	log          *zap.Logger
	state        *State
	reporting    atomic.Bool

	mu      sync.Mutex
	buffers map[eventapi.Type]*ring.Buffer[*eventapi.Event]
	filters []*attachedFilter
}

type attachedFilter struct {
	filter  eventapi.Filter
	pending []*eventapi.Event
}

func NewDevice(name string, bufferLength int, state *State, log *zap.Logger) *Device {
	d := &Device{
		name:         name,
		bufferLength: bufferLength,
		log:          log,
		state:        state,
		buffers:      make(map[eventapi.Type]*ring.Buffer[*eventapi.Event]),
	}
	d.reporting.Store(true)
	return d
}

func (d *Device) Name() string {
	return d.name
}

// AttachFilter adds a filter to the device's chain. Filters are attached
// at hub start, before events flow.
func (d *Device) AttachFilter(f eventapi.Filter) {
	d.mu.Lock()
	d.filters = append(d.filters, &attachedFilter{filter: f})
	d.mu.Unlock()
}

// EnableReporting toggles event reporting. Following the original hub,
// buffered events are cleared on every toggle so a re-enabled device
// starts from an empty buffer.
func (d *Device) EnableReporting(enabled bool) {
	d.ClearEvents(eventapi.TypeUndefined, nil)
	d.reporting.Store(enabled)
}

func (d *Device) IsReporting() bool {
	return d.reporting.Load()
}

// Append buffers e and routes it into the filter chain. It is a no-op
// while reporting is disabled.
//
// Routing rule: a filter receives a copy of e only when the filter did
// not produce e itself and the filter declared interest in events of
// this type coming from e's producer. Since derived events are stamped
// with the emitting filter's id, a filter can never consume its own
// output, which makes filter cycles impossible.
func (d *Device) Append(e *eventapi.Event) {
	if !d.reporting.Load() {
		return
	}
	d.mu.Lock()
	buf, ok := d.buffers[e.Type]
	if !ok {
		buf = ring.New[*eventapi.Event](d.bufferLength)
		d.buffers[e.Type] = buf
	}
	buf.Append(e)

	for _, af := range d.filters {
		if af.filter.ID() == e.FilterID {
			continue
		}
		sources, ok := af.filter.InputTypes()[e.Type]
		if !ok {
			continue
		}
		for _, src := range sources {
			if src == e.FilterID {
				af.pending = append(af.pending, e.Clone())
				break
			}
		}
	}
	d.mu.Unlock()
}

// ProcessFilters drains every filter's pending queue through its Process
// method. Derived events are stamped with the producing filter's id and
// a fresh event id, then re-submitted through Append so they may cascade
// through downstream filters. The derived events are returned so the
// service can fan them out like native events.
//
// A filter error discards that filter's pending inputs and is logged;
// the device buffers and the remaining filters are unaffected.
func (d *Device) ProcessFilters() []*eventapi.Event {
	d.mu.Lock()
	type batch struct {
		filter eventapi.Filter
		events []*eventapi.Event
	}
	batches := make([]batch, 0, len(d.filters))
	for _, af := range d.filters {
		if len(af.pending) == 0 {
			continue
		}
		batches = append(batches, batch{filter: af.filter, events: af.pending})
		af.pending = nil
	}
	d.mu.Unlock()

	var derived []*eventapi.Event
	for _, b := range batches {
		out, err := b.filter.Process(b.events)
		if err != nil {
			d.log.Error("Filter failed, dropping its pending events",
				zap.String("device", d.name),
				zap.Int32("filter_id", int32(b.filter.ID())),
				zap.Int("dropped", len(b.events)),
				zap.Error(err))
			continue
		}
		for _, e := range out {
			e.FilterID = b.filter.ID()
			e.EventID = d.state.NextEventID()
			d.Append(e)
			derived = append(derived, e)
		}
	}
	return derived
}

// ResetFilters clears accumulator state of all attached filters without
// touching the device buffers.
func (d *Device) ResetFilters() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, af := range d.filters {
		af.filter.Reset()
	}
}

// GetEvents returns buffered events sorted ascending by hub time.
// typ narrows the result to one event type (TypeUndefined means all);
// filterID, when non-nil, narrows to events last touched by that filter
// (0 selects unfiltered events). When clear is set, returned events are
// removed from the buffers.
func (d *Device) GetEvents(typ eventapi.Type, clear bool, filterID *eventapi.FilterID) []*eventapi.Event {
	d.mu.Lock()
	var events []*eventapi.Event
	collect := func(t eventapi.Type, buf *ring.Buffer[*eventapi.Event]) {
		for _, e := range buf.Values() {
			if filterID != nil && e.FilterID != *filterID {
				continue
			}
			events = append(events, e)
		}
		if !clear {
			return
		}
		if filterID == nil {
			buf.Clear()
			return
		}
		kept := make([]*eventapi.Event, 0, buf.Len())
		for _, e := range buf.Values() {
			if e.FilterID != *filterID {
				kept = append(kept, e)
			}
		}
		buf.Clear()
		for _, e := range kept {
			buf.Append(e)
		}
	}
	if typ != eventapi.TypeUndefined {
		if buf, ok := d.buffers[typ]; ok {
			collect(typ, buf)
		}
	} else {
		for t, buf := range d.buffers {
			collect(t, buf)
		}
	}
	d.mu.Unlock()

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].HubTime < events[j].HubTime
	})
	return events
}

// ClearEvents drops buffered events, optionally scoped to one event
// type and/or one filter id.
func (d *Device) ClearEvents(typ eventapi.Type, filterID *eventapi.FilterID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	clearBuf := func(buf *ring.Buffer[*eventapi.Event]) {
		if filterID == nil {
			buf.Clear()
			return
		}
		kept := make([]*eventapi.Event, 0, buf.Len())
		for _, e := range buf.Values() {
			if e.FilterID != *filterID {
				kept = append(kept, e)
			}
		}
		buf.Clear()
		for _, e := range kept {
			buf.Append(e)
		}
	}
	if typ != eventapi.TypeUndefined {
		if buf, ok := d.buffers[typ]; ok {
			clearBuf(buf)
		}
		return
	}
	for _, buf := range d.buffers {
		clearBuf(buf)
	}
}

// Close clears buffers and filter state. Called at hub shutdown.
func (d *Device) Close() {
	d.ClearEvents(eventapi.TypeUndefined, nil)
	d.ResetFilters()
}
