package filters

import (
	"encoding/json"
	"fmt"

	"github.com/evhub-io/evhub/eventapi"
	"github.com/evhub-io/evhub/internal/devsvc"
	"github.com/evhub-io/evhub/pkg/ring"
)

// Average smooths selected payload fields with a moving average over
// the last N events of each type. Every input event is re-emitted with
// the smoothed values, so downstream consumers see the full rate with
// reduced noise.
type Average struct {
	id     eventapi.FilterID
	inputs map[eventapi.Type][]eventapi.FilterID
	window int
	fields []int

	rings map[eventapi.Type]map[int]*ring.Buffer[float64]
}

type averageConfig struct {
	inputConfig
	// Window is the number of events the average spans.
	Window int `json:"window"`
	// Fields lists the payload indices to smooth. Empty means all.
	Fields []int `json:"fields"`
}

func NewAverage(config json.RawMessage, p devsvc.FilterProvider) (eventapi.Filter, error) {
	var cfg averageConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse average config: %w", err)
	}
	if cfg.Window < 1 {
		return nil, fmt.Errorf("average window must be at least 1, got %d", cfg.Window)
	}
	for _, idx := range cfg.Fields {
		if idx < 0 {
			return nil, fmt.Errorf("negative payload index %d", idx)
		}
	}
	inputs, err := cfg.inputTypes()
	if err != nil {
		return nil, err
	}
	return &Average{
		id:     p.NextFilterID(),
		inputs: inputs,
		window: cfg.Window,
		fields: cfg.Fields,
		rings:  make(map[eventapi.Type]map[int]*ring.Buffer[float64]),
	}, nil
}

func (f *Average) ID() eventapi.FilterID {
	return f.id
}

func (f *Average) InputTypes() map[eventapi.Type][]eventapi.FilterID {
	return f.inputs
}

func (f *Average) Process(events []*eventapi.Event) ([]*eventapi.Event, error) {
	out := make([]*eventapi.Event, 0, len(events))
	for _, e := range events {
		byField, ok := f.rings[e.Type]
		if !ok {
			byField = make(map[int]*ring.Buffer[float64])
			f.rings[e.Type] = byField
		}
		for _, idx := range f.fieldIndices(e) {
			if idx >= len(e.Payload) {
				continue
			}
			r, ok := byField[idx]
			if !ok {
				r = ring.New[float64](f.window)
				byField[idx] = r
			}
			r.Append(e.Payload[idx])
			e.Payload[idx] = ring.Mean(r)
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *Average) fieldIndices(e *eventapi.Event) []int {
	if len(f.fields) > 0 {
		return f.fields
	}
	all := make([]int, len(e.Payload))
	for i := range all {
		all[i] = i
	}
	return all
}

func (f *Average) Reset() {
	clear(f.rings)
}
