package filters

import (
	"encoding/json"
	"fmt"

	"github.com/evhub-io/evhub/eventapi"
	"github.com/evhub-io/evhub/internal/devsvc"
)

// Downsample passes every Nth input event and drops the rest. High-rate
// streams like mouse motion or analog samples are typically thinned
// this way before they reach a sink.
type Downsample struct {
	id     eventapi.FilterID
	inputs map[eventapi.Type][]eventapi.FilterID
	factor int

	// independent phase per event type
	counts map[eventapi.Type]int
}

type downsampleConfig struct {
	inputConfig
	// Factor N keeps one event out of every N.
	Factor int `json:"factor"`
}

func NewDownsample(config json.RawMessage, p devsvc.FilterProvider) (eventapi.Filter, error) {
	var cfg downsampleConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse downsample config: %w", err)
	}
	if cfg.Factor < 1 {
		return nil, fmt.Errorf("downsample factor must be at least 1, got %d", cfg.Factor)
	}
	inputs, err := cfg.inputTypes()
	if err != nil {
		return nil, err
	}
	return &Downsample{
		id:     p.NextFilterID(),
		inputs: inputs,
		factor: cfg.Factor,
		counts: make(map[eventapi.Type]int),
	}, nil
}

func (f *Downsample) ID() eventapi.FilterID {
	return f.id
}

func (f *Downsample) InputTypes() map[eventapi.Type][]eventapi.FilterID {
	return f.inputs
}

func (f *Downsample) Process(events []*eventapi.Event) ([]*eventapi.Event, error) {
	out := make([]*eventapi.Event, 0, len(events)/f.factor+1)
	for _, e := range events {
		f.counts[e.Type]++
		if f.counts[e.Type]%f.factor == 0 {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *Downsample) Reset() {
	clear(f.counts)
}
