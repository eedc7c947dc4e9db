package filters

import (
	"encoding/json"
	"fmt"

	"github.com/evhub-io/evhub/eventapi"
	"github.com/evhub-io/evhub/internal/devsvc"
)

// Passthrough re-emits every input event unchanged. It exists to tap an
// event stream under a filter id, e.g. to feed a sink only the events
// that passed through a particular chain position.
type Passthrough struct {
	id     eventapi.FilterID
	inputs map[eventapi.Type][]eventapi.FilterID
}

func NewPassthrough(config json.RawMessage, p devsvc.FilterProvider) (eventapi.Filter, error) {
	var cfg inputConfig
	if len(config) > 0 {
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse passthrough config: %w", err)
		}
	}
	inputs, err := cfg.inputTypes()
	if err != nil {
		return nil, err
	}
	return &Passthrough{
		id:     p.NextFilterID(),
		inputs: inputs,
	}, nil
}

func (f *Passthrough) ID() eventapi.FilterID {
	return f.id
}

func (f *Passthrough) InputTypes() map[eventapi.Type][]eventapi.FilterID {
	return f.inputs
}

func (f *Passthrough) Process(events []*eventapi.Event) ([]*eventapi.Event, error) {
	return events, nil
}

func (f *Passthrough) Reset() {}
