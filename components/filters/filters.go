// Package filters provides the built-in event filters attachable to
// devices through the devices.yml filter list.
package filters

import (
	"fmt"

	"github.com/evhub-io/evhub/eventapi"
	"github.com/evhub-io/evhub/internal/devsvc"
)

func Register(reg *devsvc.FilterRegistry) {
	reg.MustRegister("passthrough", NewPassthrough)
	reg.MustRegister("downsample", NewDownsample)
	reg.MustRegister("average", NewAverage)
}

// inputConfig is the input-selection block shared by all filter
// configs: which event types to consume, and from which upstream
// filters (source id 0 means unfiltered device events).
type inputConfig struct {
	Events  []string            `json:"events"`
	Sources []eventapi.FilterID `json:"sources"`
}

func (c inputConfig) inputTypes() (map[eventapi.Type][]eventapi.FilterID, error) {
	sources := c.Sources
	if len(sources) == 0 {
		sources = []eventapi.FilterID{0}
	}
	types := make([]eventapi.Type, 0, len(c.Events))
	if len(c.Events) == 0 {
		types = eventapi.Types()
	}
	for _, name := range c.Events {
		typ, ok := eventapi.TypeByName(name)
		if !ok {
			return nil, fmt.Errorf("unknown event type %q", name)
		}
		types = append(types, typ)
	}
	out := make(map[eventapi.Type][]eventapi.FilterID, len(types))
	for _, typ := range types {
		out[typ] = append([]eventapi.FilterID(nil), sources...)
	}
	return out, nil
}
