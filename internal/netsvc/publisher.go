package netsvc

import (
	"context"
	"fmt"

	"github.com/evhub-io/evhub/eventapi"
	"github.com/evhub-io/evhub/internal/devsvc"
	"github.com/go-zeromq/zmq4"
	"go.uber.org/zap"
)

// PublisherConfig configures the outbound event stream.
type PublisherConfig struct {
	Bind string `json:"bind"`
	// Instance stamps the device_id header of published events so
	// subscribers can tell hub instances apart. Must be non-zero.
	Instance uint16 `json:"instance"`
	// Events optionally restricts the published event types by name.
	// Empty means all types.
	Events []string `json:"events"`
}

// Publisher streams locally produced events to remote hubs as two-frame
// topic+payload messages, the topic being the event type name.
type Publisher struct {
	log     *zap.Logger
	devices *devsvc.Service
	cfg     PublisherConfig
	topics  map[eventapi.Type]struct{}
}

func NewPublisher(log *zap.Logger, devices *devsvc.Service, cfg PublisherConfig) (*Publisher, error) {
	if cfg.Instance == 0 {
		return nil, fmt.Errorf("publisher instance id must be non-zero")
	}
	topics := make(map[eventapi.Type]struct{}, len(cfg.Events))
	for _, name := range cfg.Events {
		typ, ok := eventapi.TypeByName(name)
		if !ok {
			return nil, fmt.Errorf("publisher: unknown event type %q", name)
		}
		topics[typ] = struct{}{}
	}
	return &Publisher{
		log:     log.Named("pub"),
		devices: devices,
		cfg:     cfg,
		topics:  topics,
	}, nil
}

func (p *Publisher) Run(ctx context.Context) error {
	sock := zmq4.NewPub(context.Background())
	defer sock.Close()
	if err := sock.Listen(p.cfg.Bind); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.cfg.Bind, err)
	}
	p.log.Info("Event publisher started",
		zap.String("bind", p.cfg.Bind),
		zap.Uint16("instance", p.cfg.Instance),
	)

	ch := p.devices.Subscribe(ctx)
	for msg := range ch {
		e := msg.Message
		if e.DeviceID != 0 {
			// Events adopted from another hub are never re-published.
			continue
		}
		if len(p.topics) > 0 {
			if _, ok := p.topics[e.Type]; !ok {
				continue
			}
		}
		data, err := eventapi.Marshal(mirrorEvent(e, p.cfg.Instance))
		if err != nil {
			p.log.Warn("Failed to encode event", zap.Stringer("type", e.Type), zap.Error(err))
			continue
		}
		if err := sock.Send(zmq4.NewMsgFrom([]byte(e.Type.String()), data)); err != nil {
			if ctx.Err() != nil {
				break
			}
			return fmt.Errorf("failed to publish event: %w", err)
		}
	}

	// Announce shutdown so subscribers terminate instead of waiting on
	// a dead endpoint.
	if err := sock.Send(zmq4.NewMsgFrom([]byte(exitTopic), nil)); err != nil {
		p.log.Debug("Failed to publish exit message", zap.Error(err))
	}
	return nil
}

// mirrorEvent prepares a local event for the wire. Experiment, session
// and event ids are scoped to a hub instance and are zeroed; the
// subscriber assigns its own. The instance id replaces the device id so
// the origin stays identifiable.
func mirrorEvent(e *eventapi.Event, instance uint16) *eventapi.Event {
	w := e.Clone()
	w.ExperimentID = 0
	w.SessionID = 0
	w.EventID = 0
	w.DeviceID = instance
	return w
}
