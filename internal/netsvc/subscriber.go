package netsvc

import (
	"context"
	"fmt"
	"time"

	"github.com/evhub-io/evhub/eventapi"
	"github.com/evhub-io/evhub/internal/devsvc"
	"github.com/evhub-io/evhub/pkg/clock"
	"github.com/go-zeromq/zmq4"
	"go.uber.org/zap"
)

// SyncConfig configures clock synchronization against the remote hub a
// subscriber connects to. When absent, remote timestamps are discarded
// and adopted events are restamped with the local receive time.
type SyncConfig struct {
	Address   string   `json:"address"`
	Interval  Duration `json:"interval"`
	BatchSize int      `json:"batchSize"`
}

// SubscriberConfig configures one inbound event stream.
type SubscriberConfig struct {
	Connect string `json:"connect"`
	// Device names the local virtual device adopted events are buffered
	// under.
	Device string `json:"device"`
	// Events optionally restricts the subscribed event types by name.
	// Empty means all types.
	Events []string    `json:"events"`
	Sync   *SyncConfig `json:"sync"`
}

// Subscriber receives events published by a remote hub and dispatches
// them into the local device service under a configured virtual device.
type Subscriber struct {
	log     *zap.Logger
	clk     *clock.Clock
	devices *devsvc.Service
	cfg     SubscriberConfig
	engine  *SyncEngine
	topics  []string
}

func NewSubscriber(log *zap.Logger, devices *devsvc.Service, clk *clock.Clock, cfg SubscriberConfig) (*Subscriber, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("subscriber device name must be set")
	}
	topics := make([]string, 0, len(cfg.Events))
	for _, name := range cfg.Events {
		if _, ok := eventapi.TypeByName(name); !ok {
			return nil, fmt.Errorf("subscriber: unknown event type %q", name)
		}
		topics = append(topics, name)
	}
	s := &Subscriber{
		log:     log.Named("sub").With(zap.String("device", cfg.Device)),
		clk:     clk,
		devices: devices,
		cfg:     cfg,
		topics:  topics,
	}
	if cfg.Sync != nil {
		var opts []SyncEngineOption
		if cfg.Sync.Interval > 0 {
			opts = append(opts, WithSyncInterval(time.Duration(cfg.Sync.Interval)))
		}
		if cfg.Sync.BatchSize > 0 {
			opts = append(opts, WithSyncBatchSize(cfg.Sync.BatchSize))
		}
		s.engine = NewSyncEngine(s.log, clk, cfg.Sync.Address, opts...)
	}
	return s, nil
}

func (s *Subscriber) Run(ctx context.Context) error {
	if s.engine != nil {
		go func() {
			if err := s.engine.Run(ctx); err != nil {
				s.log.Error("Clock sync engine failed", zap.Error(err))
			}
		}()
	}

	sock := zmq4.NewSub(context.Background())
	defer sock.Close()
	if err := sock.Dial(s.cfg.Connect); err != nil {
		return fmt.Errorf("failed to dial publisher %s: %w", s.cfg.Connect, err)
	}
	if err := sock.SetOption(zmq4.OptionSubscribe, exitTopic); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	if len(s.topics) == 0 {
		if err := sock.SetOption(zmq4.OptionSubscribe, ""); err != nil {
			return fmt.Errorf("failed to subscribe: %w", err)
		}
	}
	for _, topic := range s.topics {
		if err := sock.SetOption(zmq4.OptionSubscribe, topic); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}
	go func() {
		<-ctx.Done()
		sock.Close()
	}()
	s.log.Info("Event subscriber started", zap.String("connect", s.cfg.Connect))

	for {
		msg, err := sock.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to receive event: %w", err)
		}
		topic := string(msg.Frames[0])
		if topic == exitTopic {
			s.log.Info("Publisher announced shutdown")
			return nil
		}
		if len(msg.Frames) < 2 {
			s.log.Warn("Dropping message without payload frame", zap.String("topic", topic))
			continue
		}
		e, err := eventapi.Unmarshal(msg.Frames[1])
		if err != nil {
			s.log.Warn("Dropping undecodable event", zap.String("topic", topic), zap.Error(err))
			continue
		}
		s.adopt(e)
		if err := s.devices.Dispatch(ctx, s.cfg.Device, e); err != nil {
			s.log.Error("Failed to dispatch adopted event", zap.Error(err))
		}
	}
}

func (s *Subscriber) adopt(e *eventapi.Event) {
	var st *SyncState
	if s.engine != nil {
		st = s.engine.State()
	}
	adoptEvent(e, s.clk.Now(), st, s.devices.State())
}

// adoptEvent rewrites a received event's header for the local hub. The
// event gets a fresh id and the current local session; the remote
// device id is preserved as origin marker. Timestamps move to the local
// timebase through the sync state. Without established sync the remote
// timebase is unusable and hub time falls back to the local receive
// time.
func adoptEvent(e *eventapi.Event, loggedTime float64, st *SyncState, state *devsvc.State) {
	e.EventID = state.NextEventID()
	e.ExperimentID, e.SessionID = state.Session()

	remoteLogged := e.LoggedTime
	remoteHub := e.HubTime
	e.LoggedTime = loggedTime

	if st == nil {
		e.HubTime = loggedTime
		return
	}
	local, err := st.RemoteToLocal(remoteHub)
	if err != nil {
		// Sync not yet established. Same fallback as the unconfigured
		// case rather than trusting a foreign timestamp.
		e.HubTime = loggedTime
		return
	}
	e.HubTime = local
	// The one-way accuracy estimate bounds the error on each side of
	// the translated timestamp.
	if acc, err := st.Accuracy(); err == nil {
		e.ConfidenceInterval = 2 * acc
	}
	// The network transit time is observable on the remote timebase:
	// project the local receive time across and compare against the
	// remote send stamp.
	if remoteNow, err := st.LocalToRemote(loggedTime); err == nil {
		e.Delay += remoteNow - remoteLogged
	}
}
