// Package devsvc implements the device buffering core of the hub:
// bounded per-type event buffers, the per-device filter chain and the
// fanout of finalized events to sinks and the network bridge.
package devsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/evhub-io/evhub/eventapi"
	"github.com/evhub-io/evhub/internal/configsvc"
	"github.com/evhub-io/evhub/pkg/bus"
	"github.com/evhub-io/evhub/pkg/clock"
	"github.com/evhub-io/evhub/pkg/registry"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

type (
	EventBus        = bus.Bus[eventapi.Type, *eventapi.Event]
	EventPublisher  = bus.Publisher[eventapi.Type, *eventapi.Event]
	EventSubscriber = bus.Subscriber[eventapi.Type, *eventapi.Event]

	// FilterRegistry builds filter instances from their config type
	// names. Components register themselves against it at hub start.
	FilterRegistry = registry.Registry[eventapi.Filter, FilterProvider]
)

// FilterProvider is handed to filter constructors.
type FilterProvider interface {
	Log() *zap.Logger
	NextFilterID() eventapi.FilterID
}

// Config is the devices.yml schema.
type Config struct {
	Session SessionConfig  `json:"session"`
	Devices []DeviceConfig `json:"devices"`
}

type SessionConfig struct {
	ExperimentID uint32 `json:"experimentId"`
	SessionID    uint32 `json:"sessionId"`
}

type DeviceConfig struct {
	Name string `json:"name"`
	// EventBufferLength caps each per-type buffer. Oldest events are
	// evicted on overflow.
	EventBufferLength int  `json:"eventBufferLength"`
	Reporting         *bool `json:"reporting"`
	Filters           []FilterConfig `json:"filters"`
}

type FilterConfig struct {
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config"`
}

const defaultEventBufferLength = 256

var ErrDeviceNotFound = errors.New("device not found")

// Service owns all devices and the hub state. Native driver callbacks
// and the remote event subscriber both enter through Dispatch, so each
// device buffer keeps a single logical writer.
type Service struct {
	log        *zap.Logger
	db         *badger.DB
	config     *configsvc.Service
	configPath string
	clk        *clock.Clock
	state      *State
	registry   *FilterRegistry

	bus     *EventBus
	devices *xsync.MapOf[string, *Device]
	ready   chan struct{}

	processInterval time.Duration
}

type Option func(*Service)

// WithProcessInterval overrides how often filter chains are drained.
func WithProcessInterval(d time.Duration) Option {
	return func(s *Service) {
		s.processInterval = d
	}
}

func New(db *badger.DB, log *zap.Logger, config *configsvc.Service, configPath string, clk *clock.Clock, opts ...Option) *Service {
	s := &Service{
		log:             log,
		db:              db,
		config:          config,
		configPath:      configPath,
		clk:             clk,
		state:           NewState(),
		bus:             bus.NewBus[eventapi.Type, *eventapi.Event](log),
		devices:         xsync.NewMapOf[string, *Device](),
		ready:           make(chan struct{}),
		processInterval: 20 * time.Millisecond,
	}
	s.registry = registry.New[eventapi.Filter, FilterProvider](s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Log implements FilterProvider.
func (s *Service) Log() *zap.Logger {
	return s.log.Named("filter")
}

// NextFilterID implements FilterProvider.
func (s *Service) NextFilterID() eventapi.FilterID {
	return s.state.NextFilterID()
}

func (s *Service) State() *State {
	return s.state
}

func (s *Service) Clock() *clock.Clock {
	return s.clk
}

func (s *Service) Registry() *FilterRegistry {
	return s.registry
}

func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

func (s *Service) Start(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-s.config.Ready():
	}
	cfg, err := configsvc.Register(s.config, s.configPath, Config{}, s.onConfigChange)
	if err != nil {
		return fmt.Errorf("failed to register device config: %w", err)
	}
	if err := s.bus.Start(ctx); err != nil {
		return fmt.Errorf("failed to start event bus: %w", err)
	}
	if err := s.apply(cfg); err != nil {
		return fmt.Errorf("failed to apply device config: %w", err)
	}
	close(s.ready)
	s.log.Info("Device service started", zap.Int("devices", s.deviceCount()))

	ticker := time.NewTicker(s.processInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-ticker.C:
			s.processFilters(ctx)
		}
	}
}

func (s *Service) onConfigChange(cfg Config, err error) {
	if err != nil {
		s.log.Error("Failed to parse device config", zap.Error(err))
		return
	}
	// Devices and filters are constructed once at hub start; tearing
	// them down mid-session would invalidate buffered events.
	s.log.Warn("Device config changed, restart the hub to apply")
}

func (s *Service) apply(cfg Config) error {
	for _, dc := range cfg.Devices {
		if dc.Name == "" {
			return fmt.Errorf("device without a name")
		}
		if _, ok := s.devices.Load(dc.Name); ok {
			return fmt.Errorf("duplicate device name: %s", dc.Name)
		}
		bufferLength := dc.EventBufferLength
		if bufferLength <= 0 {
			bufferLength = defaultEventBufferLength
		}
		dev := NewDevice(dc.Name, bufferLength, s.state, s.log)
		for _, fc := range dc.Filters {
			f, err := s.registry.New(fc.Type, fc.Config)
			if err != nil {
				return fmt.Errorf("failed to create filter %s for device %s: %w", fc.Type, dc.Name, err)
			}
			dev.AttachFilter(f)
		}
		if dc.Reporting != nil {
			dev.EnableReporting(*dc.Reporting)
		}
		if err := s.persistDeviceRecord(dc.Name); err != nil {
			return err
		}
		s.devices.Store(dc.Name, dev)
	}
	s.StartSession(cfg.Session.ExperimentID, cfg.Session.SessionID)
	return nil
}

func (s *Service) deviceCount() int {
	n := 0
	s.devices.Range(func(string, *Device) bool {
		n++
		return true
	})
	return n
}

func (s *Service) shutdown() {
	s.devices.Range(func(name string, dev *Device) bool {
		dev.Close()
		return true
	})
	s.log.Info("Device service stopped")
}

func (s *Service) processFilters(ctx context.Context) {
	s.devices.Range(func(name string, dev *Device) bool {
		for _, e := range dev.ProcessFilters() {
			s.bus.Publish(ctx, e.Type, e)
		}
		return true
	})
}

// Dispatch delivers a finalized event into the named device's buffering
// path and fans it out on the hub bus. Locally produced events get a
// fresh event id and the active experiment/session pair; events arriving
// from a remote hub keep the header prepared by the subscriber.
func (s *Service) Dispatch(ctx context.Context, deviceName string, e *eventapi.Event) error {
	dev, ok := s.devices.Load(deviceName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceName)
	}
	if !dev.IsReporting() {
		return nil
	}
	if e.DeviceID == 0 {
		if e.EventID == 0 {
			e.EventID = s.state.NextEventID()
		}
		e.ExperimentID, e.SessionID = s.state.Session()
	}
	if e.LoggedTime == 0 {
		e.LoggedTime = s.clk.Now()
	}
	if e.HubTime == 0 {
		e.HubTime = e.LoggedTime - e.Delay
	}
	dev.Append(e)
	s.bus.Publish(ctx, e.Type, e)
	return nil
}

// Device returns the named device.
func (s *Service) Device(name string) (*Device, error) {
	dev, ok := s.devices.Load(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
	}
	return dev, nil
}

// Subscribe taps the stream of finalized events, optionally narrowed to
// the given event types.
func (s *Service) Subscribe(ctx context.Context, types ...eventapi.Type) <-chan bus.Message[eventapi.Type, *eventapi.Event] {
	return s.bus.Subscribe(ctx, types...)
}

// AttachSink feeds every finalized event to the sink until ctx is
// cancelled. Sink errors are logged and do not stop the feed.
func (s *Service) AttachSink(ctx context.Context, sink eventapi.Sink) {
	ch := s.bus.Subscribe(ctx)
	go func() {
		for msg := range ch {
			if err := sink.HandleEvent(msg.Message); err != nil {
				s.log.Error("Sink rejected event", zap.Error(err))
			}
		}
	}()
}

// StartSession resets the event id sequence, clears all device buffers
// and records the session in the hub database.
func (s *Service) StartSession(experimentID, sessionID uint32) {
	s.state.StartSession(experimentID, sessionID)
	s.devices.Range(func(name string, dev *Device) bool {
		dev.ClearEvents(eventapi.TypeUndefined, nil)
		return true
	})
	if err := s.persistSessionRecord(experimentID, sessionID); err != nil {
		s.log.Error("Failed to persist session record", zap.Error(err))
	}
	s.log.Info("Session started",
		zap.Uint32("experiment_id", experimentID),
		zap.Uint32("session_id", sessionID))
}

// DeviceRecord is the persisted per-device metadata.
type DeviceRecord struct {
	Name        string    `json:"name"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

// SessionRecord is the persisted per-session metadata.
type SessionRecord struct {
	Token        string    `json:"token"`
	ExperimentID uint32    `json:"experimentId"`
	SessionID    uint32    `json:"sessionId"`
	StartedAt    time.Time `json:"startedAt"`
}

func deviceKey(name string) []byte {
	return []byte(fmt.Sprintf("hub/devices/%s", name))
}

func sessionKey(experimentID, sessionID uint32) []byte {
	return []byte(fmt.Sprintf("hub/sessions/%d/%d", experimentID, sessionID))
}

func (s *Service) persistDeviceRecord(name string) error {
	now := time.Now()
	err := s.db.Update(func(txn *badger.Txn) error {
		key := deviceKey(name)
		var rec DeviceRecord
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			rec = DeviceRecord{Name: name, FirstSeenAt: now}
		case err != nil:
			return err
		default:
			err = item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal device record: %w", err)
			}
		}
		rec.LastSeenAt = now
		b, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal device record: %w", err)
		}
		return txn.Set(key, b)
	})
	if err != nil {
		return fmt.Errorf("failed to persist device %s: %w", name, err)
	}
	return nil
}

func (s *Service) persistSessionRecord(experimentID, sessionID uint32) error {
	rec := SessionRecord{
		Token:        uuid.NewString(),
		ExperimentID: experimentID,
		SessionID:    sessionID,
		StartedAt:    time.Now(),
	}
	return s.db.Update(func(txn *badger.Txn) error {
		b, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal session record: %w", err)
		}
		return txn.Set(sessionKey(experimentID, sessionID), b)
	})
}

// ListDeviceRecords returns the persisted device records.
func (s *Service) ListDeviceRecords() ([]DeviceRecord, error) {
	var records []DeviceRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := []byte("hub/devices/")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec DeviceRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list device records: %w", err)
	}
	return records, nil
}
