// Package netsvc connects hub instances to each other: it publishes the
// local event stream, adopts streams from remote hubs and keeps the
// clocks comparable through a request/reply sync protocol.
package netsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/evhub-io/evhub/internal/configsvc"
	"github.com/evhub-io/evhub/internal/devsvc"
	"github.com/evhub-io/evhub/pkg/clock"
	"go.uber.org/zap"
)

// Duration parses human-readable values like "200ms" from the YAML
// configuration.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"200ms\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("failed to parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Config is the network.yml schema. All sections are optional; a hub
// with an empty config runs standalone.
type Config struct {
	Publisher     *PublisherConfig     `json:"publisher"`
	SyncResponder *SyncResponderConfig `json:"syncResponder"`
	Subscribers   []SubscriberConfig   `json:"subscribers"`
}

// Service owns the network-facing components. Component failures are
// isolated: a crashed publisher or subscriber is logged and the rest of
// the hub keeps running.
type Service struct {
	log        *zap.Logger
	clk        *clock.Clock
	devices    *devsvc.Service
	config     *configsvc.Service
	configPath string

	ready chan struct{}
}

func New(log *zap.Logger, config *configsvc.Service, configPath string, devices *devsvc.Service, clk *clock.Clock) *Service {
	return &Service{
		log:        log,
		clk:        clk,
		devices:    devices,
		config:     config,
		configPath: configPath,
		ready:      make(chan struct{}),
	}
}

func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

func (s *Service) Start(ctx context.Context) error {
	select {
	case <-s.config.Ready():
	case <-ctx.Done():
		return nil
	}
	select {
	case <-s.devices.Ready():
	case <-ctx.Done():
		return nil
	}

	cfg, err := configsvc.Register(s.config, s.configPath, Config{}, s.onConfigChange)
	if err != nil {
		return fmt.Errorf("failed to register config: %w", err)
	}
	if err := s.apply(ctx, cfg); err != nil {
		return err
	}
	close(s.ready)
	s.log.Info("Network service started")
	<-ctx.Done()
	return nil
}

func (s *Service) onConfigChange(cfg Config, err error) {
	if err != nil {
		s.log.Error("Failed to reload network config", zap.Error(err))
		return
	}
	// Endpoints are bound at startup. Rebinding sockets on the fly is
	// not supported.
	s.log.Warn("Network config changed, restart the hub to apply")
}

func (s *Service) apply(ctx context.Context, cfg Config) error {
	if cfg.SyncResponder != nil {
		s.runComponent(ctx, "sync responder", NewSyncResponder(s.log, s.clk, *cfg.SyncResponder).Run)
	}
	if cfg.Publisher != nil {
		pub, err := NewPublisher(s.log, s.devices, *cfg.Publisher)
		if err != nil {
			return err
		}
		s.runComponent(ctx, "publisher", pub.Run)
	}
	for _, subCfg := range cfg.Subscribers {
		sub, err := NewSubscriber(s.log, s.devices, s.clk, subCfg)
		if err != nil {
			return err
		}
		s.runComponent(ctx, "subscriber "+subCfg.Device, sub.Run)
	}
	return nil
}

func (s *Service) runComponent(ctx context.Context, name string, run func(ctx context.Context) error) {
	go func() {
		if err := run(ctx); err != nil {
			s.log.Error("Network component failed", zap.String("component", name), zap.Error(err))
		}
	}()
}
