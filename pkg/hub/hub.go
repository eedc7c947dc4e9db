// Package hub assembles the event hub: device buffering, filter chains
// and the network bridge, wired together over shared configuration and
// a shared monotonic clock.
package hub

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/badger"
	"github.com/evhub-io/evhub/components/filters"
	"github.com/evhub-io/evhub/internal/configsvc"
	"github.com/evhub-io/evhub/internal/devsvc"
	"github.com/evhub-io/evhub/internal/netsvc"
	"github.com/evhub-io/evhub/pkg/clock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

type Hub struct {
	config Config

	db        *badger.DB
	clk       *clock.Clock
	configSvc *configsvc.Service
	devSvc    *devsvc.Service
	netSvc    *netsvc.Service
}

func New(config Config) (*Hub, error) {
	loggerConfig := zap.NewDevelopmentConfig()
	loggerConfig.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000000")
	loggerConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := loggerConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	dbOptions := badger.DefaultOptions(filepath.Join(config.DataDir, "db"))
	dbOptions.Logger = &badgerLogger{l: logger.Named("badger")}
	db, err := badger.Open(dbOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	clk := clock.New()
	configSvc := configsvc.New(logger.Named("config"))
	devSvc := devsvc.New(db, logger.Named("dev"), configSvc, config.DevicesConfig, clk)
	filters.Register(devSvc.Registry())
	netSvc := netsvc.New(logger.Named("net"), configSvc, config.NetworkConfig, devSvc, clk)

	return &Hub{
		config:    config,
		db:        db,
		clk:       clk,
		configSvc: configSvc,
		devSvc:    devSvc,
		netSvc:    netSvc,
	}, nil
}

func (h *Hub) Close() error {
	return h.db.Close()
}

type badgerLogger struct {
	l *zap.Logger
}

func (l badgerLogger) Errorf(msg string, args ...any) {
	l.l.Error(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Warningf(msg string, args ...any) {
	l.l.Warn(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Infof(msg string, args ...any) {
	l.l.Info(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Debugf(msg string, args ...any) {
	l.l.Debug(fmt.Sprintf(msg, args...))
}

// Run starts the hub and blocks until the context is cancelled. Startup
// fails on an invalid configuration; if the configuration becomes
// invalid after startup, the hub keeps running with the last valid one.
func (h *Hub) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return h.configSvc.Start(groupCtx)
	})
	group.Go(func() error {
		return h.devSvc.Start(groupCtx)
	})
	group.Go(func() error {
		return h.netSvc.Start(groupCtx)
	})

	if err := group.Wait(); err != nil {
		return fmt.Errorf("hub failed: %w", err)
	}
	return nil
}

func (h *Hub) Devices() *devsvc.Service {
	return h.devSvc
}
