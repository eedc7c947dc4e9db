package netsvc

import (
	"context"
	"fmt"

	"github.com/evhub-io/evhub/pkg/clock"
	"github.com/go-zeromq/zmq4"
	"go.uber.org/zap"
)

// SyncResponderConfig configures the sync time source exposed to remote
// subscribers.
type SyncResponderConfig struct {
	Bind string `json:"bind"`
}

// SyncResponder answers sync requests with the current hub time. It is
// the server half of the clock sync protocol and runs next to the event
// publisher.
type SyncResponder struct {
	log  *zap.Logger
	clk  *clock.Clock
	bind string
}

func NewSyncResponder(log *zap.Logger, clk *clock.Clock, cfg SyncResponderConfig) *SyncResponder {
	return &SyncResponder{
		log:  log.Named("sync"),
		clk:  clk,
		bind: cfg.Bind,
	}
}

func (r *SyncResponder) Run(ctx context.Context) error {
	sock := zmq4.NewRep(context.Background())
	defer sock.Close()
	if err := sock.Listen(r.bind); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", r.bind, err)
	}
	go func() {
		<-ctx.Done()
		sock.Close()
	}()
	r.log.Info("Sync responder started", zap.String("bind", r.bind))
	for {
		msg, err := sock.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to receive sync request: %w", err)
		}
		if err := decodeSyncReq(msg.Frames[0]); err != nil {
			r.log.Warn("Malformed sync request", zap.Error(err))
		}
		// The req/rep pattern requires a reply either way. The
		// timestamp is taken as late as possible.
		resp, err := encodeSyncResp(r.clk.Now())
		if err != nil {
			return fmt.Errorf("failed to encode sync response: %w", err)
		}
		if err := sock.Send(zmq4.NewMsg(resp)); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to send sync response: %w", err)
		}
	}
}
