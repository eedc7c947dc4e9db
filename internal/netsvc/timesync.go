package netsvc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/evhub-io/evhub/pkg/clock"
	"github.com/evhub-io/evhub/pkg/ring"
	"github.com/go-zeromq/zmq4"
	"go.uber.org/zap"
)

// ErrUnsynced is returned while fewer than two sync batches have
// completed. Callers must branch on it explicitly; offset and drift
// have no meaningful value before then.
var ErrUnsynced = errors.New("clock sync not established")

const (
	defaultSyncBatchSize = 5
	defaultSyncDepth     = 10
	defaultSyncInterval  = 200 * time.Millisecond
)

// SyncState holds the last N sync batch results and derives the offset
// and drift between the local and the remote hub clock. Only the sync
// engine writes; readers are serialized through the lock.
//
// The simple estimators are used consistently: drift is the elapsed
// remote time over elapsed local time between the two most recent
// batches, offset is the instantaneous difference at the most recent
// batch.
type SyncState struct {
	mu          sync.RWMutex
	rtts        *ring.Buffer[float64]
	localTimes  *ring.Buffer[float64]
	remoteTimes *ring.Buffer[float64]
}

func NewSyncState(depth int) *SyncState {
	if depth <= 0 {
		depth = defaultSyncDepth
	}
	return &SyncState{
		rtts:        ring.New[float64](depth),
		localTimes:  ring.New[float64](depth),
		remoteTimes: ring.New[float64](depth),
	}
}

func (s *SyncState) push(rtt, localTime, remoteTime float64) {
	s.mu.Lock()
	s.rtts.Append(rtt)
	s.localTimes.Append(localTime)
	s.remoteTimes.Append(remoteTime)
	s.mu.Unlock()
}

// Batches returns the number of batch results currently held.
func (s *SyncState) Batches() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rtts.Len()
}

// Established reports whether offset and drift are defined.
func (s *SyncState) Established() bool {
	return s.Batches() >= 2
}

// Drift returns the remote clock speed relative to the local clock.
func (s *SyncState) Drift() (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.localTimes.Len() < 2 {
		return 0, ErrUnsynced
	}
	elapsedLocal := s.localTimes.At(-1) - s.localTimes.At(-2)
	if elapsedLocal == 0 {
		return 0, ErrUnsynced
	}
	return (s.remoteTimes.At(-1) - s.remoteTimes.At(-2)) / elapsedLocal, nil
}

// Offset returns the remote minus local clock difference at the most
// recent batch.
func (s *SyncState) Offset() (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.localTimes.Len() < 2 {
		return 0, ErrUnsynced
	}
	return s.remoteTimes.At(-1) - s.localTimes.At(-1), nil
}

// Accuracy approximates the one-way latency as half the mean RTT over
// the held batches. Unlike drift and offset it is defined from the
// first batch on.
func (s *SyncState) Accuracy() (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.rtts.Len() == 0 {
		return 0, ErrUnsynced
	}
	return ring.Mean(s.rtts) / 2, nil
}

// LocalToRemote converts a local clock time to the remote timebase.
func (s *SyncState) LocalToRemote(t float64) (float64, error) {
	drift, err := s.Drift()
	if err != nil {
		return 0, err
	}
	offset, err := s.Offset()
	if err != nil {
		return 0, err
	}
	return drift*t + offset, nil
}

// RemoteToLocal converts a remote clock time to the local timebase.
func (s *SyncState) RemoteToLocal(t float64) (float64, error) {
	drift, err := s.Drift()
	if err != nil {
		return 0, err
	}
	if drift == 0 {
		return 0, fmt.Errorf("degenerate drift estimate")
	}
	offset, err := s.Offset()
	if err != nil {
		return 0, err
	}
	return (t - offset) / drift, nil
}

type syncSample struct {
	rtt      float64
	localMid float64
	remote   float64
}

type exchangeFunc func(ctx context.Context) (remoteTime float64, err error)

// SyncEngine periodically measures the offset and drift against a
// remote hub's sync responder. One batch of exchanges runs per tick and
// only the minimum-RTT sample of a batch enters the state, discarding
// samples inflated by queuing jitter.
type SyncEngine struct {
	log       *zap.Logger
	clk       *clock.Clock
	addr      string
	interval  time.Duration
	batchSize int
	state     *SyncState
}

type SyncEngineOption func(*SyncEngine)

func WithSyncInterval(d time.Duration) SyncEngineOption {
	return func(e *SyncEngine) {
		e.interval = d
	}
}

func WithSyncBatchSize(n int) SyncEngineOption {
	return func(e *SyncEngine) {
		e.batchSize = n
	}
}

func NewSyncEngine(log *zap.Logger, clk *clock.Clock, addr string, opts ...SyncEngineOption) *SyncEngine {
	e := &SyncEngine{
		log:       log,
		clk:       clk,
		addr:      addr,
		interval:  defaultSyncInterval,
		batchSize: defaultSyncBatchSize,
		state:     NewSyncState(defaultSyncDepth),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *SyncEngine) State() *SyncState {
	return e.state
}

// Run performs sync batches until ctx is cancelled. A transport error
// is fatal to the engine; the owning subscriber keeps running with the
// last established state.
func (e *SyncEngine) Run(ctx context.Context) error {
	sock := zmq4.NewReq(context.Background())
	defer sock.Close()
	if err := sock.Dial(e.addr); err != nil {
		return fmt.Errorf("failed to dial sync responder %s: %w", e.addr, err)
	}
	go func() {
		<-ctx.Done()
		sock.Close()
	}()

	exchange := func(ctx context.Context) (float64, error) {
		req, err := encodeSyncReq()
		if err != nil {
			return 0, err
		}
		if err := sock.Send(zmq4.NewMsg(req)); err != nil {
			return 0, err
		}
		msg, err := sock.Recv()
		if err != nil {
			return 0, err
		}
		return decodeSyncResp(msg.Frames[0])
	}

	e.log.Info("Clock sync engine started", zap.String("addr", e.addr))
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.runBatch(ctx, exchange); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("sync batch failed: %w", err)
			}
		}
	}
}

func (e *SyncEngine) runBatch(ctx context.Context, exchange exchangeFunc) error {
	best := syncSample{rtt: math.Inf(1)}
	for i := 0; i < e.batchSize; i++ {
		tSend := e.clk.Now()
		remote, err := exchange(ctx)
		tRecv := e.clk.Now()
		if err != nil {
			return err
		}
		rtt := tRecv - tSend
		if rtt < best.rtt {
			best = syncSample{rtt: rtt, localMid: (tSend + tRecv) / 2, remote: remote}
		}
	}
	e.state.push(best.rtt, best.localMid, best.remote)
	return nil
}
