package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestKeyedDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewBus[string, int](zap.NewNop())
	require.NoError(t, b.Start(ctx))
	<-b.Ready()

	subA := b.Subscribe(ctx, "a")
	subB := b.Subscribe(ctx, "b")

	go b.Publish(ctx, "a", 1)
	select {
	case msg := <-subA:
		require.Equal(t, "a", msg.Key)
		require.Equal(t, 1, msg.Message)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for keyed delivery")
	}
	select {
	case msg := <-subB:
		t.Fatalf("unexpected delivery to b: %v", msg)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestGlobalDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewBus[string, int](zap.NewNop())
	require.NoError(t, b.Start(ctx))

	all := b.Subscribe(ctx)
	go b.Publish(ctx, "x", 7)
	select {
	case msg := <-all:
		require.Equal(t, 7, msg.Message)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for global delivery")
	}
}

func TestSubscriberChannelClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewBus[string, int](zap.NewNop())
	require.NoError(t, b.Start(ctx))

	subCtx, subCancel := context.WithCancel(ctx)
	sub := b.Subscribe(subCtx, "a")
	subCancel()

	select {
	case _, ok := <-sub:
		require.False(t, ok, "channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	cancel()
}
