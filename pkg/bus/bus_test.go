package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishConsumeInbound(t *testing.T) {
	b := NewEventBus([]string{"wa-1"})
	defer b.Close()

	ev := InboundEvent{AccountID: "wa-1", ChatID: "c1", ChatName: "Mom", Sender: "Mom", Kind: KindText, Text: "hi"}
	require.NoError(t, b.PublishInbound(context.Background(), ev))

	got, ok := b.ConsumeInbound(context.Background())
	require.True(t, ok)
	assert.Equal(t, ev, got)
}

func TestOutboundPerAccountIsolation(t *testing.T) {
	b := NewEventBus([]string{"wa-1", "wa-2"})
	defer b.Close()

	cmd := OutboundCommand{AccountID: "wa-2", ChatName: "Mom", Kind: KindText, Text: "hello"}
	require.NoError(t, b.PublishOutbound(context.Background(), cmd))

	_, ok := b.TryConsumeOutbound("wa-1")
	assert.False(t, ok, "wa-1 must not see wa-2 commands")

	got, ok := b.TryConsumeOutbound("wa-2")
	require.True(t, ok)
	assert.Equal(t, cmd, got)

	_, ok = b.TryConsumeOutbound("wa-2")
	assert.False(t, ok, "queue should be empty after consume")
}

func TestPublishOutboundUnknownAccount(t *testing.T) {
	b := NewEventBus([]string{"wa-1"})
	defer b.Close()

	err := b.PublishOutbound(context.Background(), OutboundCommand{AccountID: "nope"})
	assert.ErrorIs(t, err, ErrUnknownAccount)
}

func TestOutboundFIFO(t *testing.T) {
	b := NewEventBus([]string{"wa-1"})
	defer b.Close()

	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, b.PublishOutbound(context.Background(), OutboundCommand{
			AccountID: "wa-1", Kind: KindText, Text: text,
		}))
	}
	for _, want := range []string{"one", "two", "three"} {
		cmd, ok := b.TryConsumeOutbound("wa-1")
		require.True(t, ok)
		assert.Equal(t, want, cmd.Text)
	}
}

func TestClosedBusRejectsPublish(t *testing.T) {
	b := NewEventBus([]string{"wa-1"})
	b.Close()

	err := b.PublishInbound(context.Background(), InboundEvent{AccountID: "wa-1"})
	assert.ErrorIs(t, err, ErrBusClosed)

	err = b.PublishOutbound(context.Background(), OutboundCommand{AccountID: "wa-1"})
	assert.ErrorIs(t, err, ErrBusClosed)

	_, ok := b.ConsumeInbound(context.Background())
	assert.False(t, ok)
}

func TestConsumeInboundHonorsCancellation(t *testing.T) {
	b := NewEventBus([]string{"wa-1"})
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, ok := b.ConsumeInbound(ctx)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDepthReporting(t *testing.T) {
	b := NewEventBus([]string{"wa-1"})
	defer b.Close()

	assert.Equal(t, 0, b.InboundDepth())
	require.NoError(t, b.PublishInbound(context.Background(), InboundEvent{AccountID: "wa-1"}))
	require.NoError(t, b.PublishOutbound(context.Background(), OutboundCommand{AccountID: "wa-1"}))
	assert.Equal(t, 1, b.InboundDepth())
	assert.Equal(t, 1, b.OutboundDepth("wa-1"))
	assert.Equal(t, 0, b.OutboundDepth("missing"))
}
