package bus

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrBusClosed is returned when publishing to a closed EventBus.
var ErrBusClosed = errors.New("event bus closed")

// ErrUnknownAccount is returned when publishing a command for an account
// that has no outbound queue.
var ErrUnknownAccount = errors.New("unknown account")

const (
	inboundBuffer  = 256
	outboundBuffer = 32
)

// EventBus carries all traffic between session workers and the relay:
// a single shared inbound queue (many producers, one consumer) and one
// bounded outbound queue per account.
type EventBus struct {
	inbound  chan InboundEvent
	outbound map[string]chan OutboundCommand
	done     chan struct{}
	closed   atomic.Bool
}

// NewEventBus creates a bus with one outbound queue per account ID.
func NewEventBus(accountIDs []string) *EventBus {
	outbound := make(map[string]chan OutboundCommand, len(accountIDs))
	for _, id := range accountIDs {
		outbound[id] = make(chan OutboundCommand, outboundBuffer)
	}
	return &EventBus{
		inbound:  make(chan InboundEvent, inboundBuffer),
		outbound: outbound,
		done:     make(chan struct{}),
	}
}

func (b *EventBus) PublishInbound(ctx context.Context, ev InboundEvent) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	select {
	case b.inbound <- ev:
		return nil
	case <-b.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsumeInbound blocks until an event is available, the bus is closed,
// or the context is cancelled. The second return is false when no more
// events will arrive.
func (b *EventBus) ConsumeInbound(ctx context.Context) (InboundEvent, bool) {
	select {
	case ev, ok := <-b.inbound:
		return ev, ok
	case <-b.done:
		return InboundEvent{}, false
	case <-ctx.Done():
		return InboundEvent{}, false
	}
}

func (b *EventBus) PublishOutbound(ctx context.Context, cmd OutboundCommand) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	queue, ok := b.outbound[cmd.AccountID]
	if !ok {
		return ErrUnknownAccount
	}
	select {
	case queue <- cmd:
		return nil
	case <-b.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryConsumeOutbound performs a non-blocking check of an account's
// outbound queue. Workers call this at the top of every poll iteration.
func (b *EventBus) TryConsumeOutbound(accountID string) (OutboundCommand, bool) {
	queue, ok := b.outbound[accountID]
	if !ok {
		return OutboundCommand{}, false
	}
	select {
	case cmd, ok := <-queue:
		return cmd, ok
	default:
		return OutboundCommand{}, false
	}
}

// ConsumeOutbound blocks until a command is available for the account.
// Failed workers use this to keep draining their queue without polling.
func (b *EventBus) ConsumeOutbound(ctx context.Context, accountID string) (OutboundCommand, bool) {
	queue, ok := b.outbound[accountID]
	if !ok {
		return OutboundCommand{}, false
	}
	select {
	case cmd, ok := <-queue:
		return cmd, ok
	case <-b.done:
		return OutboundCommand{}, false
	case <-ctx.Done():
		return OutboundCommand{}, false
	}
}

// InboundDepth reports the number of events waiting for the relay.
func (b *EventBus) InboundDepth() int {
	return len(b.inbound)
}

// OutboundDepth reports the number of commands pending for an account.
func (b *EventBus) OutboundDepth(accountID string) int {
	queue, ok := b.outbound[accountID]
	if !ok {
		return 0
	}
	return len(queue)
}

// AccountIDs returns the accounts the bus was built for.
func (b *EventBus) AccountIDs() []string {
	ids := make([]string, 0, len(b.outbound))
	for id := range b.outbound {
		ids = append(ids, id)
	}
	return ids
}

func (b *EventBus) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.done)
	}
}
