// Package relay is the sole bridge between the inbound event stream
// and the relay target. It consumes events strictly one at a time, so
// delivery order matches observation order within each account, and it
// owns every read and write of the correlation store.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/tinyland-inc/waferry/pkg/bus"
	"github.com/tinyland-inc/waferry/pkg/correlate"
	"github.com/tinyland-inc/waferry/pkg/metrics"
)

// Config controls the relay's delivery retry budget.
type Config struct {
	DeliveryAttempts uint64        // attempts per event before it is dropped
	DeliveryInitial  time.Duration // retry backoff initial interval
	DeliveryMax      time.Duration // retry backoff ceiling
}

func (c Config) withDefaults() Config {
	if c.DeliveryAttempts == 0 {
		c.DeliveryAttempts = 4
	}
	if c.DeliveryInitial <= 0 {
		c.DeliveryInitial = 500 * time.Millisecond
	}
	if c.DeliveryMax <= 0 {
		c.DeliveryMax = 10 * time.Second
	}
	return c
}

// Relay consumes inbound events, forwards them to the target, and
// resolves replies back to per-account outbound queues.
type Relay struct {
	bus    *bus.EventBus
	store  *correlate.Store
	target TargetClient
	cfg    Config
	log    zerolog.Logger
	mets   *metrics.Metrics
}

func New(eventBus *bus.EventBus, store *correlate.Store, target TargetClient, cfg Config, log zerolog.Logger, mets *metrics.Metrics) *Relay {
	return &Relay{
		bus:    eventBus,
		store:  store,
		target: target,
		cfg:    cfg.withDefaults(),
		log:    log.With().Str("component", "relay").Logger(),
		mets:   mets,
	}
}

// Run consumes inbound events until the context is cancelled or the
// bus is closed.
func (r *Relay) Run(ctx context.Context) error {
	r.log.Info().Msg("relay started")
	for {
		ev, ok := r.bus.ConsumeInbound(ctx)
		if !ok {
			return ctx.Err()
		}
		r.handleEvent(ctx, ev)
	}
}

func (r *Relay) handleEvent(ctx context.Context, ev bus.InboundEvent) {
	if ev.Kind == bus.KindStatus {
		// Status events are not repliable: plain alert, no correlation.
		text := fmt.Sprintf("[%s] %s", ev.AccountID, ev.Text)
		if err := r.deliverAlert(ctx, text); err != nil {
			r.log.Error().Err(err).Str("account", ev.AccountID).Msg("status alert undelivered, dropping")
		}
		return
	}

	label := OriginLabel(ev)
	key, err := r.deliver(ctx, label, ev)
	if err != nil {
		r.log.Error().Err(err).
			Str("account", ev.AccountID).
			Str("chat", ev.ChatName).
			Msg("event undelivered after retry budget, dropping")
		if r.mets != nil {
			r.mets.EventsDropped.Inc()
		}
		return
	}

	r.store.Put(key, correlate.Record{
		AccountID:      ev.AccountID,
		ChatID:         ev.ChatID,
		ChatName:       ev.ChatName,
		LastActivityAt: time.Now(),
	})
	if r.mets != nil {
		r.mets.EventsDelivered.Inc()
	}
	r.log.Debug().Str("key", key).Str("account", ev.AccountID).Str("chat", ev.ChatName).Msg("event delivered")
}

// deliver forwards one event with bounded retry and returns the key
// the target assigned to the delivered message.
func (r *Relay) deliver(ctx context.Context, label string, ev bus.InboundEvent) (string, error) {
	var key string
	attempt := func() error {
		var err error
		switch ev.Kind {
		case bus.KindMedia:
			if ev.Media == nil {
				return backoff.Permanent(errors.New("media event without media payload"))
			}
			key, err = r.target.DeliverMedia(ctx, label, ev.Media.Path, ev.Text)
		default:
			key, err = r.target.DeliverText(ctx, label, ev.Text)
		}
		return err
	}
	if err := backoff.Retry(attempt, r.retrySchedule(ctx)); err != nil {
		return "", err
	}
	return key, nil
}

func (r *Relay) deliverAlert(ctx context.Context, text string) error {
	return backoff.Retry(func() error {
		return r.target.DeliverAlert(ctx, text)
	}, r.retrySchedule(ctx))
}

func (r *Relay) retrySchedule(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.cfg.DeliveryInitial
	exp.MaxInterval = r.cfg.DeliveryMax
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, r.cfg.DeliveryAttempts-1), ctx)
}

// HandleReply resolves a reply from the relay target back to its
// originating account and chat. Unknown or expired keys produce an
// operator-visible alert instead of a command.
func (r *Relay) HandleReply(ctx context.Context, replyToKey, content string) {
	rec, err := r.store.Get(replyToKey)
	if err != nil {
		r.log.Warn().Str("key", replyToKey).Msg("reply references unknown or expired message")
		if r.mets != nil {
			r.mets.RepliesUnresolved.Inc()
		}
		alert := fmt.Sprintf("cannot route reply: the original conversation for message %s is unknown or expired", replyToKey)
		if alertErr := r.deliverAlert(ctx, alert); alertErr != nil {
			r.log.Error().Err(alertErr).Msg("resolution failure alert undelivered")
		}
		return
	}

	cmd := bus.OutboundCommand{
		AccountID: rec.AccountID,
		ChatID:    rec.ChatID,
		ChatName:  rec.ChatName,
		Kind:      bus.KindText,
		Text:      content,
	}
	if err := r.bus.PublishOutbound(ctx, cmd); err != nil {
		r.log.Error().Err(err).Str("account", rec.AccountID).Msg("reply enqueue failed")
		return
	}
	r.store.Touch(replyToKey, time.Now())
	if r.mets != nil {
		r.mets.RepliesResolved.Inc()
	}
	r.log.Debug().Str("key", replyToKey).Str("account", rec.AccountID).Str("chat", rec.ChatName).Msg("reply routed")
}

// OriginLabel renders the human-readable origin tag prepended to every
// relayed message, e.g. "[wa-1/Mom] Mom:".
func OriginLabel(ev bus.InboundEvent) string {
	label := fmt.Sprintf("[%s/%s]", ev.AccountID, ev.ChatName)
	if ev.Sender != "" && ev.Sender != ev.ChatName {
		label += " " + ev.Sender + ":"
	}
	return label
}
