package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/tinyland-inc/waferry/pkg/bus"
	"github.com/tinyland-inc/waferry/pkg/poll"
)

// Config controls the worker's health thresholds and retry budgets.
type Config struct {
	DegradedThreshold int           // consecutive poll failures before Degraded
	FailedThreshold   int           // consecutive poll failures before Reconnecting
	ReconnectAttempts uint64        // bounded reconnect retries before Failed
	ReconnectInitial  time.Duration // reconnect backoff initial interval
	ReconnectMax      time.Duration // reconnect backoff ceiling
	SendAttempts      uint64        // local retry budget for one command delivery
	PollMinDelay      time.Duration
	PollMaxDelay      time.Duration
}

func (c Config) withDefaults() Config {
	if c.DegradedThreshold <= 0 {
		c.DegradedThreshold = 3
	}
	if c.FailedThreshold <= 0 {
		c.FailedThreshold = 10
	}
	if c.ReconnectAttempts == 0 {
		c.ReconnectAttempts = 5
	}
	if c.ReconnectInitial <= 0 {
		c.ReconnectInitial = time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 30 * time.Second
	}
	if c.SendAttempts == 0 {
		c.SendAttempts = 3
	}
	return c
}

// Worker owns one external account's session lifecycle.
type Worker struct {
	accountID string
	adapter   Adapter
	bus       *bus.EventBus
	sched     *poll.Scheduler
	cfg       Config
	log       zerolog.Logger

	mu       sync.Mutex
	state    State
	failures int
}

func NewWorker(accountID string, adapter Adapter, eventBus *bus.EventBus, cfg Config, log zerolog.Logger) *Worker {
	cfg = cfg.withDefaults()
	return &Worker{
		accountID: accountID,
		adapter:   adapter,
		bus:       eventBus,
		sched:     poll.NewScheduler(cfg.PollMinDelay, cfg.PollMaxDelay),
		cfg:       cfg,
		log:       log.With().Str("component", "session").Str("account", accountID).Logger(),
		state:     StateConnected,
	}
}

func (w *Worker) AccountID() string { return w.accountID }

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Run executes the worker loop until the context is cancelled: drain
// pending commands, poll for new activity, sleep the scheduler's
// current delay. A worker that reaches Failed stops polling but keeps
// draining its outbound queue with immediate failure reports.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Msg("session worker started")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if w.State() == StateFailed {
			return w.drainFailed(ctx)
		}

		w.applyCommands(ctx)

		count, err := w.pollOnce(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.recordPollFailure(ctx, err)
		case count > 0:
			w.recordSuccess()
			w.sched.OnActivity()
		default:
			w.recordSuccess()
			w.sched.OnEmptyPoll()
		}

		if !sleep(ctx, w.sched.CurrentDelay()) {
			return ctx.Err()
		}
	}
}

// pollOnce reads all unread activity and emits one inbound event per
// new message. Returns the number of events emitted.
func (w *Worker) pollOnce(ctx context.Context) (int, error) {
	chats, err := w.adapter.ListUnreadChats(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing unread chats: %w", err)
	}

	count := 0
	for _, chat := range chats {
		if err := w.adapter.OpenChat(ctx, chat); err != nil {
			return count, fmt.Errorf("opening chat %q: %w", chat.Name, err)
		}
		msgs, err := w.adapter.ReadNewMessages(ctx, chat)
		if err != nil {
			return count, fmt.Errorf("reading chat %q: %w", chat.Name, err)
		}
		for _, m := range msgs {
			ev := bus.InboundEvent{
				AccountID:  w.accountID,
				ChatID:     chat.ID,
				ChatName:   chat.Name,
				Sender:     m.Sender,
				Kind:       m.Kind,
				Text:       m.Text,
				Media:      m.Media,
				ObservedAt: time.Now(),
			}
			if err := w.bus.PublishInbound(ctx, ev); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}

// applyCommands drains the outbound queue without blocking.
func (w *Worker) applyCommands(ctx context.Context) {
	for {
		cmd, ok := w.bus.TryConsumeOutbound(w.accountID)
		if !ok {
			return
		}
		if err := w.execute(ctx, cmd); err != nil {
			w.log.Error().Err(err).Str("chat", chatLabel(cmd)).Msg("command delivery failed")
			w.emitStatus(ctx, fmt.Sprintf("could not deliver reply to %s: %v", chatLabel(cmd), err))
			continue
		}
		w.recordSuccess()
		w.sched.OnActivity()
	}
}

// execute delivers one command with a bounded local retry. An execution
// already in flight finishes even if the worker is being cancelled, so
// the send itself runs on an uncancellable context while the retry
// schedule still honors cancellation.
func (w *Worker) execute(ctx context.Context, cmd bus.OutboundCommand) error {
	chat := ChatHandle{ID: cmd.ChatID, Name: cmd.ChatName}
	sendCtx := context.WithoutCancel(ctx)

	attempt := func() error {
		if err := w.adapter.OpenChat(sendCtx, chat); err != nil {
			return err
		}
		switch cmd.Kind {
		case bus.KindMedia:
			if cmd.Media == nil {
				return backoff.Permanent(fmt.Errorf("media command without media payload"))
			}
			return w.adapter.SendMedia(sendCtx, chat, cmd.Media.Path)
		default:
			return w.adapter.SendText(sendCtx, chat, cmd.Text)
		}
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 200 * time.Millisecond
	exp.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(exp, w.cfg.SendAttempts-1), ctx)
	return backoff.Retry(attempt, b)
}

func (w *Worker) recordSuccess() {
	w.mu.Lock()
	w.failures = 0
	recovered := w.state == StateDegraded
	if recovered {
		w.state = StateConnected
	}
	w.mu.Unlock()
	if recovered {
		w.log.Info().Msg("session recovered")
	}
}

func (w *Worker) recordPollFailure(ctx context.Context, err error) {
	if IsFatal(err) {
		w.fail(ctx, err)
		return
	}

	w.mu.Lock()
	w.failures++
	failures := w.failures
	state := w.state
	w.mu.Unlock()

	w.log.Warn().Err(err).Int("consecutive_failures", failures).Msg("poll failed")

	if failures >= w.cfg.FailedThreshold {
		w.reconnect(ctx)
		return
	}
	if failures >= w.cfg.DegradedThreshold && state == StateConnected {
		w.setState(StateDegraded)
		w.emitStatus(ctx, fmt.Sprintf("session degraded: %d consecutive poll failures", failures))
	}
}

// reconnect attempts to re-establish the session with exponential
// backoff. Exhaustion or an unrecoverable session moves the worker to
// its terminal Failed state.
func (w *Worker) reconnect(ctx context.Context) {
	w.setState(StateReconnecting)
	w.emitStatus(ctx, "session lost, attempting to reconnect")
	w.log.Warn().Msg("reconnecting session")

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = w.cfg.ReconnectInitial
	exp.MaxInterval = w.cfg.ReconnectMax
	exp.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(exp, w.cfg.ReconnectAttempts-1), ctx)

	err := backoff.Retry(func() error {
		err := w.adapter.Reconnect(ctx)
		if err == nil {
			return nil
		}
		if IsFatal(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.fail(ctx, err)
		return
	}

	w.mu.Lock()
	w.state = StateConnected
	w.failures = 0
	w.mu.Unlock()
	w.sched.OnActivity()
	w.emitStatus(ctx, "session reconnected")
	w.log.Info().Msg("session reconnected")
}

func (w *Worker) fail(ctx context.Context, cause error) {
	w.setState(StateFailed)
	w.log.Error().Err(cause).Msg("session failed, manual intervention required")
	w.emitStatus(ctx, fmt.Sprintf("session failed, manual intervention required: %v", cause))
}

// drainFailed keeps consuming outbound commands after the session is
// gone, reporting each as an immediate delivery failure so callers are
// not silently dropped.
func (w *Worker) drainFailed(ctx context.Context) error {
	for {
		cmd, ok := w.bus.ConsumeOutbound(ctx, w.accountID)
		if !ok {
			return ctx.Err()
		}
		w.emitStatus(ctx, fmt.Sprintf("reply to %s not delivered: session is down", chatLabel(cmd)))
	}
}

func (w *Worker) emitStatus(ctx context.Context, text string) {
	ev := bus.InboundEvent{
		AccountID:  w.accountID,
		Kind:       bus.KindStatus,
		Text:       text,
		ObservedAt: time.Now(),
	}
	if err := w.bus.PublishInbound(ctx, ev); err != nil {
		w.log.Warn().Err(err).Msg("status event dropped")
	}
}

func chatLabel(cmd bus.OutboundCommand) string {
	if cmd.ChatName != "" {
		return cmd.ChatName
	}
	return cmd.ChatID
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
