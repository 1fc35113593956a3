// Package bridge composes the queues, session workers, relay, and
// correlation store into one supervised process.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tinyland-inc/waferry/pkg/bus"
	"github.com/tinyland-inc/waferry/pkg/config"
	"github.com/tinyland-inc/waferry/pkg/correlate"
	"github.com/tinyland-inc/waferry/pkg/metrics"
	"github.com/tinyland-inc/waferry/pkg/relay"
	"github.com/tinyland-inc/waferry/pkg/session"
	"github.com/tinyland-inc/waferry/pkg/telegram"
)

// Target is the relay target plus its reply intake loop.
type Target interface {
	relay.TargetClient
	Listen(ctx context.Context, onReply telegram.ReplyFunc) error
}

// AdapterFactory builds a fresh session adapter for an account. The
// supervisor calls it again after a worker crash so restarts get a
// clean session handle.
type AdapterFactory func(ctx context.Context, account config.AccountConfig) (session.Adapter, error)

type Bridge struct {
	cfg     *config.Config
	store   *correlate.Store
	target  Target
	factory AdapterFactory
	mets    *metrics.Metrics
	log     zerolog.Logger
	bus     *bus.EventBus

	mu      sync.Mutex
	workers map[string]*session.Worker
}

func New(cfg *config.Config, store *correlate.Store, target Target, factory AdapterFactory, mets *metrics.Metrics, log zerolog.Logger) *Bridge {
	return &Bridge{
		cfg:     cfg,
		store:   store,
		target:  target,
		factory: factory,
		mets:    mets,
		log:     log.With().Str("component", "bridge").Logger(),
		bus:     bus.NewEventBus(cfg.AccountIDs()),
		workers: make(map[string]*session.Worker),
	}
}

// Run starts everything and blocks until the context is cancelled,
// then shuts down within the configured grace period: workers finish
// any in-flight delivery, and the correlation store is flushed last.
func (b *Bridge) Run(ctx context.Context) error {
	rly := relay.New(b.bus, b.store, b.target, relay.Config{
		DeliveryAttempts: uint64(b.cfg.Relay.DeliveryAttempts),
		DeliveryInitial:  time.Duration(b.cfg.Relay.DeliveryInitialMS) * time.Millisecond,
		DeliveryMax:      time.Duration(b.cfg.Relay.DeliveryMaxMS) * time.Millisecond,
	}, b.log, b.mets)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		rly.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := b.target.Listen(ctx, rly.HandleReply); err != nil && ctx.Err() == nil {
			b.log.Error().Err(err).Msg("reply listener stopped")
		}
	}()

	for _, acct := range b.cfg.Accounts {
		wg.Add(1)
		go func(acct config.AccountConfig) {
			defer wg.Done()
			b.superviseWorker(ctx, acct)
		}(acct)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		b.maintainStore(ctx)
	}()

	var srv *http.Server
	if b.mets != nil && b.cfg.Bridge.MetricsAddr != "" {
		srv = b.serveMetrics(ctx, &wg)
	}

	b.log.Info().Int("accounts", len(b.cfg.Accounts)).Msg("bridge started")
	<-ctx.Done()
	b.log.Info().Msg("shutting down")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(b.cfg.Bridge.ShutdownGrace()):
		b.log.Warn().Msg("shutdown grace period elapsed, abandoning stragglers")
	}

	if srv != nil {
		srv.Shutdown(context.Background())
	}
	b.bus.Close()
	if err := b.store.Flush(context.Background()); err != nil {
		return fmt.Errorf("final store flush: %w", err)
	}
	b.log.Info().Msg("bridge stopped")
	return nil
}

// superviseWorker restarts a crashed worker with a fresh adapter, up
// to the configured budget. A worker that ends via its own Failed
// state is a reported condition, not a crash, and is not restarted.
func (b *Bridge) superviseWorker(ctx context.Context, acct config.AccountConfig) {
	restarts := 0
	for {
		if ctx.Err() != nil {
			return
		}
		err := b.runWorkerOnce(ctx, acct)
		if ctx.Err() != nil || err == nil {
			return
		}

		restarts++
		if restarts > b.cfg.Bridge.MaxWorkerRestarts {
			b.log.Error().Str("account", acct.ID).Int("restarts", restarts-1).
				Msg("worker restart budget exhausted")
			alert := fmt.Sprintf("worker for account %s keeps crashing (%v); giving up after %d restarts",
				acct.ID, err, restarts-1)
			if alertErr := b.target.DeliverAlert(ctx, alert); alertErr != nil {
				b.log.Error().Err(alertErr).Msg("process-level alert undelivered")
			}
			return
		}

		b.log.Warn().Err(err).Str("account", acct.ID).Int("restart", restarts).Msg("restarting crashed worker")
		if b.mets != nil {
			b.mets.WorkerRestarts.WithLabelValues(acct.ID).Inc()
		}
		if !sleep(ctx, b.cfg.Bridge.RestartDelay()) {
			return
		}
	}
}

// runWorkerOnce builds a fresh adapter and runs the worker to
// completion, converting panics into restartable errors.
func (b *Bridge) runWorkerOnce(ctx context.Context, acct config.AccountConfig) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()

	adapter, err := b.factory(ctx, acct)
	if err != nil {
		return fmt.Errorf("building adapter: %w", err)
	}

	w := session.NewWorker(acct.ID, adapter, b.bus, session.Config{
		DegradedThreshold: b.cfg.Session.DegradedThreshold,
		FailedThreshold:   b.cfg.Session.FailedThreshold,
		ReconnectAttempts: uint64(b.cfg.Session.ReconnectAttempts),
		ReconnectInitial:  time.Duration(b.cfg.Session.ReconnectInitialMS) * time.Millisecond,
		ReconnectMax:      time.Duration(b.cfg.Session.ReconnectMaxMS) * time.Millisecond,
		SendAttempts:      uint64(b.cfg.Session.SendAttempts),
		PollMinDelay:      b.cfg.Poll.MinDelay(),
		PollMaxDelay:      b.cfg.Poll.MaxDelay(),
	}, b.log)

	b.mu.Lock()
	b.workers[acct.ID] = w
	b.mu.Unlock()

	runErr := w.Run(ctx)
	if errors.Is(runErr, context.Canceled) || ctx.Err() != nil {
		return nil
	}
	return runErr
}

// maintainStore periodically evicts expired records and flushes.
func (b *Bridge) maintainStore(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.Store.FlushInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := b.store.EvictOlderThan(b.cfg.Store.Retention()); n > 0 {
				b.log.Debug().Int("evicted", n).Msg("expired correlation records evicted")
			}
			if n := b.store.TrimToCount(b.cfg.Store.MaxRecords); n > 0 {
				b.log.Debug().Int("trimmed", n).Msg("correlation store trimmed to cap")
			}
			if err := b.store.Flush(ctx); err != nil && ctx.Err() == nil {
				b.log.Error().Err(err).Msg("store flush failed")
			}
		}
	}
}

// serveMetrics exposes /metrics and /health and samples queue depths
// and session states once a second.
func (b *Bridge) serveMetrics(ctx context.Context, wg *sync.WaitGroup) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", b.mets.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: b.cfg.Bridge.MetricsAddr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.log.Error().Err(err).Msg("metrics server error")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.sample()
			}
		}
	}()
	return srv
}

func (b *Bridge) sample() {
	b.mets.InboundQueueDepth.Set(float64(b.bus.InboundDepth()))
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, w := range b.workers {
		b.mets.OutboundQueueDepth.WithLabelValues(id).Set(float64(b.bus.OutboundDepth(id)))
		b.mets.SetSessionState(id, string(w.State()))
	}
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
