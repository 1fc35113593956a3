package run

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/tinyland-inc/waferry/cmd/waferry/internal"
	"github.com/tinyland-inc/waferry/pkg/bridge"
	"github.com/tinyland-inc/waferry/pkg/config"
	"github.com/tinyland-inc/waferry/pkg/correlate"
	"github.com/tinyland-inc/waferry/pkg/logger"
	"github.com/tinyland-inc/waferry/pkg/metrics"
	"github.com/tinyland-inc/waferry/pkg/session"
	"github.com/tinyland-inc/waferry/pkg/telegram"
	"github.com/tinyland-inc/waferry/pkg/whatsapp"
)

func runCmd(debug bool, configPath string) error {
	cfg, err := internal.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if cfg.Telegram.Token == "" || cfg.Telegram.ChatID == 0 {
		return fmt.Errorf("telegram token and chat_id are required")
	}

	level := cfg.Bridge.LogLevel
	if debug {
		level = "debug"
	}
	log := logger.New(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The store must be loaded before the relay accepts any traffic so
	// replies to pre-restart messages stay resolvable.
	store, err := correlate.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("error opening correlation store: %w", err)
	}
	defer store.Close()
	log.Info().Int("records", store.Len()).Str("path", cfg.Store.Path).Msg("correlation store loaded")

	target, err := telegram.New(cfg.Telegram.Token, cfg.Telegram.ChatID, log)
	if err != nil {
		return fmt.Errorf("error creating telegram client: %w", err)
	}

	factory := func(ctx context.Context, acct config.AccountConfig) (session.Adapter, error) {
		driver, err := whatsapp.Dial(ctx, acct.DriverURL, log)
		if err != nil {
			return nil, err
		}
		return whatsapp.NewAdapter(driver, acct.ProfileDir, log), nil
	}

	b := bridge.New(cfg, store, target, factory, metrics.New(), log)
	return b.Run(ctx)
}
