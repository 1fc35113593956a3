package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Accounts []AccountConfig `json:"accounts"`
	Telegram TelegramConfig  `json:"telegram"`
	Poll     PollConfig      `json:"poll"`
	Session  SessionConfig   `json:"session"`
	Relay    RelayConfig     `json:"relay"`
	Store    StoreConfig     `json:"store"`
	Bridge   BridgeConfig    `json:"bridge"`
}

// AccountConfig describes one WhatsApp account: where its driver
// listens and which persisted browser profile it uses.
type AccountConfig struct {
	ID         string `json:"id"`
	DriverURL  string `json:"driver_url"`
	ProfileDir string `json:"profile_dir"`
}

type TelegramConfig struct {
	Token  string `env:"WAFERRY_TELEGRAM_TOKEN"   json:"token"`
	ChatID int64  `env:"WAFERRY_TELEGRAM_CHAT_ID" json:"chat_id"`
}

type PollConfig struct {
	MinDelayMS int `env:"WAFERRY_POLL_MIN_DELAY_MS" json:"min_delay_ms"`
	MaxDelayMS int `env:"WAFERRY_POLL_MAX_DELAY_MS" json:"max_delay_ms"`
}

type SessionConfig struct {
	DegradedThreshold  int `env:"WAFERRY_SESSION_DEGRADED_THRESHOLD"  json:"degraded_threshold"`
	FailedThreshold    int `env:"WAFERRY_SESSION_FAILED_THRESHOLD"    json:"failed_threshold"`
	ReconnectAttempts  int `env:"WAFERRY_SESSION_RECONNECT_ATTEMPTS"  json:"reconnect_attempts"`
	ReconnectInitialMS int `env:"WAFERRY_SESSION_RECONNECT_INITIAL_MS" json:"reconnect_initial_ms"`
	ReconnectMaxMS     int `env:"WAFERRY_SESSION_RECONNECT_MAX_MS"    json:"reconnect_max_ms"`
	SendAttempts       int `env:"WAFERRY_SESSION_SEND_ATTEMPTS"       json:"send_attempts"`
}

type RelayConfig struct {
	DeliveryAttempts  int `env:"WAFERRY_RELAY_DELIVERY_ATTEMPTS"   json:"delivery_attempts"`
	DeliveryInitialMS int `env:"WAFERRY_RELAY_DELIVERY_INITIAL_MS" json:"delivery_initial_ms"`
	DeliveryMaxMS     int `env:"WAFERRY_RELAY_DELIVERY_MAX_MS"     json:"delivery_max_ms"`
}

type StoreConfig struct {
	Path                 string `env:"WAFERRY_STORE_PATH"           json:"path"`
	RetentionHours       int    `env:"WAFERRY_STORE_RETENTION_HOURS" json:"retention_hours"`
	MaxRecords           int    `env:"WAFERRY_STORE_MAX_RECORDS"    json:"max_records"`
	FlushIntervalSeconds int    `env:"WAFERRY_STORE_FLUSH_INTERVAL_SECONDS" json:"flush_interval_seconds"`
}

type BridgeConfig struct {
	MetricsAddr          string `env:"WAFERRY_METRICS_ADDR"           json:"metrics_addr"`
	ShutdownGraceSeconds int    `env:"WAFERRY_SHUTDOWN_GRACE_SECONDS" json:"shutdown_grace_seconds"`
	MaxWorkerRestarts    int    `env:"WAFERRY_MAX_WORKER_RESTARTS"    json:"max_worker_restarts"`
	RestartDelaySeconds  int    `env:"WAFERRY_RESTART_DELAY_SECONDS"  json:"restart_delay_seconds"`
	LogLevel             string `env:"WAFERRY_LOG_LEVEL"              json:"log_level"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".waferry")
	return &Config{
		Accounts: []AccountConfig{
			{ID: "wa-1", DriverURL: "ws://127.0.0.1:9301", ProfileDir: filepath.Join(base, "profiles", "wa-1")},
			{ID: "wa-2", DriverURL: "ws://127.0.0.1:9302", ProfileDir: filepath.Join(base, "profiles", "wa-2")},
		},
		Poll: PollConfig{
			MinDelayMS: 500,
			MaxDelayMS: 30000,
		},
		Session: SessionConfig{
			DegradedThreshold:  3,
			FailedThreshold:    10,
			ReconnectAttempts:  5,
			ReconnectInitialMS: 1000,
			ReconnectMaxMS:     30000,
			SendAttempts:       3,
		},
		Relay: RelayConfig{
			DeliveryAttempts:  4,
			DeliveryInitialMS: 500,
			DeliveryMaxMS:     10000,
		},
		Store: StoreConfig{
			Path:                 filepath.Join(base, "correlation.db"),
			RetentionHours:       72,
			MaxRecords:           10000,
			FlushIntervalSeconds: 30,
		},
		Bridge: BridgeConfig{
			MetricsAddr:          "127.0.0.1:9090",
			ShutdownGraceSeconds: 10,
			MaxWorkerRestarts:    5,
			RestartDelaySeconds:  5,
			LogLevel:             "info",
		},
	}
}

// LoadConfig reads the JSON config at path, overlays environment
// variables, and validates. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, cfg.Validate()
		}
		return nil, err
	}

	// Same slice-overlay caveat as any defaults-then-unmarshal scheme:
	// decoding into a non-empty slice merges element-wise, so clear the
	// default accounts whenever the user supplies their own.
	var probe struct {
		Accounts []AccountConfig `json:"accounts"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}
	if len(probe.Accounts) > 0 {
		cfg.Accounts = nil
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// SaveConfig writes the config as indented JSON, creating the parent
// directory if needed.
func SaveConfig(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account is required")
	}
	seen := make(map[string]struct{}, len(c.Accounts))
	for _, a := range c.Accounts {
		if a.ID == "" {
			return fmt.Errorf("account id must not be empty")
		}
		if _, dup := seen[a.ID]; dup {
			return fmt.Errorf("duplicate account id %q", a.ID)
		}
		seen[a.ID] = struct{}{}
		if a.DriverURL == "" {
			return fmt.Errorf("account %q: driver_url is required", a.ID)
		}
	}
	return nil
}

func (c *Config) AccountIDs() []string {
	ids := make([]string, len(c.Accounts))
	for i, a := range c.Accounts {
		ids[i] = a.ID
	}
	return ids
}

func (c *PollConfig) MinDelay() time.Duration {
	return time.Duration(c.MinDelayMS) * time.Millisecond
}

func (c *PollConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMS) * time.Millisecond
}

func (c *StoreConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

func (c *StoreConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalSeconds) * time.Second
}

func (c *BridgeConfig) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

func (c *BridgeConfig) RestartDelay() time.Duration {
	return time.Duration(c.RestartDelaySeconds) * time.Second
}
