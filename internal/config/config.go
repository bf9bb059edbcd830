package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"adwatch/internal/model"
)

const defaultAdminToken = "CHANGEME_ADMIN_TOKEN"

type Config struct {
	ListenAddress        string   `json:"listen_address"`
	AdminToken           string   `json:"admin_token"`
	AdminBindCIDRs       []string `json:"admin_bind_cidrs"`
	StorageDriver        string   `json:"storage_driver"` // "sqlite" or "postgres"
	DatabasePath         string   `json:"database_path"`
	PostgresDSN          string   `json:"postgres_dsn"`
	FetchAdapter         string   `json:"fetch_adapter"` // "browser", "http" or "mock"
	MarketplaceBaseURL   string   `json:"marketplace_base_url"`
	UserAgent            string   `json:"user_agent"`
	CheckIntervalMinutes int      `json:"check_interval_minutes"`
	CheckJitterSeconds   int      `json:"check_jitter_seconds"`
	FetchTimeoutSeconds  int      `json:"fetch_timeout_seconds"`
	NotifyQueueSize      int      `json:"notify_queue_size"`
	TelegramBotToken     string   `json:"telegram_bot_token"`
	TelegramChatID       string   `json:"telegram_chat_id"`
	HTTPReadTimeoutSec   int      `json:"http_read_timeout_sec"`
	HTTPWriteTimeoutSec  int      `json:"http_write_timeout_sec"`
	HTTPIdleTimeoutSec   int      `json:"http_idle_timeout_sec"`
	MaxBodyBytes         int64    `json:"max_body_bytes"`
	LogLevel             string   `json:"log_level"`
	LogFormat            string   `json:"log_format"`

	Search model.SearchParams `json:"search_params"`
}

func defaultConfig() Config {
	return Config{
		ListenAddress:        ":8080",
		AdminToken:           defaultAdminToken,
		AdminBindCIDRs:       []string{"127.0.0.1/32", "::1/128", "192.168.0.0/16", "10.0.0.0/8"},
		StorageDriver:        "sqlite",
		DatabasePath:         "adwatch.db",
		FetchAdapter:         "http",
		MarketplaceBaseURL:   "https://www.avito.ru",
		UserAgent:            "adwatch/1.0",
		CheckIntervalMinutes: 5,
		CheckJitterSeconds:   20,
		FetchTimeoutSeconds:  45,
		NotifyQueueSize:      64,
		HTTPReadTimeoutSec:   10,
		HTTPWriteTimeoutSec:  20,
		HTTPIdleTimeoutSec:   60,
		MaxBodyBytes:         1 << 20,
		LogLevel:             "info",
		LogFormat:            "console",
		Search: model.SearchParams{
			Sort: "date",
		},
	}
}

// LoadOrInit reads the config file, creating it with defaults when missing.
// The second return value reports whether the file was just created.
// Secrets may also come from the environment (or a .env file): TELEGRAM_BOT_TOKEN,
// TELEGRAM_CHAT_ID, POSTGRES_DSN and ADMIN_TOKEN override the file when set.
func LoadOrInit(path string) (Config, bool, error) {
	path = filepath.Clean(path)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := defaultConfig()
		if err := writeConfig(path, cfg); err != nil {
			return Config{}, false, err
		}
		return cfg, true, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, false, fmt.Errorf("read config: %w", err)
	}
	cfg := defaultConfig()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, false, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, false, err
	}
	return cfg, false, nil
}

func (c *Config) applyEnv() {
	_ = godotenv.Load()
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")); v != "" {
		c.TelegramBotToken = v
	}
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")); v != "" {
		c.TelegramChatID = v
	}
	if v := strings.TrimSpace(os.Getenv("POSTGRES_DSN")); v != "" {
		c.PostgresDSN = v
	}
	if v := strings.TrimSpace(os.Getenv("ADMIN_TOKEN")); v != "" {
		c.AdminToken = v
	}
}

func writeConfig(path string, cfg Config) error {
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return os.WriteFile(path, b, 0o600)
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return errors.New("listen_address is required")
	}
	if c.AdminToken == "" || c.AdminToken == defaultAdminToken {
		return errors.New("admin_token must be set to a non-default value")
	}
	switch c.StorageDriver {
	case "sqlite":
		if strings.TrimSpace(c.DatabasePath) == "" {
			return errors.New("database_path is required for the sqlite driver")
		}
	case "postgres":
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return errors.New("postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage_driver %q", c.StorageDriver)
	}
	switch c.FetchAdapter {
	case "browser", "http", "mock":
	default:
		return fmt.Errorf("unknown fetch_adapter %q", c.FetchAdapter)
	}
	if strings.TrimSpace(c.MarketplaceBaseURL) == "" {
		return errors.New("marketplace_base_url is required")
	}
	if c.CheckIntervalMinutes < 1 || c.CheckIntervalMinutes > 24*60 {
		return errors.New("check_interval_minutes out of range")
	}
	if c.CheckJitterSeconds < 0 || c.CheckJitterSeconds > 600 {
		return errors.New("check_jitter_seconds out of range")
	}
	if c.FetchTimeoutSeconds < 5 || c.FetchTimeoutSeconds > 600 {
		return errors.New("fetch_timeout_seconds out of range")
	}
	if c.NotifyQueueSize < 1 || c.NotifyQueueSize > 4096 {
		return errors.New("notify_queue_size out of range")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("max_body_bytes must be positive")
	}
	return nil
}
