// HookClaw - Telegram webhook gateway
// License: MIT

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var (
	ErrMissingToken       = errors.New("telegram token is required")
	ErrMissingAdminChatID = errors.New("admin chat id is required")
	ErrMissingPublicURL   = errors.New("public url is required to register the webhook")
)

type Config struct {
	Telegram    TelegramConfig `yaml:"telegram" envPrefix:"TELEGRAM_"`
	Server      ServerConfig   `yaml:"server"`
	Queue       QueueConfig    `yaml:"queue"`
	Session     SessionConfig  `yaml:"session" envPrefix:"SESSION_"`
	Log         LogConfig      `yaml:"log" envPrefix:"LOG_"`
	AdminChatID int64          `yaml:"admin_chat_id" env:"ADMIN_CHAT_ID"`
	PublicURL   string         `yaml:"public_url" env:"PUBLIC_URL"`
	SkipWebhook bool           `yaml:"skip_webhook" env:"SKIP_WEBHOOK"`
}

type TelegramConfig struct {
	Token       string `yaml:"token" env:"TOKEN"`
	Proxy       string `yaml:"proxy" env:"PROXY"`
	BotUsername string `yaml:"bot_username" env:"BOT_USERNAME"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" env:"SERVER_MAX_BODY_BYTES"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// QueueConfig bounds the update queue. Limit 0 keeps it unbounded.
type QueueConfig struct {
	Limit int `yaml:"limit" env:"QUEUE_LIMIT"`
}

// SessionConfig controls optional context snapshots. An empty Storage keeps
// contexts in memory only.
type SessionConfig struct {
	Storage      string `yaml:"storage" env:"STORAGE"`
	SnapshotCron string `yaml:"snapshot_cron" env:"SNAPSHOT_CRON"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			MaxBodyBytes:    1 << 20,
			ShutdownTimeout: 10 * time.Second,
		},
		Session: SessionConfig{
			SnapshotCron: "*/5 * * * *",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig builds the configuration from defaults, then the file at path
// (YAML or JSON, skipped when path is empty or missing), then a .env file in
// the working directory, then the process environment.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.PublicURL = strings.TrimRight(strings.TrimSpace(cfg.PublicURL), "/")
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, ErrMissingToken)
	}
	if c.AdminChatID == 0 {
		errs = append(errs, ErrMissingAdminChatID)
	}
	if !c.SkipWebhook && c.PublicURL == "" {
		errs = append(errs, ErrMissingPublicURL)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Server.Port))
	}
	if c.Queue.Limit < 0 {
		errs = append(errs, fmt.Errorf("invalid queue limit %d", c.Queue.Limit))
	}
	return errors.Join(errs...)
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) WebhookURL() string {
	return c.PublicURL + "/telegram"
}
