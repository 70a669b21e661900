// Package config loads the process configuration from a YAML file with
// environment overrides. A local .env file is honoured when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Provider   ProviderConfig   `yaml:"provider"`
	Broker     BrokerConfig     `yaml:"broker"`
	Collectors CollectorsConfig `yaml:"collectors"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Server     ServerConfig     `yaml:"server"`
}

// DatabaseConfig configures the Postgres pool.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// RedisConfig configures the optional warm kline cache.
type RedisConfig struct {
	Addr    string `yaml:"addr"`
	DB      int    `yaml:"db"`
	Enabled bool   `yaml:"enabled"`
}

// ProviderConfig configures the cached historical provider.
type ProviderConfig struct {
	FreshnessWindow time.Duration `yaml:"freshness_window"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	YahooRPS        float64       `yaml:"yahoo_rps"`
	KRXRPS          float64       `yaml:"krx_rps"`
}

// BrokerConfig holds the KIS brokerage credentials and endpoints.
type BrokerConfig struct {
	AppKey    string `yaml:"app_key"`
	AppSecret string `yaml:"app_secret"`
	Account   string `yaml:"account"`
	Paper     bool   `yaml:"paper"`
	BaseURL   string `yaml:"base_url"`
	WSBaseURL string `yaml:"ws_base_url"`
}

// CollectorTaskConfig configures one scheduled collector.
type CollectorTaskConfig struct {
	Schedule       string        `yaml:"schedule"`
	BatchSize      int           `yaml:"batch_size"`
	RequestDelay   time.Duration `yaml:"request_delay"`
	StaleThreshold time.Duration `yaml:"stale_threshold"`
}

// CollectorsConfig groups the canonical collector tasks.
type CollectorsConfig struct {
	Fundamental CollectorTaskConfig `yaml:"fundamental"`
	Indicator   CollectorTaskConfig `yaml:"indicator"`
	SymbolSync  CollectorTaskConfig `yaml:"symbol_sync"`
	Purge       CollectorTaskConfig `yaml:"purge"`
}

// TelegramConfig configures the notifier.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
	Enabled  bool   `yaml:"enabled"`
}

// ServerConfig configures the monitoring HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			QueryTimeout:    30 * time.Second,
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Provider: ProviderConfig{
			FreshnessWindow: 5 * time.Minute,
			RequestTimeout:  30 * time.Second,
			YahooRPS:        2,
			KRXRPS:          1,
		},
		Broker: BrokerConfig{
			Paper:     true,
			BaseURL:   "https://openapivts.koreainvestment.com:29443",
			WSBaseURL: "ws://ops.koreainvestment.com:31000",
		},
		Collectors: CollectorsConfig{
			Fundamental: CollectorTaskConfig{
				Schedule:       "@every 1h",
				BatchSize:      200,
				RequestDelay:   500 * time.Millisecond,
				StaleThreshold: 24 * time.Hour,
			},
			Indicator: CollectorTaskConfig{
				Schedule:       "@every 15m",
				BatchSize:      300,
				RequestDelay:   100 * time.Millisecond,
				StaleThreshold: 6 * time.Hour,
			},
			SymbolSync: CollectorTaskConfig{
				Schedule:     "@every 24h",
				BatchSize:    5000,
				RequestDelay: time.Second,
			},
			Purge: CollectorTaskConfig{
				Schedule: "@every 24h",
			},
		},
		Server: ServerConfig{Addr: ":8090"},
	}
}

// Load reads path (optional) over the defaults, then applies environment
// overrides for the secrets that should not live in a file.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if v := os.Getenv("PG_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("KIS_APP_KEY"); v != "" {
		cfg.Broker.AppKey = v
	}
	if v := os.Getenv("KIS_APP_SECRET"); v != "" {
		cfg.Broker.AppSecret = v
	}
	if v := os.Getenv("KIS_ACCOUNT"); v != "" {
		cfg.Broker.Account = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
		cfg.Telegram.Enabled = true
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.Telegram.ChatID = id
	}

	return cfg, nil
}
