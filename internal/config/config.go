package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Quote     QuoteConfig     `yaml:"quote"`
	Forex     ForexConfig     `yaml:"forex"`
	State     StateConfig     `yaml:"state"`
	Watchlist WatchlistConfig `yaml:"watchlist"`
	Chart     ChartConfig     `yaml:"chart"`
	Stream    StreamConfig    `yaml:"stream"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Timescale TimescaleConfig `yaml:"timescale"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	// File enables a rotating log file next to stdout.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type HTTPConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type QuoteConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type ForexConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	// Schedule is a cron spec with a seconds field.
	Schedule        string        `yaml:"schedule"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type WatchlistConfig struct {
	RefreshDelay     time.Duration `yaml:"refresh_delay"`
	RefreshOnStartup *bool         `yaml:"refresh_on_startup"`
}

func (c WatchlistConfig) RefreshOnStartupValue() bool {
	if c.RefreshOnStartup == nil {
		return true
	}
	return *c.RefreshOnStartup
}

type ChartConfig struct {
	TickCap time.Duration `yaml:"tick_cap"`
	Assets  []AssetConfig `yaml:"assets"`
}

type AssetConfig struct {
	Symbol      string  `yaml:"symbol"`
	DisplayName string  `yaml:"display_name"`
	BasePrice   float64 `yaml:"base_price"`
	Class       string  `yaml:"class"`
	Decimals    int     `yaml:"decimals"`
}

type StreamConfig struct {
	SendBuffer     int           `yaml:"send_buffer"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	OriginPatterns []string      `yaml:"origin_patterns"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

func (c MetricsConfig) EnabledValue() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.File != "" {
		if cfg.Log.MaxSizeMB == 0 {
			cfg.Log.MaxSizeMB = 50
		}
		if cfg.Log.MaxBackups == 0 {
			cfg.Log.MaxBackups = 5
		}
		if cfg.Log.MaxAgeDays == 0 {
			cfg.Log.MaxAgeDays = 14
		}
	}
	if cfg.HTTP.Address == "" {
		cfg.HTTP.Address = "127.0.0.1:8080"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 5 * time.Second
	}
	if cfg.Quote.BaseURL == "" {
		cfg.Quote.BaseURL = "https://www.alphavantage.co/query"
	}
	if cfg.Quote.Timeout == 0 {
		cfg.Quote.Timeout = 10 * time.Second
	}
	if cfg.Forex.BaseURL == "" {
		cfg.Forex.BaseURL = "http://127.0.0.1:3000/api/forex"
	}
	if cfg.Forex.Timeout == 0 {
		cfg.Forex.Timeout = 10 * time.Second
	}
	if cfg.Forex.Schedule == "" {
		cfg.Forex.Schedule = "0 * * * * *"
	}
	if cfg.Forex.BreakerFailures == 0 {
		cfg.Forex.BreakerFailures = 5
	}
	if cfg.Forex.BreakerCooldown == 0 {
		cfg.Forex.BreakerCooldown = 30 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/market-dash.db"
	}
	if cfg.Watchlist.RefreshDelay == 0 {
		cfg.Watchlist.RefreshDelay = time.Second
	}
	if cfg.Chart.TickCap == 0 {
		cfg.Chart.TickCap = 3 * time.Second
	}
	if cfg.Stream.SendBuffer == 0 {
		cfg.Stream.SendBuffer = 64
	}
	if cfg.Stream.WriteTimeout == 0 {
		cfg.Stream.WriteTimeout = 5 * time.Second
	}
	if cfg.Metrics.Enabled == nil {
		enabled := true
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Timescale.QueueSize == 0 {
		cfg.Timescale.QueueSize = 256
	}
	if cfg.Timescale.ConnectTimeout == 0 {
		cfg.Timescale.ConnectTimeout = 30 * time.Second
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("DASH_QUOTE_API_KEY")); v != "" {
		cfg.Quote.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("DASH_QUOTE_BASE_URL")); v != "" {
		cfg.Quote.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DASH_FOREX_BASE_URL")); v != "" {
		cfg.Forex.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DASH_TIMESCALE_DSN")); v != "" {
		cfg.Timescale.DSN = v
	}
}

func validate(cfg *Config) error {
	if cfg.Watchlist.RefreshDelay < 0 {
		return errors.New("watchlist.refresh_delay must be >= 0")
	}
	if cfg.Chart.TickCap <= 0 {
		return errors.New("chart.tick_cap must be > 0")
	}
	if cfg.Quote.Timeout < 0 || cfg.Forex.Timeout < 0 {
		return errors.New("quote.timeout and forex.timeout must be >= 0")
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	if cfg.Timescale.Enabled && strings.TrimSpace(cfg.Timescale.DSN) == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	seen := make(map[string]struct{}, len(cfg.Chart.Assets))
	for i, asset := range cfg.Chart.Assets {
		if strings.TrimSpace(asset.Symbol) == "" {
			return fmt.Errorf("chart.assets[%d].symbol is required", i)
		}
		if asset.BasePrice <= 0 {
			return fmt.Errorf("chart.assets[%d].base_price must be > 0", i)
		}
		if asset.Decimals < 0 {
			return fmt.Errorf("chart.assets[%d].decimals must be >= 0", i)
		}
		if _, ok := seen[asset.Symbol]; ok {
			return fmt.Errorf("chart.assets[%d].symbol %q is duplicated", i, asset.Symbol)
		}
		seen[asset.Symbol] = struct{}{}
	}
	return nil
}
