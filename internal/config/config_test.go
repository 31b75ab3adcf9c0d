package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	if cfg.Watchlist.RefreshDelay != time.Second {
		t.Fatalf("expected refresh delay 1s, got %v", cfg.Watchlist.RefreshDelay)
	}
	if cfg.Chart.TickCap != 3*time.Second {
		t.Fatalf("expected tick cap 3s, got %v", cfg.Chart.TickCap)
	}
	if cfg.Forex.Schedule != "0 * * * * *" {
		t.Fatalf("expected minute schedule, got %q", cfg.Forex.Schedule)
	}
	if cfg.State.SQLitePath == "" {
		t.Fatalf("expected sqlite path default")
	}
	if !cfg.Watchlist.RefreshOnStartupValue() {
		t.Fatalf("expected refresh on startup default")
	}
	if err := validate(cfg); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestMetricsDefaults(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	if cfg.Metrics.Enabled == nil || !cfg.Metrics.EnabledValue() {
		t.Fatalf("expected metrics enabled default")
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Fatalf("expected metrics path default, got %q", cfg.Metrics.Path)
	}
}

func TestMetricsEnabledFalseRespected(t *testing.T) {
	enabled := false
	cfg := &Config{Metrics: MetricsConfig{Enabled: &enabled}}
	applyDefaults(cfg)
	if cfg.Metrics.EnabledValue() {
		t.Fatalf("expected metrics enabled=false to be preserved")
	}
}

func TestLogRotationDefaultsOnlyWithFile(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	if cfg.Log.MaxSizeMB != 0 {
		t.Fatalf("expected no rotation defaults without file, got %d", cfg.Log.MaxSizeMB)
	}
	cfg = &Config{Log: LoggingConfig{File: "logs/dash.log"}}
	applyDefaults(cfg)
	if cfg.Log.MaxSizeMB <= 0 || cfg.Log.MaxBackups <= 0 || cfg.Log.MaxAgeDays <= 0 {
		t.Fatalf("expected rotation defaults, got %+v", cfg.Log)
	}
}

func TestValidateRejectsMetricsPathWithoutSlash(t *testing.T) {
	cfg := &Config{Metrics: MetricsConfig{Path: "metrics"}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for metrics path without leading slash")
	}
}

func TestValidateRejectsNegativeRefreshDelay(t *testing.T) {
	cfg := &Config{Watchlist: WatchlistConfig{RefreshDelay: -1 * time.Second}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for negative refresh delay")
	}
}

func TestValidateRejectsTimescaleWithoutDSN(t *testing.T) {
	t.Setenv("DASH_TIMESCALE_DSN", "")
	cfg := &Config{Timescale: TimescaleConfig{Enabled: true}}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for missing timescale dsn")
	}
}

func TestValidateRejectsBadAssets(t *testing.T) {
	cases := map[string][]AssetConfig{
		"missing symbol": {{BasePrice: 1}},
		"zero price":     {{Symbol: "XAUUSD"}},
		"duplicate": {
			{Symbol: "XAUUSD", BasePrice: 2650},
			{Symbol: "XAUUSD", BasePrice: 2650},
		},
		"negative decimals": {{Symbol: "XAUUSD", BasePrice: 2650, Decimals: -1}},
	}
	for name, assets := range cases {
		cfg := &Config{Chart: ChartConfig{Assets: assets}}
		applyDefaults(cfg)
		if err := validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestEnvOverridesConfig(t *testing.T) {
	t.Setenv("DASH_QUOTE_API_KEY", "env-key")
	t.Setenv("DASH_QUOTE_BASE_URL", "http://quotes.local/query")
	t.Setenv("DASH_FOREX_BASE_URL", "http://forex.local/api")
	t.Setenv("DASH_TIMESCALE_DSN", "")
	cfg := &Config{Quote: QuoteConfig{APIKey: "config-key"}}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	if cfg.Quote.APIKey != "env-key" {
		t.Fatalf("expected env api key override, got %q", cfg.Quote.APIKey)
	}
	if cfg.Quote.BaseURL != "http://quotes.local/query" {
		t.Fatalf("expected env base url override, got %q", cfg.Quote.BaseURL)
	}
	if cfg.Forex.BaseURL != "http://forex.local/api" {
		t.Fatalf("expected env forex url override, got %q", cfg.Forex.BaseURL)
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("DASH_QUOTE_API_KEY", "")
	t.Setenv("DASH_QUOTE_BASE_URL", "")
	t.Setenv("DASH_FOREX_BASE_URL", "")
	t.Setenv("DASH_TIMESCALE_DSN", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "" +
		"http:\n" +
		"  address: 0.0.0.0:9000\n" +
		"watchlist:\n" +
		"  refresh_delay: 250ms\n" +
		"chart:\n" +
		"  assets:\n" +
		"    - symbol: XAUUSD\n" +
		"      display_name: Gold\n" +
		"      base_price: 2650\n" +
		"      class: commodity\n" +
		"      decimals: 2\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Address != "0.0.0.0:9000" {
		t.Fatalf("expected address from file, got %q", cfg.HTTP.Address)
	}
	if cfg.Watchlist.RefreshDelay != 250*time.Millisecond {
		t.Fatalf("expected refresh delay 250ms, got %v", cfg.Watchlist.RefreshDelay)
	}
	if len(cfg.Chart.Assets) != 1 || cfg.Chart.Assets[0].Decimals != 2 {
		t.Fatalf("unexpected assets: %+v", cfg.Chart.Assets)
	}
}

func TestLoadRequiresPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
